package orchestrator

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"

	"github.com/skyhook-io/kubedash/internal/deploy"
	"github.com/skyhook-io/kubedash/internal/flux"
	"github.com/skyhook-io/kubedash/internal/helm"
)

// Backend is everything the orchestrator calls. deploy.Service implements
// it in-process and apiclient.Client over HTTP.
type Backend interface {
	GetDeployment(ctx context.Context, t deploy.Target) (*appsv1.Deployment, error)
	RestartDeployment(ctx context.Context, t deploy.Target) (*deploy.ActionResult, error)
	ScaleDeployment(ctx context.Context, t deploy.Target, replicas int32) (*deploy.ActionResult, error)
	EditDeployment(ctx context.Context, t deploy.Target, doc *appsv1.Deployment) (*appsv1.Deployment, error)
	RollbackDeployment(ctx context.Context, t deploy.Target, req deploy.RollbackRequest) (*deploy.ActionResult, error)
	SuspendRelease(ctx context.Context, t deploy.Target, release string) (*deploy.ActionResult, error)
	ResumeRelease(ctx context.Context, t deploy.Target, release string) (*deploy.ActionResult, error)

	DetectHelmRelease(ctx context.Context, t deploy.Target) (*deploy.Detection, error)
	HelmHistory(ctx context.Context, t deploy.Target, release string) ([]helm.Revision, error)
	HelmValues(ctx context.Context, t deploy.Target, release string, revision int) (map[string]any, error)
	FluxStatus(ctx context.Context, t deploy.Target, release string) (*flux.Status, error)
}

var _ Backend = (*deploy.Service)(nil)

// Notification is a user-facing outcome message
type Notification struct {
	Action  ActionKind
	Success bool
	Message string
	Err     error
}

// Notifier receives outcome messages, the equivalent of a toast.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }
