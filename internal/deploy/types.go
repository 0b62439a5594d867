package deploy

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"

	"github.com/skyhook-io/kubedash/internal/status"
)

// Target names one Deployment in one cluster
type Target struct {
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (t Target) String() string {
	return t.Cluster + "/" + t.Namespace + "/" + t.Name
}

// ScaleRequest is the body of a scale call
type ScaleRequest struct {
	Replicas *int32 `json:"replicas"`
}

// RollbackRequest is the body of a rollback call
type RollbackRequest struct {
	ReleaseName string `json:"releaseName"`
	Revision    *int   `json:"revision,omitempty"`    // nil or <= 0 rolls back to the previous revision
	SuspendFlux *bool  `json:"suspendFlux,omitempty"` // default true
}

// SuspendFluxEnabled applies the default of suspending Flux after rollback.
func (r RollbackRequest) SuspendFluxEnabled() bool {
	return r.SuspendFlux == nil || *r.SuspendFlux
}

// ReleaseRequest is the body of suspend and resume calls
type ReleaseRequest struct {
	ReleaseName string `json:"releaseName"`
}

// ActionResult is returned by every mutating call
type ActionResult struct {
	Message     string `json:"message"`
	ReleaseName string `json:"releaseName,omitempty"`
	Namespace   string `json:"namespace,omitempty"`
	Suspended   *bool  `json:"suspended,omitempty"`
	OldReplicas *int32 `json:"oldReplicas,omitempty"`
	NewReplicas *int32 `json:"newReplicas,omitempty"`
}

// Detection is the answer of Helm release detection
type Detection struct {
	DeploymentName string `json:"deploymentName"`
	ReleaseName    string `json:"releaseName"`
	Detected       bool   `json:"detected"`
}

// WatchEvent is one message on the deployment watch stream
type WatchEvent struct {
	Type       string             `json:"type"` // ADDED, MODIFIED, DELETED, ERROR
	Deployment *appsv1.Deployment `json:"deployment,omitempty"`
	Status     status.State       `json:"status,omitempty"`
	Stable     bool               `json:"stable"`
	Error      string             `json:"error,omitempty"`
}

type actorKey struct{}

// AnonymousActor is recorded when a request carries no user.
const AnonymousActor = "anonymous"

// WithActor attaches the acting user to a context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting user, or AnonymousActor.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return AnonymousActor
}
