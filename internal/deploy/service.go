// Package deploy performs deployment operations against a cluster: restart,
// scale, edit, Helm rollback, Flux suspend/resume, and the read calls that
// support them. Every mutating call is recorded in action history and
// counted in metrics.
package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/klog/v2"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
	"github.com/skyhook-io/kubedash/internal/flux"
	"github.com/skyhook-io/kubedash/internal/helm"
	"github.com/skyhook-io/kubedash/internal/history"
	"github.com/skyhook-io/kubedash/internal/k8s"
	"github.com/skyhook-io/kubedash/internal/metrics"
)

// rollbackActor marks HelmReleases suspended as part of a rollback
const rollbackActor = "kubedash-rollback"

const (
	suspendMessage         = "HelmRelease suspended successfully. Auto-sync with Git is now disabled."
	resumeMessage          = "HelmRelease resumed successfully. Auto-sync with Git is now enabled."
	rollbackSuspendMessage = " (FluxCD HelmRelease is now suspended. Kustomization will not overwrite this change)"
)

// Options configures a Service
type Options struct {
	Clusters     *k8s.Registry
	History      history.Store
	MaxRevisions int

	// Optional client factories, replaced in tests
	HelmFor func(c *k8s.Cluster) *helm.Client
	FluxFor func(c *k8s.Cluster) *flux.Client
	Now     func() time.Time
}

// Service implements deployment operations for every cluster in a registry.
type Service struct {
	clusters *k8s.Registry
	history  history.Store
	helmFor  func(c *k8s.Cluster) *helm.Client
	fluxFor  func(c *k8s.Cluster) *flux.Client
	now      func() time.Time

	mu   sync.Mutex
	helm map[string]*helm.Client
	flux map[string]*flux.Client
}

// NewService creates a service.
func NewService(opts Options) *Service {
	s := &Service{
		clusters: opts.Clusters,
		history:  opts.History,
		helmFor:  opts.HelmFor,
		fluxFor:  opts.FluxFor,
		now:      opts.Now,
		helm:     make(map[string]*helm.Client),
		flux:     make(map[string]*flux.Client),
	}
	if s.history == nil {
		s.history = history.NewMemoryStore(0)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.helmFor == nil {
		maxRevisions := opts.MaxRevisions
		s.helmFor = func(c *k8s.Cluster) *helm.Client {
			kubeContext := c.Name
			if c.Kubeconfig == "" {
				kubeContext = ""
			}
			return helm.NewClient(c.Kubeconfig, kubeContext, maxRevisions)
		}
	}
	if s.fluxFor == nil {
		s.fluxFor = func(c *k8s.Cluster) *flux.Client {
			return flux.NewClient(c.Dynamic)
		}
	}
	return s
}

// Clusters returns the cluster registry.
func (s *Service) Clusters() *k8s.Registry {
	return s.clusters
}

func (s *Service) cluster(t Target) (*k8s.Cluster, error) {
	if s.clusters == nil {
		return nil, dasherrors.K8sClientNotInitialized()
	}
	return s.clusters.Get(t.Cluster)
}

func (s *Service) helmClient(c *k8s.Cluster) *helm.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hc, ok := s.helm[c.Name]; ok {
		return hc
	}
	hc := s.helmFor(c)
	s.helm[c.Name] = hc
	return hc
}

func (s *Service) fluxClient(c *k8s.Cluster) *flux.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fc, ok := s.flux[c.Name]; ok {
		return fc
	}
	fc := s.fluxFor(c)
	s.flux[c.Name] = fc
	return fc
}

// GetDeployment fetches the Deployment.
func (s *Service) GetDeployment(ctx context.Context, t Target) (*appsv1.Deployment, error) {
	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}
	return k8s.GetDeployment(ctx, c.Clientset, t.Namespace, t.Name)
}

// WatchDeployment streams changes to the Deployment.
func (s *Service) WatchDeployment(ctx context.Context, t Target) (watch.Interface, error) {
	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}
	return k8s.WatchDeployment(ctx, c.Clientset, t.Namespace, t.Name)
}

// RestartDeployment triggers a rolling restart.
func (s *Service) RestartDeployment(ctx context.Context, t Target) (result *ActionResult, err error) {
	start := s.now()
	defer func() { metrics.ObserveAction(history.ActionRestart, start, err) }()

	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}
	d, err := k8s.RestartDeployment(ctx, c.Clientset, t.Namespace, t.Name, s.now())
	s.record(ctx, t, history.ActionRestart, nil, d, err)
	if err != nil {
		return nil, err
	}

	klog.Infof("User %s restarted deployment %s", ActorFrom(ctx), t)
	return &ActionResult{Message: "Deployment restarted successfully", Namespace: t.Namespace}, nil
}

// ScaleDeployment sets the replica count. Negative counts are rejected
// before any API call.
func (s *Service) ScaleDeployment(ctx context.Context, t Target, replicas int32) (result *ActionResult, err error) {
	start := s.now()
	defer func() { metrics.ObserveAction(history.ActionScale, start, err) }()

	if replicas < 0 {
		return nil, dasherrors.ValidationError("replicas must be >= 0")
	}
	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}
	scaled, d, err := k8s.ScaleDeployment(ctx, c.Clientset, t.Namespace, t.Name, replicas)
	details := map[string]any{"newReplicas": replicas}
	if scaled != nil {
		details["oldReplicas"] = scaled.OldReplicas
	}
	s.record(ctx, t, history.ActionScale, details, d, err)
	if err != nil {
		return nil, err
	}

	klog.Infof("User %s scaled deployment %s from %d to %d", ActorFrom(ctx), t, scaled.OldReplicas, scaled.NewReplicas)
	return &ActionResult{
		Message:     fmt.Sprintf("Deployment scaled to %d replicas", replicas),
		Namespace:   t.Namespace,
		OldReplicas: &scaled.OldReplicas,
		NewReplicas: &scaled.NewReplicas,
	}, nil
}

// EditDeployment replaces the Deployment with doc.
func (s *Service) EditDeployment(ctx context.Context, t Target, doc *appsv1.Deployment) (result *appsv1.Deployment, err error) {
	start := s.now()
	defer func() { metrics.ObserveAction(history.ActionEdit, start, err) }()

	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}
	prev := s.snapshot(ctx, c, t)
	d, err := k8s.UpdateDeployment(ctx, c.Clientset, t.Namespace, t.Name, doc)
	rec := s.newRecord(ctx, t, history.ActionEdit, nil, d, err)
	if prev != nil && d != nil {
		prevYAML, _ := k8s.DeploymentYAML(prev)
		rec.YAMLDiff = history.UnifiedDiff(prevYAML, rec.ResourceYAML)
	}
	s.save(ctx, t, rec)
	if err != nil {
		return nil, err
	}

	klog.Infof("User %s edited deployment %s", ActorFrom(ctx), t)
	return d, nil
}

// RollbackDeployment rolls the Helm release back and, unless disabled,
// suspends its Flux HelmRelease so Git does not immediately undo it. A
// failed suspension does not fail the rollback.
func (s *Service) RollbackDeployment(ctx context.Context, t Target, req RollbackRequest) (result *ActionResult, err error) {
	start := s.now()
	defer func() { metrics.ObserveAction(history.ActionRollback, start, err) }()

	if req.ReleaseName == "" {
		return nil, dasherrors.ValidationError("releaseName is required")
	}
	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}

	revision := 0
	if req.Revision != nil && *req.Revision > 0 {
		revision = *req.Revision
	}
	details := map[string]any{"releaseName": req.ReleaseName, "revision": revision}

	klog.Infof("User %s initiating rollback of helm release %s in %s/%s (suspendFlux: %v)",
		ActorFrom(ctx), req.ReleaseName, t.Cluster, t.Namespace, req.SuspendFluxEnabled())

	rolled, err := s.helmClient(c).Rollback(t.Namespace, req.ReleaseName, revision)
	if err != nil {
		s.record(ctx, t, history.ActionRollback, details, nil, err)
		return nil, err
	}

	suspended := false
	if req.SuspendFluxEnabled() {
		if err := s.fluxClient(c).Suspend(ctx, t.Namespace, req.ReleaseName, rollbackActor); err != nil {
			klog.Warningf("Failed to suspend FluxCD HelmRelease %s/%s after rollback: %v (continuing)",
				t.Namespace, req.ReleaseName, err)
		} else {
			suspended = true
		}
	}
	details["suspended"] = suspended

	message := rolled.Message
	if suspended {
		message += rollbackSuspendMessage
	}
	s.record(ctx, t, history.ActionRollback, details, s.snapshot(ctx, c, t), nil)

	return &ActionResult{
		Message:     message,
		ReleaseName: req.ReleaseName,
		Namespace:   t.Namespace,
		Suspended:   &suspended,
	}, nil
}

// SuspendRelease suspends the Flux HelmRelease.
func (s *Service) SuspendRelease(ctx context.Context, t Target, release string) (result *ActionResult, err error) {
	start := s.now()
	defer func() { metrics.ObserveAction(history.ActionSuspend, start, err) }()

	if release == "" {
		return nil, dasherrors.ValidationError("releaseName is required")
	}
	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}

	err = s.fluxClient(c).Suspend(ctx, t.Namespace, release, ActorFrom(ctx))
	s.record(ctx, t, history.ActionSuspend, map[string]any{"releaseName": release}, nil, err)
	if err != nil {
		return nil, err
	}

	suspended := true
	return &ActionResult{Message: suspendMessage, ReleaseName: release, Namespace: t.Namespace, Suspended: &suspended}, nil
}

// ResumeRelease resumes the Flux HelmRelease.
func (s *Service) ResumeRelease(ctx context.Context, t Target, release string) (result *ActionResult, err error) {
	start := s.now()
	defer func() { metrics.ObserveAction(history.ActionResume, start, err) }()

	if release == "" {
		return nil, dasherrors.ValidationError("releaseName is required")
	}
	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}

	err = s.fluxClient(c).Resume(ctx, t.Namespace, release)
	s.record(ctx, t, history.ActionResume, map[string]any{"releaseName": release}, nil, err)
	if err != nil {
		return nil, err
	}

	suspended := false
	return &ActionResult{Message: resumeMessage, ReleaseName: release, Namespace: t.Namespace, Suspended: &suspended}, nil
}

// DetectHelmRelease infers the Helm release owning the Deployment.
func (s *Service) DetectHelmRelease(ctx context.Context, t Target) (*Detection, error) {
	d, err := s.GetDeployment(ctx, t)
	if err != nil {
		return nil, err
	}
	release, detected := k8s.DetectHelmRelease(d)
	klog.V(2).Infof("Detected helm release %q for deployment %s (detected=%v)", release, t, detected)
	return &Detection{DeploymentName: t.Name, ReleaseName: release, Detected: detected}, nil
}

// HelmHistory lists the release's recent revisions.
func (s *Service) HelmHistory(ctx context.Context, t Target, release string) ([]helm.Revision, error) {
	if release == "" {
		return nil, dasherrors.ValidationError("release is required")
	}
	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}
	return s.helmClient(c).History(t.Namespace, release)
}

// HelmValues returns the image values of a release revision.
func (s *Service) HelmValues(ctx context.Context, t Target, release string, revision int) (map[string]any, error) {
	if release == "" {
		return nil, dasherrors.ValidationError("release is required")
	}
	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}
	return s.helmClient(c).Values(t.Namespace, release, revision)
}

// FluxStatus reads the release's HelmRelease status.
func (s *Service) FluxStatus(ctx context.Context, t Target, release string) (*flux.Status, error) {
	if release == "" {
		return nil, dasherrors.ValidationError("release is required")
	}
	c, err := s.cluster(t)
	if err != nil {
		return nil, err
	}
	return s.fluxClient(c).Status(ctx, t.Namespace, release)
}

// ActionHistory lists recorded actions for the Deployment.
func (s *Service) ActionHistory(ctx context.Context, t Target, limit int) ([]history.ActionRecord, error) {
	return s.history.Query(ctx, history.QueryOptions{
		Cluster:   s.clusterName(t),
		Namespace: t.Namespace,
		Name:      t.Name,
		Limit:     limit,
	})
}

func (s *Service) clusterName(t Target) string {
	if t.Cluster == "" && s.clusters != nil {
		return s.clusters.Default()
	}
	return t.Cluster
}

// snapshot fetches the Deployment for the history record; failures leave
// the snapshot empty.
func (s *Service) snapshot(ctx context.Context, c *k8s.Cluster, t Target) *appsv1.Deployment {
	d, err := k8s.GetDeployment(ctx, c.Clientset, t.Namespace, t.Name)
	if err != nil {
		klog.V(2).Infof("No deployment snapshot for %s: %v", t, err)
		return nil
	}
	return d
}

func (s *Service) record(ctx context.Context, t Target, action string, details map[string]any, d *appsv1.Deployment, actionErr error) {
	s.save(ctx, t, s.newRecord(ctx, t, action, details, d, actionErr))
}

func (s *Service) newRecord(ctx context.Context, t Target, action string, details map[string]any, d *appsv1.Deployment, actionErr error) history.ActionRecord {
	rec := history.NewRecord(s.clusterName(t), t.Namespace, t.Name, action, ActorFrom(ctx))
	rec.Timestamp = s.now().UTC()
	rec.Details = details
	if actionErr != nil {
		rec.Success = false
		rec.Error = dasherrors.Message(actionErr)
	}
	if d != nil {
		if y, err := k8s.DeploymentYAML(d); err == nil {
			rec.ResourceYAML = y
		}
	}
	return rec
}

func (s *Service) save(ctx context.Context, t Target, rec history.ActionRecord) {
	// history is best effort; the action already happened
	if err := s.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		klog.Warningf("Failed to record %s history for %s: %v", rec.Action, t, err)
	}
}
