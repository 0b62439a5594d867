// Package orchestrator coordinates mutating operations against one
// Deployment and keeps its view fresh while the Deployment transitions.
//
// Each Orchestrator is bound to a single cluster/namespace/name. Actions of
// the same kind never overlap: a second request while one is running is
// rejected with ErrActionInFlight. All actions on one view also run one at a
// time through a shared queue. A successful action switches the polling
// machine to fast polling; a failed one leaves it untouched.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/skyhook-io/kubedash/internal/deploy"
	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
	"github.com/skyhook-io/kubedash/internal/i18n"
	"github.com/skyhook-io/kubedash/internal/k8s"
	"github.com/skyhook-io/kubedash/internal/polling"
	"github.com/skyhook-io/kubedash/internal/resolver"
	"github.com/skyhook-io/kubedash/internal/status"
)

// Options configures an Orchestrator
type Options struct {
	Target  deploy.Target
	Backend Backend

	Notifier   Notifier
	Translator *i18n.Translator
	Language   string // language preference for notifications, e.g. "zh-CN"

	Clock        clock.WithTicker
	FastInterval time.Duration
	Debounce     time.Duration
}

// Orchestrator owns the state of one Deployment's detail view.
type Orchestrator struct {
	target   deploy.Target
	backend  Backend
	notifier Notifier
	tr       *i18n.Translator
	lang     string

	machine *polling.Machine
	poller  *polling.Poller
	queue   *semaphore.Weighted

	mu          sync.Mutex
	view        *DeploymentView
	inFlight    map[ActionKind]PendingAction
	binding     *resolver.Binding
	rollback    RollbackForm
	fluxRelease string
	editBuffer  string
	editDirty   bool
	closed      bool
}

// New creates an orchestrator. Nothing is fetched until Open or Refresh.
func New(opts Options) *Orchestrator {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	tr := opts.Translator
	if tr == nil {
		tr = i18n.New()
	}
	o := &Orchestrator{
		target:   opts.Target,
		backend:  opts.Backend,
		notifier: opts.Notifier,
		tr:       tr,
		lang:     opts.Language,
		machine:  polling.NewMachine(clk, opts.FastInterval, opts.Debounce),
		queue:    semaphore.NewWeighted(1),
		inFlight: make(map[ActionKind]PendingAction),
		rollback: RollbackForm{SuspendFlux: true},
	}
	o.poller = polling.NewPoller(o.machine, clk, o.Refresh)
	return o
}

// Target returns the Deployment this view is bound to.
func (o *Orchestrator) Target() deploy.Target {
	return o.target
}

// Machine returns the polling state machine.
func (o *Orchestrator) Machine() *polling.Machine {
	return o.machine
}

// Open fetches the Deployment and starts background polling.
func (o *Orchestrator) Open(ctx context.Context) error {
	if err := o.Refresh(ctx); err != nil {
		return err
	}
	o.poller.Start(ctx)
	return nil
}

// Close tears the view down and stops polling. Calls still in flight may
// finish; their results are discarded.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.view = nil
	o.mu.Unlock()

	o.poller.Stop()
	klog.V(2).Infof("Closed deployment view %s", o.target)
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// View returns the latest view, or nil before the first successful fetch.
func (o *Orchestrator) View() *DeploymentView {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view
}

// Refresh fetches the Deployment, replaces the view and feeds the polling
// machine.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	if o.isClosed() {
		return dasherrors.ViewClosed()
	}

	d, err := o.backend.GetDeployment(ctx, o.target)
	if err != nil {
		return err
	}
	if d == nil {
		return dasherrors.K8sResourceNotFound("deployment", o.target.Namespace, o.target.Name)
	}
	result := status.Classify(d)
	view := newDeploymentView(d, result.State)

	yaml, yamlErr := k8s.DeploymentYAML(d)
	if yamlErr != nil {
		klog.Warningf("Failed to render %s as YAML: %v", o.target, yamlErr)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return dasherrors.ViewClosed()
	}
	o.view = view
	if !o.editDirty && yamlErr == nil {
		o.editBuffer = yaml
	}
	o.mu.Unlock()

	wasIdle := o.machine.Phase() == polling.Idle
	o.machine.Observe(result)
	// An idle poller has no timer armed; wake it so it picks up the fast interval.
	if wasIdle && o.machine.Phase() == polling.Polling {
		o.poller.Kick()
	}
	return nil
}

// InFlight reports whether an action of kind is running.
func (o *Orchestrator) InFlight(kind ActionKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[kind]
	return ok
}

// Restart triggers a rolling restart.
func (o *Orchestrator) Restart(ctx context.Context) error {
	return o.run(ctx, PendingAction{Kind: ActionRestart}, func(ctx context.Context) (string, error) {
		res, err := o.backend.RestartDeployment(ctx, o.target)
		return resultMessage(res), err
	})
}

// Scale sets the replica count. Negative counts are rejected without a
// backend call.
func (o *Orchestrator) Scale(ctx context.Context, replicas int32) error {
	if replicas < 0 {
		return dasherrors.ValidationError("replicas must be >= 0")
	}
	return o.run(ctx, PendingAction{Kind: ActionScale, Replicas: replicas}, func(ctx context.Context) (string, error) {
		res, err := o.backend.ScaleDeployment(ctx, o.target, replicas)
		return resultMessage(res), err
	})
}

// Rollback rolls the Helm release back to revision, or to the previous
// revision when revision is nil. On success the stored rollback form is
// cleared.
func (o *Orchestrator) Rollback(ctx context.Context, releaseName string, revision *int, suspendFluxAfter bool) error {
	if releaseName == "" {
		return dasherrors.ValidationError("releaseName is required")
	}
	if revision != nil && *revision <= 0 {
		return dasherrors.ValidationError("revision must be a positive integer")
	}

	action := PendingAction{Kind: ActionRollback, ReleaseName: releaseName, Revision: revision, SuspendFlux: suspendFluxAfter}
	return o.run(ctx, action, func(ctx context.Context) (string, error) {
		res, err := o.backend.RollbackDeployment(ctx, o.target, deploy.RollbackRequest{
			ReleaseName: releaseName,
			Revision:    revision,
			SuspendFlux: &suspendFluxAfter,
		})
		if err != nil {
			return "", err
		}
		o.mu.Lock()
		o.rollback = RollbackForm{SuspendFlux: true}
		o.mu.Unlock()
		return resultMessage(res), nil
	})
}

// Suspend suspends the Flux HelmRelease. An empty releaseName falls back to
// the name stored by OpenSuspend.
func (o *Orchestrator) Suspend(ctx context.Context, releaseName string) error {
	return o.fluxAction(ctx, ActionSuspend, releaseName, o.backend.SuspendRelease)
}

// Resume resumes the Flux HelmRelease. An empty releaseName falls back to
// the name stored by OpenResume.
func (o *Orchestrator) Resume(ctx context.Context, releaseName string) error {
	return o.fluxAction(ctx, ActionResume, releaseName, o.backend.ResumeRelease)
}

type releaseCall func(ctx context.Context, t deploy.Target, release string) (*deploy.ActionResult, error)

func (o *Orchestrator) fluxAction(ctx context.Context, kind ActionKind, releaseName string, call releaseCall) error {
	if releaseName == "" {
		o.mu.Lock()
		releaseName = o.fluxRelease
		o.mu.Unlock()
	}
	if releaseName == "" {
		return dasherrors.ValidationError("releaseName is required")
	}

	return o.run(ctx, PendingAction{Kind: kind, ReleaseName: releaseName}, func(ctx context.Context) (string, error) {
		res, err := call(ctx, o.target, releaseName)
		if err != nil {
			return "", err
		}
		o.mu.Lock()
		o.fluxRelease = ""
		o.mu.Unlock()
		return resultMessage(res), nil
	})
}

// SaveEdit submits doc as a full replacement of the Deployment. When the
// submit fails the edit buffer keeps the submitted document.
func (o *Orchestrator) SaveEdit(ctx context.Context, doc *appsv1.Deployment) error {
	if doc == nil {
		return dasherrors.ValidationError("document is required")
	}

	return o.run(ctx, PendingAction{Kind: ActionEdit, Document: doc}, func(ctx context.Context) (string, error) {
		updated, err := o.backend.EditDeployment(ctx, o.target, doc)
		if err != nil {
			o.keepEdit(doc)
			return "", err
		}
		o.markEditSaved(updated)
		return "", nil
	})
}

// ApplyContainerEdit replaces the named container in a copy of the current
// document and submits it through SaveEdit. It reports false, without any
// backend call, when no such container exists.
func (o *Orchestrator) ApplyContainerEdit(ctx context.Context, containerName string, container corev1.Container, isInitContainer bool) (bool, error) {
	o.mu.Lock()
	view := o.view
	o.mu.Unlock()
	if view == nil || view.Raw == nil {
		return false, nil
	}

	doc := view.Raw.DeepCopy()
	containers := doc.Spec.Template.Spec.Containers
	if isInitContainer {
		containers = doc.Spec.Template.Spec.InitContainers
	}

	index := -1
	for i := range containers {
		if containers[i].Name == containerName {
			index = i
			break
		}
	}
	if index < 0 {
		klog.V(2).Infof("Container %q not found in %s, nothing to apply", containerName, o.target)
		return false, nil
	}
	containers[index] = *container.DeepCopy()

	return true, o.SaveEdit(ctx, doc)
}

// run executes one mutating action: single flight per kind, then the shared
// queue, then the backend call. msg overrides the default success message.
func (o *Orchestrator) run(ctx context.Context, action PendingAction, call func(ctx context.Context) (msg string, err error)) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return dasherrors.ViewClosed()
	}
	if _, busy := o.inFlight[action.Kind]; busy {
		o.mu.Unlock()
		return dasherrors.ActionInFlight(string(action.Kind))
	}
	o.inFlight[action.Kind] = action
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, action.Kind)
		o.mu.Unlock()
	}()

	if err := o.queue.Acquire(ctx, 1); err != nil {
		return err
	}
	defer o.queue.Release(1)

	klog.V(2).Infof("Running %s on %s", action.Kind, o.target)
	msg, err := call(ctx)

	if o.isClosed() {
		klog.V(2).Infof("Discarding %s result for closed view %s", action.Kind, o.target)
		return err
	}
	if err != nil {
		klog.V(2).Infof("%s on %s failed: %v", action.Kind, o.target, err)
		o.notify(Notification{Action: action.Kind, Message: o.tr.Error(o.lang, err), Err: err})
		return err
	}

	o.machine.Accelerate()
	o.poller.Kick()

	if msg == "" {
		msg = o.tr.Success(o.lang, string(action.Kind))
	}
	o.notify(Notification{Action: action.Kind, Success: true, Message: msg})
	return nil
}

func (o *Orchestrator) notify(n Notification) {
	if o.notifier != nil {
		o.notifier.Notify(n)
	}
}

func resultMessage(res *deploy.ActionResult) string {
	if res == nil {
		return ""
	}
	return res.Message
}
