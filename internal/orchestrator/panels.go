package orchestrator

import (
	"context"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
	"github.com/skyhook-io/kubedash/internal/flux"
	"github.com/skyhook-io/kubedash/internal/helm"
	"github.com/skyhook-io/kubedash/internal/resolver"
)

// HelmPanel is the Helm tab: the resolved release and its revisions. An
// empty Revisions slice means the release has no history.
type HelmPanel struct {
	Binding   resolver.Binding
	Revisions []helm.Revision
}

// FluxPanel is the Flux tab. A nil Status means no HelmRelease manages the
// release.
type FluxPanel struct {
	Binding resolver.Binding
	Status  *flux.Status
}

// ResolveRelease re-resolves the Helm release behind the Deployment and
// remembers it for dialog prefill.
func (o *Orchestrator) ResolveRelease(ctx context.Context) (resolver.Binding, error) {
	b, err := resolver.Resolve(ctx, o.backend, o.target)
	if err != nil {
		o.panelError(err)
		return resolver.Binding{}, err
	}
	o.mu.Lock()
	o.binding = &b
	o.mu.Unlock()
	return b, nil
}

// Binding returns the last resolved release binding, if any.
func (o *Orchestrator) Binding() (resolver.Binding, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.binding == nil {
		return resolver.Binding{}, false
	}
	return *o.binding, true
}

// LoadHelmPanel resolves the release and fetches its history.
func (o *Orchestrator) LoadHelmPanel(ctx context.Context) (*HelmPanel, error) {
	b, err := o.ResolveRelease(ctx)
	if err != nil {
		return nil, err
	}

	revisions, err := o.backend.HelmHistory(ctx, o.target, b.ResolvedReleaseName)
	if err != nil && !dasherrors.IsNotFound(err) {
		o.panelError(err)
		return nil, err
	}
	if revisions == nil {
		revisions = []helm.Revision{}
	}
	return &HelmPanel{Binding: b, Revisions: revisions}, nil
}

// HelmValues fetches the values of one revision of the resolved release.
func (o *Orchestrator) HelmValues(ctx context.Context, revision int) (map[string]any, error) {
	b, ok := o.Binding()
	if !ok {
		var err error
		if b, err = o.ResolveRelease(ctx); err != nil {
			return nil, err
		}
	}

	values, err := o.backend.HelmValues(ctx, o.target, b.ResolvedReleaseName, revision)
	if err != nil && !dasherrors.IsNotFound(err) {
		o.panelError(err)
		return nil, err
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

// LoadFluxPanel resolves the release and fetches its Flux status.
func (o *Orchestrator) LoadFluxPanel(ctx context.Context) (*FluxPanel, error) {
	b, err := o.ResolveRelease(ctx)
	if err != nil {
		return nil, err
	}

	st, err := o.backend.FluxStatus(ctx, o.target, b.ResolvedReleaseName)
	if err != nil {
		if dasherrors.IsNotFound(err) {
			return &FluxPanel{Binding: b}, nil
		}
		o.panelError(err)
		return nil, err
	}
	return &FluxPanel{Binding: b, Status: st}, nil
}

func (o *Orchestrator) panelError(err error) {
	if o.isClosed() {
		return
	}
	o.notify(Notification{Message: o.tr.Error(o.lang, err), Err: err})
}
