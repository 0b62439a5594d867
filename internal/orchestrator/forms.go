package orchestrator

import (
	"context"
	"strconv"
	"strings"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// RollbackForm holds the user's rollback input before confirmation.
type RollbackForm struct {
	ReleaseName string
	Revision    string // empty rolls back to the previous revision
	SuspendFlux bool
}

// CanConfirm reports whether the confirm action is enabled.
func (f RollbackForm) CanConfirm() bool {
	return strings.TrimSpace(f.ReleaseName) != ""
}

// revision parses the revision text. Empty text means the previous revision.
func (f RollbackForm) revision() (*int, error) {
	text := strings.TrimSpace(f.Revision)
	if text == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(text)
	if err != nil || n <= 0 {
		return nil, dasherrors.ValidationError("revision must be a positive integer")
	}
	return &n, nil
}

// defaultReleaseName is the resolved release name when known, else the
// Deployment name. Caller holds mu.
func (o *Orchestrator) defaultReleaseName() string {
	if o.binding != nil {
		return o.binding.ResolvedReleaseName
	}
	return o.target.Name
}

// OpenRollback prepares the rollback form, prefilled with the release name
// and, when revision > 0, that revision.
func (o *Orchestrator) OpenRollback(revision int) RollbackForm {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.rollback = RollbackForm{ReleaseName: o.defaultReleaseName(), SuspendFlux: true}
	if revision > 0 {
		o.rollback.Revision = strconv.Itoa(revision)
	}
	return o.rollback
}

// RollbackForm returns the stored rollback input.
func (o *Orchestrator) RollbackForm() RollbackForm {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rollback
}

// SetRollbackForm stores the user's rollback input.
func (o *Orchestrator) SetRollbackForm(f RollbackForm) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rollback = f
}

// ConfirmRollback submits the stored rollback form. Submission is blocked
// while the release name is empty.
func (o *Orchestrator) ConfirmRollback(ctx context.Context) error {
	form := o.RollbackForm()
	if !form.CanConfirm() {
		return dasherrors.ValidationError("releaseName is required")
	}
	revision, err := form.revision()
	if err != nil {
		return err
	}
	return o.Rollback(ctx, strings.TrimSpace(form.ReleaseName), revision, form.SuspendFlux)
}

// OpenSuspend stores the release name used by Suspend when called without one.
func (o *Orchestrator) OpenSuspend() string {
	return o.openFluxDialog()
}

// OpenResume stores the release name used by Resume when called without one.
func (o *Orchestrator) OpenResume() string {
	return o.openFluxDialog()
}

func (o *Orchestrator) openFluxDialog() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fluxRelease = o.defaultReleaseName()
	return o.fluxRelease
}

// FluxRelease returns the stored suspend/resume release name.
func (o *Orchestrator) FluxRelease() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.fluxRelease
}

// SetFluxRelease stores the user's suspend/resume release name.
func (o *Orchestrator) SetFluxRelease(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fluxRelease = strings.TrimSpace(name)
}

// CanConfirmFlux reports whether suspend/resume confirmation is enabled.
func (o *Orchestrator) CanConfirmFlux() bool {
	return o.FluxRelease() != ""
}
