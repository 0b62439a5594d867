package orchestrator

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/klog/v2"

	"github.com/skyhook-io/kubedash/internal/k8s"
)

// EditBuffer returns the YAML edit buffer and whether it holds unsaved
// changes. A clean buffer follows every fetch.
func (o *Orchestrator) EditBuffer() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.editBuffer, o.editDirty
}

// SetEditBuffer replaces the buffer with the user's text.
func (o *Orchestrator) SetEditBuffer(yaml string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.editBuffer = yaml
	o.editDirty = true
}

// DiscardEdit drops unsaved changes; the next fetch refills the buffer.
func (o *Orchestrator) DiscardEdit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.editDirty = false
	if o.view != nil {
		if y, err := k8s.DeploymentYAML(o.view.Raw); err == nil {
			o.editBuffer = y
		}
	}
}

// SaveEditBuffer parses the buffer and submits it with SaveEdit. A parse
// error leaves the buffer untouched.
func (o *Orchestrator) SaveEditBuffer(ctx context.Context) error {
	buffer, _ := o.EditBuffer()
	doc, err := k8s.ParseDeploymentYAML([]byte(buffer))
	if err != nil {
		return err
	}
	return o.SaveEdit(ctx, doc)
}

// keepEdit makes sure a rejected document survives in the buffer.
func (o *Orchestrator) keepEdit(doc *appsv1.Deployment) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.editDirty {
		return
	}
	y, err := k8s.DeploymentYAML(doc)
	if err != nil {
		klog.Warningf("Failed to keep rejected edit for %s: %v", o.target, err)
		return
	}
	o.editBuffer = y
	o.editDirty = true
}

func (o *Orchestrator) markEditSaved(updated *appsv1.Deployment) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.editDirty = false
	if updated == nil {
		return
	}
	if y, err := k8s.DeploymentYAML(updated); err == nil {
		o.editBuffer = y
	}
}
