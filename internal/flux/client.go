// Package flux reads and toggles FluxCD HelmReleases through the dynamic
// client. Every HelmRelease API version still served by Flux is tried in
// turn, newest first.
package flux

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/klog/v2"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

const (
	Group    = "helm.toolkit.fluxcd.io"
	Resource = "helmreleases"

	// ReconcileAnnotation set to "disabled" stops the owning Kustomization
	// from overwriting the HelmRelease.
	ReconcileAnnotation   = "kustomize.toolkit.fluxcd.io/reconcile"
	SuspendedByAnnotation = "kubedash.io/suspended-by"
	SuspendedAtAnnotation = "kubedash.io/suspended-at"
)

// Versions lists the HelmRelease API versions in lookup order.
var Versions = []string{"v2", "v2beta2", "v2beta1"}

// GVR returns the HelmRelease resource for an API version.
func GVR(version string) schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: Group, Version: version, Resource: Resource}
}

// Client talks to the HelmReleases of one cluster.
type Client struct {
	dynamic dynamic.Interface
	now     func() time.Time

	mu      sync.Mutex
	version string // last version that answered
}

// NewClient creates a Flux client on top of a dynamic client.
func NewClient(dyn dynamic.Interface) *Client {
	return &Client{dynamic: dyn, now: time.Now}
}

// Status reads the HelmRelease's suspension and readiness.
func (c *Client) Status(ctx context.Context, namespace, name string) (*Status, error) {
	var status *Status
	err := c.eachVersion(namespace, name, func(version string) error {
		obj, err := c.dynamic.Resource(GVR(version)).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		status = statusFromObject(obj, version)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Suspend disables reconciliation of the HelmRelease and marks who did it.
func (c *Client) Suspend(ctx context.Context, namespace, name, actor string) error {
	patch := map[string]any{
		"metadata": map[string]any{
			"annotations": map[string]any{
				ReconcileAnnotation:   "disabled",
				SuspendedByAnnotation: actor,
				SuspendedAtAnnotation: c.now().UTC().Format(time.RFC3339),
			},
		},
		"spec": map[string]any{"suspend": true},
	}
	if err := c.patch(ctx, namespace, name, patch); err != nil {
		return err
	}
	klog.Infof("[flux] suspended HelmRelease %s/%s by %s", namespace, name, actor)
	return nil
}

// Resume re-enables reconciliation and removes the suspension markers.
func (c *Client) Resume(ctx context.Context, namespace, name string) error {
	patch := map[string]any{
		"metadata": map[string]any{
			"annotations": map[string]any{
				ReconcileAnnotation:   nil,
				SuspendedByAnnotation: nil,
				SuspendedAtAnnotation: nil,
			},
		},
		"spec": map[string]any{"suspend": false},
	}
	if err := c.patch(ctx, namespace, name, patch); err != nil {
		return err
	}
	klog.Infof("[flux] resumed HelmRelease %s/%s", namespace, name)
	return nil
}

func (c *Client) patch(ctx context.Context, namespace, name string, patch map[string]any) error {
	patchBytes, err := json.Marshal(patch)
	if err != nil {
		return dasherrors.MarshalError(err)
	}
	return c.eachVersion(namespace, name, func(version string) error {
		_, err := c.dynamic.Resource(GVR(version)).Namespace(namespace).Patch(
			ctx,
			name,
			types.MergePatchType,
			patchBytes,
			metav1.PatchOptions{},
		)
		return err
	})
}

// eachVersion runs fn against each API version until one succeeds. A
// not-found answer moves on to the next version; anything else stops.
func (c *Client) eachVersion(namespace, name string, fn func(version string) error) error {
	for _, version := range c.versionOrder() {
		err := fn(version)
		if err == nil {
			c.mu.Lock()
			c.version = version
			c.mu.Unlock()
			return nil
		}
		if !apierrors.IsNotFound(err) {
			klog.Errorf("[flux] HelmRelease %s/%s (%s): %v", namespace, name, version, err)
			return dasherrors.Wrap(dasherrors.ErrFluxOperationFailed, "HelmRelease request failed", err)
		}
		klog.V(3).Infof("[flux] HelmRelease %s/%s not found as %s", namespace, name, version)
	}
	return dasherrors.FluxReleaseNotFound(namespace, name)
}

func (c *Client) versionOrder() []string {
	c.mu.Lock()
	preferred := c.version
	c.mu.Unlock()

	if preferred == "" {
		return Versions
	}
	order := []string{preferred}
	for _, v := range Versions {
		if v != preferred {
			order = append(order, v)
		}
	}
	return order
}

func statusFromObject(obj *unstructured.Unstructured, version string) *Status {
	status := &Status{
		ReleaseName: obj.GetName(),
		Namespace:   obj.GetNamespace(),
		APIVersion:  Group + "/" + version,
	}
	status.Suspended, _, _ = unstructured.NestedBool(obj.Object, "spec", "suspend")
	status.ReconcileDisabled = obj.GetAnnotations()[ReconcileAnnotation] == "disabled"
	status.SuspendedBy = obj.GetAnnotations()[SuspendedByAnnotation]

	conditions, _, _ := unstructured.NestedSlice(obj.Object, "status", "conditions")
	for _, cond := range conditions {
		condMap, ok := cond.(map[string]any)
		if !ok || condMap["type"] != "Ready" {
			continue
		}
		status.Ready = condMap["status"] == "True"
		status.Message, _ = condMap["message"].(string)
		if ts, ok := condMap["lastTransitionTime"].(string); ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				status.LastSyncTime = &t
			}
		}
	}
	return status
}
