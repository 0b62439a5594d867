package flux

import (
	"context"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

func helmRelease(version, name string, suspended bool) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": Group + "/" + version,
		"kind":       "HelmRelease",
		"metadata": map[string]any{
			"name":      name,
			"namespace": "apps",
		},
		"spec": map[string]any{"suspend": suspended},
		"status": map[string]any{
			"conditions": []any{
				map[string]any{
					"type":               "Ready",
					"status":             "True",
					"message":            "Helm upgrade succeeded",
					"lastTransitionTime": "2024-05-01T10:00:00Z",
				},
			},
		},
	}}
}

func createTestClient(objs ...runtime.Object) *Client {
	listKinds := map[schema.GroupVersionResource]string{}
	for _, v := range Versions {
		listKinds[GVR(v)] = "HelmReleaseList"
	}
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds, objs...)
	c := NewClient(dyn)
	c.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestStatusReadsReadyCondition(t *testing.T) {
	c := createTestClient(helmRelease("v2", "web", false))

	status, err := c.Status(context.Background(), "apps", "web")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.Ready {
		t.Error("Expected ready")
	}
	if status.Suspended || status.ReconcileDisabled {
		t.Errorf("Expected not suspended, got %+v", status)
	}
	if status.Message != "Helm upgrade succeeded" {
		t.Errorf("Unexpected message %q", status.Message)
	}
	if status.LastSyncTime == nil || status.LastSyncTime.Year() != 2024 {
		t.Errorf("Expected last sync time, got %v", status.LastSyncTime)
	}
	if status.APIVersion != "helm.toolkit.fluxcd.io/v2" {
		t.Errorf("Unexpected api version %q", status.APIVersion)
	}
}

func TestStatusFallsBackToOlderVersion(t *testing.T) {
	c := createTestClient(helmRelease("v2beta1", "web", true))

	status, err := c.Status(context.Background(), "apps", "web")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.APIVersion != "helm.toolkit.fluxcd.io/v2beta1" {
		t.Errorf("Expected v2beta1, got %q", status.APIVersion)
	}
	if !status.Suspended {
		t.Error("Expected suspended")
	}
	if order := c.versionOrder(); order[0] != "v2beta1" || len(order) != len(Versions) {
		t.Errorf("Expected v2beta1 preferred, got %v", order)
	}
}

func TestStatusNotFound(t *testing.T) {
	c := createTestClient()

	_, err := c.Status(context.Background(), "apps", "ghost")
	if !dasherrors.IsCode(err, dasherrors.ErrFluxReleaseNotFound) {
		t.Fatalf("Expected ErrFluxReleaseNotFound, got %v", err)
	}
	if !dasherrors.IsNotFound(err) {
		t.Error("Expected IsNotFound")
	}
}

func TestSuspendAndResume(t *testing.T) {
	c := createTestClient(helmRelease("v2beta2", "web", false))
	ctx := context.Background()

	if err := c.Suspend(ctx, "apps", "web", "alice"); err != nil {
		t.Fatalf("Suspend failed: %v", err)
	}

	obj, err := c.dynamic.Resource(GVR("v2beta2")).Namespace("apps").Get(ctx, "web", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	suspended, _, _ := unstructured.NestedBool(obj.Object, "spec", "suspend")
	if !suspended {
		t.Error("Expected spec.suspend=true")
	}
	ann := obj.GetAnnotations()
	if ann[ReconcileAnnotation] != "disabled" {
		t.Errorf("Expected reconcile disabled, got %q", ann[ReconcileAnnotation])
	}
	if ann[SuspendedByAnnotation] != "alice" {
		t.Errorf("Expected suspended-by alice, got %q", ann[SuspendedByAnnotation])
	}
	if ann[SuspendedAtAnnotation] != "2024-06-01T12:00:00Z" {
		t.Errorf("Unexpected suspended-at %q", ann[SuspendedAtAnnotation])
	}

	if err := c.Resume(ctx, "apps", "web"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	obj, err = c.dynamic.Resource(GVR("v2beta2")).Namespace("apps").Get(ctx, "web", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	suspended, _, _ = unstructured.NestedBool(obj.Object, "spec", "suspend")
	if suspended {
		t.Error("Expected spec.suspend=false")
	}
	for _, key := range []string{ReconcileAnnotation, SuspendedByAnnotation, SuspendedAtAnnotation} {
		if _, ok := obj.GetAnnotations()[key]; ok {
			t.Errorf("Expected annotation %s to be removed", key)
		}
	}
}

func TestSuspendMissingRelease(t *testing.T) {
	c := createTestClient()

	err := c.Suspend(context.Background(), "apps", "ghost", "alice")
	if !dasherrors.IsNotFound(err) {
		t.Fatalf("Expected not found, got %v", err)
	}
}
