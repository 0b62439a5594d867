package deploy

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chartutil"
	kubefake "helm.sh/helm/v3/pkg/kube/fake"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/storage"
	"helm.sh/helm/v3/pkg/storage/driver"
	helmtime "helm.sh/helm/v3/pkg/time"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
	"github.com/skyhook-io/kubedash/internal/flux"
	"github.com/skyhook-io/kubedash/internal/helm"
	"github.com/skyhook-io/kubedash/internal/history"
	"github.com/skyhook-io/kubedash/internal/k8s"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	history *history.MemoryStore
	cluster *k8s.Cluster
	target  Target
}

func testDeployment() *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "web",
			Namespace: "apps",
			Labels:    map[string]string{k8s.InstanceLabel: "web-release"},
		},
		Spec: appsv1.DeploymentSpec{Replicas: ptr.To[int32](2)},
	}
}

func helmReleaseObject(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]any{
		"apiVersion": flux.Group + "/v2",
		"kind":       "HelmRelease",
		"metadata":   map[string]any{"name": name, "namespace": "apps"},
		"spec":       map[string]any{"suspend": false},
	}}
}

func testRelease(version int, status release.Status) *release.Release {
	return &release.Release{
		Name:      "web-release",
		Namespace: "apps",
		Version:   version,
		Info: &release.Info{
			Status:        status,
			FirstDeployed: helmtime.Now(),
			LastDeployed:  helmtime.Now(),
		},
		Chart:  &chart.Chart{Metadata: &chart.Metadata{Name: "web", Version: "1.0.0"}},
		Config: map[string]any{"image": map[string]any{"repository": "web", "tag": fmt.Sprintf("v%d", version)}},
	}
}

func newFixture(t *testing.T, fluxObjects ...runtime.Object) *fixture {
	t.Helper()

	mem := driver.NewMemory()
	mem.SetNamespace("apps")
	store := storage.Init(mem)
	for _, rel := range []*release.Release{
		testRelease(1, release.StatusSuperseded),
		testRelease(2, release.StatusDeployed),
	} {
		if err := store.Create(rel); err != nil {
			t.Fatalf("Failed to seed release: %v", err)
		}
	}
	cfg := &action.Configuration{
		Releases:     store,
		KubeClient:   &kubefake.PrintingKubeClient{Out: io.Discard},
		Capabilities: chartutil.DefaultCapabilities,
		Log:          func(string, ...interface{}) {},
	}

	listKinds := map[schema.GroupVersionResource]string{}
	for _, v := range flux.Versions {
		listKinds[flux.GVR(v)] = "HelmReleaseList"
	}

	cluster := &k8s.Cluster{
		Name:      "test",
		Clientset: fake.NewSimpleClientset(testDeployment()),
		Dynamic:   dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), listKinds, fluxObjects...),
	}
	mstore := history.NewMemoryStore(0)
	svc := NewService(Options{
		Clusters: k8s.NewStaticRegistry(cluster),
		History:  mstore,
		HelmFor: func(*k8s.Cluster) *helm.Client {
			return helm.NewClientWithConfig(func(string) (*action.Configuration, error) { return cfg, nil }, 20)
		},
		Now: func() time.Time { return testNow },
	})
	return &fixture{svc: svc, history: mstore, cluster: cluster, target: Target{Cluster: "test", Namespace: "apps", Name: "web"}}
}

func (f *fixture) records(t *testing.T) []history.ActionRecord {
	t.Helper()
	recs, err := f.history.Query(context.Background(), history.QueryOptions{Cluster: "test", Namespace: "apps", Name: "web"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	return recs
}

func TestRestartRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := WithActor(context.Background(), "alice")

	result, err := f.svc.RestartDeployment(ctx, f.target)
	if err != nil {
		t.Fatalf("RestartDeployment failed: %v", err)
	}
	if result.Message == "" {
		t.Error("Expected a message")
	}

	d, _ := f.svc.GetDeployment(ctx, f.target)
	if d.Spec.Template.Annotations[k8s.RestartedAtAnnotation] != testNow.Format(time.RFC3339) {
		t.Errorf("Expected restartedAt annotation, got %v", d.Spec.Template.Annotations)
	}

	recs := f.records(t)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(recs))
	}
	if recs[0].Action != history.ActionRestart || recs[0].Operator != "alice" || !recs[0].Success {
		t.Errorf("Unexpected record %+v", recs[0])
	}
	if recs[0].ResourceYAML == "" {
		t.Error("Expected a resource snapshot")
	}
}

func TestScale(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.ScaleDeployment(context.Background(), f.target, 5)
	if err != nil {
		t.Fatalf("ScaleDeployment failed: %v", err)
	}
	if *result.OldReplicas != 2 || *result.NewReplicas != 5 {
		t.Errorf("Expected 2 -> 5, got %d -> %d", *result.OldReplicas, *result.NewReplicas)
	}

	recs := f.records(t)
	if len(recs) != 1 || recs[0].Operator != AnonymousActor {
		t.Fatalf("Expected one anonymous record, got %+v", recs)
	}
}

func TestScaleRejectsNegative(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ScaleDeployment(context.Background(), f.target, -1)
	if !dasherrors.IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if len(f.records(t)) != 0 {
		t.Error("Expected rejected scale to leave no record")
	}
	if len(f.cluster.Clientset.(*fake.Clientset).Actions()) != 0 {
		t.Error("Expected no API calls")
	}
}

func TestFailedActionRecorded(t *testing.T) {
	f := newFixture(t)
	missing := Target{Cluster: "test", Namespace: "apps", Name: "missing"}

	if _, err := f.svc.RestartDeployment(context.Background(), missing); !dasherrors.IsNotFound(err) {
		t.Fatalf("Expected not found, got %v", err)
	}

	recs, _ := f.history.Query(context.Background(), history.QueryOptions{Name: "missing"})
	if len(recs) != 1 || recs[0].Success || recs[0].Error == "" {
		t.Errorf("Expected a failed record, got %+v", recs)
	}
}

func TestUnknownCluster(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetDeployment(context.Background(), Target{Cluster: "nope", Namespace: "apps", Name: "web"})
	if !dasherrors.IsCode(err, dasherrors.ErrK8sUnknownCluster) {
		t.Errorf("Expected unknown cluster, got %v", err)
	}
}

func TestNoClusters(t *testing.T) {
	svc := NewService(Options{})
	_, err := svc.RestartDeployment(context.Background(), Target{Namespace: "apps", Name: "web"})
	if !dasherrors.IsCode(err, dasherrors.ErrK8sClientNotInitialized) {
		t.Errorf("Expected client-not-initialized error, got %v", err)
	}
}

func TestEmptyClusterUsesDefault(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.GetDeployment(context.Background(), Target{Namespace: "apps", Name: "web"}); err != nil {
		t.Fatalf("Expected default cluster, got %v", err)
	}
}

func TestEditDeployment(t *testing.T) {
	f := newFixture(t)
	doc := testDeployment()
	doc.Spec.Replicas = ptr.To[int32](7)

	updated, err := f.svc.EditDeployment(context.Background(), f.target, doc)
	if err != nil {
		t.Fatalf("EditDeployment failed: %v", err)
	}
	if *updated.Spec.Replicas != 7 {
		t.Errorf("Expected 7 replicas, got %d", *updated.Spec.Replicas)
	}
	recs := f.records(t)
	if len(recs) != 1 || recs[0].Action != history.ActionEdit {
		t.Fatalf("Expected edit record, got %+v", recs)
	}
	diff := recs[0].YAMLDiff
	if !strings.Contains(diff, "-  replicas: 2") || !strings.Contains(diff, "+  replicas: 7") {
		t.Errorf("Expected replica change in edit diff, got %q", diff)
	}
}

func TestRollbackSuspendsFlux(t *testing.T) {
	f := newFixture(t, helmReleaseObject("web-release"))
	ctx := context.Background()

	result, err := f.svc.RollbackDeployment(ctx, f.target, RollbackRequest{ReleaseName: "web-release"})
	if err != nil {
		t.Fatalf("RollbackDeployment failed: %v", err)
	}
	if result.Suspended == nil || !*result.Suspended {
		t.Errorf("Expected suspended, got %+v", result)
	}
	want := "Rollback of release web-release in namespace apps was successful" + rollbackSuspendMessage
	if result.Message != want {
		t.Errorf("Expected %q, got %q", want, result.Message)
	}

	status, err := f.svc.FluxStatus(ctx, f.target, "web-release")
	if err != nil {
		t.Fatalf("FluxStatus failed: %v", err)
	}
	if !status.Suspended || status.SuspendedBy != rollbackActor {
		t.Errorf("Expected suspended by %s, got %+v", rollbackActor, status)
	}

	revisions, err := f.svc.HelmHistory(ctx, f.target, "web-release")
	if err != nil {
		t.Fatalf("HelmHistory failed: %v", err)
	}
	if len(revisions) != 3 || revisions[0].Revision != 3 {
		t.Errorf("Expected a new revision 3, got %+v", revisions)
	}
}

func TestRollbackContinuesWhenFluxMissing(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.RollbackDeployment(context.Background(), f.target, RollbackRequest{ReleaseName: "web-release"})
	if err != nil {
		t.Fatalf("Expected rollback to succeed without flux, got %v", err)
	}
	if result.Suspended == nil || *result.Suspended {
		t.Errorf("Expected not suspended, got %+v", result)
	}
	if result.Message != "Rollback of release web-release in namespace apps was successful" {
		t.Errorf("Unexpected message %q", result.Message)
	}
}

func TestRollbackWithoutSuspend(t *testing.T) {
	f := newFixture(t, helmReleaseObject("web-release"))
	ctx := context.Background()

	_, err := f.svc.RollbackDeployment(ctx, f.target, RollbackRequest{
		ReleaseName: "web-release",
		Revision:    ptr.To(1),
		SuspendFlux: ptr.To(false),
	})
	if err != nil {
		t.Fatalf("RollbackDeployment failed: %v", err)
	}
	status, _ := f.svc.FluxStatus(ctx, f.target, "web-release")
	if status.Suspended {
		t.Error("Expected flux to stay resumed")
	}
}

func TestRollbackValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.RollbackDeployment(context.Background(), f.target, RollbackRequest{}); !dasherrors.IsValidation(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestRollbackUnknownRelease(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RollbackDeployment(context.Background(), f.target, RollbackRequest{ReleaseName: "ghost"})
	if !dasherrors.IsNotFound(err) {
		t.Fatalf("Expected not found, got %v", err)
	}
	if recs := f.records(t); len(recs) != 1 || recs[0].Success {
		t.Errorf("Expected failed rollback record, got %+v", recs)
	}
}

func TestSuspendResume(t *testing.T) {
	f := newFixture(t, helmReleaseObject("web-release"))
	ctx := WithActor(context.Background(), "bob")

	result, err := f.svc.SuspendRelease(ctx, f.target, "web-release")
	if err != nil {
		t.Fatalf("SuspendRelease failed: %v", err)
	}
	if result.Message != suspendMessage {
		t.Errorf("Unexpected message %q", result.Message)
	}
	status, _ := f.svc.FluxStatus(ctx, f.target, "web-release")
	if !status.Suspended || status.SuspendedBy != "bob" {
		t.Errorf("Expected suspended by bob, got %+v", status)
	}

	if _, err := f.svc.ResumeRelease(ctx, f.target, "web-release"); err != nil {
		t.Fatalf("ResumeRelease failed: %v", err)
	}
	status, _ = f.svc.FluxStatus(ctx, f.target, "web-release")
	if status.Suspended {
		t.Error("Expected resumed")
	}

	recs := f.records(t)
	if len(recs) != 2 || recs[0].Action != history.ActionResume || recs[1].Action != history.ActionSuspend {
		t.Errorf("Expected resume then suspend, got %+v", recs)
	}
}

func TestSuspendMissingRelease(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SuspendRelease(context.Background(), f.target, "ghost")
	if !dasherrors.IsNotFound(err) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestDetectHelmRelease(t *testing.T) {
	f := newFixture(t)

	det, err := f.svc.DetectHelmRelease(context.Background(), f.target)
	if err != nil {
		t.Fatalf("DetectHelmRelease failed: %v", err)
	}
	if !det.Detected || det.ReleaseName != "web-release" || det.DeploymentName != "web" {
		t.Errorf("Unexpected detection %+v", det)
	}
}

func TestHelmValues(t *testing.T) {
	f := newFixture(t)

	values, err := f.svc.HelmValues(context.Background(), f.target, "web-release", 1)
	if err != nil {
		t.Fatalf("HelmValues failed: %v", err)
	}
	image, ok := values["image"].(map[string]any)
	if !ok || image["tag"] != "v1" {
		t.Errorf("Expected v1 image values, got %v", values)
	}
}

func TestActionHistoryLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.svc.RestartDeployment(ctx, f.target); err != nil {
			t.Fatalf("RestartDeployment failed: %v", err)
		}
	}

	recs, err := f.svc.ActionHistory(ctx, f.target, 2)
	if err != nil {
		t.Fatalf("ActionHistory failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("Expected 2 records, got %d", len(recs))
	}
}

func TestActorDefault(t *testing.T) {
	if got := ActorFrom(context.Background()); got != AnonymousActor {
		t.Errorf("Expected %q, got %q", AnonymousActor, got)
	}
	if got := ActorFrom(WithActor(context.Background(), "")); got != AnonymousActor {
		t.Errorf("Expected %q for empty actor, got %q", AnonymousActor, got)
	}
}

func TestRollbackRequestDefaults(t *testing.T) {
	if !(RollbackRequest{}).SuspendFluxEnabled() {
		t.Error("Expected suspendFlux to default true")
	}
	if (RollbackRequest{SuspendFlux: ptr.To(false)}).SuspendFluxEnabled() {
		t.Error("Expected explicit false to disable")
	}
}
