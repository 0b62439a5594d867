package orchestrator

import (
	"context"
	"sync"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/skyhook-io/kubedash/internal/deploy"
	"github.com/skyhook-io/kubedash/internal/flux"
	"github.com/skyhook-io/kubedash/internal/helm"
)

// MockBackend implements Backend for testing.
type MockBackend struct {
	mu sync.Mutex

	Deployments []*appsv1.Deployment // served in order, the last one repeats
	Detection   *deploy.Detection
	Revisions   []helm.Revision
	Values      map[string]any
	Flux        *flux.Status
	Message     string

	// Error injection
	GetErr      error
	RestartErr  error
	ScaleErr    error
	EditErr     error
	RollbackErr error
	SuspendErr  error
	ResumeErr   error
	DetectErr   error
	HistoryErr  error
	ValuesErr   error
	FluxErr     error

	// RestartGate, when set, blocks RestartDeployment until closed.
	// RestartStarted is signalled when the call begins.
	RestartGate    chan struct{}
	RestartStarted chan struct{}

	// Call tracking
	Calls          []string
	GetCalls       int
	ScaledTo       int32
	Edited         *appsv1.Deployment
	RollbackReq    *deploy.RollbackRequest
	SuspendedName  string
	ResumedName    string
	HistoryRelease string
	ValuesRelease  string
	ValuesRevision int
	FluxRelease    string
}

// Compile-time check.
var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) track(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

func (m *MockBackend) CallCount(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *MockBackend) GetDeployment(_ context.Context, _ deploy.Target) (*appsv1.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	if len(m.Deployments) == 0 {
		return nil, nil
	}
	d := m.Deployments[0]
	if len(m.Deployments) > 1 {
		m.Deployments = m.Deployments[1:]
	}
	return d.DeepCopy(), nil
}

func (m *MockBackend) RestartDeployment(_ context.Context, _ deploy.Target) (*deploy.ActionResult, error) {
	m.track("restart")
	if m.RestartStarted != nil {
		m.RestartStarted <- struct{}{}
	}
	if m.RestartGate != nil {
		<-m.RestartGate
	}
	if m.RestartErr != nil {
		return nil, m.RestartErr
	}
	return &deploy.ActionResult{Message: m.Message}, nil
}

func (m *MockBackend) ScaleDeployment(_ context.Context, _ deploy.Target, replicas int32) (*deploy.ActionResult, error) {
	m.track("scale")
	m.mu.Lock()
	m.ScaledTo = replicas
	m.mu.Unlock()
	if m.ScaleErr != nil {
		return nil, m.ScaleErr
	}
	return &deploy.ActionResult{Message: m.Message}, nil
}

func (m *MockBackend) EditDeployment(_ context.Context, _ deploy.Target, doc *appsv1.Deployment) (*appsv1.Deployment, error) {
	m.track("edit")
	m.mu.Lock()
	m.Edited = doc
	m.mu.Unlock()
	if m.EditErr != nil {
		return nil, m.EditErr
	}
	return doc, nil
}

func (m *MockBackend) RollbackDeployment(_ context.Context, _ deploy.Target, req deploy.RollbackRequest) (*deploy.ActionResult, error) {
	m.track("rollback")
	m.mu.Lock()
	m.RollbackReq = &req
	m.mu.Unlock()
	if m.RollbackErr != nil {
		return nil, m.RollbackErr
	}
	return &deploy.ActionResult{Message: "Rollback of release " + req.ReleaseName + " was successful"}, nil
}

func (m *MockBackend) SuspendRelease(_ context.Context, _ deploy.Target, release string) (*deploy.ActionResult, error) {
	m.track("suspend")
	m.mu.Lock()
	m.SuspendedName = release
	m.mu.Unlock()
	if m.SuspendErr != nil {
		return nil, m.SuspendErr
	}
	return &deploy.ActionResult{Message: m.Message}, nil
}

func (m *MockBackend) ResumeRelease(_ context.Context, _ deploy.Target, release string) (*deploy.ActionResult, error) {
	m.track("resume")
	m.mu.Lock()
	m.ResumedName = release
	m.mu.Unlock()
	if m.ResumeErr != nil {
		return nil, m.ResumeErr
	}
	return &deploy.ActionResult{Message: m.Message}, nil
}

func (m *MockBackend) DetectHelmRelease(_ context.Context, t deploy.Target) (*deploy.Detection, error) {
	m.track("detect")
	if m.DetectErr != nil {
		return nil, m.DetectErr
	}
	if m.Detection != nil {
		return m.Detection, nil
	}
	return &deploy.Detection{DeploymentName: t.Name, ReleaseName: t.Name}, nil
}

func (m *MockBackend) HelmHistory(_ context.Context, _ deploy.Target, release string) ([]helm.Revision, error) {
	m.track("history")
	m.mu.Lock()
	m.HistoryRelease = release
	m.mu.Unlock()
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	return m.Revisions, nil
}

func (m *MockBackend) HelmValues(_ context.Context, _ deploy.Target, release string, revision int) (map[string]any, error) {
	m.track("values")
	m.mu.Lock()
	m.ValuesRelease = release
	m.ValuesRevision = revision
	m.mu.Unlock()
	if m.ValuesErr != nil {
		return nil, m.ValuesErr
	}
	return m.Values, nil
}

func (m *MockBackend) FluxStatus(_ context.Context, _ deploy.Target, release string) (*flux.Status, error) {
	m.track("flux")
	m.mu.Lock()
	m.FluxRelease = release
	m.mu.Unlock()
	if m.FluxErr != nil {
		return nil, m.FluxErr
	}
	return m.Flux, nil
}

// testDeployment returns a two-replica Deployment with containers app and
// logger and the given number of ready replicas.
func testDeployment(ready int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "apps", Generation: 1},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To[int32](2),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					InitContainers: []corev1.Container{{Name: "migrate", Image: "migrate:1"}},
					Containers: []corev1.Container{
						{Name: "app", Image: "web:1"},
						{Name: "logger", Image: "fluentbit:1"},
					},
				},
			},
		},
		Status: appsv1.DeploymentStatus{
			ObservedGeneration: 1,
			Replicas:           2,
			UpdatedReplicas:    2,
			ReadyReplicas:      ready,
			AvailableReplicas:  ready,
		},
	}
}

func stableDeployment() *appsv1.Deployment   { return testDeployment(2) }
func unstableDeployment() *appsv1.Deployment { return testDeployment(1) }
