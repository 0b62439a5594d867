package status

import (
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func deployment(desired int32, mutate func(d *appsv1.Deployment)) *appsv1.Deployment {
	d := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default", Generation: 3},
		Spec:       appsv1.DeploymentSpec{Replicas: &desired},
		Status: appsv1.DeploymentStatus{
			ObservedGeneration: 3,
			Replicas:           desired,
			UpdatedReplicas:    desired,
			ReadyReplicas:      desired,
			AvailableReplicas:  desired,
		},
	}
	if mutate != nil {
		mutate(d)
	}
	return d
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		d      *appsv1.Deployment
		state  State
		stable bool
	}{
		{"nil document", nil, Unknown, false},
		{"fully rolled out", deployment(3, nil), Available, true},
		{"paused wins", deployment(3, func(d *appsv1.Deployment) {
			d.Spec.Paused = true
			d.Status.ReadyReplicas = 0
		}), Paused, true},
		{"scaled to zero", deployment(0, nil), ScaledDown, true},
		{"scaling down to zero", deployment(0, func(d *appsv1.Deployment) {
			d.Status.Replicas = 2
		}), Progressing, false},
		{"not ready yet", deployment(3, func(d *appsv1.Deployment) {
			d.Status.ReadyReplicas = 1
		}), Progressing, false},
		{"generation not observed", deployment(3, func(d *appsv1.Deployment) {
			d.Generation = 4
		}), Progressing, false},
		{"old pods terminating", deployment(2, func(d *appsv1.Deployment) {
			d.Status.Replicas = 3
		}), Progressing, false},
		{"deadline exceeded", deployment(2, func(d *appsv1.Deployment) {
			d.Status.ReadyReplicas = 1
			d.Status.Conditions = []appsv1.DeploymentCondition{{
				Type:   appsv1.DeploymentProgressing,
				Status: corev1.ConditionFalse,
				Reason: "ProgressDeadlineExceeded",
			}}
		}), Unknown, false},
		{"nil replicas defaults to one", deployment(1, func(d *appsv1.Deployment) {
			d.Spec.Replicas = nil
		}), Available, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.d)
			if got.State != tt.state {
				t.Errorf("Expected state %q, got %q", tt.state, got.State)
			}
			if got.Stable != tt.stable {
				t.Errorf("Expected stable=%v, got %v", tt.stable, got.Stable)
			}
		})
	}
}

func TestStableSet(t *testing.T) {
	for _, s := range []State{Available, ScaledDown, Paused} {
		if !s.Stable() {
			t.Errorf("Expected %q to be stable", s)
		}
	}
	for _, s := range []State{Progressing, Unknown, State("Degraded")} {
		if s.Stable() {
			t.Errorf("Expected %q to be unstable", s)
		}
	}
}
