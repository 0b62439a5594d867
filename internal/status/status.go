// Package status classifies a Deployment's observed state into a small set
// of display states and decides whether that state is stable enough to stop
// polling.
package status

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
)

// State is the display status of a Deployment.
type State string

const (
	Available   State = "Available"
	Progressing State = "Progressing"
	ScaledDown  State = "Scaled Down"
	Paused      State = "Paused"
	Unknown     State = "Unknown"
)

// Stable reports whether polling may stop once this state has held for the
// debounce window.
func (s State) Stable() bool {
	switch s {
	case Available, ScaledDown, Paused:
		return true
	}
	return false
}

// Result is the output of Classify.
type Result struct {
	State  State
	Stable bool
}

// Classify derives the display state from a Deployment document. It never
// fails: anything it cannot interpret is Unknown.
func Classify(d *appsv1.Deployment) Result {
	s := classify(d)
	return Result{State: s, Stable: s.Stable()}
}

func classify(d *appsv1.Deployment) State {
	if d == nil {
		return Unknown
	}
	if d.Spec.Paused {
		return Paused
	}

	desired := int32(1)
	if d.Spec.Replicas != nil {
		desired = *d.Spec.Replicas
	}
	st := d.Status

	if desired == 0 {
		if st.Replicas == 0 {
			return ScaledDown
		}
		return Progressing
	}

	for _, c := range st.Conditions {
		if c.Type == appsv1.DeploymentProgressing && c.Status == corev1.ConditionFalse &&
			c.Reason == "ProgressDeadlineExceeded" {
			return Unknown
		}
	}

	if d.Generation > 0 && st.ObservedGeneration < d.Generation {
		return Progressing
	}
	if st.UpdatedReplicas < desired || st.ReadyReplicas < desired || st.AvailableReplicas < desired {
		return Progressing
	}
	// old ReplicaSet pods still terminating
	if st.Replicas > st.UpdatedReplicas {
		return Progressing
	}
	return Available
}
