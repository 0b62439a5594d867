package orchestrator

import (
	appsv1 "k8s.io/api/apps/v1"
)

// ActionKind names a mutating operation
type ActionKind string

const (
	ActionRestart  ActionKind = "restart"
	ActionScale    ActionKind = "scale"
	ActionRollback ActionKind = "rollback"
	ActionSuspend  ActionKind = "suspend"
	ActionResume   ActionKind = "resume"
	ActionEdit     ActionKind = "edit"
)

// PendingAction is a mutating request in flight on a view. Only the fields
// of its kind are set.
type PendingAction struct {
	Kind ActionKind

	Replicas    int32              // scale
	ReleaseName string             // rollback, suspend, resume
	Revision    *int               // rollback
	SuspendFlux bool               // rollback
	Document    *appsv1.Deployment // edit
}

// ConfirmationRequired reports whether the user must confirm the action
// before it runs. Every mutating action requires it.
func (a PendingAction) ConfirmationRequired() bool {
	return true
}
