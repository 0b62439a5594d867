package flux

import "time"

// Status is the GitOps state of a HelmRelease
type Status struct {
	ReleaseName       string     `json:"releaseName"`
	Namespace         string     `json:"namespace"`
	APIVersion        string     `json:"apiVersion"`
	Suspended         bool       `json:"suspended"`
	Ready             bool       `json:"ready"`
	ReconcileDisabled bool       `json:"reconcileDisabled"`
	SuspendedBy       string     `json:"suspendedBy,omitempty"`
	Message           string     `json:"message"`
	LastSyncTime      *time.Time `json:"lastSyncTime,omitempty"`
}
