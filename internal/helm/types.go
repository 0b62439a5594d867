package helm

import (
	"time"
)

// Revision represents a single revision in the release history
type Revision struct {
	Revision    int       `json:"revision"`
	Status      string    `json:"status"`
	Chart       string    `json:"chart"`
	AppVersion  string    `json:"appVersion"`
	Description string    `json:"description"`
	Updated     time.Time `json:"updated"`
	// ImageVersion is "name:tag" taken from the revision's image values,
	// empty when the chart has no image block.
	ImageVersion string `json:"imageVersion,omitempty"`
}

// RollbackResult is returned by a successful rollback
type RollbackResult struct {
	ReleaseName string `json:"releaseName"`
	Namespace   string `json:"namespace"`
	Revision    int    `json:"revision"` // 0 when rolled back to the previous revision
	Message     string `json:"message"`
}
