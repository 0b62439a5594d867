// Package history records the mutating actions users perform on
// Deployments, with a snapshot of the object they acted on.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names recorded in history
const (
	ActionRestart  = "restart"
	ActionScale    = "scale"
	ActionEdit     = "edit"
	ActionRollback = "rollback"
	ActionSuspend  = "suspend"
	ActionResume   = "resume"
)

// ActionRecord is one performed action
type ActionRecord struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Cluster      string         `json:"cluster"`
	Namespace    string         `json:"namespace"`
	Name         string         `json:"name"`
	Action       string         `json:"action"`
	Operator     string         `json:"operator"`
	Details      map[string]any `json:"details,omitempty"`
	ResourceYAML string         `json:"resourceYaml,omitempty"`
	YAMLDiff     string         `json:"yamlDiff,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
}

// NewRecord fills in the ID and timestamp of a record.
func NewRecord(cluster, namespace, name, action, operator string) ActionRecord {
	return ActionRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Cluster:   cluster,
		Namespace: namespace,
		Name:      name,
		Action:    action,
		Operator:  operator,
		Success:   true,
	}
}

// QueryOptions selects records for one Deployment. Empty fields match all.
type QueryOptions struct {
	Cluster   string
	Namespace string
	Name      string
	Limit     int // default 50, max 500
}

func (o QueryOptions) limit() int {
	switch {
	case o.Limit <= 0:
		return 50
	case o.Limit > 500:
		return 500
	}
	return o.Limit
}

func (o QueryOptions) matches(r *ActionRecord) bool {
	return (o.Cluster == "" || o.Cluster == r.Cluster) &&
		(o.Namespace == "" || o.Namespace == r.Namespace) &&
		(o.Name == "" || o.Name == r.Name)
}

// Store is the interface for action history backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record appends a record
	Record(ctx context.Context, rec ActionRecord) error

	// Query returns matching records, newest first
	Query(ctx context.Context, opts QueryOptions) ([]ActionRecord, error)

	// Close releases any resources held by the store
	Close() error
}
