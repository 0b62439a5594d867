package history

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// Backend names accepted by Open
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options configures Open
type Options struct {
	Backend  string
	Path     string // SQLite database file
	RedisURL string
	MaxSize  int // memory ring size and Redis per-set cap
}

// Open creates the configured store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		klog.Infof("Action history: in-memory (max %d records)", opts.MaxSize)
		return NewMemoryStore(opts.MaxSize), nil
	case BackendSQLite:
		klog.Infof("Action history: SQLite at %s", opts.Path)
		store, err := NewSQLiteStore(opts.Path)
		if err != nil {
			return nil, dasherrors.Wrap(dasherrors.ErrHistoryStoreNotInit, "failed to open SQLite action history", err)
		}
		return store, nil
	case BackendRedis:
		klog.Infof("Action history: Redis")
		store, err := NewRedisStore(ctx, opts.RedisURL, opts.MaxSize)
		if err != nil {
			return nil, dasherrors.Wrap(dasherrors.ErrHistoryStoreNotInit, "failed to open Redis action history", err)
		}
		return store, nil
	default:
		return nil, dasherrors.ValidationError(fmt.Sprintf("unknown history backend %q", opts.Backend))
	}
}
