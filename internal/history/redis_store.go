package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

const redisKeyPrefix = "kubedash:history"

// RedisStore keeps records in one sorted set per Deployment, scored by
// timestamp, plus a global set for unfiltered queries. Each set is trimmed
// to maxPerKey entries.
type RedisStore struct {
	client    *redis.Client
	maxPerKey int64
}

// NewRedisStore connects to the Redis server at url (redis://...)
func NewRedisStore(ctx context.Context, url string, maxPerKey int) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if maxPerKey <= 0 {
		maxPerKey = 500
	}
	return &RedisStore{client: client, maxPerKey: int64(maxPerKey)}, nil
}

func deploymentKey(cluster, namespace, name string) string {
	return fmt.Sprintf("%s:%s:%s:%s", redisKeyPrefix, cluster, namespace, name)
}

func globalKey() string {
	return redisKeyPrefix + ":all"
}

// Record adds the record to its deployment set and the global set
func (s *RedisStore) Record(ctx context.Context, rec ActionRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return dasherrors.MarshalError(err)
	}
	member := redis.Z{Score: float64(rec.Timestamp.UnixNano()), Member: payload}

	pipe := s.client.TxPipeline()
	for _, key := range []string{deploymentKey(rec.Cluster, rec.Namespace, rec.Name), globalKey()} {
		pipe.ZAdd(ctx, key, member)
		pipe.ZRemRangeByRank(ctx, key, 0, -s.maxPerKey-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return dasherrors.Wrap(dasherrors.ErrHistoryWriteFailed, "failed to write history to Redis", err)
	}
	return nil
}

// Query reads newest first. A fully qualified deployment reads its own set;
// anything else filters the global set.
func (s *RedisStore) Query(ctx context.Context, opts QueryOptions) ([]ActionRecord, error) {
	key := globalKey()
	exact := opts.Cluster != "" && opts.Namespace != "" && opts.Name != ""
	if exact {
		key = deploymentKey(opts.Cluster, opts.Namespace, opts.Name)
	}

	stop := int64(-1)
	if exact {
		stop = int64(opts.limit()) - 1
	}
	members, err := s.client.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, dasherrors.Wrap(dasherrors.ErrHistoryQueryFailed, "failed to read history from Redis", err)
	}

	records := make([]ActionRecord, 0, len(members))
	for _, m := range members {
		var rec ActionRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			continue
		}
		if !opts.matches(&rec) {
			continue
		}
		records = append(records, rec)
		if len(records) >= opts.limit() {
			break
		}
	}
	return records, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
