package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

func createTestSQLiteStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "history-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	store, err := NewSQLiteStore(filepath.Join(tmpDir, "history.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create SQLite store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return store, cleanup
}

func record(name, action string, at time.Time) ActionRecord {
	rec := NewRecord("prod", "default", name, action, "alice")
	rec.Timestamp = at
	return rec
}

// testStore runs the behaviour every backend must share.
func testStore(t *testing.T, store Store) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	web1 := record("web", ActionRestart, base)
	web2 := record("web", ActionScale, base.Add(time.Minute))
	web2.Details = map[string]any{"oldReplicas": float64(2), "newReplicas": float64(4)}
	web2.ResourceYAML = "kind: Deployment\n"
	web2.YAMLDiff = "@@ -1,1 +1,1 @@\n-replicas: 2\n+replicas: 4\n"
	api := record("api", ActionRollback, base.Add(2*time.Minute))
	api.Success = false
	api.Error = "release not found"

	for _, rec := range []ActionRecord{web1, web2, api} {
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	if all[0].ID != api.ID || all[2].ID != web1.ID {
		t.Errorf("Expected newest first, got %s, %s, %s", all[0].Action, all[1].Action, all[2].Action)
	}
	if all[0].Success || all[0].Error != "release not found" {
		t.Errorf("Expected failed record with error, got %+v", all[0])
	}

	web, err := store.Query(ctx, QueryOptions{Cluster: "prod", Namespace: "default", Name: "web"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(web) != 2 {
		t.Fatalf("Expected 2 web records, got %d", len(web))
	}
	if web[0].Action != ActionScale {
		t.Errorf("Expected scale first, got %s", web[0].Action)
	}
	if web[0].Details["newReplicas"] != float64(4) {
		t.Errorf("Expected details to round trip, got %v", web[0].Details)
	}
	if web[0].ResourceYAML != "kind: Deployment\n" {
		t.Errorf("Expected resource YAML, got %q", web[0].ResourceYAML)
	}
	if web[0].YAMLDiff != web2.YAMLDiff {
		t.Errorf("Expected YAML diff to round trip, got %q", web[0].YAMLDiff)
	}
	if web[0].Operator != "alice" {
		t.Errorf("Expected operator alice, got %q", web[0].Operator)
	}

	limited, err := store.Query(ctx, QueryOptions{Limit: 1})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected 1 record with limit, got %d", len(limited))
	}

	none, err := store.Query(ctx, QueryOptions{Cluster: "staging"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no staging records, got %d", len(none))
	}
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore(100))
}

func TestSQLiteStore(t *testing.T) {
	store, cleanup := createTestSQLiteStore(t)
	defer cleanup()
	testStore(t, store)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("KUBEDASH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("KUBEDASH_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	store, err := NewRedisStore(ctx, url, 100)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer store.Close()
	store.client.FlushDB(ctx)
	testStore(t, store)
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	store := NewMemoryStore(2)
	ctx := context.Background()
	base := time.Now()

	for i, action := range []string{ActionRestart, ActionScale, ActionEdit} {
		if err := store.Record(ctx, record("web", action, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	records, _ := store.Query(ctx, QueryOptions{})
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Action != ActionEdit || records[1].Action != ActionScale {
		t.Errorf("Expected edit, scale; got %s, %s", records[0].Action, records[1].Action)
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "history-persist-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	path := filepath.Join(tmpDir, "nested", "history.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.Record(context.Background(), record("web", ActionRestart, time.Now())); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	records, err := reopened.Query(context.Background(), QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected 1 persisted record, got %d", len(records))
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Options{Backend: "etcd"}); !dasherrors.IsValidation(err) {
		t.Errorf("Expected validation error for unknown backend, got %v", err)
	}
	store, err := Open(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("Expected memory store by default, got %T", store)
	}
}

func TestOpenStoreFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	_, err := Open(context.Background(), Options{Backend: BackendSQLite, Path: filepath.Join(blocker, "history.db")})
	if !dasherrors.IsCode(err, dasherrors.ErrHistoryStoreNotInit) {
		t.Errorf("Expected store-not-initialized error, got %v", err)
	}

	_, err = Open(context.Background(), Options{Backend: BackendRedis, RedisURL: "not-a-url"})
	if !dasherrors.IsCode(err, dasherrors.ErrHistoryStoreNotInit) {
		t.Errorf("Expected store-not-initialized error, got %v", err)
	}
}
