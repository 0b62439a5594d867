package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	dasherrors "github.com/skyhook-io/kubedash/internal/errors"
)

// fixed width so timestamps sort lexically
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists records in a SQLite database.
// Suitable for local use and in-cluster use with a PVC.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=10000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			klog.Warningf("failed to set %s: %v", pragma, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS action_history (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		cluster TEXT NOT NULL,
		namespace TEXT NOT NULL,
		name TEXT NOT NULL,
		action TEXT NOT NULL,
		operator TEXT,
		details_json TEXT,
		resource_yaml TEXT,
		yaml_diff TEXT,
		success INTEGER NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_history_timestamp ON action_history(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_history_target ON action_history(cluster, namespace, name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addColumn("yaml_diff", "TEXT")
}

// addColumn adds a column missing from databases created by older versions.
func (s *SQLiteStore) addColumn(name, typ string) error {
	rows, err := s.db.Query("PRAGMA table_info(action_history)")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid, notNull, pk int
			col, colType     string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &col, &colType, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if col == name {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE action_history ADD COLUMN %s %s", name, typ))
	return err
}

// Record inserts a record
func (s *SQLiteStore) Record(ctx context.Context, rec ActionRecord) error {
	var detailsJSON []byte
	if len(rec.Details) > 0 {
		var err error
		detailsJSON, err = json.Marshal(rec.Details)
		if err != nil {
			return dasherrors.MarshalError(err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_history
			(id, timestamp, cluster, namespace, name, action, operator, details_json, resource_yaml, yaml_diff, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(timestampFormat),
		rec.Cluster,
		rec.Namespace,
		rec.Name,
		rec.Action,
		rec.Operator,
		nullString(string(detailsJSON)),
		nullString(rec.ResourceYAML),
		nullString(rec.YAMLDiff),
		boolToInt(rec.Success),
		nullString(rec.Error),
	)
	if err != nil {
		return dasherrors.Wrap(dasherrors.ErrHistoryWriteFailed, "failed to insert history record", err)
	}
	return nil
}

// Query returns matching records, newest first
func (s *SQLiteStore) Query(ctx context.Context, opts QueryOptions) ([]ActionRecord, error) {
	var conditions []string
	var args []any
	if opts.Cluster != "" {
		conditions = append(conditions, "cluster = ?")
		args = append(args, opts.Cluster)
	}
	if opts.Namespace != "" {
		conditions = append(conditions, "namespace = ?")
		args = append(args, opts.Namespace)
	}
	if opts.Name != "" {
		conditions = append(conditions, "name = ?")
		args = append(args, opts.Name)
	}

	query := `SELECT id, timestamp, cluster, namespace, name, action, operator, details_json, resource_yaml, yaml_diff, success, error
		FROM action_history`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, opts.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dasherrors.Wrap(dasherrors.ErrHistoryQueryFailed, "failed to query history", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		var (
			rec                                            ActionRecord
			ts                                             string
			operator, detailsJSON, resourceYAML, diff, msg sql.NullString
			success                                        int
		)
		if err := rows.Scan(&rec.ID, &ts, &rec.Cluster, &rec.Namespace, &rec.Name, &rec.Action,
			&operator, &detailsJSON, &resourceYAML, &diff, &success, &msg); err != nil {
			return nil, dasherrors.Wrap(dasherrors.ErrHistoryQueryFailed, "failed to scan history row", err)
		}
		rec.Timestamp, _ = time.Parse(timestampFormat, ts)
		rec.Operator = operator.String
		rec.ResourceYAML = resourceYAML.String
		rec.YAMLDiff = diff.String
		rec.Error = msg.String
		rec.Success = success != 0
		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &rec.Details); err != nil {
				klog.Warningf("history record %s has invalid details: %v", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dasherrors.Wrap(dasherrors.ErrHistoryQueryFailed, "failed to read history rows", err)
	}
	if records == nil {
		records = []ActionRecord{}
	}
	return records, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
