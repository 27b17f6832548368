// Package sqlite implements storage.Store on top of an embedded
// SQLite database (via modernc.org/sqlite, pure Go, no cgo). It backs
// client nodes and small single-replica servers; the push critical
// section uses a SQLite EXCLUSIVE transaction in place of Postgres
// SERIALIZABLE isolation.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/model"
	"github.com/vitaliisemenov/dbsync/internal/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
}

// New opens (creating if necessary) a SQLite database at path and
// ensures the four sync_ tables exist. Schema creation here is a
// convenience for tests and small deployments; production migrations
// run through internal/migrations (goose).
func New(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, &storage.ErrInvalidFilePath{Path: path, Reason: "empty"}
	}
	if strings.Contains(path, "..") {
		return nil, &storage.ErrInvalidFilePath{Path: path, Reason: "contains '..'"}
	}
	for _, prefix := range []string{"/etc", "/sys", "/proc", "/dev"} {
		if strings.HasPrefix(path, prefix) {
			return nil, &storage.ErrInvalidFilePath{Path: path, Reason: "forbidden prefix " + prefix}
		}
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, &storage.ErrStorageInitFailed{Backend: "sqlite", Cause: err}
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &storage.ErrConnectionFailed{Backend: "sqlite", Cause: err}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, &storage.ErrSchemaInitFailed{Backend: "sqlite", Cause: err}
	}

	s := &Store{db: db, logger: logger, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("sqlite store initialized", "path", path)
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sync_content_types (
    content_type_id INTEGER PRIMARY KEY,
    table_name TEXT NOT NULL,
    model_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS sync_nodes (
    node_id CHAR(32) PRIMARY KEY,
    registered_at INTEGER NOT NULL,
    registry_user_id CHAR(32),
    secret TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_versions (
    version_id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id CHAR(32),
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_operations (
    row_id CHAR(32) NOT NULL,
    version_id INTEGER NOT NULL REFERENCES sync_versions(version_id),
    content_type_id INTEGER NOT NULL REFERENCES sync_content_types(content_type_id),
    command CHAR(1) NOT NULL CHECK(command IN ('i','u','d')),
    "order" INTEGER NOT NULL,
    PRIMARY KEY (row_id, content_type_id, version_id)
);
CREATE INDEX IF NOT EXISTS idx_sync_operations_version ON sync_operations(version_id, "order");
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return &storage.ErrSchemaInitFailed{Backend: "sqlite", Cause: err}
	}
	return nil
}

func hexID(id uuid.UUID) string { return hex.EncodeToString(id[:]) }

func parseHexID(s string) (uuid.UUID, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return uuid.UUID{}, fmt.Errorf("sqlite: malformed row id %q", s)
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

func (s *Store) UpsertContentTypes(ctx context.Context, types []model.ContentType) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ct := range types {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sync_content_types(content_type_id, table_name, model_name) VALUES (?, ?, ?)
			 ON CONFLICT(model_name) DO UPDATE SET content_type_id=excluded.content_type_id, table_name=excluded.table_name`,
			ct.ContentTypeID, ct.TableName, ct.ModelName); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ContentTypeByID(ctx context.Context, id model.ContentTypeID) (model.ContentType, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT content_type_id, table_name, model_name FROM sync_content_types WHERE content_type_id = ?`, id)
	var ct model.ContentType
	if err := row.Scan(&ct.ContentTypeID, &ct.TableName, &ct.ModelName); err != nil {
		if err == sql.ErrNoRows {
			return model.ContentType{}, false, nil
		}
		return model.ContentType{}, false, err
	}
	return ct, true, nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (s *Store) RegisterNode(ctx context.Context, registryUserID *uuid.UUID) (model.Node, error) {
	secret, err := newSecret()
	if err != nil {
		return model.Node{}, err
	}
	node := model.Node{
		NodeID:         uuid.New(),
		RegisteredAt:   time.Now().UTC(),
		RegistryUserID: registryUserID,
		Secret:         secret,
	}
	var registryUserHex any
	if registryUserID != nil {
		registryUserHex = hexID(*registryUserID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_nodes(node_id, registered_at, registry_user_id, secret) VALUES (?, ?, ?, ?)`,
		hexID(node.NodeID), node.RegisteredAt.Unix(), registryUserHex, node.Secret)
	if err != nil {
		return model.Node{}, err
	}
	return node, nil
}

func (s *Store) NodeByID(ctx context.Context, nodeID uuid.UUID) (model.Node, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT node_id, registered_at, registry_user_id, secret FROM sync_nodes WHERE node_id = ?`, hexID(nodeID))

	var nodeHex string
	var registeredAt int64
	var registryUserHex sql.NullString
	var secret string
	if err := row.Scan(&nodeHex, &registeredAt, &registryUserHex, &secret); err != nil {
		if err == sql.ErrNoRows {
			return model.Node{}, false, nil
		}
		return model.Node{}, false, err
	}

	node := model.Node{
		NodeID:       nodeID,
		RegisteredAt: time.Unix(registeredAt, 0).UTC(),
		Secret:       secret,
	}
	if registryUserHex.Valid {
		id, err := parseHexID(registryUserHex.String)
		if err != nil {
			return model.Node{}, false, err
		}
		node.RegistryUserID = &id
	}
	return node, true, nil
}

func (s *Store) LatestVersionID(ctx context.Context) (int64, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT MAX(version_id) FROM sync_versions`)
	var id sql.NullInt64
	if err := row.Scan(&id); err != nil {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, nil
	}
	return id.Int64, true, nil
}

func (s *Store) OperationsSince(ctx context.Context, since int64) ([]model.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_id, version_id, content_type_id, command, "order" FROM sync_operations
		 WHERE version_id > ? ORDER BY "order" ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Operation
	for rows.Next() {
		var rowIDHex string
		var versionID int64
		var op model.Operation
		var cmd string
		if err := rows.Scan(&rowIDHex, &versionID, &op.ContentTypeID, &cmd, &op.Order); err != nil {
			return nil, err
		}
		id, err := parseHexID(rowIDHex)
		if err != nil {
			return nil, err
		}
		op.RowID = id
		op.VersionID = &versionID
		op.Command = model.Command(cmd)
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) VersionsSince(ctx context.Context, since int64) ([]model.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version_id, node_id, created_at FROM sync_versions WHERE version_id > ? ORDER BY version_id ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Version
	for rows.Next() {
		var v model.Version
		var nodeHex sql.NullString
		var createdAt int64
		if err := rows.Scan(&v.VersionID, &nodeHex, &createdAt); err != nil {
			return nil, err
		}
		v.CreatedAt = time.Unix(createdAt, 0).UTC()
		if nodeHex.Valid {
			id, err := parseHexID(nodeHex.String)
			if err != nil {
				return nil, err
			}
			v.NodeID = &id
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// sqliteTx implements storage.Tx against the EXCLUSIVE transaction
// WithPushTransaction opened, all on a single dedicated connection.
type sqliteTx struct {
	conn *sql.Conn
}

func (t *sqliteTx) CreateVersion(ctx context.Context, nodeID uuid.UUID) (model.Version, error) {
	now := time.Now().UTC()
	res, err := t.conn.ExecContext(ctx,
		`INSERT INTO sync_versions(node_id, created_at) VALUES (?, ?)`, hexID(nodeID), now.Unix())
	if err != nil {
		return model.Version{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Version{}, err
	}
	n := nodeID
	return model.Version{VersionID: id, NodeID: &n, CreatedAt: now}, nil
}

func (t *sqliteTx) AppendOperations(ctx context.Context, ops []model.Operation) error {
	for _, op := range ops {
		if op.VersionID == nil {
			return fmt.Errorf("sqlite: operation missing version_id")
		}
		if _, err := t.conn.ExecContext(ctx,
			`INSERT INTO sync_operations(row_id, version_id, content_type_id, command, "order") VALUES (?, ?, ?, ?, ?)`,
			hexID(op.RowID), *op.VersionID, op.ContentTypeID, string(op.Command), op.Order); err != nil {
			return err
		}
	}
	return nil
}

// WithPushTransaction begins a SQLite EXCLUSIVE transaction on a
// dedicated connection — SQLite's equivalent of the SERIALIZABLE
// isolation the push critical section requires — and restores normal
// locking on every exit path (commit, rollback, or fn panic recovery
// by the caller's own defer).
func (s *Store) WithPushTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return err
	}

	if err := fn(ctx, &sqliteTx{conn: conn}); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			s.logger.Warn("rollback after push failure also failed", "error", rbErr)
		}
		return err
	}
	_, err = conn.ExecContext(ctx, "COMMIT")
	return err
}
