// Package postgres implements storage.Store on top of PostgreSQL via
// pgx/v5 and pgxpool, the backend the reference deployment runs its
// server against. The push critical section uses a SERIALIZABLE
// transaction.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/dbsync/internal/model"
	"github.com/vitaliisemenov/dbsync/internal/storage"
)

// Store implements storage.Store using a pgxpool.Pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to dsn and wraps the resulting pool. Schema is not
// created here: production deployments run internal/migrations
// (goose) first.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &storage.ErrStorageInitFailed{Backend: "postgres", Cause: err}
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &storage.ErrConnectionFailed{Backend: "postgres", Cause: err}
	}

	logger.Info("postgres store initialized", "max_conns", cfg.MaxConns)
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) UpsertContentTypes(ctx context.Context, types []model.ContentType) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, ct := range types {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sync_content_types(content_type_id, table_name, model_name) VALUES ($1, $2, $3)
			 ON CONFLICT (model_name) DO UPDATE SET content_type_id = excluded.content_type_id, table_name = excluded.table_name`,
			ct.ContentTypeID, ct.TableName, ct.ModelName); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) ContentTypeByID(ctx context.Context, id model.ContentTypeID) (model.ContentType, bool, error) {
	var ct model.ContentType
	err := s.pool.QueryRow(ctx,
		`SELECT content_type_id, table_name, model_name FROM sync_content_types WHERE content_type_id = $1`, id).
		Scan(&ct.ContentTypeID, &ct.TableName, &ct.ModelName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.ContentType{}, false, nil
		}
		return model.ContentType{}, false, err
	}
	return ct, true, nil
}

func (s *Store) RegisterNode(ctx context.Context, registryUserID *uuid.UUID) (model.Node, error) {
	node := model.Node{
		NodeID:         uuid.New(),
		RegisteredAt:   time.Now().UTC(),
		RegistryUserID: registryUserID,
		Secret:         uuid.New().String() + uuid.New().String(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_nodes(node_id, registered_at, registry_user_id, secret) VALUES ($1, $2, $3, $4)`,
		node.NodeID, node.RegisteredAt, node.RegistryUserID, node.Secret)
	if err != nil {
		return model.Node{}, err
	}
	return node, nil
}

func (s *Store) NodeByID(ctx context.Context, nodeID uuid.UUID) (model.Node, bool, error) {
	var node model.Node
	node.NodeID = nodeID
	err := s.pool.QueryRow(ctx,
		`SELECT registered_at, registry_user_id, secret FROM sync_nodes WHERE node_id = $1`, nodeID).
		Scan(&node.RegisteredAt, &node.RegistryUserID, &node.Secret)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.Node{}, false, nil
		}
		return model.Node{}, false, err
	}
	return node, true, nil
}

func (s *Store) LatestVersionID(ctx context.Context) (int64, bool, error) {
	var id *int64
	if err := s.pool.QueryRow(ctx, `SELECT MAX(version_id) FROM sync_versions`).Scan(&id); err != nil {
		return 0, false, err
	}
	if id == nil {
		return 0, false, nil
	}
	return *id, true, nil
}

func (s *Store) OperationsSince(ctx context.Context, since int64) ([]model.Operation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT row_id, version_id, content_type_id, command, "order" FROM sync_operations
		 WHERE version_id > $1 ORDER BY "order" ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Operation
	for rows.Next() {
		var op model.Operation
		var versionID int64
		var cmd string
		if err := rows.Scan(&op.RowID, &versionID, &op.ContentTypeID, &cmd, &op.Order); err != nil {
			return nil, err
		}
		op.VersionID = &versionID
		op.Command = model.Command(cmd)
		out = append(out, op)
	}
	return out, rows.Err()
}

func (s *Store) VersionsSince(ctx context.Context, since int64) ([]model.Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version_id, node_id, created_at FROM sync_versions WHERE version_id > $1 ORDER BY version_id ASC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Version
	for rows.Next() {
		var v model.Version
		if err := rows.Scan(&v.VersionID, &v.NodeID, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) CreateVersion(ctx context.Context, nodeID uuid.UUID) (model.Version, error) {
	now := time.Now().UTC()
	var id int64
	if err := t.tx.QueryRow(ctx,
		`INSERT INTO sync_versions(node_id, created_at) VALUES ($1, $2) RETURNING version_id`,
		nodeID, now).Scan(&id); err != nil {
		return model.Version{}, err
	}
	n := nodeID
	return model.Version{VersionID: id, NodeID: &n, CreatedAt: now}, nil
}

func (t *postgresTx) AppendOperations(ctx context.Context, ops []model.Operation) error {
	batch := &pgx.Batch{}
	for _, op := range ops {
		if op.VersionID == nil {
			return fmt.Errorf("postgres: operation missing version_id")
		}
		batch.Queue(
			`INSERT INTO sync_operations(row_id, version_id, content_type_id, command, "order") VALUES ($1, $2, $3, $4, $5)`,
			op.RowID, *op.VersionID, op.ContentTypeID, string(op.Command), op.Order)
	}
	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()
	for range ops {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// WithPushTransaction runs fn inside a SERIALIZABLE transaction, the
// mandatory isolation level for the push critical section (§5): two
// concurrent pushes cannot both commit without one observing the
// other's version, and pgx surfaces the loser as a serialization
// failure, which Handler.Push returns to its caller unchanged.
func (s *Store) WithPushTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
