// Copyright 2025 Certen Protocol
//
// Postgres Store - durable backend for multi-instance deployments

package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/certen/nooterra-core/pkg/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config configures the Postgres-backed Store, mirroring the connection pool
// knobs teacher's pkg/database.Client exposes.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Store is a database/sql + lib/pq backed implementation of store.Store.
// Every CommitTx runs inside a single SERIALIZABLE transaction: the whole
// batch commits or none of it does, the same all-or-nothing guarantee the
// in-memory backend gives under its mutex.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Option is a functional option for configuring the store.
type Option func(*Store)

// WithLogger sets a custom logger for the store.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open connects to Postgres, applies pool settings, verifies connectivity,
// and applies every embedded migration, in version order, on each call.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres: database URL cannot be empty")
	}

	s := &Store{logger: log.New(log.Writer(), "[PostgresStore] ", log.LstdFlags)}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s.db = db
	if err := s.migrateUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	s.logger.Printf("connected (max_open=%d, max_idle=%d)", cfg.MaxOpenConns, cfg.MaxIdleConns)
	return s, nil
}

func (s *Store) migrateUp(ctx context.Context) error {
	var migrations []struct {
		version string
		sql     string
	}

	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		migrations = append(migrations, struct {
			version string
			sql     string
		}{version: strings.TrimSuffix(d.Name(), ".sql"), sql: string(content)})
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })

	for _, m := range migrations {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CommitTx applies every op inside one SERIALIZABLE transaction.
func (s *Store) CommitTx(ctx context.Context, ops []store.Op) (*store.CommitResult, error) {
	if len(ops) == 0 {
		return nil, store.ErrEmptyCommit
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback()

	result := &store.CommitResult{}
	now := time.Now().UTC()

	for _, op := range ops {
		switch op.Kind {
		case store.OpEventAppend:
			rec, err := s.appendEvent(ctx, tx, op.Event, now)
			if err != nil {
				return nil, err
			}
			result.Events = append(result.Events, *rec)
		case store.OpProjectionUpsert:
			if err := s.upsertProjection(ctx, tx, op.Projection, now); err != nil {
				return nil, err
			}
		case store.OpArtifactPut:
			if err := s.putArtifact(ctx, tx, op.Artifact, now); err != nil {
				return nil, err
			}
		case store.OpWalletPost:
			if err := s.postWallet(ctx, tx, op.Wallet, now); err != nil {
				return nil, err
			}
		case store.OpIdempotencyStore:
			if err := s.storeIdempotency(ctx, tx, op.Idempotency, now); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("postgres: unknown op kind %q", op.Kind)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return result, nil
}

// appendEvent validates the CAS pair and persists the event exactly as
// handed in. The chain hash itself is computed upstream by pkg/eventchain
// (per spec §4.4); this store never derives one of its own.
func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, op *store.EventAppendOp, now time.Time) (*store.EventRecord, error) {
	var currentRevision sql.NullInt64
	var currentChainHash sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT revision, chain_hash FROM event_log
		WHERE tenant_id = $1 AND stream_id = $2
		ORDER BY revision DESC LIMIT 1
		FOR UPDATE`, op.TenantID, op.StreamID).Scan(&currentRevision, &currentChainHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("postgres: lock stream head: %w", err)
	}

	wantRevision := currentRevision.Int64 + 1
	wantPrevChainHash := store.GenesisChainHash
	if currentChainHash.Valid {
		wantPrevChainHash = currentChainHash.String
	}
	if op.ExpectedRevision != wantRevision {
		return nil, store.ErrRevisionConflict
	}
	if op.ExpectedPrevChainHash != wantPrevChainHash {
		return nil, store.ErrChainHashMismatch
	}

	rec := &store.EventRecord{
		TenantID:      op.TenantID,
		StreamID:      op.StreamID,
		EventID:       op.EventID,
		Revision:      op.ExpectedRevision,
		EventType:     op.EventType,
		At:            op.At,
		Actor:         op.Actor,
		Payload:       op.Payload,
		PayloadHash:   op.PayloadHash,
		PrevChainHash: op.ExpectedPrevChainHash,
		ChainHash:     op.ChainHash,
		SignerKeyID:   op.SignerKeyID,
		Signature:     op.Signature,
		CommittedAt:   now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_log (tenant_id, stream_id, revision, event_id, event_type, at, actor, payload, payload_hash, prev_chain_hash, chain_hash, signer_key_id, signature, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.TenantID, rec.StreamID, rec.Revision, rec.EventID, rec.EventType, rec.At, rec.Actor, rec.Payload, rec.PayloadHash,
		rec.PrevChainHash, rec.ChainHash, rec.SignerKeyID, rec.Signature, rec.CommittedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: insert event: %w", err)
	}
	return rec, nil
}

// upsertProjection enforces ProjectionUpsertOp's CAS contract the same way
// appendEvent enforces EventAppendOp's: lock the current row (if any) with
// SELECT ... FOR UPDATE, require ExpectedRevision == currentRevision+1, then
// write the new revision in the same statement.
func (s *Store) upsertProjection(ctx context.Context, tx *sql.Tx, op *store.ProjectionUpsertOp, now time.Time) error {
	var currentRevision sql.NullInt64
	err := tx.QueryRowContext(ctx, `
		SELECT revision FROM projections
		WHERE tenant_id = $1 AND projection_type = $2 AND key = $3
		FOR UPDATE`, op.TenantID, op.ProjectionType, op.Key).Scan(&currentRevision)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("postgres: lock projection: %w", err)
	}
	if op.ExpectedRevision != currentRevision.Int64+1 {
		return store.ErrRevisionConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections (tenant_id, projection_type, key, payload, revision, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, projection_type, key)
		DO UPDATE SET payload = EXCLUDED.payload, revision = EXCLUDED.revision, updated_at = EXCLUDED.updated_at`,
		op.TenantID, op.ProjectionType, op.Key, op.Payload, op.ExpectedRevision, now)
	if err != nil {
		return fmt.Errorf("postgres: upsert projection: %w", err)
	}
	return nil
}

func (s *Store) putArtifact(ctx context.Context, tx *sql.Tx, op *store.ArtifactPutOp, now time.Time) error {
	var existingID string
	err := tx.QueryRowContext(ctx, `
		SELECT artifact_id FROM artifacts
		WHERE tenant_id = $1 AND artifact_type = $2 AND content_hash = $3`,
		op.TenantID, op.ArtifactType, op.ContentHash).Scan(&existingID)
	if err == nil {
		return nil // dedup: artifact with this content hash already stored
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("postgres: check artifact dedup: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (tenant_id, artifact_id, artifact_type, content_hash, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		op.TenantID, op.ArtifactID, op.ArtifactType, op.ContentHash, op.Body, now)
	if err != nil {
		return fmt.Errorf("postgres: insert artifact: %w", err)
	}
	return nil
}

func (s *Store) postWallet(ctx context.Context, tx *sql.Tx, op *store.WalletPostOp, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_postings (tenant_id, posting_ref, account_id, delta_cents, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, posting_ref, account_id) DO NOTHING`,
		op.TenantID, op.PostingRef, op.AccountID, op.DeltaCents, now)
	if err != nil {
		return fmt.Errorf("postgres: insert posting: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: posting rows affected: %w", err)
	}
	if n == 0 {
		return nil // posting_ref already applied to this account, idempotent no-op
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_accounts (tenant_id, account_id, balance_cents, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, account_id)
		DO UPDATE SET balance_cents = wallet_accounts.balance_cents + EXCLUDED.balance_cents, updated_at = EXCLUDED.updated_at`,
		op.TenantID, op.AccountID, op.DeltaCents, now)
	if err != nil {
		return fmt.Errorf("postgres: update wallet balance: %w", err)
	}
	return nil
}

func (s *Store) storeIdempotency(ctx context.Context, tx *sql.Tx, op *store.IdempotencyStoreOp, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (tenant_id, idempotency_key, fingerprint_hash, status_code, response_body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		op.TenantID, op.IdempotencyKey, op.FingerprintHash, op.StatusCode, op.ResponseBody, now)
	if err != nil {
		return fmt.Errorf("postgres: insert idempotency record: %w", err)
	}
	return nil
}

const eventColumns = `tenant_id, stream_id, revision, event_id, event_type, at, actor, payload, payload_hash, prev_chain_hash, chain_hash, signer_key_id, signature, committed_at`

func scanEvent(row interface{ Scan(...interface{}) error }, rec *store.EventRecord) error {
	return row.Scan(&rec.TenantID, &rec.StreamID, &rec.Revision, &rec.EventID, &rec.EventType, &rec.At, &rec.Actor,
		&rec.Payload, &rec.PayloadHash, &rec.PrevChainHash, &rec.ChainHash, &rec.SignerKeyID, &rec.Signature, &rec.CommittedAt)
}

func (s *Store) GetEventStream(ctx context.Context, tenantID, streamID string) ([]store.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM event_log WHERE tenant_id = $1 AND stream_id = $2 ORDER BY revision ASC`, tenantID, streamID)
	if err != nil {
		return nil, fmt.Errorf("postgres: query event stream: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		var rec store.EventRecord
		if err := scanEvent(rows, &rec); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) GetLatestEvent(ctx context.Context, tenantID, streamID string) (*store.EventRecord, error) {
	var rec store.EventRecord
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM event_log WHERE tenant_id = $1 AND stream_id = $2 ORDER BY revision DESC LIMIT 1`, tenantID, streamID)
	err := scanEvent(row, &rec)
	if err == sql.ErrNoRows {
		return nil, store.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get latest event: %w", err)
	}
	return &rec, nil
}

func (s *Store) GetProjection(ctx context.Context, tenantID, projectionType, key string) (*store.ProjectionRecord, error) {
	var rec store.ProjectionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, projection_type, key, payload, revision, updated_at
		FROM projections WHERE tenant_id = $1 AND projection_type = $2 AND key = $3`, tenantID, projectionType, key).
		Scan(&rec.TenantID, &rec.ProjectionType, &rec.Key, &rec.Payload, &rec.Revision, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrProjectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get projection: %w", err)
	}
	return &rec, nil
}

func (s *Store) GetArtifact(ctx context.Context, tenantID, artifactID string) (*store.ArtifactRecord, error) {
	var rec store.ArtifactRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, artifact_id, artifact_type, content_hash, body, created_at
		FROM artifacts WHERE tenant_id = $1 AND artifact_id = $2`, tenantID, artifactID).
		Scan(&rec.TenantID, &rec.ArtifactID, &rec.ArtifactType, &rec.ContentHash, &rec.Body, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get artifact: %w", err)
	}
	return &rec, nil
}

func (s *Store) GetArtifactByContentHash(ctx context.Context, tenantID, artifactType, contentHash string) (*store.ArtifactRecord, error) {
	var rec store.ArtifactRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, artifact_id, artifact_type, content_hash, body, created_at
		FROM artifacts WHERE tenant_id = $1 AND artifact_type = $2 AND content_hash = $3`, tenantID, artifactType, contentHash).
		Scan(&rec.TenantID, &rec.ArtifactID, &rec.ArtifactType, &rec.ContentHash, &rec.Body, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get artifact by content hash: %w", err)
	}
	return &rec, nil
}

func (s *Store) GetWalletBalance(ctx context.Context, tenantID, accountID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance_cents FROM wallet_accounts WHERE tenant_id = $1 AND account_id = $2`, tenantID, accountID).
		Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, store.ErrWalletAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get wallet balance: %w", err)
	}
	return balance, nil
}

func (s *Store) GetIdempotency(ctx context.Context, tenantID, idempotencyKey string) (*store.IdempotencyRecord, error) {
	var rec store.IdempotencyRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, idempotency_key, fingerprint_hash, status_code, response_body, created_at
		FROM idempotency_keys WHERE tenant_id = $1 AND idempotency_key = $2`, tenantID, idempotencyKey).
		Scan(&rec.TenantID, &rec.IdempotencyKey, &rec.FingerprintHash, &rec.StatusCode, &rec.ResponseBody, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrIdempotencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get idempotency record: %w", err)
	}
	return &rec, nil
}
