package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Update calls across node instances. The value is arbitrary but
// must be consistent everywhere.
const advisoryLockKey = int64(7_244_019_331)

// PostgresStore persists ledger accounts and the journal to PostgreSQL.
// It implements the Store interface.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresStore backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Update implements Store. It acquires a transaction-scoped advisory lock so
// instruction handlers across all node instances are serialised, runs fn,
// and commits — account writes and the journal append land atomically.
func (s *PostgresStore) Update(ctx context.Context, fn func(tx Txn) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(&pgTxn{ctx: ctx, tx: tx, logger: s.logger}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// pgTxn adapts a pgx transaction to the Txn interface.
type pgTxn struct {
	ctx    context.Context
	tx     pgx.Tx
	logger *zap.Logger
}

const plotColumns = `address, plot_id, owner, owner_name, location_label,
	coordinate_hash, area_hectares, commodity, registered_at, risk,
	compliance_score, last_verified_at, validator_authority, is_validated, is_active`

func scanPlot(row pgx.Row) (*Plot, error) {
	p := &Plot{}
	var risk string
	var lastVerified *time.Time
	err := row.Scan(
		&p.Address, &p.PlotID, &p.Owner, &p.OwnerName, &p.LocationLabel,
		&p.CoordinateHash, &p.AreaHectares, &p.Commodity, &p.RegisteredAt,
		&risk, &p.ComplianceScore, &lastVerified, &p.ValidatorAuthority,
		&p.IsValidated, &p.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan plot: %w", err)
	}
	p.DeforestationRisk = DeforestationRisk(risk)
	if lastVerified != nil {
		p.LastVerifiedAt = *lastVerified
	}
	return p, nil
}

func (t *pgTxn) GetPlot(addr Address) (*Plot, error) {
	row := t.tx.QueryRow(t.ctx,
		"SELECT "+plotColumns+" FROM plots WHERE address = $1", addr)
	return scanPlot(row)
}

func (t *pgTxn) PutPlot(p *Plot) error {
	var lastVerified *time.Time
	if !p.LastVerifiedAt.IsZero() {
		lastVerified = &p.LastVerifiedAt
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO plots (`+plotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (address) DO UPDATE SET
			risk = EXCLUDED.risk,
			compliance_score = EXCLUDED.compliance_score,
			last_verified_at = EXCLUDED.last_verified_at,
			is_validated = EXCLUDED.is_validated,
			is_active = EXCLUDED.is_active`,
		p.Address, p.PlotID, p.Owner, p.OwnerName, p.LocationLabel,
		p.CoordinateHash, p.AreaHectares, p.Commodity, p.RegisteredAt,
		string(p.DeforestationRisk), p.ComplianceScore, lastVerified,
		p.ValidatorAuthority, p.IsValidated, p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("put plot: %w", err)
	}
	return nil
}

const batchColumns = `address, batch_id, owner, plot_ref, commodity,
	weight_kg, harvested_at, status, compliance_status, destination`

func scanBatch(row pgx.Row) (*Batch, error) {
	b := &Batch{}
	err := row.Scan(
		&b.Address, &b.BatchID, &b.Owner, &b.PlotRef, &b.Commodity,
		&b.WeightKg, &b.HarvestedAt, &b.Status, &b.Compliance, &b.Destination,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	return b, nil
}

func (t *pgTxn) GetBatch(addr Address) (*Batch, error) {
	row := t.tx.QueryRow(t.ctx,
		"SELECT "+batchColumns+" FROM batches WHERE address = $1", addr)
	return scanBatch(row)
}

func (t *pgTxn) PutBatch(b *Batch) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO batches (`+batchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (address) DO UPDATE SET
			status = EXCLUDED.status,
			destination = EXCLUDED.destination`,
		b.Address, b.BatchID, b.Owner, b.PlotRef, b.Commodity,
		b.WeightKg, b.HarvestedAt, b.Status, b.Compliance, b.Destination,
	)
	if err != nil {
		return fmt.Errorf("put batch: %w", err)
	}
	return nil
}

const verificationColumns = `address, plot_ref, verifier, evidence_ref,
	no_deforestation, kind, recorded_at`

func scanVerification(row pgx.Row) (*VerificationRecord, error) {
	v := &VerificationRecord{}
	err := row.Scan(
		&v.Address, &v.PlotRef, &v.Verifier, &v.EvidenceRef,
		&v.NoDeforestation, &v.Kind, &v.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan verification: %w", err)
	}
	return v, nil
}

func (t *pgTxn) GetVerification(addr Address) (*VerificationRecord, error) {
	row := t.tx.QueryRow(t.ctx,
		"SELECT "+verificationColumns+" FROM verifications WHERE address = $1", addr)
	return scanVerification(row)
}

func (t *pgTxn) PutVerification(v *VerificationRecord) error {
	// Verification records are append-only; there is no conflict clause.
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO verifications (`+verificationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.Address, v.PlotRef, v.Verifier, v.EvidenceRef,
		v.NoDeforestation, v.Kind, v.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("put verification: %w", err)
	}
	return nil
}

func (t *pgTxn) AppendEvent(action string, account Address, actor Identity, payload any) (*Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := t.tx.QueryRow(t.ctx,
		"SELECT idx, hash FROM ledger_events ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read journal tail: %w", err)
	}

	event := &Event{
		Index:     prevIdx + 1,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Account:   account,
		Action:    action,
		Actor:     string(actor),
		DataHash:  sha256Sum(payloadJSON),
		PrevHash:  prevHash,
	}
	event.Hash = hashEvent(event)

	if _, err := t.tx.Exec(t.ctx, `
		INSERT INTO ledger_events (idx, timestamp, account, action, actor, data_hash, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.Index, event.Timestamp, event.Account, event.Action,
		event.Actor, event.DataHash, event.PrevHash, event.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert journal event: %w", err)
	}

	t.logger.Debug("journal event appended",
		zap.Int("idx", event.Index),
		zap.String("action", event.Action),
		zap.String("account", string(event.Account)),
	)
	return event, nil
}

// GetPlot implements Store.
func (s *PostgresStore) GetPlot(ctx context.Context, addr Address) (*Plot, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+plotColumns+" FROM plots WHERE address = $1", addr)
	return scanPlot(row)
}

// GetBatch implements Store.
func (s *PostgresStore) GetBatch(ctx context.Context, addr Address) (*Batch, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+batchColumns+" FROM batches WHERE address = $1", addr)
	return scanBatch(row)
}

// GetVerification implements Store.
func (s *PostgresStore) GetVerification(ctx context.Context, addr Address) (*VerificationRecord, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+verificationColumns+" FROM verifications WHERE address = $1", addr)
	return scanVerification(row)
}

// ListPlots implements Store.
func (s *PostgresStore) ListPlots(ctx context.Context, limit, offset int) ([]*Plot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+plotColumns+" FROM plots ORDER BY registered_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list plots: %w", err)
	}
	defer rows.Close()

	var plots []*Plot
	for rows.Next() {
		p, err := scanPlot(rows)
		if err != nil {
			return nil, err
		}
		plots = append(plots, p)
	}
	return plots, rows.Err()
}

// ListBatches implements Store.
func (s *PostgresStore) ListBatches(ctx context.Context, limit, offset int) ([]*Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+batchColumns+" FROM batches ORDER BY harvested_at DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// JournalLen implements Store.
func (s *PostgresStore) JournalLen(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal events: %w", err)
	}
	return n, nil
}

// JournalGet implements Store.
func (s *PostgresStore) JournalGet(ctx context.Context, index int) (*Event, error) {
	event := &Event{}
	if err := s.pool.QueryRow(ctx, `
		SELECT idx, timestamp, account, action, actor, data_hash, prev_hash, hash
		FROM ledger_events WHERE idx = $1`, index,
	).Scan(
		&event.Index, &event.Timestamp, &event.Account, &event.Action,
		&event.Actor, &event.DataHash, &event.PrevHash, &event.Hash,
	); err != nil {
		return nil, fmt.Errorf("get journal event %d: %w", index, err)
	}
	return event, nil
}

// JournalRoot implements Store.
func (s *PostgresStore) JournalRoot(ctx context.Context) (string, error) {
	var hash string
	if err := s.pool.QueryRow(ctx,
		"SELECT hash FROM ledger_events ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get journal root: %w", err)
	}
	return hash, nil
}

// JournalVerify implements Store. It streams all rows ordered by idx and
// validates the hash chain. O(n) in journal length.
func (s *PostgresStore) JournalVerify(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT idx, timestamp, account, action, actor, data_hash, prev_hash, hash
		FROM ledger_events ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var prev *Event
	for rows.Next() {
		curr := &Event{}
		if err := rows.Scan(
			&curr.Index, &curr.Timestamp, &curr.Account, &curr.Action,
			&curr.Actor, &curr.DataHash, &curr.PrevHash, &curr.Hash,
		); err != nil {
			return fmt.Errorf("scan journal row: %w", err)
		}
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}
