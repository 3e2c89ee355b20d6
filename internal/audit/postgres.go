package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/canopytrace/canopytrace/pkg/geo"
)

// PostgresStore persists intake records to the intake_audit table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgresStore backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	polygon, err := json.Marshal(rec.Polygon)
	if err != nil {
		return fmt.Errorf("marshal polygon: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO intake_audit (plot_id, owner, polygon, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (plot_id) DO UPDATE SET
			owner = EXCLUDED.owner,
			polygon = EXCLUDED.polygon,
			received_at = EXCLUDED.received_at`,
		rec.PlotID, rec.Owner, polygon, rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("save intake record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, plotID string) (*Record, error) {
	rec := &Record{}
	var polygon []byte
	err := s.pool.QueryRow(ctx, `
		SELECT plot_id, owner, polygon, received_at
		FROM intake_audit WHERE plot_id = $1`, plotID,
	).Scan(&rec.PlotID, &rec.Owner, &polygon, &rec.ReceivedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get intake record: %w", err)
	}

	var p geo.Polygon
	if err := json.Unmarshal(polygon, &p); err != nil {
		return nil, fmt.Errorf("decode stored polygon: %w", err)
	}
	rec.Polygon = p
	return rec, nil
}
