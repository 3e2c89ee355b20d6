// Package audit persists intake request polygons keyed by plot id.
//
// The polygon is written before the oracle pipeline is invoked, so a failed
// attempt can be replayed offline from exactly the boundary the caller
// submitted — the ledger itself only stores the coordinate commitment.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/canopytrace/canopytrace/pkg/geo"
)

// ErrNotFound is returned when no intake record exists for a plot id.
var ErrNotFound = errors.New("intake record not found")

// Record is one persisted intake request. Re-submissions for the same plot
// id overwrite the previous record; only the latest boundary is kept.
type Record struct {
	PlotID     string      `json:"plot_id"`
	Owner      string      `json:"owner"`
	Polygon    geo.Polygon `json:"polygon"`
	ReceivedAt time.Time   `json:"received_at"`
}

// Store is the keyed intake store. MemoryStore and PostgresStore implement it.
type Store interface {
	// Save upserts the intake record for rec.PlotID.
	Save(ctx context.Context, rec *Record) error

	// Get returns the latest intake record for plotID.
	Get(ctx context.Context, plotID string) (*Record, error)
}
