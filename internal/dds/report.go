// Package dds assembles Due Diligence Statements: the read-only compliance
// report joining a harvest batch with its parent plot for regulatory
// submission.
package dds

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/ledger"
)

// Report is the aggregated due-diligence view over one batch and its plot.
// Fields are copied verbatim from the source accounts; the only derived
// field is NoDeforestationVerified.
type Report struct {
	BatchID       string               `json:"batch_id"`
	PlotID        string               `json:"plot_id"`
	Owner         ledger.Identity      `json:"owner"`
	LocationLabel string               `json:"location_label"`
	CoordinateRef string               `json:"coordinate_ref"`
	Commodity     ledger.CommodityType `json:"commodity"`
	HarvestedAt   time.Time            `json:"harvested_at"`
	WeightKg      uint64               `json:"weight_kg"`

	// NoDeforestationVerified is true when the plot's current risk tier is
	// low — i.e. its latest verification found no deforestation.
	NoDeforestationVerified bool `json:"no_deforestation_verified"`

	ComplianceScore uint8     `json:"compliance_score"`
	LastVerifiedAt  time.Time `json:"last_verified_at,omitzero"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// reader is the ledger read surface the aggregator needs.
// *ledger.Ledger satisfies this interface.
type reader interface {
	GetPlot(ctx context.Context, addr ledger.Address) (*ledger.Plot, error)
	GetBatch(ctx context.Context, addr ledger.Address) (*ledger.Batch, error)
}

// Aggregator builds reports from ledger state. It never mutates anything.
type Aggregator struct {
	ledger reader
	logger *zap.Logger
}

// New creates an Aggregator.
func New(l reader, logger *zap.Logger) *Aggregator {
	return &Aggregator{ledger: l, logger: logger}
}

// GenerateReport joins the batch and plot at the given addresses. It fails
// with ledger.ErrNotFound when either address does not resolve and never
// returns a partially populated report.
func (a *Aggregator) GenerateReport(ctx context.Context, batchAddr, plotAddr ledger.Address) (*Report, error) {
	batch, err := a.ledger.GetBatch(ctx, batchAddr)
	if err != nil {
		return nil, err
	}
	plot, err := a.ledger.GetPlot(ctx, plotAddr)
	if err != nil {
		return nil, err
	}

	report := &Report{
		BatchID:                 batch.BatchID,
		PlotID:                  plot.PlotID,
		Owner:                   plot.Owner,
		LocationLabel:           plot.LocationLabel,
		CoordinateRef:           plot.CoordinateHash,
		Commodity:               plot.Commodity,
		HarvestedAt:             batch.HarvestedAt,
		WeightKg:                batch.WeightKg,
		NoDeforestationVerified: plot.DeforestationRisk == ledger.RiskLow,
		ComplianceScore:         plot.ComplianceScore,
		LastVerifiedAt:          plot.LastVerifiedAt,
		RegisteredAt:            plot.RegisteredAt,
	}

	a.logger.Debug("dds report generated",
		zap.String("batch_id", report.BatchID),
		zap.String("plot_id", report.PlotID),
		zap.Uint8("compliance_score", report.ComplianceScore),
	)
	return report, nil
}
