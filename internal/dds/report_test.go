package dds_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/dds"
	"github.com/canopytrace/canopytrace/internal/identity"
	"github.com/canopytrace/canopytrace/internal/ledger"
)

var ctx = context.Background()

// seed registers a verified plot and a delivered batch and returns their
// addresses together with the ledger.
func seed(t *testing.T) (*ledger.Ledger, ledger.Address, ledger.Address) {
	t.Helper()
	l := ledger.New(ledger.NewMemory(), zap.NewNop())

	owner, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	authority, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	reg := ledger.RegisterPlot{
		PlotID:             "PLOT-TEST-001",
		OwnerName:          "Kofi Mensah",
		LocationLabel:      "Ashanti Region",
		CoordinateHash:     "3f2a9c",
		AreaHectares:       2.5,
		Commodity:          ledger.CommodityCocoa,
		ValidatorAuthority: authority.Identity(),
		RegisteredAt:       time.Unix(1700000000, 0),
	}
	plot, err := l.RegisterPlot(ctx, reg, ledger.Sign(reg, owner))
	if err != nil {
		t.Fatal(err)
	}

	rv := ledger.RecordVerification{
		PlotAddress:     plot.Address,
		EvidenceRef:     "bafyevidence300",
		NoDeforestation: true,
		Kind:            ledger.KindSatellite,
		RecordedAt:      time.Unix(1700000100, 0),
	}
	if _, err := l.RecordVerification(ctx, rv, ledger.Sign(rv, authority)); err != nil {
		t.Fatal(err)
	}

	rb := ledger.RegisterBatch{
		BatchID:     "BATCH-TEST-001",
		PlotID:      "PLOT-TEST-001",
		WeightKg:    500,
		HarvestedAt: time.Unix(1700001000, 0),
	}
	batch, err := l.RegisterBatch(ctx, rb, ledger.Sign(rb, owner))
	if err != nil {
		t.Fatal(err)
	}

	return l, batch.Address, plot.Address
}

func TestGenerateReport_joinCorrectness(t *testing.T) {
	l, batchAddr, plotAddr := seed(t)
	agg := dds.New(l, zap.NewNop())

	report, err := agg.GenerateReport(ctx, batchAddr, plotAddr)
	if err != nil {
		t.Fatalf("GenerateReport: %v", err)
	}

	plot, _ := l.GetPlot(ctx, plotAddr)
	batch, _ := l.GetBatch(ctx, batchAddr)

	if report.BatchID != batch.BatchID {
		t.Errorf("BatchID: got %q, want %q", report.BatchID, batch.BatchID)
	}
	if report.PlotID != plot.PlotID {
		t.Errorf("PlotID: got %q, want %q", report.PlotID, plot.PlotID)
	}
	if report.Owner != plot.Owner {
		t.Error("Owner not copied from plot")
	}
	if report.CoordinateRef != plot.CoordinateHash {
		t.Error("CoordinateRef not copied from plot")
	}
	if report.WeightKg != 500 {
		t.Errorf("WeightKg: got %d, want 500", report.WeightKg)
	}
	if !report.HarvestedAt.Equal(batch.HarvestedAt) {
		t.Error("HarvestedAt not copied from batch")
	}
	if !report.NoDeforestationVerified {
		t.Error("verified low-risk plot must report NoDeforestationVerified=true")
	}
	if report.ComplianceScore != 100 {
		t.Errorf("ComplianceScore: got %d, want 100", report.ComplianceScore)
	}
	if !report.LastVerifiedAt.Equal(plot.LastVerifiedAt) {
		t.Error("LastVerifiedAt not copied from plot")
	}
	if !report.RegisteredAt.Equal(plot.RegisteredAt) {
		t.Error("RegisteredAt not copied from plot")
	}
}

func TestGenerateReport_notFound(t *testing.T) {
	l, batchAddr, plotAddr := seed(t)
	agg := dds.New(l, zap.NewNop())

	if _, err := agg.GenerateReport(ctx, "missing", plotAddr); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing batch: got %v, want ErrNotFound", err)
	}
	if _, err := agg.GenerateReport(ctx, batchAddr, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("missing plot: got %v, want ErrNotFound", err)
	}
}
