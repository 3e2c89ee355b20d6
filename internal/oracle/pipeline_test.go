package oracle_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/identity"
	"github.com/canopytrace/canopytrace/internal/ledger"
	"github.com/canopytrace/canopytrace/internal/oracle"
	"github.com/canopytrace/canopytrace/pkg/geo"
)

var ctx = context.Background()

var testPolygon = geo.Polygon{{6.521, -1.932}, {6.523, -1.931}, {6.522, -1.929}}

// fakeImagery serves canned candidates per window. A window ending within the
// last day is treated as the recent one, anything older as the baseline.
type fakeImagery struct {
	recent     []oracle.Composite
	historical []oracle.Composite
	searches   atomic.Int32
	fetchErr   error
}

func (f *fakeImagery) SearchComposites(_ context.Context, _ geo.Polygon, _, to time.Time, _ float64) ([]oracle.Composite, error) {
	f.searches.Add(1)
	if time.Since(to) < 24*time.Hour {
		return f.recent, nil
	}
	return f.historical, nil
}

func (f *fakeImagery) FetchEncoded(_ context.Context, c oracle.Composite) (string, error) {
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return "ZmFrZS1pbWFnZS0=" + c.ID, nil
}

type fakeClassifier struct {
	verdict oracle.Verdict
	err     error
}

func (f *fakeClassifier) Classify(_ context.Context, _, _ string) (*oracle.Verdict, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := f.verdict
	return &v, nil
}

// fixture registers a plot whose validator authority is the pipeline's
// signing keypair and returns everything a pipeline test needs.
type fixture struct {
	ledger    *ledger.Ledger
	authority *identity.Keypair
	owner     *identity.Keypair
	plot      *ledger.Plot
}

func newFixture(t *testing.T) *fixture {
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
		PlotID:             "PLOT-ORACLE-001",
		OwnerName:          "Ama Serwaa",
		LocationLabel:      "Western Region",
		CoordinateHash:     testPolygon.ContentHash(),
		AreaHectares:       3.1,
		Commodity:          ledger.CommodityCocoa,
		ValidatorAuthority: authority.Identity(),
		RegisteredAt:       time.Now(),
	}
	plot, err := l.RegisterPlot(ctx, reg, ledger.Sign(reg, owner))
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{ledger: l, authority: authority, owner: owner, plot: plot}
}

func (fx *fixture) pipeline(imagery oracle.ImageryProvider, classifier oracle.VerdictClassifier) *oracle.Pipeline {
	return oracle.NewPipeline(oracle.DefaultPipelineConfig(), imagery, classifier, fx.ledger, fx.authority, zap.NewNop())
}

func (fx *fixture) request() oracle.Request {
	return oracle.Request{
		PlotID:  fx.plot.PlotID,
		Owner:   fx.plot.Owner,
		Polygon: testPolygon,
	}
}

func journalLen(t *testing.T, l *ledger.Ledger) int {
	t.Helper()
	n, err := l.JournalLen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestPipeline_cleanVerdictValidatesPlot(t *testing.T) {
	fx := newFixture(t)
	imagery := &fakeImagery{
		recent:     []oracle.Composite{{ID: "recent-1", CloudCoverPct: 4}},
		historical: []oracle.Composite{{ID: "hist-1", CloudCoverPct: 9}},
	}
	p := fx.pipeline(imagery, &fakeClassifier{verdict: oracle.Verdict{DeforestationDetected: false, Explanation: "stable canopy"}})

	outcome, err := p.Run(ctx, fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.Validated || outcome.DeforestationDetected {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if outcome.RecentCompositeID != "recent-1" || outcome.HistoricalCompositeID != "hist-1" {
		t.Errorf("composite ids not recorded: %+v", outcome)
	}

	plot, err := fx.ledger.GetPlot(ctx, fx.plot.Address)
	if err != nil {
		t.Fatal(err)
	}
	if !plot.IsValidated {
		t.Error("plot must be validated after a clean verdict")
	}
}

func TestPipeline_deforestationWithholdsValidation(t *testing.T) {
	fx := newFixture(t)
	before := journalLen(t, fx.ledger)

	imagery := &fakeImagery{
		recent:     []oracle.Composite{{ID: "recent-1"}},
		historical: []oracle.Composite{{ID: "hist-1"}},
	}
	p := fx.pipeline(imagery, &fakeClassifier{verdict: oracle.Verdict{DeforestationDetected: true, Explanation: "clearing in NE quadrant"}})

	outcome, err := p.Run(ctx, fx.request())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Validated {
		t.Error("deforestation verdict must not validate")
	}
	if !outcome.DeforestationDetected {
		t.Error("outcome must carry the finding")
	}

	plot, _ := fx.ledger.GetPlot(ctx, fx.plot.Address)
	if plot.IsValidated {
		t.Error("plot must remain unvalidated")
	}
	if got := journalLen(t, fx.ledger); got != before {
		t.Errorf("journal grew from %d to %d on a withheld verdict", before, got)
	}
}

func TestPipeline_emptyHistoricalWindowAborts(t *testing.T) {
	fx := newFixture(t)
	before := journalLen(t, fx.ledger)

	imagery := &fakeImagery{
		recent:     []oracle.Composite{{ID: "recent-1"}},
		historical: nil,
	}
	p := fx.pipeline(imagery, &fakeClassifier{verdict: oracle.Verdict{}})

	_, err := p.Run(ctx, fx.request())
	if !errors.Is(err, oracle.ErrNoImagery) {
		t.Fatalf("got %v, want ErrNoImagery", err)
	}
	var se *oracle.StageError
	if !errors.As(err, &se) || se.Stage != oracle.StageHistorical {
		t.Errorf("got stage %q, want %q", se.Stage, oracle.StageHistorical)
	}
	if got := journalLen(t, fx.ledger); got != before {
		t.Errorf("journal grew from %d to %d on an aborted attempt", before, got)
	}
}

func TestPipeline_degeneratePolygonRejectedBeforeAnyFetch(t *testing.T) {
	fx := newFixture(t)
	imagery := &fakeImagery{}
	p := fx.pipeline(imagery, &fakeClassifier{})

	req := fx.request()
	req.Polygon = geo.Polygon{{1, 1}, {2, 2}}
	_, err := p.Run(ctx, req)
	if !errors.Is(err, oracle.ErrMalformedInput) {
		t.Fatalf("got %v, want ErrMalformedInput", err)
	}
	if n := imagery.searches.Load(); n != 0 {
		t.Errorf("imagery searched %d times before intake validation", n)
	}
}

func TestPipeline_artifactFailureAborts(t *testing.T) {
	fx := newFixture(t)
	imagery := &fakeImagery{
		recent:     []oracle.Composite{{ID: "recent-1"}},
		historical: []oracle.Composite{{ID: "hist-1"}},
		fetchErr:   oracle.ErrArtifact,
	}
	p := fx.pipeline(imagery, &fakeClassifier{})

	_, err := p.Run(ctx, fx.request())
	if !errors.Is(err, oracle.ErrArtifact) {
		t.Fatalf("got %v, want ErrArtifact", err)
	}
	plot, _ := fx.ledger.GetPlot(ctx, fx.plot.Address)
	if plot.IsValidated {
		t.Error("plot must remain unvalidated after artifact failure")
	}
}

func TestPipeline_unparseableVerdictAborts(t *testing.T) {
	fx := newFixture(t)
	imagery := &fakeImagery{
		recent:     []oracle.Composite{{ID: "recent-1"}},
		historical: []oracle.Composite{{ID: "hist-1"}},
	}
	p := fx.pipeline(imagery, &fakeClassifier{err: oracle.ErrUnparseableVerdict})

	_, err := p.Run(ctx, fx.request())
	if !errors.Is(err, oracle.ErrUnparseableVerdict) {
		t.Fatalf("got %v, want ErrUnparseableVerdict", err)
	}
	var se *oracle.StageError
	if !errors.As(err, &se) || se.Stage != oracle.StageInference {
		t.Errorf("got stage %q, want %q", se.Stage, oracle.StageInference)
	}
	plot, _ := fx.ledger.GetPlot(ctx, fx.plot.Address)
	if plot.IsValidated {
		t.Error("plot must remain unvalidated after unparseable verdict")
	}
}

func TestPipeline_wrongAuthorityCommitRejected(t *testing.T) {
	fx := newFixture(t)
	imposter, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	imagery := &fakeImagery{
		recent:     []oracle.Composite{{ID: "recent-1"}},
		historical: []oracle.Composite{{ID: "hist-1"}},
	}
	p := oracle.NewPipeline(oracle.DefaultPipelineConfig(), imagery,
		&fakeClassifier{verdict: oracle.Verdict{DeforestationDetected: false}},
		fx.ledger, imposter, zap.NewNop())

	_, err = p.Run(ctx, fx.request())
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	var se *oracle.StageError
	if !errors.As(err, &se) || se.Stage != oracle.StageCommit {
		t.Errorf("got stage %q, want %q", se.Stage, oracle.StageCommit)
	}
}
