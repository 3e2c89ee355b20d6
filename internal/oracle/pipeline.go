package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/identity"
	"github.com/canopytrace/canopytrace/internal/ledger"
	"github.com/canopytrace/canopytrace/pkg/geo"
)

// ErrMalformedInput is returned when an attempt's polygon fails validation
// before any external call is made.
var ErrMalformedInput = errors.New("malformed verification request")

// Pipeline stage names, recorded on StageError and in metrics labels.
const (
	StageIntake     = "intake"
	StageRecent     = "recent_fetch"
	StageHistorical = "historical_fetch"
	StageArtifact   = "artifact"
	StageInference  = "inference"
	StageCommit     = "commit"
)

// StageError wraps a failure with the pipeline stage it occurred in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Submitter is the ledger commit surface the pipeline needs.
// *ledger.Ledger satisfies this interface.
type Submitter interface {
	ValidatePlot(ctx context.Context, in ledger.ValidatePlot, sig ledger.Signature) (*ledger.Plot, error)
}

// Request is one plot verification attempt's input.
type Request struct {
	PlotID  string
	Owner   ledger.Identity
	Polygon geo.Polygon
}

// Outcome is the result of a completed attempt. Validated is true only when
// the verdict was clean and the ledger commit succeeded.
type Outcome struct {
	PlotID                string
	PlotAddress           ledger.Address
	Validated             bool
	DeforestationDetected bool
	Explanation           string
	RecentCompositeID     string
	HistoricalCompositeID string
}

// PipelineConfig bounds the imagery windows and cloud tolerance.
type PipelineConfig struct {
	// RecentWindow is how far back from now the current-state composite may be.
	RecentWindow time.Duration
	// HistoricalMinAge / HistoricalMaxAge bound the baseline window, measured
	// back from now. The baseline must predate the recent composite enough for
	// clearing to be visible between them.
	HistoricalMinAge time.Duration
	HistoricalMaxAge time.Duration
	MaxCloudPct      float64
}

// DefaultPipelineConfig compares the last 30 days against a 3-6 month
// baseline, tolerating up to 20% cloud cover.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		RecentWindow:     30 * 24 * time.Hour,
		HistoricalMinAge: 90 * 24 * time.Hour,
		HistoricalMaxAge: 180 * 24 * time.Hour,
		MaxCloudPct:      20,
	}
}

// Pipeline runs one verification attempt end to end. It holds the authority
// keypair, so a clean verdict can be committed without any other signer in
// the loop; a deforestation verdict never touches the ledger.
type Pipeline struct {
	cfg       PipelineConfig
	imagery   ImageryProvider
	inference VerdictClassifier
	submitter Submitter
	authority *identity.Keypair
	logger    *zap.Logger
	now       func() time.Time
}

// NewPipeline creates a Pipeline.
func NewPipeline(cfg PipelineConfig, imagery ImageryProvider, inference VerdictClassifier, submitter Submitter, authority *identity.Keypair, logger *zap.Logger) *Pipeline {
	if cfg.RecentWindow == 0 {
		cfg = DefaultPipelineConfig()
	}
	return &Pipeline{
		cfg:       cfg,
		imagery:   imagery,
		inference: inference,
		submitter: submitter,
		authority: authority,
		logger:    logger,
		now:       time.Now,
	}
}

type searchResult struct {
	stage     string
	composite Composite
	err       error
}

// searchWindow picks the clearest composite in [from, to], or fails the given
// stage with ErrNoImagery when the window is empty.
func (p *Pipeline) searchWindow(ctx context.Context, stage string, polygon geo.Polygon, from, to time.Time) searchResult {
	candidates, err := p.imagery.SearchComposites(ctx, polygon, from, to, p.cfg.MaxCloudPct)
	if err != nil {
		return searchResult{stage: stage, err: stageErr(stage, err)}
	}
	if len(candidates) == 0 {
		return searchResult{stage: stage, err: stageErr(stage, ErrNoImagery)}
	}
	return searchResult{stage: stage, composite: candidates[0]}
}

// Run executes one attempt. Any stage failure aborts the attempt with a
// StageError and leaves the ledger untouched; in particular an empty imagery
// window or an unparseable verdict never produces a validation.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Outcome, error) {
	if err := req.Polygon.Validate(); err != nil {
		return nil, stageErr(StageIntake, fmt.Errorf("%w: %v", ErrMalformedInput, err))
	}

	now := p.now()
	results := make(chan searchResult, 2)
	go func() {
		results <- p.searchWindow(ctx, StageRecent, req.Polygon,
			now.Add(-p.cfg.RecentWindow), now)
	}()
	go func() {
		results <- p.searchWindow(ctx, StageHistorical, req.Polygon,
			now.Add(-p.cfg.HistoricalMaxAge), now.Add(-p.cfg.HistoricalMinAge))
	}()

	var recent, historical Composite
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			return nil, res.err
		}
		if res.stage == StageRecent {
			recent = res.composite
		} else {
			historical = res.composite
		}
	}

	recentB64, err := p.imagery.FetchEncoded(ctx, recent)
	if err != nil {
		return nil, stageErr(StageArtifact, err)
	}
	historicalB64, err := p.imagery.FetchEncoded(ctx, historical)
	if err != nil {
		return nil, stageErr(StageArtifact, err)
	}

	verdict, err := p.inference.Classify(ctx, recentB64, historicalB64)
	if err != nil {
		return nil, stageErr(StageInference, err)
	}

	outcome := &Outcome{
		PlotID:                req.PlotID,
		PlotAddress:           ledger.PlotAddress(req.PlotID, req.Owner),
		DeforestationDetected: verdict.DeforestationDetected,
		Explanation:           verdict.Explanation,
		RecentCompositeID:     recent.ID,
		HistoricalCompositeID: historical.ID,
	}

	if verdict.DeforestationDetected {
		p.logger.Warn("deforestation detected, withholding validation",
			zap.String("plot_id", req.PlotID),
			zap.String("explanation", verdict.Explanation),
		)
		return outcome, nil
	}

	in := ledger.ValidatePlot{PlotAddress: outcome.PlotAddress}
	if _, err := p.submitter.ValidatePlot(ctx, in, ledger.Sign(in, p.authority)); err != nil {
		return nil, stageErr(StageCommit, err)
	}
	outcome.Validated = true

	p.logger.Info("plot validated by oracle",
		zap.String("plot_id", req.PlotID),
		zap.String("recent_composite", recent.ID),
		zap.String("historical_composite", historical.ID),
	)
	return outcome, nil
}
