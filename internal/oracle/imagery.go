// Package oracle implements the compliance oracle: an off-ledger pipeline
// that gathers satellite evidence for a plot, classifies land-cover change,
// and — only on a clean finding — commits one authority-signed validation
// instruction back to the ledger.
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/pkg/geo"
)

// ErrNoImagery is returned when a search window yields zero usable composites.
var ErrNoImagery = errors.New("no imagery candidates for window")

// ErrArtifact is returned when a selected composite cannot be fetched or encoded.
var ErrArtifact = errors.New("artifact materialization failed")

// Composite is one image handle returned by the imagery provider.
type Composite struct {
	ID            string    `json:"id"`
	CloudCoverPct float64   `json:"cloud_cover_pct"`
	AcquiredAt    time.Time `json:"acquired_at"`
	HREF          string    `json:"href"`
}

// ImageryProvider is the imagery service boundary the pipeline depends on.
// *ImageryClient satisfies this interface.
type ImageryProvider interface {
	// SearchComposites returns candidates intersecting the polygon within
	// [from, to] whose cloud cover is at or below maxCloudPct, sorted
	// ascending by cloud cover.
	SearchComposites(ctx context.Context, polygon geo.Polygon, from, to time.Time, maxCloudPct float64) ([]Composite, error)

	// FetchEncoded downloads a composite and returns it base64-encoded for
	// the inference call.
	FetchEncoded(ctx context.Context, c Composite) (string, error)
}

// ImageryConfig holds the imagery provider connection settings.
type ImageryConfig struct {
	BaseURL string
	APIKey  string
	// Timeout bounds each provider call independently.
	Timeout time.Duration
	// MaxArtifactBytes caps a composite download; larger responses fail the
	// artifact stage instead of exhausting memory.
	MaxArtifactBytes int64
}

// ImageryClient talks to the composite search API over HTTP.
type ImageryClient struct {
	cfg        ImageryConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewImageryClient creates an ImageryClient.
func NewImageryClient(cfg ImageryConfig, logger *zap.Logger) *ImageryClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxArtifactBytes == 0 {
		cfg.MaxArtifactBytes = 32 << 20 // 32 MB
	}
	return &ImageryClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type compositeSearchRequest struct {
	Polygon     geo.Polygon `json:"polygon"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	MaxCloudPct float64     `json:"max_cloud_pct"`
}

type compositeSearchResponse struct {
	Composites []Composite `json:"composites"`
}

// SearchComposites implements ImageryProvider.
func (c *ImageryClient) SearchComposites(ctx context.Context, polygon geo.Polygon, from, to time.Time, maxCloudPct float64) ([]Composite, error) {
	body, err := json.Marshal(compositeSearchRequest{
		Polygon:     polygon,
		From:        from,
		To:          to,
		MaxCloudPct: maxCloudPct,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/composites/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("composite search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("composite search: provider returned %d", resp.StatusCode)
	}

	var parsed compositeSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	// The provider does not guarantee ordering; sort ourselves so callers
	// can always take the first (clearest) candidate.
	sort.Slice(parsed.Composites, func(i, j int) bool {
		return parsed.Composites[i].CloudCoverPct < parsed.Composites[j].CloudCoverPct
	})

	c.logger.Debug("composite search",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("candidates", len(parsed.Composites)),
	)
	return parsed.Composites, nil
}

// FetchEncoded implements ImageryProvider.
func (c *ImageryClient) FetchEncoded(ctx context.Context, comp Composite) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, comp.HREF, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrArtifact, comp.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetch %s: provider returned %d", ErrArtifact, comp.ID, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxArtifactBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrArtifact, comp.ID, err)
	}
	if int64(len(raw)) > c.cfg.MaxArtifactBytes {
		return "", fmt.Errorf("%w: composite %s exceeds %d bytes", ErrArtifact, comp.ID, c.cfg.MaxArtifactBytes)
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}
