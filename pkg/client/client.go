// Package client provides the Go SDK for a canopytrace node. It signs
// ledger instructions with a locally held Ed25519 keypair, handles operator
// token exchange, and wraps the node's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/canopytrace/canopytrace/internal/dds"
	"github.com/canopytrace/canopytrace/internal/identity"
	"github.com/canopytrace/canopytrace/internal/ledger"
	"github.com/canopytrace/canopytrace/pkg/geo"
)

// APIError is a non-2xx response from the node.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned %d: %s", e.Status, e.Message)
}

// Client is the SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client
	keypair    *identity.Keypair

	// token state — guarded by mu
	mu          sync.Mutex
	bearerToken string
	tokenExpiry time.Time
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithKeypair sets the signing keypair used for instructions and operator
// token exchange.
func WithKeypair(kp *identity.Keypair) Option {
	return func(c *Client) error {
		c.keypair = kp
		return nil
	}
}

// WithKeyDir loads (or creates on first use) the keypair stored in dir.
func WithKeyDir(dir string) Option {
	return func(c *Client) error {
		kp, err := identity.LoadOrCreate(dir)
		if err != nil {
			return err
		}
		c.keypair = kp
		return nil
	}
}

// WithBearerToken attaches a pre-obtained operator token to every request.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// New creates a Client connected to base.
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Identity returns the client's signing identity, or "" when no keypair is
// configured.
func (c *Client) Identity() ledger.Identity {
	if c.keypair == nil {
		return ""
	}
	return c.keypair.Identity()
}

// Authenticate exchanges a proof-of-possession signature for an operator
// token and caches it for subsequent requests.
func (c *Client) Authenticate(ctx context.Context) error {
	if c.keypair == nil {
		return fmt.Errorf("no keypair configured")
	}

	signedAt := time.Now().Unix()
	req := map[string]any{
		"identity":  string(c.keypair.Identity()),
		"signed_at": signedAt,
		"sig":       c.keypair.Sign(identity.TokenRequestBytes(c.keypair.Identity(), signedAt)),
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/token", req, &resp, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.bearerToken = resp.Token
	// Refresh a little before the node-side TTL expires.
	c.tokenExpiry = time.Now().Add(50 * time.Minute)
	c.mu.Unlock()
	return nil
}

// token returns a valid bearer token, re-authenticating when the cached one
// is missing or stale.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok, exp := c.bearerToken, c.tokenExpiry
	c.mu.Unlock()

	if tok != "" && (exp.IsZero() || time.Now().Before(exp)) {
		return tok, nil
	}
	if c.keypair == nil {
		return "", fmt.Errorf("no operator token and no keypair to obtain one")
	}
	if err := c.Authenticate(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bearerToken, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		tok, err := c.token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var parsed struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &parsed)
		if parsed.Error == "" {
			parsed.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: parsed.Error}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) requireKeypair() error {
	if c.keypair == nil {
		return fmt.Errorf("operation requires a signing keypair")
	}
	return nil
}

// RegisterPlot signs and submits a plot registration. The client's identity
// becomes the plot owner.
func (c *Client) RegisterPlot(ctx context.Context, in ledger.RegisterPlot) (*ledger.Plot, error) {
	if err := c.requireKeypair(); err != nil {
		return nil, err
	}
	if in.RegisteredAt.IsZero() {
		in.RegisteredAt = time.Now().UTC()
	}

	var resp struct {
		Plot *ledger.Plot `json:"plot"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/plots", map[string]any{
		"instruction": in,
		"signature":   ledger.Sign(in, c.keypair),
	}, &resp, true)
	return resp.Plot, err
}

// ValidatePlot signs and submits a plot validation. Succeeds only when the
// client holds the plot's validator authority key.
func (c *Client) ValidatePlot(ctx context.Context, addr ledger.Address) (*ledger.Plot, error) {
	if err := c.requireKeypair(); err != nil {
		return nil, err
	}
	in := ledger.ValidatePlot{PlotAddress: addr}

	var resp struct {
		Plot *ledger.Plot `json:"plot"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/plots/"+string(addr)+"/validate", map[string]any{
		"signature": ledger.Sign(in, c.keypair),
	}, &resp, true)
	return resp.Plot, err
}

// DeactivatePlot signs and submits a plot retirement.
func (c *Client) DeactivatePlot(ctx context.Context, addr ledger.Address) (*ledger.Plot, error) {
	if err := c.requireKeypair(); err != nil {
		return nil, err
	}
	in := ledger.DeactivatePlot{PlotAddress: addr}

	var resp struct {
		Plot *ledger.Plot `json:"plot"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/plots/"+string(addr)+"/deactivate", map[string]any{
		"signature": ledger.Sign(in, c.keypair),
	}, &resp, true)
	return resp.Plot, err
}

// RegisterBatch signs and submits a harvest batch registration.
func (c *Client) RegisterBatch(ctx context.Context, in ledger.RegisterBatch) (*ledger.Batch, error) {
	if err := c.requireKeypair(); err != nil {
		return nil, err
	}
	if in.HarvestedAt.IsZero() {
		in.HarvestedAt = time.Now().UTC()
	}

	var resp struct {
		Batch *ledger.Batch `json:"batch"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/batches", map[string]any{
		"instruction": in,
		"signature":   ledger.Sign(in, c.keypair),
	}, &resp, true)
	return resp.Batch, err
}

// UpdateBatchStatus signs and submits a supply-chain status advance.
func (c *Client) UpdateBatchStatus(ctx context.Context, addr ledger.Address, status ledger.BatchStatus, destination string) (*ledger.Batch, error) {
	if err := c.requireKeypair(); err != nil {
		return nil, err
	}
	in := ledger.UpdateBatchStatus{BatchAddress: addr, NewStatus: status, Destination: destination}

	var resp struct {
		Batch *ledger.Batch `json:"batch"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/batches/"+string(addr)+"/status", map[string]any{
		"new_status":  status,
		"destination": destination,
		"signature":   ledger.Sign(in, c.keypair),
	}, &resp, true)
	return resp.Batch, err
}

// RecordVerification signs and submits a verification record. Succeeds only
// when the client holds the plot's validator authority key.
func (c *Client) RecordVerification(ctx context.Context, in ledger.RecordVerification) (*ledger.VerificationRecord, error) {
	if err := c.requireKeypair(); err != nil {
		return nil, err
	}
	if in.RecordedAt.IsZero() {
		in.RecordedAt = time.Now().UTC()
	}

	var resp struct {
		Verification *ledger.VerificationRecord `json:"verification"`
	}
	err := c.do(ctx, http.MethodPost, "/api/v1/verifications", map[string]any{
		"instruction": in,
		"signature":   ledger.Sign(in, c.keypair),
	}, &resp, true)
	return resp.Verification, err
}

// VerificationAttempt is the node's acknowledgement of a queued satellite
// verification.
type VerificationAttempt struct {
	AttemptID string `json:"attempt_id"`
	PlotID    string `json:"plot_id"`
	Status    string `json:"status"`
}

// RequestVerification submits a plot boundary for asynchronous satellite
// verification and returns the queued attempt.
func (c *Client) RequestVerification(ctx context.Context, addr ledger.Address, polygon geo.Polygon) (*VerificationAttempt, error) {
	if err := polygon.Validate(); err != nil {
		return nil, err
	}

	var resp VerificationAttempt
	err := c.do(ctx, http.MethodPost, "/api/v1/plots/"+string(addr)+"/verification-requests",
		map[string]any{"polygon": polygon}, &resp, true)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPlot fetches the plot at addr.
func (c *Client) GetPlot(ctx context.Context, addr ledger.Address) (*ledger.Plot, error) {
	var resp struct {
		Plot *ledger.Plot `json:"plot"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/plots/"+string(addr), nil, &resp, false)
	return resp.Plot, err
}

// ListPlots fetches registered plots, newest first.
func (c *Client) ListPlots(ctx context.Context, limit, offset int) ([]*ledger.Plot, error) {
	var resp struct {
		Plots []*ledger.Plot `json:"plots"`
	}
	path := fmt.Sprintf("/api/v1/plots?limit=%d&offset=%d", limit, offset)
	err := c.do(ctx, http.MethodGet, path, nil, &resp, false)
	return resp.Plots, err
}

// GetBatch fetches the batch at addr.
func (c *Client) GetBatch(ctx context.Context, addr ledger.Address) (*ledger.Batch, error) {
	var resp struct {
		Batch *ledger.Batch `json:"batch"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/batches/"+string(addr), nil, &resp, false)
	return resp.Batch, err
}

// ListBatches fetches registered batches, newest first.
func (c *Client) ListBatches(ctx context.Context, limit, offset int) ([]*ledger.Batch, error) {
	var resp struct {
		Batches []*ledger.Batch `json:"batches"`
	}
	path := fmt.Sprintf("/api/v1/batches?limit=%d&offset=%d", limit, offset)
	err := c.do(ctx, http.MethodGet, path, nil, &resp, false)
	return resp.Batches, err
}

// Report fetches the due-diligence statement joining a batch and its plot.
func (c *Client) Report(ctx context.Context, batchAddr, plotAddr ledger.Address) (*dds.Report, error) {
	var resp struct {
		Report *dds.Report `json:"report"`
	}
	path := fmt.Sprintf("/api/v1/dds/report?batch=%s&plot=%s", batchAddr, plotAddr)
	err := c.do(ctx, http.MethodGet, path, nil, &resp, false)
	return resp.Report, err
}

// JournalOverview holds the journal length and root hash.
type JournalOverview struct {
	Entries int    `json:"entries"`
	Root    string `json:"root"`
}

// Journal fetches the journal overview.
func (c *Client) Journal(ctx context.Context) (*JournalOverview, error) {
	var resp JournalOverview
	if err := c.do(ctx, http.MethodGet, "/api/v1/journal", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyJournal walks the node's full journal chain and reports integrity.
func (c *Client) VerifyJournal(ctx context.Context) (bool, error) {
	var resp struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/journal/verify", nil, &resp, false); err != nil {
		return false, err
	}
	if !resp.Valid {
		return false, fmt.Errorf("journal integrity check failed: %s", resp.Error)
	}
	return true, nil
}
