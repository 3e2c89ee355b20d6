package client_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/api"
	"github.com/canopytrace/canopytrace/internal/dds"
	"github.com/canopytrace/canopytrace/internal/identity"
	"github.com/canopytrace/canopytrace/internal/ledger"
	"github.com/canopytrace/canopytrace/pkg/client"
)

// node starts an in-process node over a memory store and returns its base
// URL together with the authority keypair its token issuer trusts.
func node(t *testing.T) (string, *identity.Keypair, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := ledger.New(ledger.NewMemory(), zap.NewNop())
	authority, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}

	router := api.NewRouter(api.RouterConfig{}, api.Deps{
		Ledger:     l,
		Aggregator: dds.New(l, zap.NewNop()),
		Tokens:     identity.NewTokenIssuer(authority, "http://localhost:8080", time.Hour),
		Logger:     zap.NewNop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv.URL, authority, l
}

func TestClient_fullLifecycle(t *testing.T) {
	base, authority, _ := node(t)

	owner, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	ownerClient, err := client.New(base, client.WithKeypair(owner))
	if err != nil {
		t.Fatal(err)
	}
	authorityClient, err := client.New(base, client.WithKeypair(authority))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	plot, err := ownerClient.RegisterPlot(ctx, ledger.RegisterPlot{
		PlotID:             "PLOT-SDK-001",
		OwnerName:          "Kofi Mensah",
		LocationLabel:      "Ashanti Region",
		CoordinateHash:     "3f2a9c41",
		AreaHectares:       2.5,
		Commodity:          ledger.CommodityCocoa,
		ValidatorAuthority: authority.Identity(),
	})
	if err != nil {
		t.Fatalf("RegisterPlot: %v", err)
	}
	if plot.Owner != owner.Identity() {
		t.Error("plot owner must be the signing identity")
	}

	if _, err := authorityClient.RecordVerification(ctx, ledger.RecordVerification{
		PlotAddress:     plot.Address,
		EvidenceRef:     "bafyevidence300",
		NoDeforestation: true,
		Kind:            ledger.KindSatellite,
	}); err != nil {
		t.Fatalf("RecordVerification: %v", err)
	}

	batch, err := ownerClient.RegisterBatch(ctx, ledger.RegisterBatch{
		BatchID:  "BATCH-SDK-001",
		PlotID:   "PLOT-SDK-001",
		WeightKg: 750,
	})
	if err != nil {
		t.Fatalf("RegisterBatch: %v", err)
	}

	if _, err := ownerClient.UpdateBatchStatus(ctx, batch.Address, ledger.StatusInTransit, "Rotterdam"); err != nil {
		t.Fatalf("UpdateBatchStatus: %v", err)
	}

	report, err := ownerClient.Report(ctx, batch.Address, plot.Address)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !report.NoDeforestationVerified {
		t.Error("verified plot must produce a clean report")
	}

	if ok, err := ownerClient.VerifyJournal(ctx); err != nil || !ok {
		t.Errorf("VerifyJournal: ok=%v err=%v", ok, err)
	}
	overview, err := ownerClient.Journal(ctx)
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	// genesis + plot + verification + batch + status
	if overview.Entries != 5 {
		t.Errorf("journal entries: got %d, want 5", overview.Entries)
	}
}

func TestClient_apiErrorsSurfaceStatus(t *testing.T) {
	base, authority, _ := node(t)

	owner, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.New(base, client.WithKeypair(owner))
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	if _, err := c.GetPlot(ctx, "missing"); err == nil {
		t.Fatal("expected error for missing plot")
	} else {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) || apiErr.Status != 404 {
			t.Errorf("got %v, want APIError 404", err)
		}
	}

	// Validation signed by a non-authority key is refused.
	plot, err := c.RegisterPlot(ctx, ledger.RegisterPlot{
		PlotID:             "PLOT-SDK-002",
		CoordinateHash:     "aa",
		AreaHectares:       1,
		Commodity:          ledger.CommodityCoffee,
		ValidatorAuthority: authority.Identity(),
	})
	if err != nil {
		t.Fatalf("RegisterPlot: %v", err)
	}
	if _, err := c.ValidatePlot(ctx, plot.Address); err == nil {
		t.Fatal("expected authorization failure")
	} else {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) || apiErr.Status != 403 {
			t.Errorf("got %v, want APIError 403", err)
		}
	}
}

func TestClient_requiresKeypairForMutations(t *testing.T) {
	base, _, _ := node(t)
	c, err := client.New(base)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.RegisterPlot(context.Background(), ledger.RegisterPlot{}); err == nil {
		t.Fatal("expected error without keypair")
	}
}
