package ledger_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/ledger"
)

func TestJournal_genesis(t *testing.T) {
	s := ledger.NewMemory()

	n, err := s.JournalLen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 genesis event, got %d", n)
	}

	event, err := s.JournalGet(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if event.Action != ledger.ActionGenesis {
		t.Errorf("action: got %q, want genesis", event.Action)
	}
	if event.Hash != ledger.GenesisHash {
		t.Errorf("genesis hash: got %q, want GenesisHash", event.Hash)
	}

	root, err := s.JournalRoot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if root != ledger.GenesisHash {
		t.Errorf("root on genesis-only journal: got %q, want GenesisHash", root)
	}
	if err := s.JournalVerify(ctx); err != nil {
		t.Errorf("Verify on genesis-only journal: %v", err)
	}
}

func TestJournal_chainsAcrossInstructions(t *testing.T) {
	l := ledger.New(ledger.NewMemory(), zap.NewNop())
	owner, authority := newKeypair(t), newKeypair(t)

	plot := mustRegisterPlot(t, l, owner, authority)

	in := ledger.ValidatePlot{PlotAddress: plot.Address}
	if _, err := l.ValidatePlot(ctx, in, ledger.Sign(in, authority)); err != nil {
		t.Fatal(err)
	}

	e1, err := l.JournalGet(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.JournalGet(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}

	if e1.Action != ledger.ActionPlotRegistered || e2.Action != ledger.ActionPlotValidated {
		t.Errorf("actions: got %q then %q", e1.Action, e2.Action)
	}
	if e1.PrevHash != ledger.GenesisHash {
		t.Error("first event must chain from genesis")
	}
	if e2.PrevHash != e1.Hash {
		t.Errorf("chain broken: e2.PrevHash=%q, want %q", e2.PrevHash, e1.Hash)
	}
	if e2.Actor != string(authority.Identity()) {
		t.Errorf("actor: got %q, want authority identity", e2.Actor)
	}

	if err := l.JournalVerify(ctx); err != nil {
		t.Errorf("Verify on valid chain: %v", err)
	}
}

func TestJournal_failedInstructionAppendsNothing(t *testing.T) {
	l := ledger.New(ledger.NewMemory(), zap.NewNop())
	owner, authority := newKeypair(t), newKeypair(t)
	plot := mustRegisterPlot(t, l, owner, authority)

	before, _ := l.JournalLen(ctx)

	// Unauthorized validation must leave no trace.
	in := ledger.ValidatePlot{PlotAddress: plot.Address}
	if _, err := l.ValidatePlot(ctx, in, ledger.Sign(in, owner)); err == nil {
		t.Fatal("expected unauthorized error")
	}

	// Failed verification (duplicate) must leave no partial writes either.
	rv := ledger.RecordVerification{
		PlotAddress:     plot.Address,
		EvidenceRef:     "bafyevidence200",
		NoDeforestation: true,
		Kind:            ledger.KindSatellite,
		RecordedAt:      time.Unix(1700000100, 0),
	}
	if _, err := l.RecordVerification(ctx, rv, ledger.Sign(rv, authority)); err != nil {
		t.Fatal(err)
	}
	mid, _ := l.JournalLen(ctx)
	if _, err := l.RecordVerification(ctx, rv, ledger.Sign(rv, authority)); err == nil {
		t.Fatal("expected duplicate error")
	}

	after, _ := l.JournalLen(ctx)
	if mid != before+1 || after != mid {
		t.Errorf("journal lengths: before=%d mid=%d after=%d", before, mid, after)
	}
	if err := l.JournalVerify(ctx); err != nil {
		t.Errorf("journal integrity after failures: %v", err)
	}
}
