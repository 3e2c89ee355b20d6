package oracle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canopytrace/canopytrace/internal/audit"
	"github.com/canopytrace/canopytrace/internal/oracle"
)

func TestPool_submitRunsAttemptToCompletion(t *testing.T) {
	fx := newFixture(t)
	imagery := &fakeImagery{
		recent:     []oracle.Composite{{ID: "recent-1"}},
		historical: []oracle.Composite{{ID: "hist-1"}},
	}
	p := fx.pipeline(imagery, &fakeClassifier{verdict: oracle.Verdict{DeforestationDetected: false}})

	auditLog := audit.NewMemory()
	pool := oracle.NewPool(p, auditLog, 2, 8, zap.NewNop())
	pool.Start(ctx)
	defer pool.Stop()

	id, err := pool.Submit(ctx, fx.request())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("Submit must return an attempt id")
	}

	select {
	case res := <-pool.Results():
		if res.AttemptID != id {
			t.Errorf("result for attempt %s, want %s", res.AttemptID, id)
		}
		if res.Err != nil {
			t.Fatalf("attempt failed: %v", res.Err)
		}
		if !res.Outcome.Validated {
			t.Error("clean verdict must validate")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no result within deadline")
	}

	// The polygon must have been persisted before the attempt ran.
	rec, err := auditLog.Get(ctx, fx.plot.PlotID)
	if err != nil {
		t.Fatalf("intake record: %v", err)
	}
	if len(rec.Polygon) != len(testPolygon) {
		t.Errorf("stored polygon has %d vertices, want %d", len(rec.Polygon), len(testPolygon))
	}
}

func TestPool_fullQueueReturnsBusy(t *testing.T) {
	fx := newFixture(t)
	p := fx.pipeline(&fakeImagery{}, &fakeClassifier{})

	// No workers started, so the queue only drains on Stop.
	pool := oracle.NewPool(p, audit.NewMemory(), 1, 2, zap.NewNop())

	for i := 0; i < 2; i++ {
		if _, err := pool.Submit(ctx, fx.request()); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if _, err := pool.Submit(ctx, fx.request()); !errors.Is(err, oracle.ErrQueueBusy) {
		t.Fatalf("got %v, want ErrQueueBusy", err)
	}
}

func TestPool_stopRejectsNewWork(t *testing.T) {
	fx := newFixture(t)
	imagery := &fakeImagery{
		recent:     []oracle.Composite{{ID: "recent-1"}},
		historical: []oracle.Composite{{ID: "hist-1"}},
	}
	p := fx.pipeline(imagery, &fakeClassifier{verdict: oracle.Verdict{DeforestationDetected: true}})

	pool := oracle.NewPool(p, audit.NewMemory(), 1, 4, zap.NewNop())
	pool.Start(ctx)
	pool.Stop()

	if _, err := pool.Submit(ctx, fx.request()); !errors.Is(err, oracle.ErrQueueBusy) {
		t.Fatalf("got %v, want ErrQueueBusy after Stop", err)
	}
}
