package ledger

import (
	"context"
	"testing"
	"time"
)

// Postgres stores event timestamps as timestamptz, which keeps microseconds.
// The event hash covers the timestamp, so an appended event must hash
// identically after its timestamp is truncated the way the column would.
func TestAppendEvent_hashSurvivesTimestamptzRoundTrip(t *testing.T) {
	s := NewMemory()

	var appended *Event
	err := s.Update(context.Background(), func(tx Txn) error {
		e, err := tx.AppendEvent(ActionPlotRegistered, "acct", "actor", map[string]string{"k": "v"})
		appended = e
		return err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	stored := *appended
	stored.Timestamp = stored.Timestamp.Truncate(time.Microsecond)
	if got := hashEvent(&stored); got != appended.Hash {
		t.Errorf("hash changed across store round trip: stored %s, recomputed %s", appended.Hash, got)
	}
	if !stored.Timestamp.Equal(appended.Timestamp) {
		t.Error("appended event carries sub-microsecond precision the store cannot hold")
	}
	if err := s.JournalVerify(context.Background()); err != nil {
		t.Errorf("JournalVerify: %v", err)
	}
}
