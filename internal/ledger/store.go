package ledger

import "context"

// Txn is the read/write surface an instruction handler sees inside one
// atomic commit. Either every Put and the journal append land together, or
// none of them do.
type Txn interface {
	GetPlot(addr Address) (*Plot, error)
	PutPlot(p *Plot) error
	GetBatch(addr Address) (*Batch, error)
	PutBatch(b *Batch) error
	GetVerification(addr Address) (*VerificationRecord, error)
	PutVerification(v *VerificationRecord) error

	// AppendEvent chains a new journal event to the current tip. payload is
	// JSON-marshalled and its SHA-256 stored as the event's DataHash.
	AppendEvent(action string, account Address, actor Identity, payload any) (*Event, error)
}

// Store persists ledger accounts and the instruction journal.
// Two implementations are provided: MemoryStore for tests and single-process
// deployments, PostgresStore for durable multi-instance use. The store
// serialises Update calls, so instruction handlers observe a consistent
// pre-state without further locking.
type Store interface {
	// Update runs fn inside one atomic transaction. If fn returns an error
	// the transaction is discarded and nothing is persisted.
	Update(ctx context.Context, fn func(tx Txn) error) error

	// Read path.
	GetPlot(ctx context.Context, addr Address) (*Plot, error)
	GetBatch(ctx context.Context, addr Address) (*Batch, error)
	GetVerification(ctx context.Context, addr Address) (*VerificationRecord, error)
	ListPlots(ctx context.Context, limit, offset int) ([]*Plot, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*Batch, error)

	// Journal read path.
	JournalLen(ctx context.Context) (int, error)
	JournalGet(ctx context.Context, index int) (*Event, error)
	JournalRoot(ctx context.Context) (string, error)
	// JournalVerify walks the entire chain and checks hash consistency.
	JournalVerify(ctx context.Context) error
}
