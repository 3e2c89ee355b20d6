package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process, thread-safe Store implementation. It is
// primarily useful for testing and for single-node deployments that do not
// require durable persistence across restarts.
type MemoryStore struct {
	mu            sync.RWMutex
	plots         map[Address]*Plot
	batches       map[Address]*Batch
	verifications map[Address]*VerificationRecord
	events        []*Event
}

// NewMemory creates a MemoryStore initialised with the genesis journal event.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		plots:         make(map[Address]*Plot),
		batches:       make(map[Address]*Batch),
		verifications: make(map[Address]*VerificationRecord),
		events:        []*Event{genesisEvent()},
	}
}

// memTxn stages writes in side maps; commit merges them into the base maps
// only after the handler succeeds, so a failing handler leaves no trace.
type memTxn struct {
	base          *MemoryStore
	plots         map[Address]*Plot
	batches       map[Address]*Batch
	verifications map[Address]*VerificationRecord
	events        []*Event
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, fn func(tx Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTxn{
		base:          s,
		plots:         make(map[Address]*Plot),
		batches:       make(map[Address]*Batch),
		verifications: make(map[Address]*VerificationRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for addr, p := range tx.plots {
		s.plots[addr] = p
	}
	for addr, b := range tx.batches {
		s.batches[addr] = b
	}
	for addr, v := range tx.verifications {
		s.verifications[addr] = v
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (t *memTxn) GetPlot(addr Address) (*Plot, error) {
	if p, ok := t.plots[addr]; ok {
		cp := *p
		return &cp, nil
	}
	if p, ok := t.base.plots[addr]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (t *memTxn) PutPlot(p *Plot) error {
	cp := *p
	t.plots[p.Address] = &cp
	return nil
}

func (t *memTxn) GetBatch(addr Address) (*Batch, error) {
	if b, ok := t.batches[addr]; ok {
		cp := *b
		return &cp, nil
	}
	if b, ok := t.base.batches[addr]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (t *memTxn) PutBatch(b *Batch) error {
	cp := *b
	t.batches[b.Address] = &cp
	return nil
}

func (t *memTxn) GetVerification(addr Address) (*VerificationRecord, error) {
	if v, ok := t.verifications[addr]; ok {
		cp := *v
		return &cp, nil
	}
	if v, ok := t.base.verifications[addr]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (t *memTxn) PutVerification(v *VerificationRecord) error {
	cp := *v
	t.verifications[v.Address] = &cp
	return nil
}

func (t *memTxn) AppendEvent(action string, account Address, actor Identity, payload any) (*Event, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	prev := t.base.events[len(t.base.events)-1]
	if n := len(t.events); n > 0 {
		prev = t.events[n-1]
	}

	event := &Event{
		Index:     prev.Index + 1,
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Account:   account,
		Action:    action,
		Actor:     string(actor),
		DataHash:  sha256Sum(payloadJSON),
		PrevHash:  prev.Hash,
	}
	event.Hash = hashEvent(event)
	t.events = append(t.events, event)
	return event, nil
}

// GetPlot implements Store.
func (s *MemoryStore) GetPlot(_ context.Context, addr Address) (*Plot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plots[addr]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// GetBatch implements Store.
func (s *MemoryStore) GetBatch(_ context.Context, addr Address) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[addr]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

// GetVerification implements Store.
func (s *MemoryStore) GetVerification(_ context.Context, addr Address) (*VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.verifications[addr]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

// ListPlots implements Store.
func (s *MemoryStore) ListPlots(_ context.Context, limit, offset int) ([]*Plot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Plot, 0, len(s.plots))
	for _, p := range s.plots {
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].RegisteredAt.After(all[j].RegisteredAt) })
	return paginate(all, limit, offset), nil
}

// ListBatches implements Store.
func (s *MemoryStore) ListBatches(_ context.Context, limit, offset int) ([]*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Batch, 0, len(s.batches))
	for _, b := range s.batches {
		cp := *b
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].HarvestedAt.After(all[j].HarvestedAt) })
	return paginate(all, limit, offset), nil
}

func paginate[T any](all []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// JournalLen implements Store.
func (s *MemoryStore) JournalLen(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

// JournalGet implements Store.
func (s *MemoryStore) JournalGet(_ context.Context, index int) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.events) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	cp := *s.events[index]
	return &cp, nil
}

// JournalRoot implements Store.
func (s *MemoryStore) JournalRoot(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events[len(s.events)-1].Hash, nil
}

// JournalVerify implements Store.
func (s *MemoryStore) JournalVerify(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var prev *Event
	for _, curr := range s.events {
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}
