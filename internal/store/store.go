package store

import (
	"context"
	"sort"
	"sync"
)

// LedgerKind selects one of the append-only ledgers.
type LedgerKind string

const (
	LedgerMint     LedgerKind = "mint"
	LedgerWithdraw LedgerKind = "withdraw"
	LedgerTransfer LedgerKind = "transfer"
	LedgerStake    LedgerKind = "stake"
)

// Filter narrows list queries. Zero value means no filtering.
type Filter struct {
	User string
}

// Store is the entity store the indexer writes and everything else reads.
// Puts are upserts; lists come back ordered by block timestamp descending.
type Store interface {
	GetOffRamp(ctx context.Context, id string) (*OffRampRequest, error)
	PutOffRamp(ctx context.Context, e *OffRampRequest) error
	ListOffRamps(ctx context.Context, f Filter) ([]*OffRampRequest, error)

	GetOnRamp(ctx context.Context, id string) (*OnRampRequest, error)
	PutOnRamp(ctx context.Context, e *OnRampRequest) error
	ListOnRamps(ctx context.Context, f Filter) ([]*OnRampRequest, error)

	GetTask(ctx context.Context, id string) (*Task, error)
	PutTask(ctx context.Context, e *Task) error
	ListTasks(ctx context.Context, f Filter) ([]*Task, error)

	GetOperator(ctx context.Context, address string) (*Operator, error)
	PutOperator(ctx context.Context, e *Operator) error
	ListOperators(ctx context.Context) ([]*Operator, error)

	InsertLedger(ctx context.Context, kind LedgerKind, e *LedgerEntry) error
	ListLedger(ctx context.Context, kind LedgerKind, f Filter) ([]*LedgerEntry, error)

	HasEvent(ctx context.Context, key string) (bool, error)
	MarkEvent(ctx context.Context, key string) error

	GetCheckpoint(ctx context.Context, requestID string) (*Checkpoint, error)
	PutCheckpoint(ctx context.Context, c *Checkpoint) error
	ListCheckpoints(ctx context.Context) ([]*Checkpoint, error)
}

// MemoryStore backs tests and local runs. Getters hand out copies so callers
// mutate nothing until they Put the merge back.
type MemoryStore struct {
	mu          sync.RWMutex
	offramps    map[string]OffRampRequest
	onramps     map[string]OnRampRequest
	tasks       map[string]Task
	operators   map[string]Operator
	ledgers     map[LedgerKind]map[string]LedgerEntry
	seen        map[string]struct{}
	checkpoints map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		offramps:  make(map[string]OffRampRequest),
		onramps:   make(map[string]OnRampRequest),
		tasks:     make(map[string]Task),
		operators: make(map[string]Operator),
		ledgers: map[LedgerKind]map[string]LedgerEntry{
			LedgerMint:     {},
			LedgerWithdraw: {},
			LedgerTransfer: {},
			LedgerStake:    {},
		},
		seen:        make(map[string]struct{}),
		checkpoints: make(map[string]Checkpoint),
	}
}

func (m *MemoryStore) GetOffRamp(_ context.Context, id string) (*OffRampRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.offramps[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) PutOffRamp(_ context.Context, e *OffRampRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offramps[e.ID] = *e
	return nil
}

func (m *MemoryStore) ListOffRamps(_ context.Context, f Filter) ([]*OffRampRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*OffRampRequest, 0, len(m.offramps))
	for _, e := range m.offramps {
		if f.User != "" && !sameAddress(e.User, f.User) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockTimestamp > out[j].BlockTimestamp })
	return out, nil
}

func (m *MemoryStore) GetOnRamp(_ context.Context, id string) (*OnRampRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.onramps[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) PutOnRamp(_ context.Context, e *OnRampRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onramps[e.ID] = *e
	return nil
}

func (m *MemoryStore) ListOnRamps(_ context.Context, f Filter) ([]*OnRampRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*OnRampRequest, 0, len(m.onramps))
	for _, e := range m.onramps {
		if f.User != "" && !sameAddress(e.Buyer, f.User) && !sameAddress(e.Seller, f.User) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) PutTask(_ context.Context, e *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[e.ID] = *e
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, f Filter) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.tasks))
	for _, e := range m.tasks {
		if f.User != "" && !sameAddress(e.Receiver, f.User) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (m *MemoryStore) GetOperator(_ context.Context, address string) (*Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.operators[normalizeAddress(address)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) PutOperator(_ context.Context, e *Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operators[normalizeAddress(e.Address)] = *e
	return nil
}

func (m *MemoryStore) ListOperators(_ context.Context) ([]*Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Operator, 0, len(m.operators))
	for _, e := range m.operators {
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveTimestamp > out[j].LastActiveTimestamp })
	return out, nil
}

func (m *MemoryStore) InsertLedger(_ context.Context, kind LedgerKind, e *LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ledger, ok := m.ledgers[kind]
	if !ok {
		ledger = make(map[string]LedgerEntry)
		m.ledgers[kind] = ledger
	}
	// Deterministic key makes redelivery a natural no-op.
	ledger[e.ID] = *e
	return nil
}

func (m *MemoryStore) ListLedger(_ context.Context, kind LedgerKind, f Filter) ([]*LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*LedgerEntry, 0, len(m.ledgers[kind]))
	for _, e := range m.ledgers[kind] {
		if f.User != "" && !sameAddress(e.User, f.User) && !sameAddress(e.From, f.User) && !sameAddress(e.To, f.User) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockTimestamp > out[j].BlockTimestamp })
	return out, nil
}

func (m *MemoryStore) HasEvent(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[key]
	return ok, nil
}

func (m *MemoryStore) MarkEvent(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[key] = struct{}{}
	return nil
}

func (m *MemoryStore) GetCheckpoint(_ context.Context, requestID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checkpoints[requestID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStore) PutCheckpoint(_ context.Context, c *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[c.RequestID] = *c
	return nil
}

func (m *MemoryStore) ListCheckpoints(_ context.Context) ([]*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Checkpoint, 0, len(m.checkpoints))
	for _, c := range m.checkpoints {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out, nil
}
