package ledger

import (
	"context"
	"sync"
)

// MemoryStore keeps ledgers in process. It follows the same optimistic
// commit rules as the Postgres repository and backs tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[string]*GroupLedger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[string]*GroupLedger)}
}

func (s *MemoryStore) CreateGroup(ctx context.Context, g *GroupLedger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.groups[g.Code]; exists {
		return ErrGroupExists
	}
	stored := g.Clone()
	stored.Version = 1
	s.groups[g.Code] = stored
	g.Version = stored.Version
	return nil
}

func (s *MemoryStore) ReadGroup(ctx context.Context, code string) (*GroupLedger, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[code]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g.Clone(), nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, code string, fn TxFunc) (*GroupLedger, error) {
	current, err := s.ReadGroup(ctx, code)
	if err != nil {
		return nil, err
	}
	readVersion := current.Version

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.groups[code]
	if !ok {
		return nil, ErrGroupNotFound
	}
	if stored.Version != readVersion {
		return nil, ErrConcurrentUpdate
	}

	committed := next.Clone()
	committed.Code = code
	committed.Version = readVersion + 1
	s.groups[code] = committed
	return committed.Clone(), nil
}
