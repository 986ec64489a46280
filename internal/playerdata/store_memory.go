package playerdata

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store good enough to run the control
// plane standalone or under test, without a Postgres connection.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Binding
	cash map[string]int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*Binding),
		cash: make(map[string]int64),
	}
}

func (s *MemoryStore) GetBinding(ctx context.Context, userID string) (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.rows[userID]; ok {
		return *b, nil
	}
	return Binding{UserID: userID}, nil
}

func (s *MemoryStore) SetBinding(ctx context.Context, userID, serverUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(userID)
	b.ServerUID = serverUID
	return nil
}

func (s *MemoryStore) ClearServerBinding(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.rows {
		if b.ServerUID == uid {
			b.ServerUID = ""
		}
	}
	return nil
}

func (s *MemoryStore) SetPrivateServerActive(ctx context.Context, userID string, active bool, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.get(userID)
	b.PrivateServerActive = active
	b.PrivateServerExpires = expires
	return nil
}

func (s *MemoryStore) DebitCurrency(ctx context.Context, userID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cash[userID] < amount {
		return ErrInsufficientFunds
	}
	s.cash[userID] -= amount
	return nil
}

// Credit is test/bootstrap-only helper, not part of the Store interface.
func (s *MemoryStore) Credit(userID string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cash[userID] += amount
}

func (s *MemoryStore) get(userID string) *Binding {
	b, ok := s.rows[userID]
	if !ok {
		b = &Binding{UserID: userID}
		s.rows[userID] = b
	}
	return b
}
