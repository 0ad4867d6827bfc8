package datasource

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-tables/pkg/apperrors"
)

// TxSlot tracks the single transaction an adapter may have open.
// The zero value is an empty slot.
type TxSlot struct {
	mu     sync.Mutex
	active string
}

// Acquire claims the slot and returns a fresh transaction id.
func (s *TxSlot) Acquire() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != "" {
		return "", fmt.Errorf("%w: transaction %s is already open; nested transactions are not supported",
			apperrors.ErrTransactionState, s.active)
	}
	s.active = uuid.NewString()
	return s.active, nil
}

// Check verifies that id is the open transaction.
func (s *TxSlot) Check(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked(id)
}

// Release frees the slot held by id.
func (s *TxSlot) Release(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLocked(id); err != nil {
		return err
	}
	s.active = ""
	return nil
}

// Reset frees the slot unconditionally and returns the id that held it.
func (s *TxSlot) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.active
	s.active = ""
	return id
}

// Busy reports whether a transaction is open.
func (s *TxSlot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != ""
}

func (s *TxSlot) checkLocked(id string) error {
	switch {
	case s.active == "":
		return fmt.Errorf("%w: no transaction is open", apperrors.ErrTransactionState)
	case s.active != id:
		return fmt.Errorf("%w: transaction %s is not the open transaction", apperrors.ErrTransactionState, id)
	}
	return nil
}

// ErrBusy is returned by autocommit calls while a transaction holds the connection.
func ErrBusy(op string) error {
	return fmt.Errorf("%w: %s must run inside the open transaction", apperrors.ErrTransactionBusy, op)
}

// BoundTransaction is the Transaction handle adapters hand out. Every call
// is checked against the slot, so a handle used after Commit or Rollback, or
// passed to a different adapter, fails with ErrTransactionState.
type BoundTransaction struct {
	GuardedSession
	id string
}

// NewBoundTransaction wraps a transaction-bound session for slot id.
func NewBoundTransaction(id string, slot *TxSlot, session Session) *BoundTransaction {
	return &BoundTransaction{
		id: id,
		GuardedSession: GuardedSession{Resolve: func(string) (Session, error) {
			if err := slot.Check(id); err != nil {
				return nil, err
			}
			return session, nil
		}},
	}
}

func (t *BoundTransaction) ID() string {
	return t.id
}

var _ Transaction = (*BoundTransaction)(nil)

// NotConnected is returned by every operation before Connect succeeds.
func NotConnected(op string) error {
	return fmt.Errorf("%w: cannot %s before connect", apperrors.ErrNotConnected, op)
}
