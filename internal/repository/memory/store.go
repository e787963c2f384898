// Package memory is an in-process storage driver used for local runs and
// tests. Transactions are serialized and rolled back from a snapshot.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"payments-core/internal/domain"
)

var errNoSQL = errors.New("memory store does not execute SQL")

type paymentRecord struct {
	payment domain.Payment
	seq     int64
}

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	seq       int64
	payments  map[string]paymentRecord
	wallets   map[string]domain.Wallet
	preferred map[string]domain.PreferredMethod
}

func NewStore() *Store {
	return &Store{
		payments:  make(map[string]paymentRecord),
		wallets:   make(map[string]domain.Wallet),
		preferred: make(map[string]domain.PreferredMethod),
	}
}

func (s *Store) Payments() *PaymentRepository {
	return &PaymentRepository{store: s}
}

func (s *Store) Wallets() *WalletRepository {
	return &WalletRepository{store: s}
}

func (s *Store) PreferredMethods() *PreferredMethodRepository {
	return &PreferredMethodRepository{store: s}
}

func (s *Store) Reader() domain.Querier {
	return nopQuerier{}
}

// WithinTx holds the store-wide transaction lock for the whole of fn, which
// also gives per-order serialization for free.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Querier) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if r := recover(); r != nil {
			s.restore(snap)
			panic(r)
		}
	}()

	if err := fn(ctx, nopQuerier{}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	seq       int64
	payments  map[string]paymentRecord
	wallets   map[string]domain.Wallet
	preferred map[string]domain.PreferredMethod
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{
		seq:       s.seq,
		payments:  make(map[string]paymentRecord, len(s.payments)),
		wallets:   make(map[string]domain.Wallet, len(s.wallets)),
		preferred: make(map[string]domain.PreferredMethod, len(s.preferred)),
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	for k, v := range s.wallets {
		snap.wallets[k] = v
	}
	for k, v := range s.preferred {
		snap.preferred[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = snap.seq
	s.payments = snap.payments
	s.wallets = snap.wallets
	s.preferred = snap.preferred
}

type nopQuerier struct{}

func (nopQuerier) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (nopQuerier) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (nopQuerier) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}
