package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memoryRow mirrors a balance row. Rows are created on first reference with
// exists=false so they can be locked before the insert, like a row lock on a
// key that has not been written yet.
type memoryRow struct {
	mu      sync.Mutex
	balance decimal.Decimal
	exists  bool
}

type processedTransfer struct {
	input  TransferInput
	result TransferResult
}

type inMemoryStore struct {
	mu        sync.Mutex
	rows      map[AccountKey]*memoryRow
	processed map[string]processedTransfer
	inflight  map[string]chan struct{}
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests
// and development mode. Each row has its own lock, so transfers on disjoint
// accounts run in parallel.
func NewInMemory() Store {
	return &inMemoryStore{
		rows:      make(map[AccountKey]*memoryRow),
		processed: make(map[string]processedTransfer),
		inflight:  make(map[string]chan struct{}),
	}
}

func (s *inMemoryStore) row(key AccountKey) *memoryRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[key]
	if !ok {
		r = &memoryRow{}
		s.rows[key] = r
	}
	return r
}

func (s *inMemoryStore) Balance(_ context.Context, key AccountKey) (decimal.Decimal, error) {
	if !key.Valid() {
		return decimal.Zero, ErrInvalidAccount
	}
	s.mu.Lock()
	r, ok := s.rows[key]
	s.mu.Unlock()
	if !ok {
		return decimal.Zero, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance, nil
}

func (s *inMemoryStore) Deposit(_ context.Context, key AccountKey, amount decimal.Decimal) (decimal.Decimal, error) {
	if !ValidAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	if !key.Valid() {
		return decimal.Zero, ErrInvalidAccount
	}
	r := s.row(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balance = r.balance.Add(amount)
	r.exists = true
	return r.balance, nil
}

func (s *inMemoryStore) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	if err := in.Validate(); err != nil {
		return TransferResult{}, err
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}

	res, claimed, err := s.claim(ctx, in)
	if err != nil || !claimed {
		return res, err
	}

	res, err = s.move(in)

	s.mu.Lock()
	if err == nil {
		s.processed[in.RequestID] = processedTransfer{input: in, result: res}
	}
	done := s.inflight[in.RequestID]
	delete(s.inflight, in.RequestID)
	s.mu.Unlock()
	close(done)

	return res, err
}

// claim reserves the request ID. When another call holds the same ID it waits
// for that call to finish and then either replays its result or takes over the
// claim if the other call failed.
func (s *inMemoryStore) claim(ctx context.Context, in TransferInput) (TransferResult, bool, error) {
	for {
		s.mu.Lock()
		if prev, ok := s.processed[in.RequestID]; ok {
			s.mu.Unlock()
			if !sameTransfer(prev.input, in) {
				return TransferResult{}, false, ErrRequestConflict
			}
			res := prev.result
			res.Replayed = true
			return res, false, nil
		}
		wait, busy := s.inflight[in.RequestID]
		if !busy {
			s.inflight[in.RequestID] = make(chan struct{})
			s.mu.Unlock()
			return TransferResult{}, true, nil
		}
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return TransferResult{}, false, unavailable("wait for concurrent request", ctx.Err())
		}
	}
}

func (s *inMemoryStore) move(in TransferInput) (TransferResult, error) {
	first, second := lockOrder(in.Sender, in.Receiver)
	a, b := s.row(first), s.row(second)
	a.mu.Lock()
	defer a.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()

	sender, receiver := s.row(in.Sender), s.row(in.Receiver)
	if !sender.exists {
		return TransferResult{}, ErrSenderNotFound
	}
	if sender.balance.LessThan(in.Amount) {
		return TransferResult{}, ErrInsufficientFunds
	}

	sender.balance = sender.balance.Sub(in.Amount)
	receiver.balance = receiver.balance.Add(in.Amount)
	receiver.exists = true

	return TransferResult{
		RequestID:          in.RequestID,
		SenderRemaining:    sender.balance,
		ReceiverNewBalance: receiver.balance,
	}, nil
}
