package store

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store. A transaction works on a copy of the
// owner's state and swaps it in on commit.
type Memory struct {
	mu       sync.RWMutex
	seq      int64
	owners   map[int64]*ownerState
	locks    map[int64]*sync.Mutex
	expenses []domain.Expense
}

type ownerState struct {
	owner    domain.Owner
	accounts map[int64]domain.FeeAccount
	entries  []domain.LedgerEntry
	advance  *domain.AdvanceBalance
	deposits []domain.AdvanceDeposit
	idem     map[string]domain.IdempotencyRecord
}

func (s *ownerState) clone() *ownerState {
	c := &ownerState{
		owner:    s.owner,
		accounts: maps.Clone(s.accounts),
		entries:  slices.Clone(s.entries),
		deposits: slices.Clone(s.deposits),
		idem:     maps.Clone(s.idem),
	}
	if s.advance != nil {
		adv := *s.advance
		c.advance = &adv
	}
	return c
}

func NewMemory() *Memory {
	return &Memory{
		owners: make(map[int64]*ownerState),
		locks:  make(map[int64]*sync.Mutex),
	}
}

func (s *Memory) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Memory) CreateOwner(_ context.Context, name string, kind domain.OwnerKind) (domain.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	o := domain.Owner{ID: s.seq, Name: name, Kind: kind, CreatedAt: time.Now().UTC()}
	s.owners[o.ID] = &ownerState{
		owner:    o,
		accounts: make(map[int64]domain.FeeAccount),
		idem:     make(map[string]domain.IdempotencyRecord),
	}
	s.locks[o.ID] = &sync.Mutex{}
	return o, nil
}

func (s *Memory) GetOwner(_ context.Context, id int64) (domain.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.owners[id]
	if !ok {
		return domain.Owner{}, domain.ErrOwnerNotFound
	}
	return st.owner, nil
}

func (s *Memory) ListOwners(_ context.Context) ([]domain.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Owner, 0, len(s.owners))
	for _, st := range s.owners {
		out = append(out, st.owner)
	}
	slices.SortFunc(out, func(a, b domain.Owner) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Memory) InOwnerTx(ctx context.Context, ownerID int64, fn func(Tx) error) error {
	s.mu.RLock()
	lock, ok := s.locks[ownerID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrOwnerNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	// the owner may have been deleted while we waited
	s.mu.RLock()
	st, ok := s.owners[ownerID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrOwnerNotFound
	}

	tx := &memoryTx{store: s, state: st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.deleted {
		delete(s.owners, ownerID)
		delete(s.locks, ownerID)
		return nil
	}
	s.owners[ownerID] = tx.state
	return nil
}

func (s *Memory) Entries(_ context.Context, ownerID, accountID int64) iter.Seq2[domain.LedgerEntry, error] {
	return func(yield func(domain.LedgerEntry, error) bool) {
		s.mu.RLock()
		st, ok := s.owners[ownerID]
		if !ok {
			s.mu.RUnlock()
			yield(domain.LedgerEntry{}, domain.ErrOwnerNotFound)
			return
		}
		if _, ok := st.accounts[accountID]; !ok {
			s.mu.RUnlock()
			yield(domain.LedgerEntry{}, domain.ErrFeeAccountNotFound)
			return
		}
		var entries []domain.LedgerEntry
		for _, e := range st.entries {
			if e.FeeAccountID == accountID {
				entries = append(entries, e)
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(entries, newestFirst)
		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func newestFirst(a, b domain.LedgerEntry) int {
	if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (s *Memory) EntriesBetween(_ context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LedgerEntry
	for _, st := range s.owners {
		for _, e := range st.entries {
			if inRange(e.OccurredAt, from, to) {
				out = append(out, e)
			}
		}
	}
	slices.SortFunc(out, newestFirst)
	return out, nil
}

func (s *Memory) DepositsBetween(_ context.Context, from, to time.Time) ([]domain.AdvanceDeposit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.AdvanceDeposit
	for _, st := range s.owners {
		for _, d := range st.deposits {
			if inRange(d.OccurredAt, from, to) {
				out = append(out, d)
			}
		}
	}
	slices.SortFunc(out, func(a, b domain.AdvanceDeposit) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Memory) RecordExpense(_ context.Context, e domain.Expense) (domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.ID = s.seq
	s.expenses = append(s.expenses, e)
	return e, nil
}

func (s *Memory) ExpensesBetween(_ context.Context, from, to time.Time) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Expense
	for _, e := range s.expenses {
		if inRange(e.OccurredAt, from, to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) Close() {}

type memoryTx struct {
	store   *Memory
	state   *ownerState
	deleted bool
}

func (t *memoryTx) Owner() domain.Owner { return t.state.owner }

func (t *memoryTx) Account(_ context.Context, id int64) (domain.FeeAccount, error) {
	a, ok := t.state.accounts[id]
	if !ok {
		return domain.FeeAccount{}, fmt.Errorf("%w: %d", domain.ErrFeeAccountNotFound, id)
	}
	return a, nil
}

func (t *memoryTx) Accounts(_ context.Context) ([]domain.FeeAccount, error) {
	out := slices.Collect(maps.Values(t.state.accounts))
	slices.SortFunc(out, func(a, b domain.FeeAccount) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

func (t *memoryTx) InsertAccount(_ context.Context, a *domain.FeeAccount) error {
	a.ID = t.store.nextID()
	t.state.accounts[a.ID] = *a
	return nil
}

func (t *memoryTx) UpdateAccount(_ context.Context, a domain.FeeAccount) error {
	if _, ok := t.state.accounts[a.ID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrFeeAccountNotFound, a.ID)
	}
	t.state.accounts[a.ID] = a
	return nil
}

func (t *memoryTx) SetCurrentAccount(_ context.Context, accountID int64) error {
	t.state.owner.CurrentAccountID = &accountID
	return nil
}

func (t *memoryTx) InsertEntry(_ context.Context, e *domain.LedgerEntry) error {
	if _, ok := t.state.accounts[e.FeeAccountID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrFeeAccountNotFound, e.FeeAccountID)
	}
	e.ID = t.store.nextID()
	t.state.entries = append(t.state.entries, *e)
	return nil
}

func (t *memoryTx) Entry(_ context.Context, id int64) (domain.LedgerEntry, error) {
	for _, e := range t.state.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return domain.LedgerEntry{}, fmt.Errorf("%w: %d", domain.ErrEntryNotFound, id)
}

func (t *memoryTx) Reversed(_ context.Context, entryID int64) (bool, error) {
	for _, e := range t.state.entries {
		if e.ReversesEntryID != nil && *e.ReversesEntryID == entryID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) SumPayments(_ context.Context, accountID int64) (domain.PaymentTotals, error) {
	var totals domain.PaymentTotals
	for _, e := range t.state.entries {
		if e.FeeAccountID == accountID {
			totals = totals.With(e)
		}
	}
	return totals, nil
}

func (t *memoryTx) Advance(_ context.Context) (domain.AdvanceBalance, error) {
	if t.state.advance == nil {
		return domain.NewAdvanceBalance(t.state.owner.ID), nil
	}
	return *t.state.advance, nil
}

func (t *memoryTx) SaveAdvance(_ context.Context, b domain.AdvanceBalance) error {
	t.state.advance = &b
	return nil
}

func (t *memoryTx) InsertDeposit(_ context.Context, d *domain.AdvanceDeposit) error {
	d.ID = t.store.nextID()
	t.state.deposits = append(t.state.deposits, *d)
	return nil
}

func (t *memoryTx) DeleteOwner(context.Context) error {
	t.deleted = true
	return nil
}

func (t *memoryTx) Idempotency(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, ok := t.state.idem[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (t *memoryTx) SaveIdempotency(_ context.Context, rec domain.IdempotencyRecord) error {
	if _, ok := t.state.idem[rec.Key]; ok {
		return fmt.Errorf("idempotency key %q already stored", rec.Key)
	}
	t.state.idem[rec.Key] = rec
	return nil
}
