package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/shopspring/decimal"

	"github.com/Rounit002/silentlibrary-sub001/internal/domain"
	"github.com/Rounit002/silentlibrary-sub001/internal/money"
)

var _ Store = (*Postgres)(nil)

type Postgres struct {
	Db *pgxpool.Pool
}

// OpenPostgres creates a pool with numeric <-> decimal.Decimal registered
// on every connection and checks connectivity.
func OpenPostgres(ctx context.Context, connString string, maxConns int32) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

func (s *Postgres) Close() {
	s.Db.Close()
}

func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.Db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// classify turns lock conflicts and dropped connections into
// ErrStoreUnavailable so callers know the operation can be retried.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014":
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

const ownerColumns = "id, name, kind, current_account_id, created_at"

func scanOwner(row rowScanner) (domain.Owner, error) {
	var o domain.Owner
	err := row.Scan(&o.ID, &o.Name, &o.Kind, &o.CurrentAccountID, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Owner{}, domain.ErrOwnerNotFound
	}
	return o, err
}

func (s *Postgres) CreateOwner(ctx context.Context, name string, kind domain.OwnerKind) (domain.Owner, error) {
	row := s.Db.QueryRow(ctx,
		"INSERT INTO owners (name, kind) VALUES ($1, $2) RETURNING "+ownerColumns,
		name, kind)
	o, err := scanOwner(row)
	return o, classify(err)
}

func (s *Postgres) GetOwner(ctx context.Context, id int64) (domain.Owner, error) {
	o, err := scanOwner(s.Db.QueryRow(ctx, "SELECT "+ownerColumns+" FROM owners WHERE id = $1", id))
	return o, classify(err)
}

func (s *Postgres) ListOwners(ctx context.Context) ([]domain.Owner, error) {
	rows, err := s.Db.Query(ctx, "SELECT "+ownerColumns+" FROM owners ORDER BY id")
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var owners []domain.Owner
	for rows.Next() {
		o, err := scanOwner(rows)
		if err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, classify(rows.Err())
}

// InOwnerTx locks the owner row FOR UPDATE so concurrent operations on the
// same owner queue behind each other while other owners proceed.
func (s *Postgres) InOwnerTx(ctx context.Context, ownerID int64, fn func(Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: tx begin failed: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	owner, err := scanOwner(tx.QueryRow(ctx,
		"SELECT "+ownerColumns+" FROM owners WHERE id = $1 FOR UPDATE", ownerID))
	if err != nil {
		return classify(err)
	}

	if err := fn(&postgresTx{tx: tx, owner: owner}); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: tx commit failed: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

const entryColumns = "id, fee_account_id, owner_id, kind, method, cash, online, occurred_at, period_start, reverses_entry_id"

func scanEntry(row rowScanner) (domain.LedgerEntry, error) {
	var (
		e            domain.LedgerEntry
		cash, online decimal.Decimal
	)
	err := row.Scan(&e.ID, &e.FeeAccountID, &e.OwnerID, &e.Kind, &e.Method, &cash, &online,
		&e.OccurredAt, &e.PeriodStart, &e.ReversesEntryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerEntry{}, domain.ErrEntryNotFound
	}
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	e.Amount, err = money.New(cash, online)
	return e, err
}

func (s *Postgres) Entries(ctx context.Context, ownerID, accountID int64) iter.Seq2[domain.LedgerEntry, error] {
	return func(yield func(domain.LedgerEntry, error) bool) {
		var ownerExists bool
		var accountOwner *int64
		err := s.Db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM owners WHERE id = $1),
			        (SELECT owner_id FROM fee_accounts WHERE id = $2)`,
			ownerID, accountID).Scan(&ownerExists, &accountOwner)
		switch {
		case err != nil:
			yield(domain.LedgerEntry{}, classify(err))
			return
		case !ownerExists:
			yield(domain.LedgerEntry{}, domain.ErrOwnerNotFound)
			return
		case accountOwner == nil || *accountOwner != ownerID:
			yield(domain.LedgerEntry{}, domain.ErrFeeAccountNotFound)
			return
		}

		rows, err := s.Db.Query(ctx,
			"SELECT "+entryColumns+" FROM ledger_entries WHERE fee_account_id = $1 ORDER BY occurred_at DESC, id DESC",
			accountID)
		if err != nil {
			yield(domain.LedgerEntry{}, classify(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			if !yield(scanEntry(rows)) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.LedgerEntry{}, classify(err))
		}
	}
}

func (s *Postgres) EntriesBetween(ctx context.Context, from, to time.Time) ([]domain.LedgerEntry, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE occurred_at >= $1 AND occurred_at < $2 ORDER BY occurred_at DESC, id DESC",
		from, to)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, classify(rows.Err())
}

func (s *Postgres) DepositsBetween(ctx context.Context, from, to time.Time) ([]domain.AdvanceDeposit, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, owner_id, amount, method, occurred_at FROM advance_deposits
		 WHERE occurred_at >= $1 AND occurred_at < $2 ORDER BY id`,
		from, to)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var deposits []domain.AdvanceDeposit
	for rows.Next() {
		var d domain.AdvanceDeposit
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Amount, &d.Method, &d.OccurredAt); err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, classify(rows.Err())
}

func (s *Postgres) RecordExpense(ctx context.Context, e domain.Expense) (domain.Expense, error) {
	err := s.Db.QueryRow(ctx,
		"INSERT INTO expenses (title, amount, method, occurred_at) VALUES ($1, $2, $3, $4) RETURNING id",
		e.Title, e.Amount, e.Method, e.OccurredAt).Scan(&e.ID)
	return e, classify(err)
}

func (s *Postgres) ExpensesBetween(ctx context.Context, from, to time.Time) ([]domain.Expense, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT id, title, amount, method, occurred_at FROM expenses
		 WHERE occurred_at >= $1 AND occurred_at < $2 ORDER BY occurred_at, id`,
		from, to)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var expenses []domain.Expense
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.Title, &e.Amount, &e.Method, &e.OccurredAt); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, classify(rows.Err())
}

type postgresTx struct {
	tx    pgx.Tx
	owner domain.Owner
}

func (t *postgresTx) Owner() domain.Owner { return t.owner }

const accountColumns = "id, owner_id, total_fee, paid_cash, paid_online, period_start, period_end, superseded_by, created_at"

func scanAccount(row rowScanner) (domain.FeeAccount, error) {
	var (
		a            domain.FeeAccount
		cash, online decimal.Decimal
		start, end   *time.Time
	)
	err := row.Scan(&a.ID, &a.OwnerID, &a.TotalFee, &cash, &online, &start, &end, &a.SupersededBy, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FeeAccount{}, domain.ErrFeeAccountNotFound
	}
	if err != nil {
		return domain.FeeAccount{}, err
	}
	if start != nil {
		a.PeriodStart = *start
	}
	if end != nil {
		a.PeriodEnd = *end
	}
	a.Paid, err = money.New(cash, online)
	return a, err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (t *postgresTx) Account(ctx context.Context, id int64) (domain.FeeAccount, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM fee_accounts WHERE id = $1 AND owner_id = $2",
		id, t.owner.ID))
	if errors.Is(err, domain.ErrFeeAccountNotFound) {
		return a, fmt.Errorf("%w: %d", domain.ErrFeeAccountNotFound, id)
	}
	return a, err
}

func (t *postgresTx) Accounts(ctx context.Context) ([]domain.FeeAccount, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT "+accountColumns+" FROM fee_accounts WHERE owner_id = $1 ORDER BY id DESC",
		t.owner.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.FeeAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (t *postgresTx) InsertAccount(ctx context.Context, a *domain.FeeAccount) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO fee_accounts (owner_id, total_fee, paid_cash, paid_online, period_start, period_end, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		t.owner.ID, a.TotalFee, a.Paid.Cash(), a.Paid.Online(),
		nullableTime(a.PeriodStart), nullableTime(a.PeriodEnd), a.CreatedAt,
	).Scan(&a.ID)
}

func (t *postgresTx) UpdateAccount(ctx context.Context, a domain.FeeAccount) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE fee_accounts SET total_fee = $1, paid_cash = $2, paid_online = $3, superseded_by = $4
		 WHERE id = $5 AND owner_id = $6`,
		a.TotalFee, a.Paid.Cash(), a.Paid.Online(), a.SupersededBy, a.ID, t.owner.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", domain.ErrFeeAccountNotFound, a.ID)
	}
	return nil
}

func (t *postgresTx) SetCurrentAccount(ctx context.Context, accountID int64) error {
	_, err := t.tx.Exec(ctx, "UPDATE owners SET current_account_id = $1 WHERE id = $2", accountID, t.owner.ID)
	if err != nil {
		return err
	}
	t.owner.CurrentAccountID = &accountID
	return nil
}

func (t *postgresTx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	return t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (fee_account_id, owner_id, kind, method, cash, online, occurred_at, period_start, reverses_entry_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		e.FeeAccountID, t.owner.ID, e.Kind, e.Method, e.Amount.Cash(), e.Amount.Online(),
		e.OccurredAt, e.PeriodStart, e.ReversesEntryID,
	).Scan(&e.ID)
}

func (t *postgresTx) Entry(ctx context.Context, id int64) (domain.LedgerEntry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1 AND owner_id = $2",
		id, t.owner.ID))
	if errors.Is(err, domain.ErrEntryNotFound) {
		return e, fmt.Errorf("%w: %d", domain.ErrEntryNotFound, id)
	}
	return e, err
}

func (t *postgresTx) Reversed(ctx context.Context, entryID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE reverses_entry_id = $1)", entryID,
	).Scan(&exists)
	return exists, err
}

func (t *postgresTx) SumPayments(ctx context.Context, accountID int64) (domain.PaymentTotals, error) {
	var totals domain.PaymentTotals
	err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN kind = 'advance_reversal' THEN -cash ELSE cash END), 0),
		        COALESCE(SUM(CASE WHEN kind = 'advance_reversal' THEN -online ELSE online END), 0)
		 FROM ledger_entries WHERE fee_account_id = $1`,
		accountID).Scan(&totals.Cash, &totals.Online)
	return totals, err
}

func (t *postgresTx) Advance(ctx context.Context) (domain.AdvanceBalance, error) {
	b := domain.AdvanceBalance{OwnerID: t.owner.ID}
	err := t.tx.QueryRow(ctx,
		"SELECT total_deposited, used, status, updated_at FROM advance_balances WHERE owner_id = $1",
		t.owner.ID).Scan(&b.TotalDeposited, &b.Used, &b.Status, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewAdvanceBalance(t.owner.ID), nil
	}
	return b, err
}

func (t *postgresTx) SaveAdvance(ctx context.Context, b domain.AdvanceBalance) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO advance_balances (owner_id, total_deposited, used, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id) DO UPDATE
		 SET total_deposited = EXCLUDED.total_deposited, used = EXCLUDED.used,
		     status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		t.owner.ID, b.TotalDeposited, b.Used, b.Status, b.UpdatedAt)
	return err
}

func (t *postgresTx) InsertDeposit(ctx context.Context, d *domain.AdvanceDeposit) error {
	return t.tx.QueryRow(ctx,
		"INSERT INTO advance_deposits (owner_id, amount, method, occurred_at) VALUES ($1, $2, $3, $4) RETURNING id",
		t.owner.ID, d.Amount, d.Method, d.OccurredAt,
	).Scan(&d.ID)
}

// DeleteOwner relies on ON DELETE CASCADE for accounts, entries, the
// advance pool, deposits and idempotency keys.
func (t *postgresTx) DeleteOwner(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, "DELETE FROM owners WHERE id = $1", t.owner.ID)
	return err
}

func (t *postgresTx) Idempotency(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec := domain.IdempotencyRecord{OwnerID: t.owner.ID, Key: key}
	err := t.tx.QueryRow(ctx,
		"SELECT request_hash, response_status, response_body, created_at FROM idempotency_keys WHERE owner_id = $1 AND key = $2",
		t.owner.ID, key,
	).Scan(&rec.RequestHash, &rec.ResponseStatus, &rec.ResponseBody, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}
	return &rec, nil
}

func (t *postgresTx) SaveIdempotency(ctx context.Context, rec domain.IdempotencyRecord) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO idempotency_keys (owner_id, key, request_hash, response_status, response_body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.owner.ID, rec.Key, rec.RequestHash, rec.ResponseStatus, rec.ResponseBody, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("idempotency insert failed: %w", err)
	}
	return nil
}
