package store

import (
	"context"
	"fmt"
	"log/slog"
)

// schema is applied in order on every start; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS owners (
		id                 BIGSERIAL PRIMARY KEY,
		name               TEXT NOT NULL,
		kind               TEXT NOT NULL CHECK (kind IN ('student', 'hostel_stay')),
		current_account_id BIGINT,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS fee_accounts (
		id            BIGSERIAL PRIMARY KEY,
		owner_id      BIGINT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		total_fee     NUMERIC(12,2) NOT NULL CHECK (total_fee >= 0),
		paid_cash     NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (paid_cash >= 0),
		paid_online   NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (paid_online >= 0),
		period_start  TIMESTAMPTZ,
		period_end    TIMESTAMPTZ,
		superseded_by BIGINT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (paid_cash + paid_online <= total_fee)
	)`,
	`CREATE INDEX IF NOT EXISTS fee_accounts_owner_idx ON fee_accounts (owner_id)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id                BIGSERIAL PRIMARY KEY,
		fee_account_id    BIGINT NOT NULL REFERENCES fee_accounts(id) ON DELETE CASCADE,
		owner_id          BIGINT NOT NULL,
		kind              TEXT NOT NULL CHECK (kind IN ('initial_payment', 'collection', 'advance_usage', 'advance_reversal')),
		method            TEXT NOT NULL CHECK (method IN ('cash', 'online')),
		cash              NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (cash >= 0),
		online            NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (online >= 0),
		occurred_at       TIMESTAMPTZ NOT NULL,
		period_start      TIMESTAMPTZ,
		reverses_entry_id BIGINT REFERENCES ledger_entries(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_account_idx ON ledger_entries (fee_account_id, occurred_at DESC)`,
	`CREATE INDEX IF NOT EXISTS ledger_entries_occurred_idx ON ledger_entries (occurred_at)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_reversal_uq ON ledger_entries (reverses_entry_id) WHERE reverses_entry_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS advance_balances (
		owner_id        BIGINT PRIMARY KEY REFERENCES owners(id) ON DELETE CASCADE,
		total_deposited NUMERIC(12,2) NOT NULL DEFAULT 0,
		used            NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (used >= 0),
		status          TEXT NOT NULL CHECK (status IN ('active', 'fully_used')),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (used <= total_deposited)
	)`,
	`CREATE TABLE IF NOT EXISTS advance_deposits (
		id          BIGSERIAL PRIMARY KEY,
		owner_id    BIGINT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		amount      NUMERIC(12,2) NOT NULL CHECK (amount > 0),
		method      TEXT NOT NULL CHECK (method IN ('cash', 'online')),
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS advance_deposits_occurred_idx ON advance_deposits (occurred_at)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		owner_id        BIGINT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
		key             TEXT NOT NULL,
		request_hash    TEXT NOT NULL,
		response_status INT NOT NULL,
		response_body   JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (owner_id, key)
	)`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id          BIGSERIAL PRIMARY KEY,
		title       TEXT NOT NULL,
		amount      NUMERIC(12,2) NOT NULL CHECK (amount > 0),
		method      TEXT NOT NULL CHECK (method IN ('cash', 'online')),
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS expenses_occurred_idx ON expenses (occurred_at)`,
}

// Migrate applies the schema.
func (s *Postgres) Migrate(ctx context.Context) error {
	slog.Info("running database migrations", "statements", len(schema))
	for i, stmt := range schema {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
