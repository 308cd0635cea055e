package atmledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	pgCheckViolation  = "23514"
	pgFloorConstraint = "accounts_balance_floor"
)

var (
	pgCreateAcctTableSQL = `
		CREATE TABLE IF NOT EXISTS accounts (
			account_number TEXT PRIMARY KEY,
			balance NUMERIC NOT NULL DEFAULT 0
		);
	`

	pgDropFloorSQL = `
		ALTER TABLE accounts
		DROP CONSTRAINT IF EXISTS accounts_balance_floor;
	`

	// %s is the floor rendered by decimal.Decimal, never user input.
	pgAddFloorSQL = `
		ALTER TABLE accounts
		ADD CONSTRAINT accounts_balance_floor CHECK (balance >= %s);
	`

	pgSelectBalanceSQL = `
		SELECT balance
		FROM accounts
		WHERE account_number = $1;
	`

	// A brand-new row starts at 0 so inserting the delta itself is the
	// same as applying it. The floor CHECK rejects both paths atomically.
	pgUpsertBalanceSQL = `
		INSERT INTO accounts (account_number, balance)
		VALUES ($1, $2)
		ON CONFLICT (account_number)
		DO UPDATE SET balance = accounts.balance + EXCLUDED.balance
		RETURNING balance;
	`
)

type PostgresEndpoint struct {
	pool    *pgxpool.Pool
	log     *zerolog.Logger
	floor   decimal.Decimal
	timeout time.Duration
}

var (
	_ Repository = (*PostgresEndpoint)(nil)
)

func NewPostgresEndpoint(ctx context.Context, connStr string, maxDebt decimal.Decimal, timeout time.Duration, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err = pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, storageErr("ping postgres", err)
	}

	endpt := &PostgresEndpoint{
		pool:    pool,
		log:     log,
		floor:   maxDebt.Abs().Neg(),
		timeout: timeout,
	}
	return endpt, err
}

// Migrate creates the accounts table and reinstalls the floor constraint so
// that it always reflects the configured max debt.
func (pg *PostgresEndpoint) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pg.timeout)
	defer cancel()

	tx, err := pg.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return storageErr("begin migration", err)
	}
	defer func() {
		if rerr := tx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
			pg.log.Err(rerr).Msg("migration rollback fail")
		}
	}()

	stmts := []string{
		pgCreateAcctTableSQL,
		pgDropFloorSQL,
		fmt.Sprintf(pgAddFloorSQL, pg.floor.String()),
	}
	for _, stmt := range stmts {
		if _, err = tx.Exec(ctx, stmt); err != nil {
			return storageErr("migrate accounts", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return storageErr("commit migration", err)
	}
	return nil
}

func (pg *PostgresEndpoint) GetBalance(ctx context.Context, acctID string) (*decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, pg.timeout)
	defer cancel()
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, storageErr("acquire connection", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, pgSelectBalanceSQL, acctID)
	var bal decimal.Decimal
	if err = row.Scan(&bal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound{AcctID: acctID}
		}
		return nil, storageErr("select balance", err)
	}

	return &bal, nil
}

func (pg *PostgresEndpoint) AdjustBalance(ctx context.Context, acctID string, delta decimal.Decimal) (*decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, pg.timeout)
	defer cancel()
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, storageErr("acquire connection", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, pgUpsertBalanceSQL, acctID, delta)
	var bal decimal.Decimal
	if err = row.Scan(&bal); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation && pgErr.ConstraintName == pgFloorConstraint {
			return nil, ErrInsufficientFunds{AcctID: acctID, Floor: pg.floor}
		}
		pg.log.Err(err).
			Str("acct_id", acctID).
			Str("delta", delta.String()).
			Msg("upsert balance fail")
		return nil, storageErr("upsert balance", err)
	}

	return &bal, nil
}

func (pg *PostgresEndpoint) Close() {
	pg.pool.Close()
}
