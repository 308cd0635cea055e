package atmledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	sqliteCreateAcctTableSQL = `
		CREATE TABLE IF NOT EXISTS accounts (
			account_number TEXT PRIMARY KEY,
			balance REAL NOT NULL DEFAULT 0.0
		);
	`

	sqliteSelectBalanceSQL = `
		SELECT balance
		FROM accounts
		WHERE account_number = ?;
	`

	sqliteEnsureAcctSQL = `
		INSERT OR IGNORE INTO accounts (account_number, balance)
		VALUES (?, 0.0);
	`

	// No row back means the floor check failed.
	sqliteAdjustBalanceSQL = `
		UPDATE accounts
		SET balance = balance + ?1
		WHERE account_number = ?2 AND balance + ?1 >= ?3
		RETURNING balance;
	`
)

// SQLiteEndpoint keeps balances in a single SQLite file. Every adjustment
// runs in a BEGIN IMMEDIATE transaction, so the file's write lock orders
// concurrent writers and busy_timeout bounds how long one waits.
type SQLiteEndpoint struct {
	db      *sql.DB
	log     *zerolog.Logger
	floor   decimal.Decimal
	timeout time.Duration
}

var (
	_ Repository = (*SQLiteEndpoint)(nil)
)

func NewSQLiteEndpoint(path string, maxDebt decimal.Decimal, timeout time.Duration, log *zerolog.Logger) (*SQLiteEndpoint, error) {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr("open sqlite", err)
	}

	endpt := &SQLiteEndpoint{
		db:      db,
		log:     log,
		floor:   maxDebt.Abs().Neg(),
		timeout: timeout,
	}
	return endpt, nil
}

func (s *SQLiteEndpoint) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, sqliteCreateAcctTableSQL); err != nil {
		return s.wrapErr("migrate accounts", err)
	}
	return nil
}

func (s *SQLiteEndpoint) GetBalance(ctx context.Context, acctID string) (*decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rbal float64
	row := s.db.QueryRowContext(ctx, sqliteSelectBalanceSQL, acctID)
	if err := row.Scan(&rbal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound{AcctID: acctID}
		}
		return nil, s.wrapErr("select balance", err)
	}

	bal := decimal.NewFromFloat(rbal)
	return &bal, nil
}

func (s *SQLiteEndpoint) AdjustBalance(ctx context.Context, acctID string, delta decimal.Decimal) (*decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.wrapErr("begin adjust", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			s.log.Err(rerr).Str("acct_id", acctID).Msg("adjust rollback fail")
		}
	}()

	if _, err = tx.ExecContext(ctx, sqliteEnsureAcctSQL, acctID); err != nil {
		return nil, s.wrapErr("ensure account", err)
	}

	var rbal float64
	row := tx.QueryRowContext(ctx, sqliteAdjustBalanceSQL, delta.InexactFloat64(), acctID, s.floor.InexactFloat64())
	if err = row.Scan(&rbal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// rollback also drops the zero row of a brand-new account
			return nil, ErrInsufficientFunds{AcctID: acctID, Floor: s.floor}
		}
		return nil, s.wrapErr("adjust balance", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, s.wrapErr("commit adjust", err)
	}

	bal := decimal.NewFromFloat(rbal)
	return &bal, nil
}

func (s *SQLiteEndpoint) Close() {
	if err := s.db.Close(); err != nil {
		s.log.Err(err).Msg("sqlite close fail")
	}
}

// wrapErr treats SQLITE_BUSY and SQLITE_LOCKED like a storage timeout.
func (s *SQLiteEndpoint) wrapErr(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
		}
	}
	return storageErr(op, err)
}
