package atmledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// Repository owns persisted balances. Implementations enforce the debt floor
// inside the same atomic write that applies a delta.
type Repository interface {
	// GetBalance returns ErrNotFound for an account that was never written.
	// It never creates a row.
	GetBalance(ctx context.Context, acctID string) (*decimal.Decimal, error)
	// AdjustBalance applies delta, starting from zero for a new account, and
	// returns the new balance. A delta that would put the balance below
	// -maxDebt fails with ErrInsufficientFunds and persists nothing.
	AdjustBalance(ctx context.Context, acctID string, delta decimal.Decimal) (*decimal.Decimal, error)
	Migrate(ctx context.Context) error
	Close()
}

// OpenRepository builds the endpoint named by cfg.Storage.Driver.
func OpenRepository(ctx context.Context, cfg *Config, log *zerolog.Logger) (Repository, error) {
	switch cfg.Storage.Driver {
	case DriverPostgres:
		return NewPostgresEndpoint(ctx, cfg.Storage.ConnStr, cfg.MaxDebt(), cfg.Storage.Timeout, log)
	case DriverSQLite:
		return NewSQLiteEndpoint(cfg.Storage.Path, cfg.MaxDebt(), cfg.Storage.Timeout, log)
	case DriverMemory:
		return NewMemoryEndpoint(cfg.MaxDebt()), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// storageErr wraps a storage failure. Deadline hits become ErrUnavailable so
// the boundary reports them as transient.
func storageErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
