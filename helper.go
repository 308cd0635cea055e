package atmledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LocalHelper prepares a store for local runs and tests: schema migration
// and opening balances.
type LocalHelper struct {
	Repo Repository
	Log  *zerolog.Logger
}

func NewLocalHelper(ctx context.Context, cfg *Config, log *zerolog.Logger) (*LocalHelper, error) {
	repo, err := OpenRepository(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &LocalHelper{
		Repo: repo,
		Log:  log,
	}, nil
}

// InitDB migrates the store and returns a func that releases it.
func (lh *LocalHelper) InitDB(ctx context.Context) (func(), error) {
	if err := lh.Repo.Migrate(ctx); err != nil {
		return nil, err
	}
	return lh.Repo.Close, nil
}

// SeedBalances applies each amount as a delta, in account order, so a seed
// run is subject to the same floor as live traffic.
func (lh *LocalHelper) SeedBalances(ctx context.Context, seeds map[string]decimal.Decimal) error {
	ids := make([]string, 0, len(seeds))
	for id := range seeds {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		bal, err := lh.Repo.AdjustBalance(ctx, id, seeds[id])
		if err != nil {
			return fmt.Errorf("seeding account `%s`: %w", id, err)
		}
		lh.Log.Info().
			Str("acct_id", id).
			Str("balance", bal.String()).
			Msg("seeded account")
	}
	return nil
}

// ParseSeeds reads ACCOUNT=AMOUNT pairs. The account part may itself contain
// '='; the amount is whatever follows the last one.
func ParseSeeds(pairs []string) (map[string]decimal.Decimal, error) {
	seeds := make(map[string]decimal.Decimal, len(pairs))
	for _, p := range pairs {
		i := strings.LastIndex(p, "=")
		if i <= 0 {
			return nil, fmt.Errorf("seed %q: want ACCOUNT=AMOUNT", p)
		}
		amt, err := decimal.NewFromString(p[i+1:])
		if err != nil {
			return nil, fmt.Errorf("seed %q: %w", p, err)
		}
		seeds[p[:i]] = seeds[p[:i]].Add(amt)
	}
	return seeds, nil
}
