package atmledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

type memAcct struct {
	mu      sync.Mutex
	balance decimal.Decimal
	written bool
}

// MemoryEndpoint is a process-local Repository for development and tests.
// Each account has its own lock; nothing is held across accounts.
type MemoryEndpoint struct {
	accts sync.Map // string -> *memAcct
	floor decimal.Decimal
}

var (
	_ Repository = (*MemoryEndpoint)(nil)
)

func NewMemoryEndpoint(maxDebt decimal.Decimal) *MemoryEndpoint {
	return &MemoryEndpoint{floor: maxDebt.Abs().Neg()}
}

func (m *MemoryEndpoint) Migrate(ctx context.Context) error {
	return nil
}

func (m *MemoryEndpoint) GetBalance(ctx context.Context, acctID string) (*decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("get balance", err)
	}
	v, ok := m.accts.Load(acctID)
	if !ok {
		return nil, ErrNotFound{AcctID: acctID}
	}
	acct := v.(*memAcct)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if !acct.written {
		return nil, ErrNotFound{AcctID: acctID}
	}
	bal := acct.balance
	return &bal, nil
}

func (m *MemoryEndpoint) AdjustBalance(ctx context.Context, acctID string, delta decimal.Decimal) (*decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("adjust balance", err)
	}
	v, _ := m.accts.LoadOrStore(acctID, &memAcct{})
	acct := v.(*memAcct)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	next := acct.balance.Add(delta)
	if next.LessThan(m.floor) {
		return nil, ErrInsufficientFunds{AcctID: acctID, Floor: m.floor}
	}
	acct.balance = next
	acct.written = true
	return &next, nil
}

func (m *MemoryEndpoint) Close() {}
