package atmledger

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=service.go -destination=mocks/mock_service.go -package=mocks

type ChargeReq struct {
	Amount decimal.Decimal `json:"amount"`
	AcctID string          `json:"-"`
}

type BalanceReq struct {
	AcctID string
}

type StatementReq struct {
	AcctID string
}

type Service interface {
	Deposit(context.Context, ChargeReq) (*decimal.Decimal, error)
	Withdraw(context.Context, ChargeReq) (*decimal.Decimal, error)
	Balance(context.Context, BalanceReq) (*decimal.Decimal, error)
	Statement(context.Context, io.Writer, StatementReq) error
}

// NewService returns the account service. Amount validation always sits in
// front of the repository.
func NewService(repo Repository, maxDebt decimal.Decimal, log *zerolog.Logger) (Service, error) {
	if maxDebt.IsNegative() {
		return nil, fmt.Errorf("max debt must not be negative, got %s", maxDebt)
	}
	svc := &serviceImpl{
		repo:  repo,
		floor: maxDebt.Neg(),
		log:   log,
		now:   time.Now,
	}
	return NewValidationMiddleware()(svc), nil
}

type serviceImpl struct {
	repo  Repository
	floor decimal.Decimal
	log   *zerolog.Logger
	now   func() time.Time
}

func (s *serviceImpl) Deposit(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	return s.repo.AdjustBalance(ctx, req.AcctID, req.Amount)
}

func (s *serviceImpl) Withdraw(ctx context.Context, req ChargeReq) (*decimal.Decimal, error) {
	return s.repo.AdjustBalance(ctx, req.AcctID, req.Amount.Neg())
}

func (s *serviceImpl) Balance(ctx context.Context, req BalanceReq) (*decimal.Decimal, error) {
	bal, err := s.repo.GetBalance(ctx, req.AcctID)
	if KindOf(err) == KindNotFound {
		zero := decimal.Zero
		return &zero, nil
	}
	return bal, err
}

func (s *serviceImpl) Statement(ctx context.Context, w io.Writer, req StatementReq) error {
	bal, err := s.Balance(ctx, BalanceReq{AcctID: req.AcctID})
	if err != nil {
		return err
	}
	stmt := BalanceStatement{
		AcctID:      req.AcctID,
		Balance:     *bal,
		Floor:       s.floor,
		GeneratedAt: s.now().UTC(),
	}
	if err = stmt.Render(w); err != nil {
		s.log.Err(err).Str("acct_id", req.AcctID).Msg("statement render fail")
		return fmt.Errorf("render statement: %w", err)
	}
	return nil
}
