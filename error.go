package atmledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInternalServer = errors.New("internal server error")
	// ErrUnavailable marks transient failures: storage timeouts, shed load
	// and open circuit breakers.
	ErrUnavailable = errors.New("service unavailable")
)

type ErrBadRequest struct {
	Fields map[string]string `json:"fields"`
}

func (e ErrBadRequest) Error() string {
	return fmt.Sprintf("missing/invalid params: %v", e.Fields)
}

// ErrNotFound is only returned by a Repository read. The service turns it
// into a zero balance.
type ErrNotFound struct {
	AcctID string `json:"account_number"`
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("account `%s` not found", e.AcctID)
}

type ErrInvalidAmount struct {
	Amount decimal.Decimal
}

func (e ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %s: must be a positive number within range", e.Amount)
}

type ErrInsufficientFunds struct {
	AcctID string
	Floor  decimal.Decimal
}

func (e ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: account `%s` may not go below %s", e.AcctID, e.Floor)
}

type ErrKind int

const (
	KindNone ErrKind = iota
	KindNotFound
	KindBadRequest
	KindInvalidAmount
	KindInsufficientFunds
	KindUnavailable
	KindInternal
	// KindCanceled is a caller that went away mid-request.
	KindCanceled
)

func (k ErrKind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindBadRequest:
		return "bad_request"
	case KindInvalidAmount:
		return "invalid_amount"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindUnavailable:
		return "unavailable"
	case KindCanceled:
		return "canceled"
	default:
		return "internal"
	}
}

// ServerSide reports whether the kind is a fault of the service rather than
// of the request.
func (k ErrKind) ServerSide() bool {
	return k == KindUnavailable || k == KindInternal
}

// KindOf classifies err. Anything not recognized is KindInternal.
func KindOf(err error) ErrKind {
	if err == nil {
		return KindNone
	}
	var (
		errnf ErrNotFound
		errbr ErrBadRequest
		erria ErrInvalidAmount
		errif ErrInsufficientFunds
	)
	switch {
	case errors.As(err, &errnf):
		return KindNotFound
	case errors.As(err, &errbr):
		return KindBadRequest
	case errors.As(err, &erria):
		return KindInvalidAmount
	case errors.As(err, &errif):
		return KindInsufficientFunds
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindUnavailable
	default:
		return KindInternal
	}
}
