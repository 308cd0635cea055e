package atmledger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/arhyth/atmledger"
	"github.com/arhyth/atmledger/mocks"
)

func TestHTTPDeposit(t *testing.T) {
	nooplog := zerolog.Nop()

	t.Run("Deposit returns OK on success", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		bal := decimal.NewFromInt(1234)
		svc.EXPECT().
			Deposit(gomock.Any(), gomock.AssignableToTypeOf(atmledger.ChargeReq{})).
			DoAndReturn(func(_ any, r atmledger.ChargeReq) (*decimal.Decimal, error) {
				as.Equal("112", r.AcctID)
				as.True(r.Amount.Equal(decimal.NewFromInt(1234)))
				return &bal, nil
			}).
			Times(1)

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		body := bytes.NewBufferString(`{"amount":1234.00}`)
		req := httptest.NewRequest(http.MethodPost, "/accounts/112/deposit", body)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusOK, w.Code)
		as.NotEmpty(w.Header().Get("X-Request-ID"))
		resp := map[string]any{}
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		as.Nil(err)
		as.Equal("112", resp["account_number"])
		as.Equal(1234.0, resp["deposited_amount"])
		as.Equal(1234.0, resp["balance"])
		as.Equal("success", resp["status"])
	})

	t.Run("/accounts/{acctID}/deposit returns error on malformed request body", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)

		body := bytes.NewBufferString(`{"amount":1234.00`)
		req := httptest.NewRequest(http.MethodPost, "/accounts/123456789/deposit", body)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusBadRequest, w.Code)
		resp := map[string]map[string]string{}
		err := json.Unmarshal(w.Body.Bytes(), &resp)
		reqrd.Nil(err)
		as.Contains(resp, "fields")
		as.Contains(resp["fields"], "request body")
	})

	t.Run("/accounts/{acctID}/deposit returns 400 on invalid amount", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Deposit(gomock.Any(), gomock.Any()).
			Return(nil, atmledger.ErrInvalidAmount{Amount: decimal.NewFromInt(-1)})
		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)

		body := bytes.NewBufferString(`{"amount":-1}`)
		req := httptest.NewRequest(http.MethodPost, "/accounts/112/deposit", body)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusBadRequest, w.Code)
		resp := map[string]map[string]string{}
		reqrd.Nil(json.Unmarshal(w.Body.Bytes(), &resp))
		as.Contains(resp["fields"], "amount")
	})

	t.Run("any account identifier is routed", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		bal := decimal.NewFromInt(1)
		svc.EXPECT().
			Deposit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, r atmledger.ChargeReq) (*decimal.Decimal, error) {
				assert.Equal(tt, "abc-XYZ_01", r.AcctID)
				return &bal, nil
			})
		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)

		req := httptest.NewRequest(http.MethodPost, "/accounts/abc-XYZ_01/deposit", strings.NewReader(`{"amount":1}`))
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)
		assert.Equal(tt, http.StatusOK, w.Code)
	})

	t.Run("escaped account identifiers are decoded", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		bal := decimal.NewFromInt(1)
		svc.EXPECT().
			Deposit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ any, r atmledger.ChargeReq) (*decimal.Decimal, error) {
				assert.Equal(tt, "a/b c%", r.AcctID)
				return &bal, nil
			})
		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)

		req := httptest.NewRequest(http.MethodPost, "/accounts/a%2Fb%20c%25/deposit", strings.NewReader(`{"amount":1}`))
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)
		assert.Equal(tt, http.StatusOK, w.Code)
		assert.Contains(tt, w.Body.String(), `"account_number":"a/b c%"`)
	})
}

func TestHTTPWithdraw(t *testing.T) {
	nooplog := zerolog.Nop()

	t.Run("Withdraw returns OK on success", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		balance := decimal.NewFromInt(30)
		svc.EXPECT().
			Withdraw(gomock.Any(), gomock.AssignableToTypeOf(atmledger.ChargeReq{})).
			Return(&balance, nil).
			Times(1)

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		body := bytes.NewBufferString(`{"amount":20.0}`)
		req := httptest.NewRequest(http.MethodPost, "/accounts/223/withdraw", body)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusOK, w.Code)
		resp := map[string]any{}
		as.Nil(json.Unmarshal(w.Body.Bytes(), &resp))
		as.Equal("223", resp["account_number"])
		as.Equal(20.0, resp["withdrawn_amount"])
		as.Equal(30.0, resp["balance"])
		as.Equal("success", resp["status"])
	})

	t.Run("Withdraw returns 400 on insufficient funds", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Withdraw(gomock.Any(), gomock.Any()).
			Return(nil, atmledger.ErrInsufficientFunds{AcctID: "334", Floor: decimal.NewFromInt(-1000)})

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		body := bytes.NewBufferString(`{"amount":1500.0}`)
		req := httptest.NewRequest(http.MethodPost, "/accounts/334/withdraw", body)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusBadRequest, w.Code)
		as.Contains(w.Body.String(), "insufficient funds")
	})

	t.Run("/accounts/{acctID}/withdraw returns error on malformed request body", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)

		body := bytes.NewBufferString(`{"amount":"lots"}`)
		req := httptest.NewRequest(http.MethodPost, "/accounts/123456789/withdraw", body)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusBadRequest, w.Code)
		resp := map[string]map[string]string{}
		reqrd.Nil(json.Unmarshal(w.Body.Bytes(), &resp))
		as.Contains(resp["fields"], "request body")
	})
}

func TestHTTPBalance(t *testing.T) {
	nooplog := zerolog.Nop()

	t.Run("Balance returns balance amount", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		balance := decimal.NewFromFloat(123.45)
		svc.EXPECT().
			Balance(gomock.Any(), atmledger.BalanceReq{AcctID: "112"}).
			Return(&balance, nil).
			Times(1)

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		req := httptest.NewRequest(http.MethodGet, "/accounts/112/balance", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusOK, w.Code)
		resp := map[string]any{}
		as.Nil(json.Unmarshal(w.Body.Bytes(), &resp))
		as.Equal("112", resp["account_number"])
		as.Equal(123.45, resp["balance"])
	})

	t.Run("Balance hides storage errors behind a 500", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Balance(gomock.Any(), gomock.Any()).
			Return(nil, errors.New("pq: relation accounts does not exist"))

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		req := httptest.NewRequest(http.MethodGet, "/accounts/112/balance", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusInternalServerError, w.Code)
		as.NotContains(w.Body.String(), "relation")
		as.JSONEq(`{"message":"server error"}`, w.Body.String())
	})

	t.Run("Balance returns 500 instead of an empty body when it cannot be encoded", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		balance, err := decimal.NewFromString("1e400")
		require.NoError(tt, err)
		svc.EXPECT().
			Balance(gomock.Any(), gomock.Any()).
			Return(&balance, nil)

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		req := httptest.NewRequest(http.MethodGet, "/accounts/112/balance", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusInternalServerError, w.Code)
		as.JSONEq(`{"message":"server error"}`, w.Body.String())
	})

	t.Run("Balance reports a canceled request as client closed", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Balance(gomock.Any(), gomock.Any()).
			Return(nil, context.Canceled)

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		req := httptest.NewRequest(http.MethodGet, "/accounts/112/balance", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		assert.Equal(tt, 499, w.Code)
	})

	t.Run("Balance decodes an escaped account identifier", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		balance := decimal.NewFromInt(7)
		svc.EXPECT().
			Balance(gomock.Any(), atmledger.BalanceReq{AcctID: "a/b"}).
			Return(&balance, nil)

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		req := httptest.NewRequest(http.MethodGet, "/accounts/a%2Fb/balance", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		assert.Equal(tt, http.StatusOK, w.Code)
	})

	t.Run("Balance returns 503 when storage is unavailable", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Balance(gomock.Any(), gomock.Any()).
			Return(nil, atmledger.ErrUnavailable)

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		req := httptest.NewRequest(http.MethodGet, "/accounts/112/balance", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		assert.Equal(tt, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHTTPStatement(t *testing.T) {
	nooplog := zerolog.Nop()

	t.Run("Statement streams the rendered PDF", func(tt *testing.T) {
		as := assert.New(tt)
		ctrl := gomock.NewController(tt)
		svc := mocks.NewMockService(ctrl)
		svc.EXPECT().
			Statement(gomock.Any(), gomock.Any(), atmledger.StatementReq{AcctID: "112"}).
			DoAndReturn(func(_ any, w io.Writer, _ atmledger.StatementReq) error {
				_, err := w.Write([]byte("%PDF-1.3 fake"))
				return err
			})

		hndlr := atmledger.NewHTTPHandler(svc, &nooplog)
		req := httptest.NewRequest(http.MethodGet, "/accounts/112/statement", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		as.Equal(http.StatusOK, w.Code)
		as.Equal("application/pdf", w.Header().Get("Content-Type"))
		as.Equal("%PDF-1.3 fake", w.Body.String())
	})
}

func TestHTTPMisc(t *testing.T) {
	nooplog := zerolog.Nop()

	t.Run("is_alive reports active", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		hndlr := atmledger.NewHTTPHandler(mocks.NewMockService(ctrl), &nooplog)
		req := httptest.NewRequest(http.MethodGet, "/is_alive", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		assert.Equal(tt, http.StatusOK, w.Code)
		assert.JSONEq(tt, `{"active":"true"}`, w.Body.String())
	})

	t.Run("unknown paths return the path", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		hndlr := atmledger.NewHTTPHandler(mocks.NewMockService(ctrl), &nooplog)
		req := httptest.NewRequest(http.MethodGet, "/accounts/112/history", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		assert.Equal(tt, http.StatusNotFound, w.Code)
		assert.JSONEq(tt, `{"path":"/accounts/112/history"}`, w.Body.String())
	})

	t.Run("metrics are served when enabled", func(tt *testing.T) {
		ctrl := gomock.NewController(tt)
		m := atmledger.NewMetrics()
		m.Calls.WithLabelValues("deposit", "ok").Inc()
		hndlr := atmledger.NewHTTPHandler(mocks.NewMockService(ctrl), &nooplog, atmledger.WithMetrics(m))
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		hndlr.ServeHTTP(w, req)

		assert.Equal(tt, http.StatusOK, w.Code)
		assert.Contains(tt, w.Body.String(), "atmledger_service_calls_total")
	})
}
