package atmledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// statusClientClosed is the nginx convention for a caller that disconnected
// before the response was ready.
const statusClientClosed = 499

var (
	statusAlive = []byte(`{"active":"true"}`)
)

type balanceJSONResp struct {
	AcctID  string  `json:"account_number"`
	Balance float64 `json:"balance"`
}

type depositJSONResp struct {
	AcctID    string  `json:"account_number"`
	Deposited float64 `json:"deposited_amount"`
	Balance   float64 `json:"balance"`
	Status    string  `json:"status"`
}

type withdrawJSONResp struct {
	AcctID    string  `json:"account_number"`
	Withdrawn float64 `json:"withdrawn_amount"`
	Balance   float64 `json:"balance"`
	Status    string  `json:"status"`
}

type messageJSONResp struct {
	Message string `json:"message"`
}

// HandlerOption customizes NewHTTPHandler.
type HandlerOption func(chi.Router)

// WithMetrics mounts the prometheus scrape endpoint at /metrics.
func WithMetrics(m *Metrics) HandlerOption {
	return func(r chi.Router) {
		r.Handle("/metrics", m.Handler())
	}
}

func NewHTTPHandler(svc Service, log *zerolog.Logger, opts ...HandlerOption) http.Handler {
	hndlr := &httpHandler{
		Svc: svc,
	}
	mux := chi.NewMux()
	mux.Use(middleware.Recoverer)
	mux.Use(RequestLogger(log))
	mux.NotFound(HTTPNotFound)
	mux.Get("/is_alive", IsAlive)
	for _, opt := range opts {
		opt(mux)
	}
	mux.Route("/accounts", func(r chi.Router) {
		r.Route("/{acctID}", func(rr chi.Router) {
			rr.Post("/deposit", hndlr.Deposit)
			rr.Post("/withdraw", hndlr.Withdraw)
			rr.Get("/balance", hndlr.Balance)
			rr.Get("/statement", hndlr.Statement)
		})
	})

	return mux
}

type httpHandler struct {
	Svc Service
}

func (h *httpHandler) readCharge(w http.ResponseWriter, r *http.Request, method string) (ChargeReq, bool) {
	var req ChargeReq
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", method).Msg("error reading HTTP request")
		WriteHTTPError(w, r, ErrInternalServer)
		return req, false
	}
	if err = json.Unmarshal(buf, &req); err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", method).Msg("error unmarshalling JSON")
		WriteHTTPError(w, r, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return req, false
	}
	if req.AcctID, err = acctIDParam(r); err != nil {
		WriteHTTPError(w, r, err)
		return req, false
	}
	return req, true
}

// acctIDParam returns the decoded account segment. chi routes on RawPath when
// the request carries escaped slashes, so the param is still escaped then.
func acctIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "acctID")
	if r.URL.RawPath == "" {
		return id, nil
	}
	dec, err := url.PathUnescape(id)
	if err != nil {
		return "", ErrBadRequest{Fields: map[string]string{"account": "malformed path escape"}}
	}
	return dec, nil
}

func (h *httpHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readCharge(w, r, "deposit")
	if !ok {
		return
	}
	bal, err := h.Svc.Deposit(r.Context(), req)
	if err != nil {
		h.logFailure(r, "deposit", req.AcctID, err)
		WriteHTTPError(w, r, err)
		return
	}

	writeJSON(w, r, depositJSONResp{
		AcctID:    req.AcctID,
		Deposited: req.Amount.InexactFloat64(),
		Balance:   bal.InexactFloat64(),
		Status:    "success",
	})
}

func (h *httpHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readCharge(w, r, "withdraw")
	if !ok {
		return
	}
	bal, err := h.Svc.Withdraw(r.Context(), req)
	if err != nil {
		h.logFailure(r, "withdraw", req.AcctID, err)
		WriteHTTPError(w, r, err)
		return
	}

	writeJSON(w, r, withdrawJSONResp{
		AcctID:    req.AcctID,
		Withdrawn: req.Amount.InexactFloat64(),
		Balance:   bal.InexactFloat64(),
		Status:    "success",
	})
}

func (h *httpHandler) Balance(w http.ResponseWriter, r *http.Request) {
	acctID, err := acctIDParam(r)
	if err != nil {
		WriteHTTPError(w, r, err)
		return
	}
	req := BalanceReq{
		AcctID: acctID,
	}
	bal, err := h.Svc.Balance(r.Context(), req)
	if err != nil {
		h.logFailure(r, "balance", req.AcctID, err)
		WriteHTTPError(w, r, err)
		return
	}

	writeJSON(w, r, balanceJSONResp{AcctID: req.AcctID, Balance: bal.InexactFloat64()})
}

func (h *httpHandler) Statement(w http.ResponseWriter, r *http.Request) {
	acctID, err := acctIDParam(r)
	if err != nil {
		WriteHTTPError(w, r, err)
		return
	}
	req := StatementReq{
		AcctID: acctID,
	}
	buf := new(bytes.Buffer)
	if err = h.Svc.Statement(r.Context(), buf, req); err != nil {
		h.logFailure(r, "statement", req.AcctID, err)
		WriteHTTPError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	if _, err = buf.WriteTo(w); err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "statement").Msg("error writing statement")
	}
}

// logFailure logs server-side failures only; client errors are expected
// traffic.
func (h *httpHandler) logFailure(r *http.Request, method, acctID string, err error) {
	if !KindOf(err).ServerSide() {
		return
	}
	zerolog.Ctx(r.Context()).Err(err).
		Str("method", method).
		Str("acct_id", acctID).
		Msg("service call failed")
}

// writeJSON encodes v before touching the status line so an unencodable
// value still yields a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("response encoding failed")
		WriteHTTPError(w, r, ErrInternalServer)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	buf.WriteTo(w)
}

// WriteHTTPError maps every error kind to a status. Server-side kinds never
// expose the underlying error.
func WriteHTTPError(w http.ResponseWriter, r *http.Request, err error) {
	var ne error
	defer func() {
		if ne != nil {
			zerolog.Ctx(r.Context()).Error().
				Err(ne).
				Msg("error response encoding failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	switch KindOf(err) {
	case KindBadRequest:
		var errbr ErrBadRequest
		errors.As(err, &errbr)
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errbr)
	case KindInvalidAmount:
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(ErrBadRequest{
			Fields: map[string]string{"amount": "must be a positive number within range"},
		})
	case KindInsufficientFunds:
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(messageJSONResp{Message: "insufficient funds for withdrawal"})
	case KindNotFound:
		var errnf ErrNotFound
		errors.As(err, &errnf)
		w.WriteHeader(http.StatusNotFound)
		ne = json.NewEncoder(w).Encode(errnf)
	case KindUnavailable:
		w.WriteHeader(http.StatusServiceUnavailable)
		ne = json.NewEncoder(w).Encode(messageJSONResp{Message: "service unavailable"})
	case KindCanceled:
		w.WriteHeader(statusClientClosed)
		ne = json.NewEncoder(w).Encode(messageJSONResp{Message: "request canceled"})
	case KindInternal, KindNone:
		w.WriteHeader(http.StatusInternalServerError)
		ne = json.NewEncoder(w).Encode(messageJSONResp{Message: "server error"})
	}
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}

func IsAlive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(statusAlive)
}

// RequestLogger tags each request with a snowflake ID, exposes a child logger
// through the request context and writes one access log line per request.
func RequestLogger(logger *zerolog.Logger) func(http.Handler) http.Handler {
	node, err := snowflake.NewNode(1)
	if err != nil {
		// node 1 is always within range
		panic(err)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := node.Generate().String()
			reqLog := logger.With().Str("req_id", reqID).Logger()
			w.Header().Set("X-Request-ID", reqID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(reqLog.WithContext(r.Context())))

			reqLog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
