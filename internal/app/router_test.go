package app_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/chart"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

type server struct {
	handler http.Handler
	fixture *lt.Fixture
}

func newServer(t *testing.T, ready func(*http.Request) error) *server {
	t.Helper()
	f := lt.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &app.Config{AppRequestTimeout: 5 * time.Second, RateLimitPerMinute: 1000}
	handler := app.NewRouter(app.RouterParams{
		Logger:         f.Logger,
		Config:         cfg,
		ChartHandler:   chart.NewHandler(f.Logger, chart.NewService(f.Store, nil, f.Logger)),
		JournalHandler: journals.NewHandler(f.Logger, f.Journals),
		PostingHandler: posting.NewHandler(f.Logger, f.Engine),
		LedgerHandler:  ledger.NewHandler(f.Logger, ledger.NewService(f.Store, ledger.NewCache(client, time.Minute, f.Logger), f.Logger)),
		Idempotency:    shared.NewIdempotencyStore(client, time.Hour),
		Metrics:        observability.NewMetrics(),
		Ready:          ready,
	})
	return &server{handler: handler, fixture: f}
}

func (s *server) do(t *testing.T, method, path string, actor int64, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor > 0 {
		req.Header.Set(app.ActorHeader, fmt.Sprint(actor))
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func draftBody(ref string) journals.DraftRequest {
	return journals.DraftRequest{
		EntryDate:    "2026-01-15",
		Reference:    ref,
		Currency:     "USD",
		FiscalYearID: 2026,
		PeriodID:     lt.PeriodJan2026,
		Lines: []journals.LineRequest{
			{AccountID: lt.Cash, Debit: "500.00"},
			{AccountID: lt.Sales, Credit: "500.00"},
		},
	}
}

func TestHealthzAndSecurityHeaders(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, http.MethodGet, "/healthz", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	down := newServer(t, func(*http.Request) error { return errors.New("db down") })
	require.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodGet, "/healthz", 0, nil).Code)

	rec = s.do(t, http.MethodGet, "/metrics", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "odyssey_http_requests_total")
}

func TestActorHeader(t *testing.T) {
	s := newServer(t, nil)
	require.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/journal-entries", 0, draftBody("JE-1")).Code)

	rec := s.do(t, http.MethodPost, "/journal-entries", 0, draftBody("JE-1"), app.ActorHeader, "abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/accounts", 0, nil).Code)
}

func TestIdempotentCreate(t *testing.T) {
	s := newServer(t, nil)
	first := s.do(t, http.MethodPost, "/journal-entries", lt.Clerk, draftBody("JE-1"), app.IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	replay := s.do(t, http.MethodPost, "/journal-entries", lt.Clerk, draftBody("JE-1"), app.IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusCreated, replay.Code)
	require.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	require.JSONEq(t, first.Body.String(), replay.Body.String())

	mismatch := s.do(t, http.MethodPost, "/journal-entries", lt.Clerk, draftBody("JE-2"), app.IdempotencyHeader, "k-1")
	require.Equal(t, http.StatusUnprocessableEntity, mismatch.Code)

	var list struct {
		Entries []json.RawMessage `json:"journal_entries"`
	}
	rec := s.do(t, http.MethodGet, "/journal-entries", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Entries, 1)
}

func TestLifecycleOverHTTP(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, http.MethodPost, "/journal-entries", lt.Clerk, draftBody("JE-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var entry struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	require.Equal(t, string(accounting.StatusDraft), entry.Status)
	path := fmt.Sprintf("/journal-entries/%d", entry.ID)

	require.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path+"/post", lt.Approver, nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/submit", lt.Clerk, map[string]string{}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/approve", lt.Approver, map[string]string{}).Code)
	rec = s.do(t, http.MethodPost, path+"/post", lt.Approver, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path+"/post", lt.Approver, nil).Code)

	rec = s.do(t, http.MethodGet, "/trial-balance?start=2026-01-01&end=2026-01-31", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tb struct {
		Totals struct {
			PeriodDebit  decimal.Decimal `json:"period_debit"`
			PeriodCredit decimal.Decimal `json:"period_credit"`
			EndingDebit  decimal.Decimal `json:"ending_debit"`
			EndingCredit decimal.Decimal `json:"ending_credit"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tb))
	lt.RequireAmount(t, "500.00", tb.Totals.PeriodDebit)
	lt.RequireAmount(t, "500.00", tb.Totals.PeriodCredit)
	lt.RequireAmount(t, "1500.00", tb.Totals.EndingDebit)
	lt.RequireAmount(t, "1500.00", tb.Totals.EndingCredit)
}
