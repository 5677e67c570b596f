package ledger_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
)

func newRouter(t *testing.T) (*lt.Fixture, http.Handler) {
	t.Helper()
	f := lt.New(t)
	r := chi.NewRouter()
	ledger.NewHandler(f.Logger, ledger.NewService(f.Store, nil, f.Logger)).MountRoutes(r)
	return f, r
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestTrialBalanceEndpoint(t *testing.T) {
	f, h := newRouter(t)
	f.Posted(t, lt.Input("JE-1", "2026-01-10", lt.Line(lt.Cash, "500.00", ""), lt.Line(lt.Sales, "", "500.00")))

	rec := get(t, h, "/trial-balance?start=2026-01-01&end=2026-01-31&category=asset,revenue")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Rows []struct {
			Code        string `json:"code"`
			PeriodDebit string `json:"period_debit"`
		} `json:"rows"`
		Totals struct {
			EndingDebit  string `json:"ending_debit"`
			EndingCredit string `json:"ending_credit"`
		} `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 2)
	require.Equal(t, "1100", body.Rows[0].Code)
	require.Equal(t, "500", body.Rows[0].PeriodDebit)
	require.Equal(t, body.Totals.EndingDebit, body.Totals.EndingCredit)
}

func TestLedgerEndpointErrors(t *testing.T) {
	_, h := newRouter(t)

	cases := []struct {
		target string
		status int
	}{
		{"/trial-balance?end=2026-01-31", http.StatusBadRequest},
		{"/trial-balance?start=2026-02-01&end=2026-01-31", http.StatusUnprocessableEntity},
		{"/trial-balance?start=2026-01-01&end=2026-01-31&include_zero=maybe", http.StatusBadRequest},
		{"/accounts/404/activity?start=2026-01-01&end=2026-01-31", http.StatusNotFound},
		{"/accounts/2/activity?start=2026-01-01&end=2026-01-31", http.StatusOK},
		{"/journal-entries/404/ledger", http.StatusNotFound},
		{"/reports/balance-sheet?as_of=2026-01-31", http.StatusOK},
		{"/reports/balance-sheet", http.StatusBadRequest},
		{"/reports/profit-loss?start=2026-01-01&end=2026-01-31", http.StatusOK},
		{"/reports/statements?start=2026-01-01&end=2026-01-31", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			rec := get(t, h, tc.target)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}
