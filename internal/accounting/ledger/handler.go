package ledger

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// Handler serves ledger read endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger and report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/accounts/{id}/activity", h.activity)
	r.Get("/journal-entries/{id}/ledger", h.entryLedger)
	r.Get("/trial-balance", h.trialBalance)
	r.Route("/reports", func(r chi.Router) {
		r.Get("/balance-sheet", h.balanceSheet)
		r.Get("/profit-loss", h.profitLoss)
		r.Get("/statements", h.statements)
	})
}

func dateRange(r *http.Request) (Range, error) {
	start, err := httpx.RequiredDate(r, "start")
	if err != nil {
		return Range{}, err
	}
	end, err := httpx.RequiredDate(r, "end")
	if err != nil {
		return Range{}, err
	}
	return Range{Start: start, End: end}, nil
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if _, ok := accounting.AsIntegrity(err); ok {
		h.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rng, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	activity, err := h.service.AccountActivity(r.Context(), id, rng)
	if err != nil {
		h.respondError(w, r, "account activity", err)
		return
	}
	httpx.JSON(w, http.StatusOK, activity)
}

func (h *Handler) entryLedger(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.EntryLedger(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "entry ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"journal_entry_id": id, "entries": rows})
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	rng, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := TrialBalanceQuery{Range: rng}
	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			q.Categories = append(q.Categories, accounting.Category(strings.ToUpper(strings.TrimSpace(part))))
		}
	}
	if raw := r.URL.Query().Get("include_zero"); raw != "" {
		q.IncludeZero, err = strconv.ParseBool(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: invalid include_zero", httpx.ErrBadRequest))
			return
		}
	}
	tb, err := h.service.TrialBalance(r.Context(), q)
	if err != nil {
		h.respondError(w, r, "trial balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	asOf, err := httpx.RequiredDate(r, "as_of")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	bs, err := h.service.BalanceSheet(r.Context(), asOf)
	if err != nil {
		h.respondError(w, r, "balance sheet", err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}

func (h *Handler) profitLoss(w http.ResponseWriter, r *http.Request) {
	rng, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pl, err := h.service.ProfitAndLoss(r.Context(), rng)
	if err != nil {
		h.respondError(w, r, "profit and loss", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) statements(w http.ResponseWriter, r *http.Request) {
	rng, err := dateRange(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.Statements(r.Context(), rng)
	if err != nil {
		h.respondError(w, r, "statements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
