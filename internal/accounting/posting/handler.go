package posting

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// ReverseRequest is the wire form of a reversal call.
type ReverseRequest struct {
	ReversalDate string `json:"reversal_date" validate:"required,datetime=2006-01-02"`
	Reason       string `json:"reason" validate:"required,max=255"`
	PeriodID     int64  `json:"period_id" validate:"omitempty,gt=0"`
	FiscalYearID int64  `json:"fiscal_year_id" validate:"omitempty,gt=0"`
}

// Handler serves posting endpoints.
type Handler struct {
	engine *Engine
	logger *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers posting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/journal-entries/{id}/post", h.post)
	r.Post("/journal-entries/{id}/reverse", h.reverse)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.engine.Post(r.Context(), id, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ReverseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := time.Parse(time.DateOnly, req.ReversalDate)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: reversal_date", httpx.ErrBadRequest))
		return
	}
	result, err := h.engine.Reverse(r.Context(), ReverseInput{
		EntryID:      id,
		ReversalDate: date,
		Reason:       req.Reason,
		ActorID:      actorID,
		PeriodID:     req.PeriodID,
		FiscalYearID: req.FiscalYearID,
	})
	if err != nil {
		h.logger.Warn("reverse journal", slog.Int64("entry_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}
