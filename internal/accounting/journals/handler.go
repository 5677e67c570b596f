package journals

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler serves journal lifecycle endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers journal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/journal-entries", h.list)
	r.Post("/journal-entries", h.create)
	r.Get("/journal-entries/{id}", h.get)
	r.Put("/journal-entries/{id}", h.update)
	r.Get("/journal-entries/{id}/approvals", h.history)
	r.Post("/journal-entries/{id}/submit", h.lifecycle(h.service.Submit))
	r.Post("/journal-entries/{id}/approve", h.lifecycle(h.service.Approve))
	r.Post("/journal-entries/{id}/reject", h.lifecycle(h.service.Reject))
	r.Post("/journal-entries/{id}/recall", h.lifecycle(h.service.Recall))
	r.Post("/journal-entries/{id}/void", h.lifecycle(h.service.Void))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := accounting.JournalFilter{
		Status: accounting.EntryStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unknown status")
		return
	}
	if raw := q.Get("period_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid period_id")
			return
		}
		filter.PeriodID = id
	}
	var err error
	if filter.From, err = httpx.QueryDate(r, "start"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = httpx.QueryDate(r, "end"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	pagination := shared.NewPagination(page, perPage, 0)
	filter.Limit = pagination.PerPage
	filter.Offset = pagination.Offset()

	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list journals", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"journal_entries": entries, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	logs, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"approvals": logs})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	in, err := decodeDraft(r, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.CreateDraft(r.Context(), in)
	if err != nil {
		h.logger.Warn("create draft", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
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
	in, err := decodeDraft(r, actorID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.UpdateDraft(r.Context(), id, in)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type lifecycleFunc func(ctx context.Context, id, actorID int64, note string) (accounting.JournalEntry, error)

func (h *Handler) lifecycle(fn lifecycleFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		var req TransitionRequest
		if r.ContentLength > 0 {
			if err := httpx.DecodeJSON(r, &req); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		entry, err := fn(r.Context(), id, actorID, req.Note)
		if err != nil {
			h.logger.Warn("journal transition", slog.Int64("entry_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, entry)
	}
}

func decodeDraft(r *http.Request, actorID int64) (accounting.DraftInput, error) {
	var req DraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return accounting.DraftInput{}, err
	}
	return req.Input(actorID)
}
