package app

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	// ActorHeader carries the authenticated user id set by the identity proxy.
	ActorHeader = "X-Actor-ID"
	// IdempotencyHeader names the client-chosen replay key.
	IdempotencyHeader = "Idempotency-Key"

	maxBodyBytes = 1 << 20
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger      *slog.Logger
	Config      *Config
	Idempotency *shared.IdempotencyStore
	Metrics     *observability.Metrics
}

// MiddlewareStack installs the ledger middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	perMinute := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		perMinute = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		ActorMiddleware,
		httprate.Limit(perMinute, time.Minute, httprate.WithKeyFuncs(actorOrIPKey)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	if cfg.Idempotency != nil {
		middlewares = append(middlewares, IdempotencyMiddleware(cfg.Idempotency, cfg.Logger))
	}
	return middlewares
}

// ActorMiddleware moves the X-Actor-ID header into the request context.
// Routes decide whether an actor is required.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+ActorHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), id)))
	})
}

func actorOrIPKey(r *http.Request) (string, error) {
	if id, ok := shared.ActorFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(id, 10), nil
	}
	return httprate.KeyByIP(r)
}

type capturingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *capturingWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *capturingWriter) Write(data []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

// IdempotencyMiddleware replays the stored response of a completed request
// carrying the same Idempotency-Key. Server errors release the key so the
// client can retry.
func IdempotencyMiddleware(store *shared.IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut) {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				httpx.Problem(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			actorID, _ := shared.ActorFromContext(r.Context())
			fingerprint := shared.Fingerprint(actorID, r.Method, r.URL.Path, body)

			stored, err := store.Begin(r.Context(), key, fingerprint)
			switch {
			case errors.Is(err, shared.ErrIdempotencyMismatch):
				httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable Entity", err.Error())
				return
			case errors.Is(err, shared.ErrIdempotencyConflict):
				httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
				return
			case err != nil:
				logger.Error("idempotency begin", slog.String("key", key), slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "idempotency store unavailable")
				return
			case stored != nil:
				for name, values := range stored.Header {
					for _, v := range values {
						w.Header().Add(name, v)
					}
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			rec := &capturingWriter{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			ctx := r.Context()
			if rec.status >= http.StatusInternalServerError {
				if err := store.Delete(ctx, key); err != nil {
					logger.Warn("idempotency release", slog.String("key", key), slog.Any("error", err))
				}
				return
			}
			header := http.Header{}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				header.Set("Content-Type", ct)
			}
			if err := store.Complete(ctx, key, shared.StoredResponse{
				Status:      rec.status,
				Header:      header,
				Body:        rec.body.Bytes(),
				Fingerprint: fingerprint,
			}); err != nil {
				logger.Warn("idempotency complete", slog.String("key", key), slog.Any("error", err))
			}
		})
	}
}
