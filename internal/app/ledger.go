package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/chart"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/locks"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type auditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// logAudit writes audit records to the log when no database is configured.
type logAudit struct{ logger *slog.Logger }

func (a logAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logger.InfoContext(ctx, "audit",
		slog.Int64("actor_id", log.ActorID),
		slog.String("action", log.Action),
		slog.String("entity", log.Entity),
		slog.String("entity_id", log.EntityID),
		slog.Any("meta", log.Meta),
	)
	return nil
}

// Deps are the external connections a Ledger is built over. Pool and Redis
// may be nil depending on configuration.
type Deps struct {
	Pool    *pgxpool.Pool
	Redis   redis.UniversalClient
	Metrics *observability.Metrics
	Alerter integrity.Alerter
}

// Ledger is the assembled accounting core shared by the server and worker.
type Ledger struct {
	Repo     accounting.RepositoryPort
	Calendar accounting.FiscalCalendar
	Chart    *chart.Service
	Journals *journals.Service
	Engine   *posting.Engine
	Ledger   *ledger.Service
	Cache    *ledger.Cache
	Monitor  *integrity.Monitor

	deps Deps
}

// BuildLedger wires the store, locks, report cache and integrity monitor
// according to cfg.
func BuildLedger(ctx context.Context, cfg *Config, logger *slog.Logger, deps Deps) (*Ledger, error) {
	var (
		repo      accounting.RepositoryPort
		calendar  accounting.FiscalCalendar
		approvals journals.ApprovalPort
		audit     auditPort
	)
	switch cfg.LedgerStore {
	case StorePostgres:
		if deps.Pool == nil {
			return nil, errors.New("app: postgres store requires a pool")
		}
		repo = accounting.NewRepository(deps.Pool, cfg.LockTimeout)
		calendar = accounting.NewCalendar(deps.Pool)
		approvals = shared.NewApprovalRecorder(deps.Pool, logger)
		audit = shared.NewAuditLogger(deps.Pool, logger)
	case StoreMemory:
		store := memstore.New(memstore.WithLockTimeout(cfg.LockTimeout))
		cal := memstore.NewCalendar()
		if cfg.SeedFile != "" {
			if err := loadSeed(ctx, cfg.SeedFile, store, cal); err != nil {
				return nil, err
			}
		}
		repo, calendar = store, cal
		approvals = memstore.NewApprovals()
		audit = logAudit{logger: logger}
	default:
		return nil, fmt.Errorf("app: unknown ledger store %q", cfg.LedgerStore)
	}

	var locker locks.Locker
	switch cfg.LockBackend {
	case LockRedis:
		if deps.Redis == nil {
			return nil, errors.New("app: redis lock backend requires a redis client")
		}
		locker = locks.NewRedisLocker(deps.Redis, locks.RedisOptions{Timeout: cfg.LockTimeout, Expiry: cfg.LockExpiry}, logger)
	default:
		locker = locks.NewMemoryLocker(cfg.LockTimeout)
	}

	monitor := integrity.NewMonitor(repo, logger, uuid.NewString)
	if deps.Metrics != nil {
		monitor.WithMetrics(deps.Metrics)
	}
	if deps.Alerter != nil {
		monitor.WithAlerter(deps.Alerter)
	}

	reportCache := ledger.NewCache(deps.Redis, cfg.ReportCacheTTL, logger)

	journalSvc := journals.NewService(repo, calendar, approvals, audit, logger)
	engine := posting.NewEngine(repo, calendar, locker, logger)
	engine.WithEscalator(monitor)
	engine.WithAudit(audit)
	engine.OnPosted(reportCache.Invalidate)
	if deps.Metrics != nil {
		journalSvc.WithObserver(deps.Metrics)
		engine.WithObserver(deps.Metrics)
	}

	ledgerSvc := ledger.NewService(repo, reportCache, logger)
	ledgerSvc.WithEscalator(monitor)

	return &Ledger{
		Repo:     repo,
		Calendar: calendar,
		Chart:    chart.NewService(repo, audit, logger),
		Journals: journalSvc,
		Engine:   engine,
		Ledger:   ledgerSvc,
		Cache:    reportCache,
		Monitor:  monitor,
		deps:     deps,
	}, nil
}

// Ready checks the external connections the ledger depends on.
func (l *Ledger) Ready(r *http.Request) error {
	ctx := r.Context()
	if l.deps.Pool != nil {
		if err := db.Ping(ctx, l.deps.Pool); err != nil {
			return err
		}
	}
	if l.deps.Redis != nil {
		if err := cache.Ping(ctx, l.deps.Redis); err != nil {
			return err
		}
	}
	return nil
}

func loadSeed(ctx context.Context, path string, store *memstore.Store, cal *memstore.Calendar) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("app: open seed: %w", err)
	}
	defer f.Close()
	return memstore.LoadSeed(ctx, f, store, cal)
}
