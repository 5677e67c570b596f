package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// GLIntegrityJob recomputes balances from the ledger and escalates drift.
type GLIntegrityJob struct {
	Monitor *integrity.Monitor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob initialises the integrity check handler.
func NewGLIntegrityJob(monitor *integrity.Monitor, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &GLIntegrityJob{Monitor: monitor, Logger: logger, Metrics: metrics}
}

// Handle executes the check. Findings are escalated by the monitor; only a
// failure to run the check fails the task.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Monitor == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Trigger == "" {
		payload.Trigger = "cron"
	}

	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.Logger.With(slog.String("job", TaskGLIntegrity), slog.String("trigger", payload.Trigger))
	report, err := j.Monitor.Check(ctx)
	if err != nil {
		logger.Error("gl integrity check failed", slog.Any("error", err))
		return err
	}
	for _, incident := range report.Incidents {
		j.Metrics.AddFindings(incident.Kind, 1)
	}
	logger.Info("gl integrity check executed",
		slog.Int("accounts", report.AccountsChecked),
		slog.Int("ledger_rows", report.LedgerRows),
		slog.Int("incidents", len(report.Incidents)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
