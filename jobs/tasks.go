// Package jobs hosts the asynq worker, its task definitions and handlers.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries integrity alerts ahead of routine work.
	QueueCritical = "critical"
	// TaskGLIntegrity runs the full general ledger integrity check.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskIntegrityAlert delivers one integrity incident to operators.
	TaskIntegrityAlert = "ledger:integrity_alert"
)

// GLIntegrityPayload describes why a check was requested.
type GLIntegrityPayload struct {
	Trigger string `json:"trigger"`
}

// NewGLIntegrityTask constructs an Asynq task.
func NewGLIntegrityTask(payload GLIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrity, data), nil
}

// NewIntegrityAlertTask wraps an incident. The incident id doubles as the task
// id so a retried escalation does not alert twice.
func NewIntegrityAlertTask(incident integrity.Incident) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(incident)
	if err != nil {
		return nil, nil, err
	}
	opts := []asynq.Option{asynq.Queue(QueueCritical), asynq.MaxRetry(10)}
	if incident.ID != "" {
		opts = append(opts, asynq.TaskID(incident.ID))
	}
	return asynq.NewTask(TaskIntegrityAlert, data), opts, nil
}

// IntegrityAlertHandler delivers alerts. Notify is the outbound channel; when
// nil the alert is only logged.
type IntegrityAlertHandler struct {
	Logger *slog.Logger
	Notify func(ctx context.Context, incident integrity.Incident) error
}

// Handle processes TaskIntegrityAlert tasks.
func (h IntegrityAlertHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var incident integrity.Incident
	if err := json.Unmarshal(t.Payload(), &incident); err != nil {
		return asynq.SkipRetry
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "ledger integrity alert",
		slog.String("incident_id", incident.ID),
		slog.String("kind", incident.Kind),
		slog.Any("account_ids", incident.AccountIDs),
		slog.String("detail", incident.Detail),
		slog.Time("detected_at", incident.DetectedAt),
	)
	if h.Notify == nil {
		return nil
	}
	return h.Notify(ctx, incident)
}
