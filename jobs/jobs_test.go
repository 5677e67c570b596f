package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
	lt "github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

type recordingAlerter struct{ incidents []integrity.Incident }

func (r *recordingAlerter) EnqueueIntegrityAlert(_ context.Context, incident integrity.Incident) error {
	r.incidents = append(r.incidents, incident)
	return nil
}

func TestGLIntegrityJobCountsFindings(t *testing.T) {
	f := lt.New(t)
	ctx := context.Background()
	monitor := integrity.NewMonitor(f.Store, f.Logger, func() string { return "inc" })
	alerter := &recordingAlerter{}
	monitor.WithAlerter(alerter)

	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := jobs.NewGLIntegrityJob(monitor, f.Logger, metrics)

	task, err := jobs.NewGLIntegrityTask(jobs.GLIntegrityPayload{Trigger: "manual"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Empty(t, alerter.incidents)

	f.Posted(t, lt.Input("JE-1", "2026-01-10", lt.Line(lt.Cash, "50.00", ""), lt.Line(lt.Sales, "", "50.00")))
	require.NoError(t, f.Store.Corrupt(ctx, lt.Cash, decimal.RequireFromString("1.00")))

	require.NoError(t, job.Handle(ctx, asynq.NewTask(jobs.TaskGLIntegrity, nil)))
	require.NotEmpty(t, alerter.incidents)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FindingCounter("account_balance")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.FindingCounter("rollup")))
}

func TestGLIntegrityJobRejectsBadPayload(t *testing.T) {
	f := lt.New(t)
	monitor := integrity.NewMonitor(f.Store, f.Logger, nil)
	job := jobs.NewGLIntegrityJob(monitor, f.Logger, nil)
	err := job.Handle(context.Background(), asynq.NewTask(jobs.TaskGLIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	var unset *jobs.GLIntegrityJob
	require.Error(t, unset.Handle(context.Background(), asynq.NewTask(jobs.TaskGLIntegrity, nil)))
}

func TestIntegrityAlertTaskRoundTrip(t *testing.T) {
	incident := integrity.Incident{
		ID:         "inc-42",
		Kind:       "account_balance",
		AccountIDs: []int64{lt.Cash, lt.Assets},
		Detail:     "balance drift",
		DetectedAt: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC),
	}
	task, opts, err := jobs.NewIntegrityAlertTask(incident)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskIntegrityAlert, task.Type())
	require.Len(t, opts, 3)

	var delivered []integrity.Incident
	handler := jobs.IntegrityAlertHandler{Notify: func(_ context.Context, in integrity.Incident) error {
		delivered = append(delivered, in)
		return nil
	}}
	require.NoError(t, handler.Handle(context.Background(), task))
	require.Equal(t, []integrity.Incident{incident}, delivered)

	failing := jobs.IntegrityAlertHandler{Notify: func(context.Context, integrity.Incident) error {
		return errors.New("pager down")
	}}
	require.Error(t, failing.Handle(context.Background(), task))
	require.ErrorIs(t, handler.Handle(context.Background(), asynq.NewTask(jobs.TaskIntegrityAlert, []byte("nope"))), asynq.SkipRetry)

	_, opts, err = jobs.NewIntegrityAlertTask(integrity.Incident{Kind: "rollup"})
	require.NoError(t, err)
	require.Len(t, opts, 2)
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthEndpoint(t *testing.T) {
	serve := func(inspector jobs.QueueInspector) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		jobs.NewHandler(inspector, nil).MountRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rec
	}

	rec := serve(fakeInspector{infos: map[string]*asynq.QueueInfo{
		jobs.QueueCritical: {Queue: jobs.QueueCritical, Pending: 2, Archived: 1},
	}})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Queues []struct {
			Queue   string `json:"queue"`
			Pending int    `json:"pending"`
			Failed  int    `json:"failed"`
		} `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	require.Equal(t, jobs.QueueCritical, body.Queues[0].Queue)
	require.Equal(t, 2, body.Queues[0].Pending)
	require.Equal(t, 1, body.Queues[0].Failed)
	require.Equal(t, 0, body.Queues[1].Pending)

	rec = serve(fakeInspector{err: errors.New("redis down")})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
