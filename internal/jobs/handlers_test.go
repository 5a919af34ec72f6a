package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockbook/backend/internal/blob"
	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/logging"
	"stockbook/backend/internal/observability"
)

type fakeReconciler struct {
	users   []string
	allRuns int
	err     error
}

func (f *fakeReconciler) ReconcileLedger(_ context.Context, userID string) (*domain.ReconcileReport, error) {
	f.users = append(f.users, userID)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ReconcileReport{UserID: userID, ProductsChecked: 1}, nil
}

func (f *fakeReconciler) ReconcileAll(context.Context) ([]domain.ReconcileReport, error) {
	f.allRuns++
	if f.err != nil {
		return nil, f.err
	}
	return []domain.ReconcileReport{{
		UserID: "usr_1",
		Drifts: []domain.ProductDrift{{ProductID: "prd_1", StoredProfit: decimal.NewFromInt(5), LedgerProfit: decimal.NewFromInt(4)}},
	}}, nil
}

func TestNewLedgerReconcileTaskPayload(t *testing.T) {
	task, err := NewLedgerReconcileTask("  usr_1 ")
	require.NoError(t, err)
	require.Equal(t, TaskLedgerReconcile, task.Type())

	var payload LedgerReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "usr_1", payload.UserID)
}

func TestLedgerReconcileJobScopesToUser(t *testing.T) {
	rec := &fakeReconciler{}
	job := &LedgerReconcileJob{Reconciler: rec, Logger: logging.Discard(), Metrics: observability.NewMetrics()}

	task, err := NewLedgerReconcileTask("usr_9")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []string{"usr_9"}, rec.users)
	require.Zero(t, rec.allRuns)
}

func TestLedgerReconcileJobRunsAllWhenUnscoped(t *testing.T) {
	rec := &fakeReconciler{}
	job := &LedgerReconcileJob{Reconciler: rec, Logger: logging.Discard()}

	task, err := NewLedgerReconcileTask("")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, rec.allRuns)
}

func TestLedgerReconcileJobPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	job := &LedgerReconcileJob{Reconciler: &fakeReconciler{err: boom}}

	task, err := NewLedgerReconcileTask("")
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestLedgerReconcileJobSkipsRetryOnBadPayload(t *testing.T) {
	job := &LedgerReconcileJob{Reconciler: &fakeReconciler{}}
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestBlobCleanupJobDeletesObject(t *testing.T) {
	blobs := blob.NewMemoryStore("")
	url, err := blobs.Put(context.Background(), "usr_1/products/a.jpg", "image/jpeg", []byte("x"))
	require.NoError(t, err)

	job := &BlobCleanupJob{Blobs: blobs, Logger: logging.Discard()}
	task, err := NewBlobCleanupTask(url)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Zero(t, blobs.Len())
}

func TestBlobCleanupJobSkipsEmptyURL(t *testing.T) {
	job := &BlobCleanupJob{Blobs: blob.NewMemoryStore("")}
	task, err := NewBlobCleanupTask("  ")
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestNewWorkerSkipsIncompleteRegistrations(t *testing.T) {
	task, err := NewLedgerReconcileTask("")
	require.NoError(t, err)

	w, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Handlers:  []TaskHandler{{Type: "", Handler: nil}},
		Cron:      []CronRegistration{{Spec: "", Task: task}},
	})
	require.NoError(t, err)
	require.NotNil(t, w)
}
