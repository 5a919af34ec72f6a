package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"stockbook/backend/internal/blob"
	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/logging"
	"stockbook/backend/internal/observability"
)

// Reconciler is implemented by the service layer.
type Reconciler interface {
	ReconcileLedger(ctx context.Context, userID string) (*domain.ReconcileReport, error)
	ReconcileAll(ctx context.Context) ([]domain.ReconcileReport, error)
}

type LedgerReconcileJob struct {
	Reconciler Reconciler
	Logger     *logrus.Logger
	Metrics    *observability.Metrics
}

func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	defer func() { j.Metrics.JobProcessed(TaskLedgerReconcile, err) }()

	var reports []domain.ReconcileReport
	if payload.UserID != "" {
		report, rerr := j.Reconciler.ReconcileLedger(ctx, payload.UserID)
		if rerr != nil {
			logging.LogError(j.Logger, "jobs", "LedgerReconcileJob.Handle", "reconcile user", payload, rerr)
			return rerr
		}
		reports = append(reports, *report)
	} else {
		reports, err = j.Reconciler.ReconcileAll(ctx)
		if err != nil {
			logging.LogError(j.Logger, "jobs", "LedgerReconcileJob.Handle", "reconcile all", nil, err)
			return err
		}
	}

	if j.Logger == nil {
		return nil
	}
	for _, report := range reports {
		entry := j.Logger.WithFields(logrus.Fields{
			"user_id":          report.UserID,
			"products_checked": report.ProductsChecked,
			"sales_checked":    report.SalesChecked,
			"orphan_sales":     report.OrphanSales,
			"drifts":           len(report.Drifts),
		})
		if len(report.Drifts) > 0 {
			for _, d := range report.Drifts {
				entry.WithFields(logrus.Fields{
					"product_id":    d.ProductID,
					"stored_profit": d.StoredProfit.String(),
					"ledger_profit": d.LedgerProfit.String(),
				}).Warn("ledger drift detected")
			}
			continue
		}
		entry.Info("ledger reconciled")
	}
	return nil
}

type BlobCleanupJob struct {
	Blobs   blob.Store
	Logger  *logrus.Logger
	Metrics *observability.Metrics
}

func (j *BlobCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Blobs == nil {
		return errors.New("blob cleanup: handler not configured")
	}
	var payload BlobCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || strings.TrimSpace(payload.URL) == "" {
		return asynq.SkipRetry
	}
	defer func() { j.Metrics.JobProcessed(TaskBlobCleanup, err) }()

	if err := j.Blobs.Delete(ctx, payload.URL); err != nil {
		logging.LogError(j.Logger, "jobs", "BlobCleanupJob.Handle", "delete object", payload, err)
		return err
	}
	if j.Logger != nil {
		j.Logger.WithField("url", payload.URL).Info("blob removed")
	}
	return nil
}
