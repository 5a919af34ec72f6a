package jobs

import (
	"encoding/json"
	"strings"

	"github.com/hibiken/asynq"
)

const (
	QueueDefault = "default"

	// TaskLedgerReconcile compares stored product profit with the sales log.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskBlobCleanup removes an uploaded object that is no longer referenced.
	TaskBlobCleanup = "blob:cleanup"
)

// LedgerReconcilePayload scopes a reconcile run. An empty UserID checks every user.
type LedgerReconcilePayload struct {
	UserID string `json:"user_id,omitempty"`
}

type BlobCleanupPayload struct {
	URL string `json:"url"`
}

func NewLedgerReconcileTask(userID string) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerReconcilePayload{UserID: strings.TrimSpace(userID)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, data, asynq.Queue(QueueDefault)), nil
}

func NewBlobCleanupTask(url string) (*asynq.Task, error) {
	data, err := json.Marshal(BlobCleanupPayload{URL: url})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBlobCleanup, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}
