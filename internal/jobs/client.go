package jobs

import (
	"context"

	"github.com/hibiken/asynq"
)

// Client submits jobs to the queue. It satisfies the service dispatcher.
type Client struct {
	client *asynq.Client
}

func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

func (c *Client) EnqueueReconcile(ctx context.Context, userID string) error {
	task, err := NewLedgerReconcileTask(userID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

func (c *Client) EnqueueBlobCleanup(ctx context.Context, url string) error {
	task, err := NewBlobCleanupTask(url)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

func (c *Client) Close() error {
	return c.client.Close()
}
