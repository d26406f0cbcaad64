package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Retry budget for a verification job. asynq retries failed tasks with its
// default exponential backoff and archives them once the budget is spent,
// which is this system's dead-letter state.
const verifyMaxRetry = 3

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueVerifyChore persists a verification job to the Redis-backed queue.
// An error here means the job does not exist anywhere; the caller must report
// the submission as failed rather than let it vanish silently.
func (c *Client) EnqueueVerifyChore(ctx context.Context, payload VerifyChorePayload) (*asynq.TaskInfo, error) {
	task, err := NewVerifyChoreTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(verifyMaxRetry),
		asynq.Timeout(2*time.Minute),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
