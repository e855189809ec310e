package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"resortwala/internal/models"
)

const (
	redisQueueKey      = "resortwala:sheets:queue"
	redisDeadLetterKey = "resortwala:sheets:deadletter"
)

// taskQueue is the fast path in front of the sync_queue table. Losing a queued
// task is harmless: the poller picks it up from the table.
type taskQueue interface {
	push(ctx context.Context, task models.SyncTask) error
	// pop waits up to wait for a task.
	pop(ctx context.Context, wait time.Duration) (models.SyncTask, bool, error)
	deadLetter(ctx context.Context, task models.SyncTask) error
}

type memoryQueue struct {
	ch chan models.SyncTask
}

func newMemoryQueue(size int) *memoryQueue {
	return &memoryQueue{ch: make(chan models.SyncTask, size)}
}

var errQueueFull = errors.New("queue full")

func (q *memoryQueue) push(_ context.Context, task models.SyncTask) error {
	select {
	case q.ch <- task:
		return nil
	default:
		return errQueueFull
	}
}

func (q *memoryQueue) pop(ctx context.Context, wait time.Duration) (models.SyncTask, bool, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case t := <-q.ch:
		return t, true, nil
	case <-timer.C:
		return models.SyncTask{}, false, nil
	case <-ctx.Done():
		return models.SyncTask{}, false, nil
	}
}

func (q *memoryQueue) deadLetter(context.Context, models.SyncTask) error { return nil }

// redisQueue is a list: LPUSH on enqueue, BRPOP on consume. Failed tasks go to
// a separate dead letter list for inspection.
type redisQueue struct {
	client *redis.Client
}

func (q *redisQueue) push(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, redisQueueKey, data).Err()
}

func (q *redisQueue) pop(ctx context.Context, wait time.Duration) (models.SyncTask, bool, error) {
	res, err := q.client.BRPop(ctx, wait, redisQueueKey).Result()
	switch {
	case errors.Is(err, redis.Nil), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return models.SyncTask{}, false, nil
	case err != nil:
		return models.SyncTask{}, false, err
	case len(res) != 2:
		return models.SyncTask{}, false, nil
	}

	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return models.SyncTask{}, false, err
	}
	return task, true, nil
}

func (q *redisQueue) deadLetter(ctx context.Context, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, redisDeadLetterKey, data).Err()
}
