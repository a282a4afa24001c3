// Package queue hands build requests to the execution engine over Redis and
// reads back the results it reports.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyvo/buildmaster/pkg/builds"
)

const (
	keyPrefix  = "buildmaster"
	resultsKey = keyPrefix + ":results"
	requestTTL = 24 * time.Hour
)

// ErrRequestNotFound is returned when a request record has expired or never
// existed.
var ErrRequestNotFound = errors.New("build request not found")

func requestKey(id string) string { return fmt.Sprintf("%s:build:%s", keyPrefix, id) }

// requestQueueKey is the list a single worker pops for one builder, so a
// request is only ever seen by the worker it was resolved to.
func requestQueueKey(worker, builder string) string {
	return fmt.Sprintf("%s:requests:%s:%s", keyPrefix, worker, builder)
}

type Queue struct {
	redis *redis.Client
	// PollTimeout bounds each blocking pop.
	PollTimeout time.Duration
}

func NewQueue(redisURL string) (*Queue, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewWithClient(client), nil
}

func NewWithClient(client *redis.Client) *Queue {
	return &Queue{redis: client, PollTimeout: 5 * time.Second}
}

// Submit stores each request record and pushes its ID onto the queue of its
// resolved builder. All requests are written in one transaction.
func (q *Queue) Submit(ctx context.Context, reqs []builds.Request) error {
	payloads := make([][]byte, len(reqs))
	for i, req := range reqs {
		data, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode request %s: %w", req.ID, err)
		}
		payloads[i] = data
	}

	_, err := q.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, req := range reqs {
			pipe.Set(ctx, requestKey(req.ID), payloads[i], requestTTL)
			pipe.RPush(ctx, requestQueueKey(req.Worker, req.Builder), req.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue build requests: %w", err)
	}
	return nil
}

// Dequeue pops the next request for builder on worker. It returns nil, nil
// when the queue stays empty for PollTimeout.
func (q *Queue) Dequeue(ctx context.Context, worker, builder string) (*builds.Request, error) {
	result, err := q.redis.BLPop(ctx, q.PollTimeout, requestQueueKey(worker, builder)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q.GetRequest(ctx, result[1])
}

func (q *Queue) GetRequest(ctx context.Context, id string) (*builds.Request, error) {
	data, err := q.redis.Get(ctx, requestKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%s: %w", id, ErrRequestNotFound)
	}
	if err != nil {
		return nil, err
	}

	var req builds.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", id, err)
	}
	return &req, nil
}

// PublishResult appends a result to the results list. Engines call this when
// a build finishes.
func (q *Queue) PublishResult(ctx context.Context, result builds.Result) error {
	if err := result.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return q.redis.RPush(ctx, resultsKey, data).Err()
}

// NextResult pops the next result, or returns nil, nil after PollTimeout.
func (q *Queue) NextResult(ctx context.Context) (*builds.Result, error) {
	raw, err := q.redis.BLPop(ctx, q.PollTimeout, resultsKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result builds.Result
	if err := json.Unmarshal([]byte(raw[1]), &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// Consume passes results to handle until ctx is done. Malformed results are
// reported through onError and skipped.
func (q *Queue) Consume(ctx context.Context, handle func(context.Context, builds.Result), onError func(error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		result, err := q.NextResult(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if onError != nil {
				onError(err)
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			// Back off on connection errors.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if result == nil {
			continue
		}
		if err := result.Validate(); err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}
		handle(ctx, *result)
	}
}

func (q *Queue) QueueLength(ctx context.Context, worker, builder string) (int64, error) {
	return q.redis.LLen(ctx, requestQueueKey(worker, builder)).Result()
}

func (q *Queue) Close() error {
	return q.redis.Close()
}
