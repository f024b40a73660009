// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list holding pending rating jobs.
const DefaultQueueName = "pugbot_rating_jobs"

// RatingJob asks the rating worker to resolve a match log for two rosters and
// apply the result. Team A played red, team B played blu.
type RatingJob struct {
	ID         uuid.UUID    `json:"id"`
	GuildID    string       `json:"guild_id"`
	Track      models.Track `json:"track"`
	TeamA      []string     `json:"team_a"`
	TeamB      []string     `json:"team_b"`
	EnqueuedAt int64        `json:"enqueued_at"` // unix seconds
}

// Queue is a FIFO of rating jobs backed by a Redis list.
type Queue struct {
	rdb  *redis.Client
	name string
}

// ConnectRedis creates a client and pings it.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// NewQueue returns a queue on the named list, DefaultQueueName when empty.
func NewQueue(rdb *redis.Client, name string) *Queue {
	if name == "" {
		name = DefaultQueueName
	}
	return &Queue{rdb: rdb, name: name}
}

// Enqueue serializes the job and RPushes it.
func (q *Queue) Enqueue(ctx context.Context, job RatingJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.EnqueuedAt == 0 {
		job.EnqueuedAt = time.Now().Unix()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal RatingJob: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}

// Pop blocks up to timeout for the next job. ok is false when the wait timed
// out with nothing queued.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (job RatingJob, ok bool, err error) {
	res, err := q.rdb.BLPop(ctx, timeout, q.name).Result()
	if errors.Is(err, redis.Nil) {
		return RatingJob{}, false, nil
	}
	if err != nil {
		return RatingJob{}, false, fmt.Errorf("BLPop %s: %w", q.name, err)
	}
	// res[0] is the list name, res[1] the payload
	if len(res) < 2 {
		return RatingJob{}, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return RatingJob{}, false, fmt.Errorf("invalid rating job: %w", err)
	}
	return job, true, nil
}

// Len reports the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}
