package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a local redis; skipped otherwise.
func testQueue(t *testing.T) *Queue {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	name := "pugbot_test_" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), name) })
	return NewQueue(rdb, name)
}

func TestQueueRoundTrip(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	first := RatingJob{GuildID: "g", Track: models.TrackNovice, TeamA: []string{"1", "2"}, TeamB: []string{"3", "4"}}
	second := RatingJob{GuildID: "g", Track: models.TrackRegular, TeamA: []string{"5"}, TeamB: []string{"6"}}
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, ok, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, got.ID, "enqueue assigns an id")
	assert.NotZero(t, got.EnqueuedAt)
	assert.Equal(t, models.TrackNovice, got.Track, "jobs pop in FIFO order")
	assert.Equal(t, []string{"3", "4"}, got.TeamB)

	got, ok, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.TrackRegular, got.Track)
}

func TestQueuePopTimesOut(t *testing.T) {
	q := testQueue(t)

	_, ok, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}
