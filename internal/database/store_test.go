package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore connects to PUGBOT_TEST_DATABASE_URL; tests are skipped without it.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("PUGBOT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PUGBOT_TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ConnectDB(ctx, url))
	t.Cleanup(DB.Close)
	return NewStore(DB)
}

func newID() string {
	return "t-" + uuid.NewString()
}

func TestPugRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	a, b, missing := newID(), newID(), newID()

	require.NoError(t, s.EnsurePugRecords(ctx, []string{a, b}))
	rec, err := s.GetPugRecord(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultRating, rec.Regular.Rating)
	assert.Empty(t, rec.ClassRestrictions)
	assert.False(t, rec.HasSteamID())

	n, err := s.BulkUpdatePugStats(ctx, models.TrackNovice, []models.StatUpdate{
		{DiscordID: a, Stats: models.TrackStats{Rating: 1024, Wins: 1}},
		{DiscordID: b, Stats: models.TrackStats{Rating: 976, Losses: 1}},
		{DiscordID: missing, Stats: models.TrackStats{Rating: 1}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "ids without a row are skipped")

	recs, err := s.GetPugRecords(ctx, []string{a, b, missing})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, models.TrackStats{Rating: 1024, Wins: 1}, recs[a].Novice)
	assert.Equal(t, models.DefaultRating, recs[a].Regular.Rating, "other track untouched")

	require.NoError(t, s.SetSteamID(ctx, a, 76561197960266729))
	set, err := s.ToggleClassRestriction(ctx, a, models.ClassLockCode)
	require.NoError(t, err)
	assert.True(t, set)

	rec, err = s.GetPugRecord(ctx, a)
	require.NoError(t, err)
	assert.EqualValues(t, 76561197960266729, *rec.SteamID)
	assert.True(t, rec.ClassLocked())

	set, err = s.ToggleClassRestriction(ctx, a, models.ClassLockCode)
	require.NoError(t, err)
	assert.False(t, set)

	_, err = s.ToggleClassRestriction(ctx, a, models.SpyBanCode)
	require.NoError(t, err)
	_, err = s.ToggleClassRestriction(ctx, a, models.ScoutBanCode)
	require.NoError(t, err)
	rec, err = s.GetPugRecord(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []int{models.ScoutBanCode, models.SpyBanCode}, rec.ClassRestrictions)
}

func TestStrikeRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id := newID()

	_, err := s.GetStrikeRecord(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	rec, err := s.EnsureStrikeRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StrikeRecord{DiscordID: id}, rec)

	expiry := time.Now().UTC().Add(7 * 24 * time.Hour).Truncate(time.Microsecond)
	rec.StrikeCount, rec.TotalStrikeCount = 2, 2
	rec.Strike2, rec.TempBan = true, true
	rec.SecondStrikeExpiry = &expiry
	require.NoError(t, s.UpdateStrikeRecord(ctx, rec))

	got, err := s.GetStrikeRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.TempBan)
	assert.True(t, expiry.Equal(*got.SecondStrikeExpiry))

	banned, err := s.BannedAmong(ctx, []string{id, newID()})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{id: true}, banned)

	err = s.UpdateStrikeRecord(ctx, models.StrikeRecord{DiscordID: newID()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommentsAndRunners(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	id, runner := newID(), newID()

	require.NoError(t, s.AppendComment(ctx, id, "g1", "mod", "first"))
	require.NoError(t, s.AppendComment(ctx, id, "g1", "mod", "second"))
	require.NoError(t, s.AppendComment(ctx, id, "g2", "mod", "elsewhere"))

	comments, err := s.ListComments(ctx, id, "g1", 10)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "second", comments[0].Body, "newest first")

	rr, err := s.GetRunnerRecord(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, models.RunnerRecord{DiscordID: runner}, rr)

	now := time.Now().UTC()
	require.NoError(t, s.RecordRun(ctx, runner, models.TrackRegular, now))
	require.NoError(t, s.RecordRun(ctx, runner, models.TrackRegular, now))
	require.NoError(t, s.RecordRun(ctx, runner, models.TrackNovice, now))
	rr, err = s.GetRunnerRecord(ctx, runner)
	require.NoError(t, err)
	assert.Equal(t, 2, rr.RegularRuns)
	assert.Equal(t, 1, rr.NoviceRuns)
}
