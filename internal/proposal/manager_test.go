package proposal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pugbot/internal/balance"
	"github.com/jason-s-yu/pugbot/internal/cache"
	"github.com/jason-s-yu/pugbot/internal/config"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rooms = config.RoomSet{
	Waiting:  "waiting",
	NextGame: "next",
	A:        config.RoomPair{Red: "a-red", Blu: "a-blu"},
	B:        config.RoomPair{Red: "b-red", Blu: "b-blu"},
}

type fakeRoster struct {
	mu    sync.Mutex
	rooms map[string][]string
}

func (r *fakeRoster) Snapshot(_ context.Context, roomIDs ...string) ([]models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Member
	for _, room := range roomIDs {
		for _, id := range r.rooms[room] {
			out = append(out, models.Member{ID: id, RoomID: room})
		}
	}
	return out, nil
}

type fakePools struct{}

func (fakePools) Build(_ context.Context, members []models.Member, next string) (balance.Pool, error) {
	var p balance.Pool
	for _, m := range members {
		p.Candidates = append(p.Candidates, models.Candidate{
			Record:   models.NewPugRecord(m.ID),
			Priority: m.RoomID == next,
			RoomID:   m.RoomID,
		})
	}
	return p, nil
}

// splitBalancer deals alternately and counts calls.
type splitBalancer struct{ calls int }

func (b *splitBalancer) Balance(pool []models.Candidate, teamSize int, _ models.Track) (balance.Teams, error) {
	b.calls++
	if len(pool) < teamSize {
		return balance.Teams{}, balance.ErrInsufficientPlayers
	}
	var t balance.Teams
	for i, c := range pool {
		switch {
		case i >= 2*teamSize:
			t.Bench = append(t.Bench, c)
		case i%2 == 0:
			t.A = append(t.A, c)
		default:
			t.B = append(t.B, c)
		}
	}
	return t, nil
}

type fakeMover struct {
	mu     sync.Mutex
	moves  map[string]string
	broken map[string]bool
}

func (m *fakeMover) MovePlayer(_ context.Context, id, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.broken[id] {
		return errors.New("member left voice")
	}
	if m.moves == nil {
		m.moves = make(map[string]string)
	}
	m.moves[id] = room
	return nil
}

func (m *fakeMover) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.moves)
}

type fakeRecorder struct {
	runs    []string
	touched []string
}

func (r *fakeRecorder) RecordRun(_ context.Context, runnerID string, track models.Track, _ time.Time) error {
	r.runs = append(r.runs, runnerID+":"+string(track))
	return nil
}

func (r *fakeRecorder) TouchLastActive(_ context.Context, ids []string, _ time.Time) error {
	r.touched = append(r.touched, ids...)
	return nil
}

type fakeQueue struct{ jobs []cache.RatingJob }

func (q *fakeQueue) Enqueue(_ context.Context, job cache.RatingJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

type fixture struct {
	mgr      *Manager
	roster   *fakeRoster
	balancer *splitBalancer
	mover    *fakeMover
	recorder *fakeRecorder
	queue    *fakeQueue
}

func newFixture(t *testing.T, proposalTimeout, undoTimeout time.Duration) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	f := &fixture{
		roster:   &fakeRoster{rooms: map[string][]string{}},
		balancer: &splitBalancer{},
		mover:    &fakeMover{},
		recorder: &fakeRecorder{},
		queue:    &fakeQueue{},
	}
	f.mgr = NewManager(Deps{
		Roster:          f.roster,
		Pools:           fakePools{},
		Balancer:        f.balancer,
		Mover:           f.mover,
		Recorder:        f.recorder,
		Queue:           f.queue,
		Logger:          logger,
		ProposalTimeout: proposalTimeout,
		UndoTimeout:     undoTimeout,
	})
	return f
}

func players(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func draftRequest(size int) Request {
	return Request{RunnerID: "runner", GuildID: "g", Track: models.TrackRegular, TeamSize: size, Rooms: rooms}
}

func TestProposeAndConfirm(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	f.roster.rooms["next"] = players("n", 2)
	f.roster.rooms["waiting"] = players("w", 10)
	f.roster.rooms["b-red"] = []string{"busy"}

	v, err := f.mgr.Propose(context.Background(), draftRequest(6))
	require.NoError(t, err)
	assert.Equal(t, StateProposed, v.State)
	assert.Equal(t, KindDraft, v.Kind)
	assert.Len(t, v.TeamA, 6)
	assert.Len(t, v.TeamB, 6)
	assert.True(t, v.Available[SideA])
	assert.False(t, v.Available[SideB])

	_, err = f.mgr.Confirm(context.Background(), v.ID, "runner", SideB)
	assert.ErrorIs(t, err, ErrDestinationOccupied)
	assert.Zero(t, f.mover.count())

	v, err = f.mgr.Confirm(context.Background(), v.ID, "runner", SideA)
	require.NoError(t, err)
	assert.Equal(t, StateUndoOffered, v.State)
	assert.Equal(t, 12, v.Moved)
	assert.Zero(t, v.Failed)
	for _, c := range v.TeamA {
		assert.Equal(t, "a-red", f.mover.moves[c.ID()])
	}
	for _, c := range v.TeamB {
		assert.Equal(t, "a-blu", f.mover.moves[c.ID()])
	}

	assert.Equal(t, []string{"runner:regular"}, f.recorder.runs)
	assert.Len(t, f.recorder.touched, 12)
	assert.Empty(t, f.queue.jobs, "a freshly drafted match has no result to rate")
}

func TestOnlyRunnerMayAct(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	f.roster.rooms["waiting"] = players("w", 4)

	v, err := f.mgr.Propose(context.Background(), draftRequest(2))
	require.NoError(t, err)

	_, err = f.mgr.Reroll(context.Background(), v.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.mgr.Confirm(context.Background(), v.ID, "intruder", SideA)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.mgr.Cancel(v.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	got, ok := f.mgr.Get(v.ID)
	require.True(t, ok)
	assert.Equal(t, StateProposed, got.State)
	assert.Equal(t, 1, f.balancer.calls)
	assert.Zero(t, f.mover.count())
}

func TestReroll(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	f.roster.rooms["waiting"] = players("w", 4)

	v, err := f.mgr.Propose(context.Background(), draftRequest(2))
	require.NoError(t, err)

	f.roster.rooms["waiting"] = players("late", 8)
	rv, err := f.mgr.Reroll(context.Background(), v.ID, "runner")
	require.NoError(t, err)
	assert.Equal(t, StateProposed, rv.State)
	assert.Equal(t, 2, f.balancer.calls)
	assert.ElementsMatch(t, ids(v.TeamA), ids(rv.TeamA), "reroll keeps the original pool")
}

func TestCancelHasNoSideEffects(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	f.roster.rooms["waiting"] = players("w", 4)

	v, err := f.mgr.Propose(context.Background(), draftRequest(2))
	require.NoError(t, err)

	v, err = f.mgr.Cancel(v.ID, "runner")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, v.State)
	assert.Zero(t, f.mover.count())
	assert.Empty(t, f.recorder.runs)
	assert.Zero(t, f.mgr.Len())

	_, err = f.mgr.Confirm(context.Background(), v.ID, "runner", SideA)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestProposeErrors(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	f.roster.rooms["waiting"] = players("w", 3)

	_, err := f.mgr.Propose(context.Background(), draftRequest(6))
	assert.ErrorIs(t, err, balance.ErrInsufficientPlayers)
	assert.Zero(t, f.mgr.Len())
}

func TestUndoMovesBack(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	f.roster.rooms["next"] = []string{"n0"}
	f.roster.rooms["waiting"] = players("w", 3)
	f.mover.broken = map[string]bool{"w2": true}

	v, err := f.mgr.Propose(context.Background(), draftRequest(2))
	require.NoError(t, err)
	v, err = f.mgr.Confirm(context.Background(), v.ID, "runner", SideA)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Moved)
	assert.Equal(t, 1, v.Failed, "one broken move does not stop the others")

	v, err = f.mgr.Undo(context.Background(), v.ID, "runner")
	require.NoError(t, err)
	assert.Equal(t, StateUndone, v.State)
	assert.Equal(t, "next", f.mover.moves["n0"])
	assert.Equal(t, "waiting", f.mover.moves["w0"])
	assert.Equal(t, "waiting", f.mover.moves["w1"])

	_, err = f.mgr.Undo(context.Background(), v.ID, "runner")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCloseUndo(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	f.roster.rooms["waiting"] = players("w", 4)

	v, err := f.mgr.Propose(context.Background(), draftRequest(2))
	require.NoError(t, err)
	_, err = f.mgr.Confirm(context.Background(), v.ID, "runner", SideA)
	require.NoError(t, err)

	_, err = f.mgr.CloseUndo(v.ID, "intruder")
	assert.ErrorIs(t, err, ErrNotAuthorized)

	v, err = f.mgr.CloseUndo(v.ID, "runner")
	require.NoError(t, err)
	assert.Equal(t, StateUndoExpired, v.State)
	assert.Zero(t, f.mgr.Len())
}

func TestProposalTimesOut(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond, time.Minute)
	f.roster.rooms["waiting"] = players("w", 4)

	expired := make(chan View, 1)
	f.mgr.OnExpire(func(v View) { expired <- v })

	v, err := f.mgr.Propose(context.Background(), draftRequest(2))
	require.NoError(t, err)

	select {
	case got := <-expired:
		assert.Equal(t, v.ID, got.ID)
		assert.Equal(t, StateTimedOut, got.State)
	case <-time.After(2 * time.Second):
		t.Fatal("proposal never timed out")
	}
	_, ok := f.mgr.Get(v.ID)
	assert.False(t, ok)
	assert.Zero(t, f.mover.count())
}

func TestUndoWindowExpires(t *testing.T) {
	f := newFixture(t, time.Minute, 20*time.Millisecond)
	f.roster.rooms["waiting"] = players("w", 4)

	expired := make(chan View, 1)
	f.mgr.OnExpire(func(v View) { expired <- v })

	v, err := f.mgr.Propose(context.Background(), draftRequest(2))
	require.NoError(t, err)
	_, err = f.mgr.Confirm(context.Background(), v.ID, "runner", SideA)
	require.NoError(t, err)

	select {
	case got := <-expired:
		assert.Equal(t, StateUndoExpired, got.State)
	case <-time.After(2 * time.Second):
		t.Fatal("undo window never closed")
	}
	_, err = f.mgr.Undo(context.Background(), v.ID, "runner")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestReturnQueuesRating(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	f.roster.rooms["a-red"] = []string{"r0", "r1"}
	f.roster.rooms["a-blu"] = []string{"b0", "b1"}
	f.roster.rooms["waiting"] = []string{"queued"}

	v, err := f.mgr.ProposeReturn(context.Background(), Request{
		RunnerID: "runner", GuildID: "g", Track: models.TrackNovice, Side: SideA, Rooms: rooms,
	})
	require.NoError(t, err)
	assert.Equal(t, KindReturn, v.Kind)
	assert.False(t, v.Available[SideB])

	v, err = f.mgr.Confirm(context.Background(), v.ID, "runner", SideA)
	require.NoError(t, err)
	assert.True(t, v.RatingQueued)
	assert.Equal(t, "next", f.mover.moves["queued"])
	assert.Equal(t, "waiting", f.mover.moves["r0"])
	assert.Equal(t, "waiting", f.mover.moves["b1"])
	assert.Empty(t, f.recorder.runs)

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, models.TrackNovice, job.Track)
	assert.Equal(t, []string{"r0", "r1"}, job.TeamA)
	assert.Equal(t, []string{"b0", "b1"}, job.TeamB)

	_, err = f.mgr.Undo(context.Background(), v.ID, "runner")
	require.NoError(t, err)
	assert.Equal(t, "a-red", f.mover.moves["r0"])
	assert.Equal(t, "a-blu", f.mover.moves["b1"])
	assert.Equal(t, "next", f.mover.moves["queued"], "only the teams are moved back")
	assert.Len(t, f.queue.jobs, 1, "undo does not touch ratings")
}

func TestSmallReturnIsNotRated(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	f.roster.rooms["b-red"] = []string{"r0"}
	f.roster.rooms["b-blu"] = []string{"b0", "b1"}

	v, err := f.mgr.ProposeReturn(context.Background(), Request{RunnerID: "runner", Side: SideB, Rooms: rooms})
	require.NoError(t, err)
	v, err = f.mgr.Confirm(context.Background(), v.ID, "runner", SideB)
	require.NoError(t, err)
	assert.False(t, v.RatingQueued)
	assert.Empty(t, f.queue.jobs)
}

func TestReturnWithEmptyRooms(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	_, err := f.mgr.ProposeReturn(context.Background(), Request{RunnerID: "runner", Side: SideA, Rooms: rooms})
	assert.ErrorIs(t, err, ErrEmptyRooms)
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, time.Minute, time.Minute)
	_, err := f.mgr.Confirm(context.Background(), uuid.New(), "runner", SideA)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
