// internal/proposal/manager.go

// Package proposal runs the interactive confirmation flow: propose teams,
// reroll, confirm a destination, then offer a short undo window.
//
// Only the operator who opened a session may act on it. Every wait is a
// timer, so no caller ever blocks on a pending session.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pugbot/internal/balance"
	"github.com/jason-s-yu/pugbot/internal/cache"
	"github.com/jason-s-yu/pugbot/internal/metrics"
	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultProposalTimeout = 120 * time.Second
	DefaultUndoTimeout     = 30 * time.Second

	// minRatedPlayers is the smallest match worth rating.
	minRatedPlayers = 4
)

var (
	ErrNotAuthorized       = errors.New("only the operator who started this may use it")
	ErrDestinationOccupied = errors.New("destination rooms are in use")
	ErrSessionClosed       = errors.New("this session is no longer active")
	ErrEmptyRooms          = errors.New("nobody is in the team rooms")
)

// Roster reports who currently sits in the given voice rooms.
type Roster interface {
	Snapshot(ctx context.Context, roomIDs ...string) ([]models.Member, error)
}

// PoolBuilder turns a roster snapshot into balancing candidates.
type PoolBuilder interface {
	Build(ctx context.Context, members []models.Member, nextGameRoom string) (balance.Pool, error)
}

// Balancer splits a pool into teams.
type Balancer interface {
	Balance(pool []models.Candidate, teamSize int, track models.Track) (balance.Teams, error)
}

// Mover places a participant in a voice room.
type Mover interface {
	MovePlayer(ctx context.Context, participantID, roomID string) error
}

// Recorder keeps operator and participant activity.
type Recorder interface {
	RecordRun(ctx context.Context, runnerID string, track models.Track, at time.Time) error
	TouchLastActive(ctx context.Context, ids []string, at time.Time) error
}

// JobQueue hands finished matches to the rating worker.
type JobQueue interface {
	Enqueue(ctx context.Context, job cache.RatingJob) error
}

// Deps wires a Manager. Recorder, Queue and Metrics may be nil.
type Deps struct {
	Roster   Roster
	Pools    PoolBuilder
	Balancer Balancer
	Mover    Mover
	Recorder Recorder
	Queue    JobQueue
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics

	ProposalTimeout time.Duration
	UndoTimeout     time.Duration
	// MoveConcurrency bounds parallel room moves; 0 means 4.
	MoveConcurrency int
}

// Manager owns every live session, keyed by id.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	roster   Roster
	pools    PoolBuilder
	balancer Balancer
	mover    Mover
	recorder Recorder
	queue    JobQueue
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	proposalTimeout time.Duration
	undoTimeout     time.Duration
	moveLimit       int
	now             func() time.Time

	hookMu   sync.Mutex
	onExpire func(View)
}

func NewManager(d Deps) *Manager {
	m := &Manager{
		sessions:        make(map[uuid.UUID]*Session),
		roster:          d.Roster,
		pools:           d.Pools,
		balancer:        d.Balancer,
		mover:           d.Mover,
		recorder:        d.Recorder,
		queue:           d.Queue,
		logger:          d.Logger,
		metrics:         d.Metrics,
		proposalTimeout: d.ProposalTimeout,
		undoTimeout:     d.UndoTimeout,
		moveLimit:       d.MoveConcurrency,
		now:             time.Now,
	}
	if m.proposalTimeout <= 0 {
		m.proposalTimeout = DefaultProposalTimeout
	}
	if m.undoTimeout <= 0 {
		m.undoTimeout = DefaultUndoTimeout
	}
	if m.moveLimit <= 0 {
		m.moveLimit = 4
	}
	return m
}

// OnExpire registers fn to be called, outside any lock, whenever a session
// times out or its undo window lapses.
func (m *Manager) OnExpire(fn func(View)) {
	m.hookMu.Lock()
	m.onExpire = fn
	m.hookMu.Unlock()
}

// Get returns the current view of a live session.
func (m *Manager) Get(id uuid.UUID) (View, bool) {
	s, ok := m.lookup(id)
	if !ok {
		return View{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(), true
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Propose drafts teams from the waiting and next-game rooms and opens a
// session awaiting confirmation.
func (m *Manager) Propose(ctx context.Context, req Request) (View, error) {
	members, err := m.roster.Snapshot(ctx, req.Rooms.NextGame, req.Rooms.Waiting)
	if err != nil {
		return View{}, fmt.Errorf("failed to read waiting rooms: %w", err)
	}
	pool, err := m.pools.Build(ctx, members, req.Rooms.NextGame)
	if err != nil {
		return View{}, err
	}
	teams, err := m.balancer.Balance(pool.Candidates, req.TeamSize, req.Track)
	if err != nil {
		return View{}, err
	}
	avail, err := m.availability(ctx, req)
	if err != nil {
		return View{}, err
	}

	s := &Session{
		id:        uuid.New(),
		kind:      KindDraft,
		req:       req,
		state:     StateProposed,
		pool:      pool,
		teams:     teams,
		available: avail,
	}
	return m.open(s), nil
}

// ProposeReturn opens a session that sends the players of one finished
// match back to the waiting room.
func (m *Manager) ProposeReturn(ctx context.Context, req Request) (View, error) {
	pair := req.Side.Pair(req.Rooms)
	red, err := m.roster.Snapshot(ctx, pair.Red)
	if err != nil {
		return View{}, fmt.Errorf("failed to read team rooms: %w", err)
	}
	blu, err := m.roster.Snapshot(ctx, pair.Blu)
	if err != nil {
		return View{}, fmt.Errorf("failed to read team rooms: %w", err)
	}
	if len(red)+len(blu) == 0 {
		return View{}, ErrEmptyRooms
	}

	s := &Session{
		id:        uuid.New(),
		kind:      KindReturn,
		req:       req,
		state:     StateProposed,
		teams:     balance.Teams{A: asCandidates(red), B: asCandidates(blu)},
		available: map[Side]bool{req.Side: true},
	}
	return m.open(s), nil
}

func (m *Manager) open(s *Session) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.armTimer(s, StateProposed, StateTimedOut, m.proposalTimeout)
	m.logger.WithFields(logrus.Fields{
		"session": s.id,
		"kind":    s.kind,
		"runner":  s.req.RunnerID,
		"track":   s.req.Track,
		"players": len(s.teams.A) + len(s.teams.B),
	}).Info("proposal opened")
	return s.view()
}

// Reroll reruns the balancer over the same pool and restarts the timeout.
func (m *Manager) Reroll(ctx context.Context, id uuid.UUID, actor string) (View, error) {
	s, err := m.acquire(id, actor, StateProposed)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()
	if s.kind != KindDraft {
		return s.view(), ErrSessionClosed
	}

	teams, err := m.balancer.Balance(s.pool.Candidates, s.req.TeamSize, s.req.Track)
	if err != nil {
		return s.view(), err
	}
	if avail, err := m.availability(ctx, s.req); err == nil {
		s.available = avail
	} else {
		m.logger.WithError(err).Warn("failed to refresh destination occupancy")
	}
	s.teams = teams
	m.armTimer(s, StateProposed, StateTimedOut, m.proposalTimeout)
	return s.view(), nil
}

// Cancel discards a proposal. Nothing has been moved or written yet.
func (m *Manager) Cancel(id uuid.UUID, actor string) (View, error) {
	s, err := m.acquire(id, actor, StateProposed)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()

	s.stopTimer()
	m.finish(s, StateCancelled)
	return s.view(), nil
}

// Confirm commits the proposal: players are moved, an undo window opens and,
// for a returning match of at least four, a rating job is queued.
func (m *Manager) Confirm(ctx context.Context, id uuid.UUID, actor string, side Side) (View, error) {
	s, err := m.acquire(id, actor, StateProposed)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()

	if !s.available[side] {
		return s.view(), ErrDestinationOccupied
	}
	if s.kind == KindDraft {
		avail, err := m.availability(ctx, s.req)
		if err != nil {
			return s.view(), err
		}
		s.available = avail
		if !avail[side] {
			return s.view(), ErrDestinationOccupied
		}
	}

	s.stopTimer()
	s.state = StateConfirmed
	s.side = side
	now := m.now()

	var moves []move
	switch s.kind {
	case KindDraft:
		m.recordActivity(ctx, s, now)
		moves = m.draftMoves(s)
	case KindReturn:
		var err error
		if moves, err = m.returnMoves(ctx, s); err != nil {
			m.logger.WithError(err).WithField("session", s.id).Warn("failed to read waiting room")
		}
	}

	s.prior = make(map[string]string)
	for _, mv := range moves {
		if mv.undo {
			s.prior[mv.participantID] = mv.from
		}
	}
	s.moved, s.failed = m.moveAll(ctx, moves)
	s.state = StateMoved

	if s.kind == KindReturn && len(s.teams.A)+len(s.teams.B) >= minRatedPlayers {
		m.queueRating(ctx, s)
	}

	s.state = StateUndoOffered
	m.armTimer(s, StateUndoOffered, StateUndoExpired, m.undoTimeout)
	m.metrics.ProposalFinished(string(s.req.Track), string(StateConfirmed))
	m.logger.WithFields(logrus.Fields{
		"session": s.id,
		"side":    side,
		"moved":   s.moved,
		"failed":  s.failed,
	}).Info("proposal confirmed")
	return s.view(), nil
}

// Undo puts everyone moved by Confirm back where they were. Ratings are
// left alone.
func (m *Manager) Undo(ctx context.Context, id uuid.UUID, actor string) (View, error) {
	s, err := m.acquire(id, actor, StateUndoOffered)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()

	s.stopTimer()
	moves := make([]move, 0, len(s.prior))
	for pid, room := range s.prior {
		moves = append(moves, move{participantID: pid, to: room})
	}
	s.moved, s.failed = m.moveAll(ctx, moves)
	m.finish(s, StateUndone)
	return s.view(), nil
}

// CloseUndo gives up the undo window early.
func (m *Manager) CloseUndo(id uuid.UUID, actor string) (View, error) {
	s, err := m.acquire(id, actor, StateUndoOffered)
	if err != nil {
		return View{}, err
	}
	defer s.mu.Unlock()

	s.stopTimer()
	m.finish(s, StateUndoExpired)
	return s.view(), nil
}

func (m *Manager) lookup(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// acquire returns the session locked, after checking the actor and state.
func (m *Manager) acquire(id uuid.UUID, actor string, want State) (*Session, error) {
	s, ok := m.lookup(id)
	if !ok {
		return nil, ErrSessionClosed
	}
	s.mu.Lock()
	if s.req.RunnerID != actor {
		s.mu.Unlock()
		m.logger.WithFields(logrus.Fields{"session": id, "actor": actor}).Debug("rejected foreign actor")
		return nil, ErrNotAuthorized
	}
	if s.state != want {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	return s, nil
}

// armTimer replaces the session timer. When it fires and the session is still
// in from, the session moves to the terminal state to. Caller holds s.mu.
func (m *Manager) armTimer(s *Session, from, to State, d time.Duration) {
	s.stopTimer()
	gen := s.gen
	s.expiresAt = m.now().Add(d)
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen != gen || s.state != from {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		m.finish(s, to)
		v := s.view()
		s.mu.Unlock()

		m.hookMu.Lock()
		hook := m.onExpire
		m.hookMu.Unlock()
		if hook != nil {
			hook(v)
		}
	})
}

// finish moves s to a terminal state and forgets it. Caller holds s.mu.
func (m *Manager) finish(s *Session, st State) {
	s.state = st
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()

	if st != StateUndone && st != StateUndoExpired {
		m.metrics.ProposalFinished(string(s.req.Track), string(st))
	}
	m.logger.WithFields(logrus.Fields{"session": s.id, "state": st}).Debug("proposal closed")
}

// availability checks which destination pairs are empty.
func (m *Manager) availability(ctx context.Context, req Request) (map[Side]bool, error) {
	avail := make(map[Side]bool, 2)
	for _, side := range []Side{SideA, SideB} {
		pair := side.Pair(req.Rooms)
		if pair.Red == "" || pair.Blu == "" {
			continue
		}
		occupants, err := m.roster.Snapshot(ctx, pair.Rooms()...)
		if err != nil {
			return nil, fmt.Errorf("failed to read destination rooms: %w", err)
		}
		avail[side] = len(occupants) == 0
	}
	return avail, nil
}

func (m *Manager) recordActivity(ctx context.Context, s *Session, now time.Time) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordRun(ctx, s.req.RunnerID, s.req.Track, now); err != nil {
		m.logger.WithError(err).Warn("failed to record run")
	}
	if err := m.recorder.TouchLastActive(ctx, ids(s.teams.Players()), now); err != nil {
		m.logger.WithError(err).Warn("failed to update last active")
	}
}

func (m *Manager) queueRating(ctx context.Context, s *Session) {
	if m.queue == nil {
		return
	}
	err := m.queue.Enqueue(ctx, cache.RatingJob{
		GuildID: s.req.GuildID,
		Track:   s.req.Track,
		TeamA:   ids(s.teams.A),
		TeamB:   ids(s.teams.B),
	})
	if err != nil {
		m.logger.WithError(err).WithField("session", s.id).Warn("failed to queue rating job")
		return
	}
	s.ratingQueued = true
}

func asCandidates(members []models.Member) []models.Candidate {
	out := make([]models.Candidate, len(members))
	for i, mem := range members {
		out[i] = models.Candidate{Record: models.NewPugRecord(mem.ID), RoomID: mem.RoomID}
	}
	return out
}

func ids(cs []models.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID()
	}
	return out
}
