// internal/proposal/session.go
package proposal

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/pugbot/internal/balance"
	"github.com/jason-s-yu/pugbot/internal/config"
	"github.com/jason-s-yu/pugbot/internal/models"
)

// State is where a session sits in the confirmation flow.
type State string

const (
	StateProposed    State = "proposed"
	StateConfirmed   State = "confirmed"
	StateCancelled   State = "cancelled"
	StateTimedOut    State = "timed_out"
	StateMoved       State = "moved"
	StateUndoOffered State = "undo_offered"
	StateUndone      State = "undone"
	StateUndoExpired State = "undo_expired"
)

// Terminal reports whether no further action is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCancelled, StateTimedOut, StateUndone, StateUndoExpired:
		return true
	}
	return false
}

// Kind separates drafting new teams from sending finished teams back.
type Kind string

const (
	// KindDraft balances the waiting rooms and moves both teams into a
	// destination pair.
	KindDraft Kind = "draft"
	// KindReturn empties a team pair back into the waiting room once its match
	// is over, and rates that match.
	KindReturn Kind = "return"
)

// Side picks one of the two destination room pairs.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// Pair returns the rooms for the side.
func (s Side) Pair(rooms config.RoomSet) config.RoomPair {
	if s == SideB {
		return rooms.B
	}
	return rooms.A
}

// ParseSide accepts "a" or "b".
func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case SideA, SideB:
		return Side(s), true
	}
	return "", false
}

// Request starts a session.
type Request struct {
	RunnerID string
	GuildID  string
	Track    models.Track
	TeamSize int  // draft only
	Side     Side // return only: the pair being emptied
	Rooms    config.RoomSet
}

// View is a read-only copy of a session, safe to render after the lock is
// released.
type View struct {
	ID        uuid.UUID
	Kind      Kind
	State     State
	RunnerID  string
	Track     models.Track
	TeamSize  int
	TeamA     []models.Candidate
	TeamB     []models.Candidate
	Bench     []models.Candidate
	Banned    []string
	Available map[Side]bool
	Side      Side // chosen pair once confirmed; the emptied pair for a return
	Moved     int
	Failed    int
	// RatingQueued is set once a rating job for the match has been queued.
	RatingQueued bool
	ExpiresAt    time.Time
}

// Players is the number of participants across both teams.
func (v View) Players() int {
	return len(v.TeamA) + len(v.TeamB)
}

// Session is one in-flight proposal.
type Session struct {
	mu sync.Mutex

	id   uuid.UUID
	kind Kind
	req  Request

	state     State
	pool      balance.Pool
	teams     balance.Teams
	available map[Side]bool
	side      Side
	// prior maps each moved participant to the room they left.
	prior        map[string]string
	moved        int
	failed       int
	ratingQueued bool

	timer     *time.Timer
	gen       int // bumped whenever the timer is replaced
	expiresAt time.Time
}

func (s *Session) view() View {
	avail := make(map[Side]bool, len(s.available))
	for k, v := range s.available {
		avail[k] = v
	}
	side := s.side
	if side == "" {
		side = s.req.Side
	}
	return View{
		ID:           s.id,
		Kind:         s.kind,
		State:        s.state,
		RunnerID:     s.req.RunnerID,
		Track:        s.req.Track,
		TeamSize:     s.req.TeamSize,
		TeamA:        append([]models.Candidate(nil), s.teams.A...),
		TeamB:        append([]models.Candidate(nil), s.teams.B...),
		Bench:        append([]models.Candidate(nil), s.teams.Bench...),
		Banned:       append([]string(nil), s.pool.Banned...),
		Available:    avail,
		Side:         side,
		Moved:        s.moved,
		Failed:       s.failed,
		RatingQueued: s.ratingQueued,
		ExpiresAt:    s.expiresAt,
	}
}

// stopTimer cancels the pending timeout, if any.
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}
