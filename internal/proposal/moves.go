package proposal

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type move struct {
	participantID string
	from          string
	to            string
	undo          bool // reversed by Undo
}

// draftMoves sends team A to the red room and team B to the blu room of the
// chosen pair.
func (m *Manager) draftMoves(s *Session) []move {
	pair := s.side.Pair(s.req.Rooms)
	moves := make([]move, 0, len(s.teams.A)+len(s.teams.B))
	for _, c := range s.teams.A {
		moves = append(moves, move{participantID: c.ID(), from: c.RoomID, to: pair.Red, undo: true})
	}
	for _, c := range s.teams.B {
		moves = append(moves, move{participantID: c.ID(), from: c.RoomID, to: pair.Blu, undo: true})
	}
	return moves
}

// returnMoves promotes the waiting room to next game, then empties both team
// rooms into the waiting room. Only the team moves are undoable.
func (m *Manager) returnMoves(ctx context.Context, s *Session) ([]move, error) {
	rooms := s.req.Rooms
	var moves []move
	waiting, err := m.roster.Snapshot(ctx, rooms.Waiting)
	for _, mem := range waiting {
		moves = append(moves, move{participantID: mem.ID, from: rooms.Waiting, to: rooms.NextGame})
	}
	for _, c := range s.teams.Players() {
		moves = append(moves, move{participantID: c.ID(), from: c.RoomID, to: rooms.Waiting, undo: true})
	}
	return moves, err
}

// moveAll runs moves in parallel. A failed move is logged and skipped; it
// never stops the rest.
func (m *Manager) moveAll(ctx context.Context, moves []move) (moved, failed int) {
	var ok, bad atomic.Int32
	var g errgroup.Group
	g.SetLimit(m.moveLimit)
	for _, mv := range moves {
		g.Go(func() error {
			if err := m.mover.MovePlayer(ctx, mv.participantID, mv.to); err != nil {
				bad.Add(1)
				m.metrics.Move(false)
				m.logger.WithError(err).WithFields(logrus.Fields{
					"participant": mv.participantID,
					"room":        mv.to,
				}).Warn("failed to move participant")
				return nil
			}
			ok.Add(1)
			m.metrics.Move(true)
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load()), int(bad.Load())
}
