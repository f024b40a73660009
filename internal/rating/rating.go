// Package rating adjusts participant ratings from a finished match.
//
// Each side is treated as one player rated at its members' mean. The change a
// side receives is base × (rounds won / total rounds − expected win chance),
// truncated down, and every member of the side gets the same change.
package rating

import (
	"math"
	"time"

	"github.com/jason-s-yu/pugbot/internal/models"
)

const (
	// BaseChange is the rating swing for a full upset.
	BaseChange = 40.0
	// BlowoutMultiplier scales BaseChange for short shutouts.
	BlowoutMultiplier = 1.2
	// BlowoutDuration is the length below which a shutout counts as a blowout.
	BlowoutDuration = 15 * time.Minute
	// Scale is the rating gap at which the stronger side is a 10:1 favourite.
	Scale = 300.0
)

// MatchResult is the part of a match log the rating math needs.
type MatchResult struct {
	ScoreA   int
	ScoreB   int
	Duration time.Duration
}

// TotalRounds is ScoreA+ScoreB, never below one.
func (r MatchResult) TotalRounds() int {
	return max(1, r.ScoreA+r.ScoreB)
}

// Blowout reports whether the amplifier applies.
func (r MatchResult) Blowout() bool {
	return r.Duration < BlowoutDuration && (r.ScoreA == 0 || r.ScoreB == 0)
}

// Outcome is a match result from one side's perspective.
type Outcome int

const (
	Loss Outcome = iota
	Tie
	Win
)

// Outcomes returns the result for side A and side B.
func (r MatchResult) Outcomes() (a, b Outcome) {
	switch {
	case r.ScoreA > r.ScoreB:
		return Win, Loss
	case r.ScoreA < r.ScoreB:
		return Loss, Win
	default:
		return Tie, Tie
	}
}

// WinProbability is P(X beats Y) for mean ratings x and y.
func WinProbability(x, y float64) float64 {
	return 1 / (1 + math.Pow(10, (y-x)/Scale))
}

// Deltas computes the rating change for each side. The amplified base, when
// it applies, is used for both sides.
func Deltas(meanA, meanB float64, r MatchResult) (deltaA, deltaB int) {
	base := BaseChange
	if r.Blowout() {
		base *= BlowoutMultiplier
	}
	total := float64(r.TotalRounds())
	ratioA := float64(r.ScoreA) / total
	ratioB := float64(r.ScoreB) / total

	deltaA = int(math.Floor(base * (ratioA - WinProbability(meanA, meanB))))
	deltaB = int(math.Floor(base * (ratioB - WinProbability(meanB, meanA))))
	return deltaA, deltaB
}

// MeanRating averages the track rating of records. It is 0 for no records.
func MeanRating(records []models.PugRecord, track models.Track) float64 {
	if len(records) == 0 {
		return 0
	}
	sum := 0
	for i := range records {
		sum += records[i].Rating(track)
	}
	return float64(sum) / float64(len(records))
}

// Apply returns stats after one match with the given change and outcome.
func Apply(s models.TrackStats, delta int, o Outcome) models.TrackStats {
	s.Rating += delta
	switch o {
	case Win:
		s.Wins++
	case Loss:
		s.Losses++
	default:
		s.Ties++
	}
	return s
}
