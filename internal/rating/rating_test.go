package rating

import (
	"testing"
	"time"

	"github.com/jason-s-yu/pugbot/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestWinProbability(t *testing.T) {
	assert.InDelta(t, 0.5, WinProbability(1000, 1000), 1e-9)
	assert.InDelta(t, 10.0/11.0, WinProbability(1300, 1000), 1e-9)
	assert.InDelta(t, 1.0, WinProbability(1300, 1000)+WinProbability(1000, 1300), 1e-9)
}

func TestDeltas(t *testing.T) {
	tests := []struct {
		name         string
		meanA, meanB float64
		result       MatchResult
		wantA, wantB int
	}{
		{"even sweep", 1000, 1000, MatchResult{ScoreA: 4, ScoreB: 0, Duration: 20 * time.Minute}, 20, -20},
		{"even blowout", 1000, 1000, MatchResult{ScoreA: 4, ScoreB: 0, Duration: 10 * time.Minute}, 24, -24},
		{"blowout favours B", 1000, 1000, MatchResult{ScoreA: 0, ScoreB: 5, Duration: 14 * time.Minute}, -24, 24},
		{"tie", 1000, 1000, MatchResult{ScoreA: 2, ScoreB: 2, Duration: 30 * time.Minute}, 0, 0},
		{"favourite wins, floored", 1300, 1000, MatchResult{ScoreA: 4, ScoreB: 0, Duration: 20 * time.Minute}, 3, -4},
		{"no rounds played", 1000, 1000, MatchResult{Duration: 20 * time.Minute}, -20, -20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := Deltas(tt.meanA, tt.meanB, tt.result)
			assert.Equal(t, tt.wantA, a)
			assert.Equal(t, tt.wantB, b)
		})
	}
}

func TestDeltaSignFollowsExpectation(t *testing.T) {
	// A outperforms its expected share in every case, B underperforms.
	for _, meanA := range []float64{700, 900, 1000} {
		for _, score := range [][2]int{{5, 1}, {3, 0}, {4, 2}} {
			r := MatchResult{ScoreA: score[0], ScoreB: score[1], Duration: 25 * time.Minute}
			a, b := Deltas(meanA, 1000, r)
			assert.Greater(t, a, 0, "meanA=%v score=%v", meanA, score)
			assert.Less(t, b, 0, "meanA=%v score=%v", meanA, score)
		}
	}
}

func TestBlowout(t *testing.T) {
	assert.True(t, MatchResult{ScoreA: 3, ScoreB: 0, Duration: 14*time.Minute + 59*time.Second}.Blowout())
	assert.False(t, MatchResult{ScoreA: 3, ScoreB: 0, Duration: 15 * time.Minute}.Blowout())
	assert.False(t, MatchResult{ScoreA: 3, ScoreB: 1, Duration: 5 * time.Minute}.Blowout())
}

func TestTotalRounds(t *testing.T) {
	assert.Equal(t, 1, MatchResult{}.TotalRounds())
	assert.Equal(t, 7, MatchResult{ScoreA: 4, ScoreB: 3}.TotalRounds())
}

func TestOutcomesAndApply(t *testing.T) {
	a, b := MatchResult{ScoreA: 3, ScoreB: 1}.Outcomes()
	assert.Equal(t, Win, a)
	assert.Equal(t, Loss, b)

	a, b = MatchResult{ScoreA: 2, ScoreB: 2}.Outcomes()
	assert.Equal(t, Tie, a)
	assert.Equal(t, Tie, b)

	s := models.TrackStats{Rating: 1000, Wins: 1, Losses: 2, Ties: 3}
	assert.Equal(t, models.TrackStats{Rating: 1012, Wins: 2, Losses: 2, Ties: 3}, Apply(s, 12, Win))
	assert.Equal(t, models.TrackStats{Rating: 988, Wins: 1, Losses: 3, Ties: 3}, Apply(s, -12, Loss))
	assert.Equal(t, models.TrackStats{Rating: 1000, Wins: 1, Losses: 2, Ties: 4}, Apply(s, 0, Tie))
}

func TestMeanRating(t *testing.T) {
	a := models.NewPugRecord("a")
	b := models.NewPugRecord("b")
	b.Novice.Rating = 1100
	b.Regular.Rating = 1300

	assert.Equal(t, 1050.0, MeanRating([]models.PugRecord{a, b}, models.TrackNovice))
	assert.Equal(t, 1150.0, MeanRating([]models.PugRecord{a, b}, models.TrackRegular))
	assert.Zero(t, MeanRating(nil, models.TrackRegular))
}
