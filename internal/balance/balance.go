// Package balance splits a pool of waiting participants into two teams.
//
// Draft order puts the next-game queue ahead of the waiting room. The first
// 2×teamSize candidates play; at most two class-locked candidates may be among
// them. Players are then ordered by skill tier (shuffled within a tier) and
// dealt in chunks of four, alternating ABBA and BAAB, so each side receives a
// similar spread of tiers without sorting strictly on rating.
package balance

import (
	"errors"
	"math/rand/v2"
	"sort"

	"github.com/jason-s-yu/pugbot/internal/models"
)

var (
	ErrInsufficientPlayers     = errors.New("not enough players to form teams")
	ErrUnsatisfiableConstraint = errors.New("too many class-locked players and no unlocked replacement on the bench")
	ErrInvalidTeamSize         = errors.New("team size must be between 2 and 9")
)

const (
	MinTeamSize = 2
	MaxTeamSize = 9

	// maxClassLocked is the number of class-locked players allowed to play.
	maxClassLocked = 2
	chunkSize      = 4
)

// Rand is the randomness the balancer draws on. *math/rand/v2.Rand satisfies
// it; tests substitute a deterministic source.
type Rand interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// globalRand uses the concurrency-safe top-level math/rand/v2 source.
type globalRand struct{}

func (globalRand) IntN(n int) int                     { return rand.IntN(n) }
func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Teams is the result of one balancing run.
type Teams struct {
	A     []models.Candidate
	B     []models.Candidate
	Bench []models.Candidate // drafted after the active list, untouched
	// Displaced holds class-locked candidates swapped out of the active list.
	// They are not returned to the bench.
	Displaced []models.Candidate
}

// Players returns A followed by B.
func (t Teams) Players() []models.Candidate {
	out := make([]models.Candidate, 0, len(t.A)+len(t.B))
	out = append(out, t.A...)
	return append(out, t.B...)
}

// Balancer runs the team split. The zero value is not usable; use New.
type Balancer struct {
	rng Rand
}

// New returns a Balancer drawing from rng, or from math/rand/v2 when rng is nil.
func New(rng Rand) *Balancer {
	if rng == nil {
		rng = globalRand{}
	}
	return &Balancer{rng: rng}
}

// Balance splits pool into two teams of up to teamSize each. Banned
// participants must already be filtered out by the caller.
func (b *Balancer) Balance(pool []models.Candidate, teamSize int, track models.Track) (Teams, error) {
	if teamSize < MinTeamSize || teamSize > MaxTeamSize {
		return Teams{}, ErrInvalidTeamSize
	}
	if len(pool) < teamSize {
		return Teams{}, ErrInsufficientPlayers
	}

	ordered := draftOrder(pool)
	n := min(2*teamSize, len(ordered))
	active := append([]models.Candidate(nil), ordered[:n]...)
	bench := append([]models.Candidate(nil), ordered[n:]...)

	active, bench, displaced, err := b.resolveClassLocks(active, bench, track)
	if err != nil {
		return Teams{}, err
	}

	// A remaining locked pair is held out of the deal and split by hand.
	var rest, pair []models.Candidate
	if countLocked(active) == maxClassLocked {
		for _, c := range active {
			if c.ClassLocked {
				pair = append(pair, c)
			} else {
				rest = append(rest, c)
			}
		}
	} else {
		rest = active
	}

	teamA, teamB := b.deal(b.stratify(rest))
	teamA, teamB = b.split(pair, teamA, teamB)
	return Teams{A: teamA, B: teamB, Bench: bench, Displaced: displaced}, nil
}

// draftOrder puts priority candidates first, keeping relative order.
func draftOrder(pool []models.Candidate) []models.Candidate {
	out := make([]models.Candidate, 0, len(pool))
	for _, c := range pool {
		if c.Priority {
			out = append(out, c)
		}
	}
	for _, c := range pool {
		if !c.Priority {
			out = append(out, c)
		}
	}
	return out
}

func countLocked(cs []models.Candidate) int {
	n := 0
	for _, c := range cs {
		if c.ClassLocked {
			n++
		}
	}
	return n
}

// resolveClassLocks swaps random class-locked actives for the closest rated
// unlocked bench candidate until at most two remain.
func (b *Balancer) resolveClassLocks(active, bench []models.Candidate, track models.Track) ([]models.Candidate, []models.Candidate, []models.Candidate, error) {
	var locked []int
	for i, c := range active {
		if c.ClassLocked {
			locked = append(locked, i)
		}
	}

	var displaced []models.Candidate
	for len(locked) > maxClassLocked {
		k := b.rng.IntN(len(locked))
		idx := locked[k]
		removed := active[idx]
		target := removed.Record.Rating(track)

		best, bestDiff := -1, 0
		for j, c := range bench {
			if c.ClassLocked {
				continue
			}
			diff := abs(c.Record.Rating(track) - target)
			if best < 0 || diff < bestDiff {
				best, bestDiff = j, diff
			}
		}
		if best < 0 {
			return nil, nil, nil, ErrUnsatisfiableConstraint
		}

		active[idx] = bench[best]
		bench = append(bench[:best], bench[best+1:]...)
		locked = append(locked[:k], locked[k+1:]...)
		displaced = append(displaced, removed)
	}
	return active, bench, displaced, nil
}

// stratify orders candidates by skill tier ascending, shuffled within a tier.
func (b *Balancer) stratify(cs []models.Candidate) []models.Candidate {
	tiers := make(map[int][]models.Candidate)
	var keys []int
	for _, c := range cs {
		if _, ok := tiers[c.SkillTier]; !ok {
			keys = append(keys, c.SkillTier)
		}
		tiers[c.SkillTier] = append(tiers[c.SkillTier], c)
	}
	sort.Ints(keys)

	out := make([]models.Candidate, 0, len(cs))
	for _, k := range keys {
		tier := tiers[k]
		b.shuffle(tier)
		out = append(out, tier...)
	}
	return out
}

// deal assigns chunks of four: odd chunks ABBA, even chunks BAAB. A trailing
// chunk of two is split one each in random order; a trailing chunk of one or
// three follows its pattern for the positions present.
func (b *Balancer) deal(seq []models.Candidate) (teamA, teamB []models.Candidate) {
	patterns := [2]string{"ABBA", "BAAB"}
	for start, idx := 0, 0; start < len(seq); start, idx = start+chunkSize, idx+1 {
		chunk := append([]models.Candidate(nil), seq[start:min(start+chunkSize, len(seq))]...)
		if len(chunk) == 2 {
			b.shuffle(chunk)
			teamA = append(teamA, chunk[0])
			teamB = append(teamB, chunk[1])
			continue
		}
		pattern := patterns[idx%2]
		for i, c := range chunk {
			if pattern[i] == 'A' {
				teamA = append(teamA, c)
			} else {
				teamB = append(teamB, c)
			}
		}
	}
	return teamA, teamB
}

// split gives one of pair to each side, the first going to the shorter team
// (A on a tie) so an odd pool stays within one player.
func (b *Balancer) split(pair, teamA, teamB []models.Candidate) ([]models.Candidate, []models.Candidate) {
	if len(pair) != maxClassLocked {
		return teamA, teamB
	}
	b.shuffle(pair)
	if len(teamA) <= len(teamB) {
		return append(teamA, pair[0]), append(teamB, pair[1])
	}
	return append(teamA, pair[1]), append(teamB, pair[0])
}

func (b *Balancer) shuffle(cs []models.Candidate) {
	b.rng.Shuffle(len(cs), func(i, j int) { cs[i], cs[j] = cs[j], cs[i] })
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
