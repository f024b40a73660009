package balance

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jason-s-yu/pugbot/internal/models"
)

// levelRolePrefix names the externally managed skill tier roles, "Level 0"
// through "Level 3".
const levelRolePrefix = "Level "

// RecordSource is the slice of the rating store needed to build a pool.
type RecordSource interface {
	EnsurePugRecords(ctx context.Context, ids []string) error
	GetPugRecords(ctx context.Context, ids []string) (map[string]models.PugRecord, error)
}

// BanSource reports which of the given participants are pug banned.
type BanSource interface {
	BannedAmong(ctx context.Context, ids []string) (map[string]bool, error)
}

// Pool is the candidate list for one balancing session.
type Pool struct {
	Candidates []models.Candidate
	// Banned lists members present in the rooms but excluded from play.
	Banned []string
}

// PoolBuilder turns a roster snapshot into candidates.
type PoolBuilder struct {
	Records RecordSource
	Bans    BanSource
}

// Build makes candidates of every unbanned member, creating rating records on
// the way. Members in nextGameRoom get priority.
func (pb *PoolBuilder) Build(ctx context.Context, members []models.Member, nextGameRoom string) (Pool, error) {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}

	banned, err := pb.Bans.BannedAmong(ctx, ids)
	if err != nil {
		return Pool{}, fmt.Errorf("failed to check bans: %w", err)
	}
	if err := pb.Records.EnsurePugRecords(ctx, ids); err != nil {
		return Pool{}, err
	}
	records, err := pb.Records.GetPugRecords(ctx, ids)
	if err != nil {
		return Pool{}, err
	}

	var pool Pool
	for _, m := range members {
		if banned[m.ID] {
			pool.Banned = append(pool.Banned, m.ID)
			continue
		}
		rec, ok := records[m.ID]
		if !ok {
			rec = models.NewPugRecord(m.ID)
		}
		pool.Candidates = append(pool.Candidates, models.Candidate{
			Record:      rec,
			Priority:    m.RoomID == nextGameRoom,
			SkillTier:   SkillTier(m.RoleNames),
			ClassLocked: rec.ClassLocked(),
			RoomID:      m.RoomID,
		})
	}
	return pool, nil
}

// SkillTier returns the highest "Level N" role held, 0 when there is none.
func SkillTier(roleNames []string) int {
	tier := 0
	for _, name := range roleNames {
		n, ok := strings.CutPrefix(name, levelRolePrefix)
		if !ok {
			continue
		}
		if v, err := strconv.Atoi(strings.TrimSpace(n)); err == nil && v > tier {
			tier = v
		}
	}
	return tier
}
