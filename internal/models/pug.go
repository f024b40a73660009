// internal/models/pug.go
package models

import (
	"fmt"
	"slices"
	"time"
)

// DefaultRating is the starting rating on every track.
const DefaultRating = 1000

// Class restriction codes stored in pug_info.class_restrictions. The values
// are the game's class numbers.
const (
	ScoutBanCode   = 1
	SoldierBanCode = 2
	DemomanBanCode = 4
	// ClassLockCode marks a participant restricted to a single class (medic
	// lock). At most two such participants may be drafted at once.
	ClassLockCode = 7
	SniperBanCode = 8
	SpyBanCode    = 9
)

// ClassRestriction names one restriction code.
type ClassRestriction struct {
	Key   string // command choice and config key
	Code  int
	Label string
}

// ClassRestrictions lists every restriction in display order.
var ClassRestrictions = []ClassRestriction{
	{Key: "scout", Code: ScoutBanCode, Label: "Scout ban"},
	{Key: "soldier", Code: SoldierBanCode, Label: "Soldier ban"},
	{Key: "demoman", Code: DemomanBanCode, Label: "Demoman ban"},
	{Key: "medic", Code: ClassLockCode, Label: "Medic lock"},
	{Key: "sniper", Code: SniperBanCode, Label: "Sniper ban"},
	{Key: "spy", Code: SpyBanCode, Label: "Spy ban"},
}

// LookupClassRestriction finds a restriction by key.
func LookupClassRestriction(key string) (ClassRestriction, bool) {
	for _, r := range ClassRestrictions {
		if r.Key == key {
			return r, true
		}
	}
	return ClassRestriction{}, false
}

// Track selects one of the independent rating ledgers.
type Track string

const (
	TrackRegular Track = "regular"
	TrackNovice  Track = "novice"
)

// ParseTrack maps a command option to a Track. Empty input defaults to regular.
func ParseTrack(s string) (Track, error) {
	switch Track(s) {
	case "", TrackRegular:
		return TrackRegular, nil
	case TrackNovice:
		return TrackNovice, nil
	}
	return "", fmt.Errorf("unknown track %q", s)
}

// TrackStats is the per-track rating ledger.
type TrackStats struct {
	Rating int `json:"rating"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Ties   int `json:"ties"`
}

// Games returns the total number of rated games on the ledger.
func (s TrackStats) Games() int {
	return s.Wins + s.Losses + s.Ties
}

// PugRecord is a row of the pug_info table.
type PugRecord struct {
	DiscordID         string     `json:"discord_id"`
	Regular           TrackStats `json:"regular"`
	Novice            TrackStats `json:"novice"`
	ClassRestrictions []int      `json:"class_restrictions"`
	SteamID           *int64     `json:"steam_id,omitempty"`
	LastActive        *time.Time `json:"last_active,omitempty"`
}

// NewPugRecord returns a fresh record with default ratings.
func NewPugRecord(discordID string) PugRecord {
	return PugRecord{
		DiscordID: discordID,
		Regular:   TrackStats{Rating: DefaultRating},
		Novice:    TrackStats{Rating: DefaultRating},
	}
}

// Stats returns the ledger for the given track.
func (p *PugRecord) Stats(t Track) TrackStats {
	if t == TrackNovice {
		return p.Novice
	}
	return p.Regular
}

// SetStats replaces the ledger for the given track.
func (p *PugRecord) SetStats(t Track, s TrackStats) {
	if t == TrackNovice {
		p.Novice = s
		return
	}
	p.Regular = s
}

// Rating is shorthand for Stats(t).Rating.
func (p *PugRecord) Rating(t Track) int {
	return p.Stats(t).Rating
}

// ClassLocked reports whether the class-lock restriction is set.
func (p *PugRecord) ClassLocked() bool {
	return slices.Contains(p.ClassRestrictions, ClassLockCode)
}

// RestrictionLabels returns the labels of the set restrictions in display
// order. Unknown codes are ignored.
func (p *PugRecord) RestrictionLabels() []string {
	var out []string
	for _, r := range ClassRestrictions {
		if slices.Contains(p.ClassRestrictions, r.Code) {
			out = append(out, r.Label)
		}
	}
	return out
}

// HasSteamID reports whether an external match-log account is linked.
func (p *PugRecord) HasSteamID() bool {
	return p.SteamID != nil && *p.SteamID != 0
}

// Candidate is a participant inside one balancing session.
type Candidate struct {
	Record      PugRecord
	Priority    bool // was already waiting in the next-game room
	SkillTier   int  // from the "Level N" role, 0 when absent
	ClassLocked bool
	RoomID      string // room the participant occupied when the pool was built
}

// ID is the participant's discord id.
func (c Candidate) ID() string {
	return c.Record.DiscordID
}

// Member is a guild member as seen by a roster snapshot.
type Member struct {
	ID        string
	RoomID    string
	RoleNames []string
}

// StatUpdate is one row of a bulk rating write.
type StatUpdate struct {
	DiscordID string
	Stats     TrackStats
}
