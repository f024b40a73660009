package discipline

import (
	"fmt"
	"strings"

	"github.com/jason-s-yu/pugbot/internal/models"
)

var eventTitles = map[Event]string{
	EventWarn:     "Pug Warning",
	EventStrike:   "Pug Strike",
	EventUnstrike: "Pug Strike Removed",
	EventPugban:   "Pug Ban",
	EventPugunban: "Pug Ban Lifted",
	EventDecay:    "Pug Penalty Expired",
}

func userNotice(ev Event, reason string, rec models.StrikeRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", eventTitles[ev])
	switch ev {
	case EventWarn:
		b.WriteString("You have received a warning from pug staff.")
	case EventStrike:
		fmt.Fprintf(&b, "You now have %d/%d strikes.", rec.StrikeCount, MaxStrikes)
		switch {
		case rec.PermanentBan:
			b.WriteString(" You are banned from pugs.")
		case rec.TempBan && rec.SecondStrikeExpiry != nil:
			fmt.Fprintf(&b, " You are banned from pugs until <t:%d:f>.", rec.SecondStrikeExpiry.Unix())
		}
	case EventUnstrike:
		fmt.Fprintf(&b, "A strike was removed. You now have %d/%d strikes.", rec.StrikeCount, MaxStrikes)
	case EventPugban:
		b.WriteString("You are banned from pugs.")
	case EventPugunban:
		fmt.Fprintf(&b, "Your pug ban was lifted. You have %d/%d strikes.", rec.StrikeCount, MaxStrikes)
	case EventDecay:
		fmt.Fprintf(&b, "A penalty has expired. You have %d/%d strikes.", rec.StrikeCount, MaxStrikes)
	}
	if reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", reason)
	}
	return b.String()
}

func auditNotice(ev Event, a Action, rec models.StrikeRecord) string {
	actor := "system"
	if a.ActorID != "" {
		actor = fmt.Sprintf("<@%s>", a.ActorID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** | <@%s> by %s\n", eventTitles[ev], a.TargetID, actor)
	fmt.Fprintf(&b, "strikes %d/%d, lifetime %d", rec.StrikeCount, MaxStrikes, rec.TotalStrikeCount)
	if rec.TempBan {
		b.WriteString(", temp banned")
	}
	if rec.PermanentBan {
		b.WriteString(", permanently banned")
	}
	if a.Reason != "" {
		fmt.Fprintf(&b, "\nReason: `%s`", a.Reason)
	}
	return b.String()
}

func commentText(ev Event, reason string, rec models.StrikeRecord) string {
	s := fmt.Sprintf("[%s] strikes=%d total=%d", ev, rec.StrikeCount, rec.TotalStrikeCount)
	if reason != "" {
		s += ": " + reason
	}
	return s
}
