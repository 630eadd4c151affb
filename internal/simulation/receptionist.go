// Package simulation synthesizes counterpart (receptionist) replies from a
// provider's availability, so sessions can run without a live counterpart.
package simulation

import (
	"fmt"
	"strings"
	"time"

	"github.com/callpilot/callpilot/internal/availability"
	"github.com/callpilot/callpilot/internal/models"
)

const (
	DefaultDaysAhead       = 14
	DefaultDurationMinutes = 30
	DefaultMaxOptions      = 5
)

// SlotLayout is how slot options are written in replies, for example
// "Monday 2026-10-19 at 09:00".
const SlotLayout = "Monday 2006-01-02 at 15:04"

// ReplyOptions controls the availability window a reply draws from.
type ReplyOptions struct {
	From            time.Time
	DaysAhead       int
	DurationMinutes int
	// MaxOptions caps the number of listed slots. Zero means DefaultMaxOptions.
	MaxOptions int
}

func (o ReplyOptions) withDefaults() ReplyOptions {
	if o.DaysAhead <= 0 {
		o.DaysAhead = DefaultDaysAhead
	}
	if o.DurationMinutes <= 0 {
		o.DurationMinutes = DefaultDurationMinutes
	}
	if o.MaxOptions <= 0 {
		o.MaxOptions = DefaultMaxOptions
	}
	return o
}

// Reply returns the counterpart's answer to incoming. The incoming text does
// not influence the answer; the reply only depends on the provider's
// availability within the window and on the provider's receptionist style.
func Reply(p models.Provider, incoming string, opts ReplyOptions) string {
	opts = opts.withDefaults()

	slots := availability.Slots(p, opts.From, opts.DaysAhead, opts.DurationMinutes)
	if len(slots) > opts.MaxOptions {
		slots = slots[:opts.MaxOptions]
	}

	style := p.ReceptionistStyle.Normalize()

	if len(slots) == 0 {
		return noAvailability(style)
	}

	formatted := make([]string, 0, len(slots))
	for _, s := range slots {
		formatted = append(formatted, FormatSlot(s))
	}

	return offer(style, formatted)
}

// FormatSlot renders a slot the way replies list it.
func FormatSlot(t time.Time) string {
	return t.Format(SlotLayout)
}

func noAvailability(style models.Style) string {
	switch style {
	case models.StyleFriendly, models.StyleWarm:
		return "I'm so sorry, we're fully booked for the next while. Would you like to be waitlisted?"
	case models.StyleBrief:
		return "No availability in the requested period."
	case models.StyleFormal:
		return "Regrettably, there are no appointments available in the requested period."
	default:
		return "We don't have any available slots in that period. I can suggest calling back later."
	}
}

func offer(style models.Style, slots []string) string {
	switch style {
	case models.StyleBrief:
		return fmt.Sprintf("We have: %s. Which do you prefer?", strings.Join(slots, ", "))
	case models.StyleFriendly:
		return fmt.Sprintf("Sure! We have a few options: %s. Let me know which works for you.", strings.Join(slots, ", "))
	case models.StyleWarm:
		return fmt.Sprintf("Of course, happy to help! We could see you %s. Which would suit you best?", strings.Join(slots, ", "))
	case models.StyleFormal:
		return fmt.Sprintf("Available slots are as follows: %s. Please confirm your choice.", strings.Join(slots, "; "))
	default:
		return fmt.Sprintf("Our next available slots are: %s. Which one would you like to book?", strings.Join(slots, ", "))
	}
}

// Persona is the framing sent to a live counterpart channel so it plays the
// provider's receptionist.
func Persona(p models.Provider) string {
	return fmt.Sprintf(
		"You are the receptionist at %s (provider id %s). Speak in a %s tone. "+
			"You take appointment requests from callers. Offer concrete times from the opening hours %s-%s on weekdays%s, "+
			"in %d minute slots, and keep every reply short.",
		p.Name, p.ID, p.ReceptionistStyle.Normalize(),
		p.AvailabilityProfile.WeekdayOpen, p.AvailabilityProfile.WeekdayClose,
		weekendClause(p.AvailabilityProfile.WeekendEnabled),
		p.AvailabilityProfile.SlotDurationMinutes,
	)
}

func weekendClause(enabled bool) string {
	if enabled {
		return " and weekends"
	}
	return ""
}
