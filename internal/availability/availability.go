// Package availability generates candidate appointment slots from a provider's
// availability profile. It is pure and keeps no booking state, so a slot that
// has been confirmed elsewhere is still offered by later calls.
package availability

import (
	"time"

	"github.com/callpilot/callpilot/internal/models"
)

// Slots returns every slot start within daysAhead calendar days of from
// (starting with from's own date, in from's location) that satisfies the
// profile. durationMinutes <= 0 means the profile's slot duration.
//
// A start is emitted when start+duration+buffer fits before closing and the
// start is not earlier than from. Starts advance by slot duration plus buffer
// from the opening time. The result is strictly increasing.
func Slots(p models.Provider, from time.Time, daysAhead, durationMinutes int) []time.Time {
	profile := p.AvailabilityProfile
	duration := effectiveDuration(profile, durationMinutes)
	step := time.Duration(profile.SlotDurationMinutes+profile.BufferMinutes) * time.Minute
	occupied := duration + time.Duration(profile.BufferMinutes)*time.Minute

	if step <= 0 || daysAhead <= 0 {
		return nil
	}

	var slots []time.Time
	day := midnight(from)

	for i := 0; i < daysAhead; i++ {
		if profile.WeekendEnabled || !isWeekend(day) {
			open := atClock(day, profile.WeekdayOpen)
			closing := atClock(day, profile.WeekdayClose)

			for start := open; !start.Add(occupied).After(closing); start = start.Add(step) {
				if !start.Before(from) {
					slots = append(slots, start)
				}
			}
		}

		day = day.AddDate(0, 0, 1)
	}

	return slots
}

// Next returns the first slot within daysAhead days of from.
func Next(p models.Provider, from time.Time, daysAhead int) (time.Time, bool) {
	slots := Slots(p, from, daysAhead, 0)
	if len(slots) == 0 {
		return time.Time{}, false
	}
	return slots[0], true
}

// IsSlotAvailable reports whether a slot starting at slot for durationMinutes
// fits inside the provider's opening hours on that day.
func IsSlotAvailable(p models.Provider, slot time.Time, durationMinutes int) bool {
	profile := p.AvailabilityProfile

	if !profile.WeekendEnabled && isWeekend(slot) {
		return false
	}

	day := midnight(slot)
	open := atClock(day, profile.WeekdayOpen)
	closing := atClock(day, profile.WeekdayClose)
	end := slot.Add(effectiveDuration(profile, durationMinutes) + time.Duration(profile.BufferMinutes)*time.Minute)

	return !slot.Before(open) && !end.After(closing)
}

func effectiveDuration(profile models.AvailabilityProfile, durationMinutes int) time.Duration {
	if durationMinutes <= 0 {
		durationMinutes = profile.SlotDurationMinutes
	}
	return time.Duration(durationMinutes) * time.Minute
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func atClock(day time.Time, c models.ClockTime) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location())
}
