package availability

import (
	"testing"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-10-19 is a Monday.
var monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

func provider(mut func(p *models.AvailabilityProfile)) models.Provider {
	p := models.Provider{
		ID:                  "p1",
		Name:                "Bright Smiles",
		AvailabilityProfile: models.DefaultAvailabilityProfile(),
	}
	if mut != nil {
		mut(&p.AvailabilityProfile)
	}
	return p
}

func TestSlots_SingleDay(t *testing.T) {
	p := provider(func(a *models.AvailabilityProfile) {
		a.WeekdayOpen = models.NewClockTime(9, 0)
		a.WeekdayClose = models.NewClockTime(11, 0)
	})

	slots := Slots(p, monday, 1, 30)
	require.Len(t, slots, 4)
	assert.Equal(t, monday.Add(9*time.Hour), slots[0])
	assert.Equal(t, monday.Add(10*time.Hour+30*time.Minute), slots[3])
}

func TestSlots_BufferAffectsStepAndFit(t *testing.T) {
	p := provider(func(a *models.AvailabilityProfile) {
		a.WeekdayOpen = models.NewClockTime(9, 0)
		a.WeekdayClose = models.NewClockTime(10, 30)
		a.BufferMinutes = 15
	})

	// starts at 09:00, 09:45; 10:30 would need to end at 11:15
	slots := Slots(p, monday, 1, 0)
	require.Len(t, slots, 2)
	assert.Equal(t, monday.Add(9*time.Hour+45*time.Minute), slots[1])
}

func TestSlots_ExcludesStartsBeforeFrom(t *testing.T) {
	p := provider(nil)
	from := monday.Add(16 * time.Hour)

	slots := Slots(p, from, 1, 30)
	require.Len(t, slots, 2)
	assert.Equal(t, from, slots[0])
	assert.Equal(t, from.Add(30*time.Minute), slots[1])
}

func TestSlots_SkipsWeekendsUnlessEnabled(t *testing.T) {
	saturday := monday.AddDate(0, 0, 5)

	assert.Empty(t, Slots(provider(nil), saturday, 2, 30))

	withWeekend := provider(func(a *models.AvailabilityProfile) { a.WeekendEnabled = true })
	slots := Slots(withWeekend, saturday, 2, 30)
	require.NotEmpty(t, slots)
	assert.Equal(t, time.Saturday, slots[0].Weekday())
}

func TestSlots_EdgeCases(t *testing.T) {
	t.Run("open equals close", func(t *testing.T) {
		p := provider(func(a *models.AvailabilityProfile) {
			a.WeekdayOpen = models.NewClockTime(12, 0)
			a.WeekdayClose = models.NewClockTime(12, 0)
		})
		assert.Empty(t, Slots(p, monday, 7, 30))
	})

	t.Run("duration plus buffer exceeds window", func(t *testing.T) {
		p := provider(func(a *models.AvailabilityProfile) {
			a.WeekdayOpen = models.NewClockTime(9, 0)
			a.WeekdayClose = models.NewClockTime(10, 0)
			a.BufferMinutes = 10
		})
		assert.Empty(t, Slots(p, monday, 7, 60))
	})

	t.Run("zero days", func(t *testing.T) {
		assert.Empty(t, Slots(provider(nil), monday, 0, 30))
	})
}

func TestSlots_WindowAndWeekendProperties(t *testing.T) {
	from := monday.Add(13*time.Hour + 7*time.Minute)
	const days = 14

	p := provider(func(a *models.AvailabilityProfile) { a.BufferMinutes = 5 })
	slots := Slots(p, from, days, 45)
	require.NotEmpty(t, slots)

	end := from.AddDate(0, 0, days)
	for i, s := range slots {
		assert.False(t, s.Before(from), "slot %v before from", s)
		assert.True(t, s.Before(end), "slot %v after window", s)
		assert.NotEqual(t, time.Saturday, s.Weekday())
		assert.NotEqual(t, time.Sunday, s.Weekday())
		assert.True(t, IsSlotAvailable(p, s, 45), "slot %v not available", s)
		if i > 0 {
			assert.True(t, s.After(slots[i-1]))
		}
	}

	assert.Equal(t, slots, Slots(p, from, days, 45), "generator must be idempotent")
}

func TestSlots_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	from := time.Date(2026, 10, 19, 8, 0, 0, 0, loc)

	slots := Slots(provider(nil), from, 1, 30)
	require.NotEmpty(t, slots)
	assert.Equal(t, 9, slots[0].Hour())
	assert.Equal(t, loc, slots[0].Location())
}

func TestNext(t *testing.T) {
	slot, ok := Next(provider(nil), monday.Add(17*time.Hour), 2)
	require.True(t, ok)
	assert.Equal(t, monday.AddDate(0, 0, 1).Add(9*time.Hour), slot)

	_, ok = Next(provider(nil), monday.AddDate(0, 0, 5), 2)
	assert.False(t, ok)
}

func TestIsSlotAvailable(t *testing.T) {
	p := provider(nil)

	assert.True(t, IsSlotAvailable(p, monday.Add(9*time.Hour), 30))
	assert.True(t, IsSlotAvailable(p, monday.Add(16*time.Hour+30*time.Minute), 30))
	assert.False(t, IsSlotAvailable(p, monday.Add(16*time.Hour+45*time.Minute), 30))
	assert.False(t, IsSlotAvailable(p, monday.Add(8*time.Hour+59*time.Minute), 30))
	assert.False(t, IsSlotAvailable(p, monday.AddDate(0, 0, 6).Add(10*time.Hour), 30))
}
