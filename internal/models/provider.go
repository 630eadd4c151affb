package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Style controls the phrasing of simulated counterpart replies.
type Style string

const (
	StyleProfessional Style = "professional"
	StyleFriendly     Style = "friendly"
	StyleWarm         Style = "warm"
	StyleBrief        Style = "brief"
	StyleFormal       Style = "formal"
)

// Normalize maps unknown or empty styles to [StyleProfessional].
func (s Style) Normalize() Style {
	switch Style(strings.ToLower(string(s))) {
	case StyleFriendly:
		return StyleFriendly
	case StyleWarm:
		return StyleWarm
	case StyleBrief:
		return StyleBrief
	case StyleFormal:
		return StyleFormal
	default:
		return StyleProfessional
	}
}

// ClockTime is a wall-clock time of day, stored as minutes past midnight and
// serialized as "HH:MM".
type ClockTime int

// NewClockTime builds a ClockTime from an hour and minute.
func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime parses "HH:MM" (24h).
func ParseClockTime(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q: expected HH:MM", s)
	}

	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid clock time %q: bad hour", s)
	}

	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q: bad minute", s)
	}

	return NewClockTime(h, m), nil
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(text []byte) error {
	v, err := ParseClockTime(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// AvailabilityProfile describes a provider's weekly opening pattern.
type AvailabilityProfile struct {
	WeekdayOpen         ClockTime `json:"weekday_open" yaml:"weekday_open"`
	WeekdayClose        ClockTime `json:"weekday_close" yaml:"weekday_close"`
	WeekendEnabled      bool      `json:"weekend_enabled" yaml:"weekend_enabled"`
	SlotDurationMinutes int       `json:"slot_duration_minutes" yaml:"slot_duration_minutes"`
	BufferMinutes       int       `json:"buffer_minutes" yaml:"buffer_minutes"`
}

// DefaultAvailabilityProfile is used for providers that omit a profile:
// weekdays 09:00-17:00, 30 minute slots, no buffer.
func DefaultAvailabilityProfile() AvailabilityProfile {
	return AvailabilityProfile{
		WeekdayOpen:         NewClockTime(9, 0),
		WeekdayClose:        NewClockTime(17, 0),
		SlotDurationMinutes: 30,
	}
}

// Provider is a candidate service provider. Providers are loaded once per task
// and never mutated afterwards.
type Provider struct {
	ID                  string              `json:"id" yaml:"id"`
	Name                string              `json:"name" yaml:"name"`
	Rating              float64             `json:"rating" yaml:"rating"`
	DistanceKM          float64             `json:"distance_km" yaml:"distance_km"`
	ReceptionistStyle   Style               `json:"receptionist_style" yaml:"receptionist_style"`
	AvailabilityProfile AvailabilityProfile `json:"availability_profile" yaml:"availability_profile"`
}
