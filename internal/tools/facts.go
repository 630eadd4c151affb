package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/callpilot/callpilot/internal/models"
)

// Directory is the read-only provider catalog the tools query.
type Directory interface {
	Providers() []models.Provider
	Get(id string) (models.Provider, bool)
}

// RatingSource looks up a provider's current rating.
type RatingSource interface {
	Rating(ctx context.Context, p models.Provider) (float64, error)
}

// DistanceSource measures how far the user is from a provider.
type DistanceSource interface {
	Distance(ctx context.Context, p models.Provider, origin string) (DistanceInfo, error)
}

// CalendarSource reports when the user is busy.
type CalendarSource interface {
	BusyWindows(ctx context.Context, from, to time.Time) ([]BusyWindow, error)
}

// EventCreator is implemented by calendars that can record a booked
// appointment. It is optional; a CalendarSource that only reports busy
// windows is enough for negotiation.
type EventCreator interface {
	CreateEvent(ctx context.Context, start, end time.Time, summary string) (CalendarEvent, error)
}

// CalendarEvent identifies a created calendar entry.
type CalendarEvent struct {
	ID   string
	Link string
}

type DistanceInfo struct {
	DistanceKM        float64
	TravelTimeMinutes float64
}

type BusyWindow struct {
	Start time.Time `json:"start" mapstructure:"start"`
	End   time.Time `json:"end" mapstructure:"end"`
}

// Overlaps reports whether [start, end) intersects the window.
func (w BusyWindow) Overlaps(start, end time.Time) bool {
	return start.Before(w.End) && w.Start.Before(end)
}

// travelMinutesPerKM approximates urban travel time.
const travelMinutesPerKM = 2.5

// CatalogFacts answers rating and distance queries from the catalog records.
type CatalogFacts struct{}

func (CatalogFacts) Rating(_ context.Context, p models.Provider) (float64, error) {
	if p.Rating < 0 || p.Rating > 5 {
		return 0, fmt.Errorf("rating %v out of range for provider %s", p.Rating, p.ID)
	}
	return p.Rating, nil
}

func (CatalogFacts) Distance(_ context.Context, p models.Provider, _ string) (DistanceInfo, error) {
	if p.DistanceKM < 0 {
		return DistanceInfo{}, fmt.Errorf("distance unknown for provider %s", p.ID)
	}
	return DistanceInfo{
		DistanceKM:        p.DistanceKM,
		TravelTimeMinutes: p.DistanceKM * travelMinutesPerKM,
	}, nil
}

// StaticCalendar is a fixed set of busy windows. The zero value is a calendar
// with no commitments.
type StaticCalendar struct {
	Windows []BusyWindow
}

func (c StaticCalendar) BusyWindows(_ context.Context, from, to time.Time) ([]BusyWindow, error) {
	var out []BusyWindow
	for _, w := range c.Windows {
		if w.Overlaps(from, to) {
			out = append(out, w)
		}
	}
	return out, nil
}
