package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/callpilot/callpilot/internal/availability"
	"github.com/callpilot/callpilot/internal/models"
)

const (
	defaultWindowDays       = 14
	defaultDurationMinutes  = 30
	maxAvailabilityResults  = 20
	confirmationMessageText = "Booking confirmed (mock)."
)

type checkAvailabilityRequest struct {
	ProviderID      string `mapstructure:"provider_id"`
	DateFrom        string `mapstructure:"date_from"`
	DateTo          string `mapstructure:"date_to"`
	DurationMinutes int    `mapstructure:"duration_minutes"`
	Duration        int    `mapstructure:"duration"`
}

type checkAvailabilityResponse struct {
	Status `mapstructure:",squash"`
	Slots  []string `mapstructure:"slots"`
	Count  int      `mapstructure:"count"`
}

type busyWindowsRequest struct {
	DateFrom string `mapstructure:"date_from"`
	DateTo   string `mapstructure:"date_to"`
}

type busyWindowsResponse struct {
	Status `mapstructure:",squash"`
	Busy   []BusyWindow `mapstructure:"busy"`
}

type providerRequest struct {
	ProviderID string `mapstructure:"provider_id"`
	Origin     string `mapstructure:"origin"`
}

type providerDetail struct {
	ID                  string  `mapstructure:"id"`
	Name                string  `mapstructure:"name"`
	Rating              float64 `mapstructure:"rating"`
	DistanceKM          float64 `mapstructure:"distance_km"`
	ReceptionistStyle   string  `mapstructure:"receptionist_style"`
	WeekdayOpen         string  `mapstructure:"weekday_open"`
	WeekdayClose        string  `mapstructure:"weekday_close"`
	WeekendEnabled      bool    `mapstructure:"weekend_enabled"`
	SlotDurationMinutes int     `mapstructure:"slot_duration_minutes"`
	BufferMinutes       int     `mapstructure:"buffer_minutes"`
}

type providerLookupResponse struct {
	Status        `mapstructure:",squash"`
	Provider      providerDetail `mapstructure:"provider"`
	NextAvailable string         `mapstructure:"next_available,omitempty"`
}

type providerSummary struct {
	ID         string  `json:"id" mapstructure:"id"`
	Name       string  `json:"name" mapstructure:"name"`
	Rating     float64 `json:"rating" mapstructure:"rating"`
	DistanceKM float64 `json:"distance_km" mapstructure:"distance_km"`
}

type listProvidersResponse struct {
	Status    `mapstructure:",squash"`
	Providers []providerSummary `mapstructure:"providers"`
}

type distanceResponse struct {
	Status            `mapstructure:",squash"`
	ProviderID        string  `mapstructure:"provider_id"`
	DistanceKM        float64 `mapstructure:"distance_km"`
	TravelTimeMinutes float64 `mapstructure:"travel_time_minutes"`
}

type ratingResponse struct {
	Status     `mapstructure:",squash"`
	ProviderID string  `mapstructure:"provider_id"`
	Rating     float64 `mapstructure:"rating"`
}

type slotRequest struct {
	ProviderID      string `mapstructure:"provider_id"`
	SlotISO         string `mapstructure:"slot_iso"`
	Slot            string `mapstructure:"slot"`
	DurationMinutes int    `mapstructure:"duration_minutes"`
	Duration        int    `mapstructure:"duration"`
}

// slotTime returns slot_iso, falling back to the older "slot" key.
func (req slotRequest) slotTime() string {
	if req.SlotISO != "" {
		return req.SlotISO
	}
	return req.Slot
}

func (req slotRequest) duration() int {
	return durationOrDefault(req.DurationMinutes, req.Duration)
}

// durationOrDefault picks duration_minutes, then duration, then the default.
func durationOrDefault(minutes, alias int) int {
	switch {
	case minutes > 0:
		return minutes
	case alias > 0:
		return alias
	default:
		return defaultDurationMinutes
	}
}

type validateSlotResponse struct {
	Status     `mapstructure:",squash"`
	Valid      bool   `mapstructure:"valid"`
	ProviderID string `mapstructure:"provider_id,omitempty"`
	SlotISO    string `mapstructure:"slot_iso,omitempty"`
	Reason     string `mapstructure:"reason,omitempty"`
}

type confirmSlotResponse struct {
	Status         `mapstructure:",squash"`
	ProviderID     string `mapstructure:"provider_id,omitempty"`
	SlotISO        string `mapstructure:"slot_iso,omitempty"`
	ConfirmationID string `mapstructure:"confirmation_id,omitempty"`
	Message        string `mapstructure:"message,omitempty"`
}

func builtins() []tool {
	return []tool{
		typedTool[checkAvailabilityRequest]{
			def: Definition{
				Name:        CheckAvailability,
				Description: "List open appointment start times. With provider_id, lists that provider's open slots; without it, lists times the user is free.",
				Parameters: objectSchema(map[string]any{
					"provider_id":      stringProp("Provider to check (optional)"),
					"date_from":        stringProp("Window start, ISO-8601 (optional, defaults to now)"),
					"date_to":          stringProp("Window end, ISO-8601 (optional, defaults to two weeks after date_from)"),
					"duration_minutes": integerProp("Appointment length in minutes (optional, defaults to 30)"),
				}),
			},
			fn: checkAvailability,
		},
		typedTool[busyWindowsRequest]{
			def: Definition{
				Name:        GetBusyWindows,
				Description: "List the user's busy calendar windows between date_from and date_to.",
				Parameters: objectSchema(map[string]any{
					"date_from": stringProp("Window start, ISO-8601"),
					"date_to":   stringProp("Window end, ISO-8601"),
				}),
			},
			fn: getBusyWindows,
		},
		typedTool[providerRequest]{
			def: Definition{
				Name:        ProviderLookup,
				Description: "Look up a provider's profile and next available slot.",
				Parameters:  objectSchema(map[string]any{"provider_id": stringProp("Provider id")}, "provider_id"),
			},
			fn: providerLookup,
		},
		typedTool[struct{}]{
			def: Definition{
				Name:        ListProviders,
				Description: "List all known providers.",
				Parameters:  objectSchema(map[string]any{}),
			},
			fn: listProviders,
		},
		typedTool[providerRequest]{
			def: Definition{
				Name:        GetDistance,
				Description: "Distance and travel time from the user to a provider.",
				Parameters: objectSchema(map[string]any{
					"provider_id": stringProp("Provider id"),
					"origin":      stringProp("User location (optional)"),
				}, "provider_id"),
			},
			fn: getDistance,
		},
		typedTool[providerRequest]{
			def: Definition{
				Name:        GetRating,
				Description: "A provider's current rating, 0 to 5.",
				Parameters:  objectSchema(map[string]any{"provider_id": stringProp("Provider id")}, "provider_id"),
			},
			fn: getRating,
		},
		typedTool[slotRequest]{
			def: Definition{
				Name:        ValidateSlot,
				Description: "Check that a proposed slot fits the provider's opening hours before booking it.",
				Parameters:  slotSchema(),
			},
			fn: validateSlot,
		},
		typedTool[slotRequest]{
			def: Definition{
				Name:        ConfirmSlot,
				Description: "Book a slot with the provider once the receptionist has agreed to it.",
				Parameters:  slotSchema(),
			},
			fn: confirmSlot,
		},
	}
}

func checkAvailability(ctx context.Context, r *Registry, req checkAvailabilityRequest) any {
	from, to, status := r.window(req.DateFrom, req.DateTo)
	if !status.OK {
		return status
	}

	duration := durationOrDefault(req.DurationMinutes, req.Duration)

	var slots []time.Time

	if req.ProviderID != "" {
		p, ok := r.directory.Get(req.ProviderID)
		if !ok {
			return failure("Provider not found")
		}
		days := int(to.Sub(from).Hours()/24) + 1
		for _, s := range availability.Slots(p, from, days, duration) {
			if s.Before(to) {
				slots = append(slots, s)
			}
		}
	} else {
		busy, err := r.calendar.BusyWindows(ctx, from, to)
		if err != nil {
			return failure("calendar unavailable: %v", err)
		}
		slots = freeSlots(from, to, time.Duration(duration)*time.Minute, busy)
	}

	if len(slots) > maxAvailabilityResults {
		slots = slots[:maxAvailabilityResults]
	}

	formatted := make([]string, 0, len(slots))
	for _, s := range slots {
		formatted = append(formatted, models.FormatSlotTime(s))
	}

	return checkAvailabilityResponse{Status: success(), Slots: formatted, Count: len(formatted)}
}

// freeSlots lists hourly starts between 09:00 and 17:00 that avoid every busy
// window.
func freeSlots(from, to time.Time, duration time.Duration, busy []BusyWindow) []time.Time {
	var out []time.Time

	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for ; day.Before(to); day = day.AddDate(0, 0, 1) {
		for hour := 9; hour < 17; hour++ {
			start := day.Add(time.Duration(hour) * time.Hour)
			end := start.Add(duration)
			if start.Before(from) || end.After(to) || end.After(day.Add(17*time.Hour)) {
				continue
			}

			free := true
			for _, w := range busy {
				if w.Overlaps(start, end) {
					free = false
					break
				}
			}
			if free {
				out = append(out, start)
			}
		}
	}

	return out
}

func getBusyWindows(ctx context.Context, r *Registry, req busyWindowsRequest) any {
	from, to, status := r.window(req.DateFrom, req.DateTo)
	if !status.OK {
		return status
	}

	busy, err := r.calendar.BusyWindows(ctx, from, to)
	if err != nil {
		return failure("calendar unavailable: %v", err)
	}

	return busyWindowsResponse{Status: success(), Busy: busy}
}

func providerLookup(_ context.Context, r *Registry, req providerRequest) any {
	p, status := r.provider(req.ProviderID)
	if !status.OK {
		return status
	}

	profile := p.AvailabilityProfile
	resp := providerLookupResponse{
		Status: success(),
		Provider: providerDetail{
			ID:                  p.ID,
			Name:                p.Name,
			Rating:              p.Rating,
			DistanceKM:          p.DistanceKM,
			ReceptionistStyle:   string(p.ReceptionistStyle.Normalize()),
			WeekdayOpen:         profile.WeekdayOpen.String(),
			WeekdayClose:        profile.WeekdayClose.String(),
			WeekendEnabled:      profile.WeekendEnabled,
			SlotDurationMinutes: profile.SlotDurationMinutes,
			BufferMinutes:       profile.BufferMinutes,
		},
	}
	if next, ok := availability.Next(p, r.now(), defaultWindowDays*2); ok {
		resp.NextAvailable = models.FormatSlotTime(next)
	}
	return resp
}

func listProviders(_ context.Context, r *Registry, _ struct{}) any {
	providers := r.directory.Providers()

	resp := listProvidersResponse{Status: success(), Providers: make([]providerSummary, 0, len(providers))}
	for _, p := range providers {
		resp.Providers = append(resp.Providers, providerSummary{
			ID:         p.ID,
			Name:       p.Name,
			Rating:     p.Rating,
			DistanceKM: p.DistanceKM,
		})
	}
	return resp
}

func getDistance(ctx context.Context, r *Registry, req providerRequest) any {
	p, status := r.provider(req.ProviderID)
	if !status.OK {
		return status
	}

	info, err := r.distances.Distance(ctx, p, req.Origin)
	if err != nil {
		return failure("distance lookup failed: %v", err)
	}

	return distanceResponse{
		Status:            success(),
		ProviderID:        p.ID,
		DistanceKM:        info.DistanceKM,
		TravelTimeMinutes: info.TravelTimeMinutes,
	}
}

func getRating(ctx context.Context, r *Registry, req providerRequest) any {
	p, status := r.provider(req.ProviderID)
	if !status.OK {
		return status
	}

	rating, err := r.ratings.Rating(ctx, p)
	if err != nil {
		return failure("rating lookup failed: %v", err)
	}

	return ratingResponse{Status: success(), ProviderID: p.ID, Rating: rating}
}

func validateSlot(_ context.Context, r *Registry, req slotRequest) any {
	p, slot, status := r.slot(req)
	if !status.OK {
		return status
	}

	resp := validateSlotResponse{
		Status:     success(),
		Valid:      availability.IsSlotAvailable(p, slot, req.duration()),
		ProviderID: p.ID,
		SlotISO:    models.FormatSlotTime(slot),
	}
	if !resp.Valid {
		resp.Reason = "Slot is outside the provider's opening hours"
	}
	return resp
}

func confirmSlot(_ context.Context, r *Registry, req slotRequest) any {
	p, slot, status := r.slot(req)
	if !status.OK {
		return status
	}

	if !availability.IsSlotAvailable(p, slot, req.duration()) {
		return failure("Slot %s is not available", models.FormatSlotTime(slot))
	}

	return confirmSlotResponse{
		Status:         success(),
		ProviderID:     p.ID,
		SlotISO:        models.FormatSlotTime(slot),
		ConfirmationID: fmt.Sprintf("book-%s-%s", p.ID, slot.Format("2006-01-02")),
		Message:        confirmationMessageText,
	}
}

func (r *Registry) provider(id string) (models.Provider, Status) {
	if id == "" {
		return models.Provider{}, failure("provider_id required")
	}
	p, ok := r.directory.Get(id)
	if !ok {
		return models.Provider{}, failure("Provider not found")
	}
	return p, success()
}

func (r *Registry) slot(req slotRequest) (models.Provider, time.Time, Status) {
	if req.ProviderID == "" || req.slotTime() == "" {
		return models.Provider{}, time.Time{}, failure("provider_id and slot_iso required")
	}

	slot, err := models.ParseSlotTime(req.slotTime(), r.location())
	if err != nil {
		return models.Provider{}, time.Time{}, failure("Invalid slot_iso format")
	}

	p, status := r.provider(req.ProviderID)
	if !status.OK {
		return models.Provider{}, time.Time{}, status
	}

	return p, slot, success()
}

func (r *Registry) window(fromISO, toISO string) (time.Time, time.Time, Status) {
	from := r.now()
	if fromISO != "" {
		t, err := models.ParseSlotTime(fromISO, r.location())
		if err != nil {
			return time.Time{}, time.Time{}, failure("Invalid date_from format")
		}
		from = t
	}

	to := from.AddDate(0, 0, defaultWindowDays)
	if toISO != "" {
		t, err := models.ParseSlotTime(toISO, r.location())
		if err != nil {
			return time.Time{}, time.Time{}, failure("Invalid date_to format")
		}
		to = t
	}

	if !to.After(from) {
		return time.Time{}, time.Time{}, failure("date_to must be after date_from")
	}

	return from, to, success()
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func integerProp(description string) map[string]any {
	return map[string]any{"type": "integer", "description": description}
}

func slotSchema() map[string]any {
	return objectSchema(map[string]any{
		"provider_id":      stringProp("Provider id"),
		"slot_iso":         stringProp("Slot start, ISO-8601 (e.g. 2026-10-20T09:30:00Z)"),
		"duration_minutes": integerProp("Appointment length in minutes (optional, defaults to 30)"),
	}, "provider_id", "slot_iso")
}
