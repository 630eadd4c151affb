package models

import "time"

// PreferenceWeights weight the ranking criteria. The weights are not required
// to sum to one.
type PreferenceWeights struct {
	AvailabilityWeight float64 `json:"availability_weight" yaml:"availability_weight"`
	RatingWeight       float64 `json:"rating_weight" yaml:"rating_weight"`
	DistanceWeight     float64 `json:"distance_weight" yaml:"distance_weight"`
}

// DefaultPreferenceWeights favours early slots, then rating, then proximity.
func DefaultPreferenceWeights() PreferenceWeights {
	return PreferenceWeights{
		AvailabilityWeight: 0.5,
		RatingWeight:       0.3,
		DistanceWeight:     0.2,
	}
}

// RankedSlot is one entry of a shortlist.
type RankedSlot struct {
	ProviderID   string    `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
	Slot         time.Time `json:"slot"`
	Score        float64   `json:"score"`
	Rank         int       `json:"rank"`
}
