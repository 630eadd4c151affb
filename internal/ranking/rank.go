// Package ranking scores negotiation outcomes against user preferences.
//
// Scores combine three normalized criteria across the candidate set: how early
// the slot is, the provider's rating, and the provider's proximity. Each
// criterion is 1.0 when every candidate has the same value.
package ranking

import (
	"math"
	"slices"
	"time"

	"github.com/callpilot/callpilot/internal/models"
)

// Catalog resolves provider ids. catalog.Catalog implements it.
type Catalog interface {
	Get(id string) (models.Provider, bool)
}

type candidate struct {
	provider models.Provider
	slot     time.Time
}

// Rank returns the shortlist for outcomes. Outcomes without a slot, or whose
// provider is not in the catalog, are dropped. Ties keep input order.
func Rank(outcomes []models.NegotiationOutcome, catalog Catalog, weights models.PreferenceWeights) []models.RankedSlot {
	var candidates []candidate
	for _, o := range outcomes {
		if o.ProposedSlot == nil {
			continue
		}
		p, ok := catalog.Get(o.ProviderID)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{provider: p, slot: *o.ProposedSlot})
	}

	if len(candidates) == 0 {
		return []models.RankedSlot{}
	}

	earliest, latest := candidates[0].slot, candidates[0].slot
	minRating, maxRating := candidates[0].provider.Rating, candidates[0].provider.Rating
	minDist, maxDist := candidates[0].provider.DistanceKM, candidates[0].provider.DistanceKM

	for _, c := range candidates[1:] {
		if c.slot.Before(earliest) {
			earliest = c.slot
		}
		if c.slot.After(latest) {
			latest = c.slot
		}
		minRating = min(minRating, c.provider.Rating)
		maxRating = max(maxRating, c.provider.Rating)
		minDist = min(minDist, c.provider.DistanceKM)
		maxDist = max(maxDist, c.provider.DistanceKM)
	}

	span := latest.Sub(earliest).Seconds()

	shortlist := make([]models.RankedSlot, 0, len(candidates))
	for _, c := range candidates {
		timeScore := 1.0
		if span > 0 {
			timeScore = latest.Sub(c.slot).Seconds() / span
		}

		ratingScore := 1.0
		if maxRating > minRating {
			ratingScore = (c.provider.Rating - minRating) / (maxRating - minRating)
		}

		distanceScore := 1.0
		if maxDist > minDist {
			distanceScore = 1 - (c.provider.DistanceKM-minDist)/(maxDist-minDist)
		}

		score := weights.AvailabilityWeight*timeScore +
			weights.RatingWeight*ratingScore +
			weights.DistanceWeight*distanceScore

		shortlist = append(shortlist, models.RankedSlot{
			ProviderID:   c.provider.ID,
			ProviderName: c.provider.Name,
			Slot:         c.slot,
			Score:        round4(score),
		})
	}

	slices.SortStableFunc(shortlist, func(a, b models.RankedSlot) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	for i := range shortlist {
		shortlist[i].Rank = i + 1
	}

	return shortlist
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
