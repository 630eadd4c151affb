// Package outcome derives a NegotiationOutcome from a session's tool log.
package outcome

import (
	"strings"
	"time"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/callpilot/callpilot/internal/tools"
)

const (
	baseConfidence      = 0.5
	validatedConfidence = 0.85
	confirmedConfidence = 1.0

	apologyMarker        = "sorry"
	agentApologyRejected = "Agent reported inability to book."
)

// Extract scans log once, in order. A valid validate_slot result proposes its
// slot at 0.85 and a successful confirm_slot proposes its slot at 1.0. The
// last matching entry wins, so a validation logged after a confirmation
// replaces the confirmation's slot and confidence. Failed results contribute
// their error text as rejection reasons. Malformed entries are ignored.
func Extract(providerID string, log []models.ToolInvocation, finalMessage string, transcript []models.TranscriptTurn) models.NegotiationOutcome {
	var (
		proposed   *time.Time
		confidence = baseConfidence
		reasons    []string
	)

	for _, inv := range log {
		result := inv.Result
		if result == nil {
			continue
		}

		switch tools.Name(inv.ToolName) {
		case tools.ValidateSlot:
			if boolField(result, "valid") {
				if slot, ok := slotField(result); ok {
					proposed = &slot
					confidence = validatedConfidence
				}
			}
		case tools.ConfirmSlot:
			if boolField(result, "ok") {
				if slot, ok := slotField(result); ok {
					proposed = &slot
					confidence = confirmedConfidence
				}
			}
		}

		if !boolField(result, "ok") {
			if msg, _ := result["error"].(string); msg != "" {
				reasons = append(reasons, msg)
			}
		}
	}

	if proposed == nil && strings.Contains(strings.ToLower(finalMessage), apologyMarker) {
		reasons = append(reasons, agentApologyRejected)
	}

	if len(reasons) > models.MaxRejectionReasons {
		reasons = reasons[:models.MaxRejectionReasons]
	}
	if reasons == nil {
		reasons = []string{}
	}

	return models.NegotiationOutcome{
		ProviderID:       providerID,
		ProposedSlot:     proposed,
		Confidence:       clamp(confidence),
		RejectionReasons: reasons,
		Transcript:       append([]models.TranscriptTurn(nil), transcript...),
		Metadata: map[string]any{
			"tool_calls_count": len(log),
		},
	}
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func slotField(m map[string]any) (time.Time, bool) {
	s, _ := m["slot_iso"].(string)
	if s == "" {
		return time.Time{}, false
	}
	t, err := models.ParseSlotTime(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
