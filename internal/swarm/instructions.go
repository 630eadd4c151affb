package swarm

import (
	"fmt"

	"github.com/callpilot/callpilot/internal/models"
)

// AgentInstructions frames a live agent's call with p. The agent only learns
// about slots through the conversation and its tools.
func AgentInstructions(p models.Provider) string {
	return fmt.Sprintf(
		"You are calling %s (provider id %s) to book an appointment on behalf of a patient. "+
			"Ask the receptionist which times are available. Use provider_lookup, check_availability "+
			"and get_busy_windows to check facts, call validate_slot before agreeing to a time, and "+
			"call confirm_slot once the receptionist agrees. If nothing works, say sorry and end the call. "+
			"Keep each message short and reply with an empty message once the call is over.",
		p.Name, p.ID)
}
