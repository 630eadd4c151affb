package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const validProviderYAML = `id: dent-1
name: Bright Smiles
rating: 4.5
distance_km: 2
receptionist_style: friendly
availability_profile:
  weekday_hours: ["09:00", "17:00"]
  weekend_enabled: false
  slot_duration_minutes: 30
  buffer_minutes: 0
`

func decodeYAML(t *testing.T, doc string) any {
	t.Helper()
	var v any
	require.NoError(t, yaml.Unmarshal([]byte(doc), &v))
	return v
}

func TestValidateProvider_Valid(t *testing.T) {
	require.Empty(t, ValidateProvider(decodeYAML(t, validProviderYAML)))
}

func TestValidateProvider_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		loc  string
	}{
		{"missing id", "name: x\n", "/"},
		{"rating too high", "id: a\nname: x\nrating: 7\n", "/rating"},
		{"negative distance", "id: a\nname: x\ndistance_km: -1\n", "/distance_km"},
		{"bad clock", "id: a\nname: x\navailability_profile:\n  weekday_open: \"9am\"\n", "/availability_profile/weekday_open"},
		{"zero slot", "id: a\nname: x\navailability_profile:\n  slot_duration_minutes: 0\n", "/availability_profile/slot_duration_minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateProvider(decodeYAML(t, tt.doc))
			require.NotEmpty(t, errs)
			assert.True(t, strings.HasPrefix(errs[0], tt.loc), "unexpected error %q", errs[0])
		})
	}
}

func TestValidateTaskRequest(t *testing.T) {
	assert.Empty(t, ValidateTaskRequest([]byte(`{"message":"cleaning next week","mode":"swarm","preferences":{"rating_weight":0.9}}`)))
	assert.NotEmpty(t, ValidateTaskRequest([]byte(`{"mode":"swarm"}`)))
	assert.NotEmpty(t, ValidateTaskRequest([]byte(`{"message":"x","mode":"party"}`)))
	assert.NotEmpty(t, ValidateTaskRequest([]byte(`{"message":"x","preferences":{"distance_weight":2}}`)))

	errs := ValidateTaskRequest([]byte(`{not json`))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "JSON parse error")
}

func TestValidateConfirmRequest(t *testing.T) {
	assert.Empty(t, ValidateConfirmRequest([]byte(`{"task_id":"t","provider_id":"p","slot":"2026-10-20T09:00:00Z"}`)))
	assert.NotEmpty(t, ValidateConfirmRequest([]byte(`{"task_id":"t"}`)))
}

func TestValidateMessageRequest(t *testing.T) {
	assert.Empty(t, ValidateMessageRequest([]byte(`{"task_id":"t","message":"later please"}`)))
	assert.NotEmpty(t, ValidateMessageRequest([]byte(`{"task_id":"t","message":""}`)))
}
