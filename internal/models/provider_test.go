package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{in: "09:00", want: NewClockTime(9, 0)},
		{in: "17:30", want: NewClockTime(17, 30)},
		{in: " 8:05 ", want: NewClockTime(8, 5)},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClockTime(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClockTime_JSONAndYAML(t *testing.T) {
	var p AvailabilityProfile
	require.NoError(t, json.Unmarshal([]byte(`{"weekday_open":"08:15","weekday_close":"16:45","slot_duration_minutes":20}`), &p))
	assert.Equal(t, 8, p.WeekdayOpen.Hour())
	assert.Equal(t, 15, p.WeekdayOpen.Minute())
	assert.Equal(t, "16:45", p.WeekdayClose.String())

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"weekday_open":"08:15"`)

	var y AvailabilityProfile
	require.NoError(t, yaml.Unmarshal([]byte("weekday_open: \"10:00\"\nweekday_close: \"12:00\"\n"), &y))
	assert.Equal(t, NewClockTime(10, 0), y.WeekdayOpen)
}

func TestStyle_Normalize(t *testing.T) {
	assert.Equal(t, StyleFriendly, Style("Friendly").Normalize())
	assert.Equal(t, StyleBrief, StyleBrief.Normalize())
	assert.Equal(t, StyleProfessional, Style("").Normalize())
	assert.Equal(t, StyleProfessional, Style("grumpy").Normalize())
}

func TestUserRequest_Validate(t *testing.T) {
	require.NoError(t, UserRequest{Message: "cleaning next week"}.Validate())
	require.Error(t, UserRequest{}.Validate())
	require.Error(t, UserRequest{Message: "x", Mode: "group"}.Validate())
	require.Error(t, UserRequest{Message: "x", Preferences: &PreferenceWeights{RatingWeight: 1.5}}.Validate())

	assert.Equal(t, DefaultPreferenceWeights(), UserRequest{Message: "x"}.Weights())
	custom := PreferenceWeights{AvailabilityWeight: 1}
	assert.Equal(t, custom, UserRequest{Message: "x", Preferences: &custom}.Weights())
}

func TestParseSlotTime(t *testing.T) {
	loc := time.FixedZone("X", 3600)

	got, err := ParseSlotTime("2026-10-20T09:30:00Z", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC)))

	got, err = ParseSlotTime("2026-10-20T09:30:00", loc)
	require.NoError(t, err)
	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 9, got.Hour())

	got, err = ParseSlotTime("2026-10-20 14:00", nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-20T14:00:00Z", FormatSlotTime(got))

	_, err = ParseSlotTime("next tuesday", nil)
	require.Error(t, err)
}
