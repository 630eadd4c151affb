package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/callpilot/callpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProviders = `[
  {
    "id": "dent-001",
    "name": "Bright Smiles Dental",
    "rating": 4.7,
    "distance_km": 1.8,
    "receptionist_style": "friendly",
    "availability_profile": {"weekday_hours": ["09:00", "17:00"], "slot_duration_minutes": 30}
  },
  {
    "id": "dent-002",
    "name": "Harbor View Dentistry",
    "rating": 4.2,
    "distance_km": 5.4,
    "receptionist_style": "formal",
    "availability_profile": {"weekday_hours": ["08:00", "16:00"], "slot_duration_minutes": 45, "buffer_minutes": 15}
  },
  {
    "id": "dent-003",
    "name": "Maple Street Family Dental",
    "rating": 3.9,
    "distance_km": 3.1,
    "receptionist_style": "brief",
    "availability_profile": {"weekday_hours": ["10:00", "18:00"], "weekend_enabled": true}
  }
]`

// testProject writes a catalog and a fast .callpilot.yaml into a temp dir and
// returns the dir.
func testProject(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()

	providers := filepath.Join(dir, "providers.json")
	require.NoError(t, os.WriteFile(providers, []byte(testProviders), 0o644))

	cfg := fmt.Sprintf(`
paths:
  providers: %q
  transcripts: %q
negotiation:
  max_turns: 6
  turn_timeout_sec: 2
  poll_interval_ms: 5
  warmup_ms: 0
  grace_ms: 0
%s`, providers, filepath.Join(dir, "transcripts"), extra)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".callpilot.yaml"), []byte(cfg), 0o644))

	return dir
}

// runCLI executes the root command with args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	err := cmd.Execute()
	return out.String(), err
}

func stubPrompt(t *testing.T, choice int, ok bool) *[]models.RankedSlot {
	t.Helper()
	var offered []models.RankedSlot
	orig := promptSlot
	promptSlot = func(_ io.Reader, _ io.Writer, shortlist []models.RankedSlot) (int, bool) {
		offered = shortlist
		return choice, ok
	}
	t.Cleanup(func() { promptSlot = orig })
	return &offered
}

func TestRun_SwarmPrintsShortlist(t *testing.T) {
	dir := testProject(t, "")
	outPath := filepath.Join(dir, "task.json")

	out, err := runCLI(t, "run", "--config-dir", dir, "-o", outPath, "I need a dental cleaning")
	require.NoError(t, err, out)

	assert.Contains(t, out, "NEGOTIATION RESULTS (swarm mode)")
	assert.Contains(t, out, "Providers contacted: 3")
	assert.Contains(t, out, "SHORTLIST")
	assert.Contains(t, out, "Bright Smiles Dental")
	assert.Contains(t, out, "Harbor View Dentistry")
	assert.Contains(t, out, "Results saved to:")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var task models.TaskState
	require.NoError(t, json.Unmarshal(data, &task))
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.Len(t, task.Outcomes, 3)
	require.NotEmpty(t, task.Shortlist)
	assert.Equal(t, 1, task.Shortlist[0].Rank)
	assert.NotEmpty(t, task.ToolLog)

	transcripts, err := os.ReadDir(filepath.Join(dir, "transcripts"))
	require.NoError(t, err)
	assert.Len(t, transcripts, 3)
}

func TestRun_MaxAgentsLimitsSwarm(t *testing.T) {
	dir := testProject(t, "")

	out, err := runCLI(t, "run", "--config-dir", dir, "--max-agents", "2", "cleaning")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Providers contacted: 2")
	assert.NotContains(t, out, "Maple Street")
}

func TestRun_SingleMode(t *testing.T) {
	dir := testProject(t, "")

	out, err := runCLI(t, "run", "--config-dir", dir, "--mode", "single", "--provider", "dent-002", "checkup")
	require.NoError(t, err, out)
	assert.Contains(t, out, "(single mode)")
	assert.Contains(t, out, "Providers contacted: 1")
	assert.Contains(t, out, "Harbor View Dentistry")
	assert.NotContains(t, out, "Bright Smiles")
}

func TestRun_ConfirmBooksChosenSlot(t *testing.T) {
	dir := testProject(t, "")
	offered := stubPrompt(t, 0, true)

	out, err := runCLI(t, "run", "--config-dir", dir, "--confirm", "cleaning")
	require.NoError(t, err, out)

	require.NotEmpty(t, *offered)
	first := (*offered)[0]
	assert.Contains(t, out, "Booked "+first.ProviderName)
	assert.Contains(t, out, "confirmation: book-"+first.ProviderID+"-"+first.Slot.Format("2006-01-02"))
}

func TestRun_ConfirmDeclined(t *testing.T) {
	dir := testProject(t, "")
	stubPrompt(t, 0, false)

	out, err := runCLI(t, "run", "--config-dir", dir, "--confirm", "cleaning")
	require.NoError(t, err)
	assert.Contains(t, out, "No slot booked.")
	assert.NotContains(t, out, "Booked")
}

func TestRun_ConfirmWithoutTerminal(t *testing.T) {
	dir := testProject(t, "")

	out, err := runCLI(t, "run", "--config-dir", dir, "--confirm", "cleaning")
	require.NoError(t, err)
	assert.Contains(t, out, "--confirm needs an interactive terminal")
}

func TestRun_SessionLog(t *testing.T) {
	dir := testProject(t, "")
	logDir := filepath.Join(dir, "events") + "/"

	_, err := runCLI(t, "run", "--config-dir", dir, "--session-log", logDir, "cleaning")
	require.NoError(t, err)

	out, err := runCLI(t, "events", "list", "--dir", logDir)
	require.NoError(t, err)
	assert.Contains(t, out, "-swarm.jsonl")

	matches, err := filepath.Glob(filepath.Join(logDir, "*-swarm.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	out, err = runCLI(t, "events", "view", matches[0])
	require.NoError(t, err)
	assert.Contains(t, out, "SWARM TIMELINE")
	assert.Contains(t, out, "dent-001")
}

func TestRun_TranscriptsCanBeDisabled(t *testing.T) {
	dir := testProject(t, "storage:\n  enabled: false\n")

	_, err := runCLI(t, "run", "--config-dir", dir, "cleaning")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "transcripts"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		args    []string
		wantErr string
	}{
		{"unknown mode", "", []string{"--mode", "conference", "x"}, "unknown mode"},
		{"blank request", "", []string{"   "}, "message is required"},
		{"missing catalog", "", []string{"--providers", "/nonexistent/providers.json", "x"}, "reading provider catalog"},
		{"invalid config", "engine:\n  type: quantum\n", []string{"x"}, "engine.type"},
		{"weight out of range", "", []string{"--rating-weight", "2", "x"}, "rating_weight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := testProject(t, tt.extra)
			args := append([]string{"run", "--config-dir", dir}, tt.args...)

			_, err := runCLI(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var noResult *NoResultError
			assert.False(t, errors.As(err, &noResult))
		})
	}
}

func TestRun_EmptyShortlistIsNoResult(t *testing.T) {
	dir := testProject(t, "")
	providers := filepath.Join(dir, "closed.json")
	require.NoError(t, os.WriteFile(providers, []byte(`[
  {"id": "closed", "name": "Closed Clinic", "availability_profile": {"weekday_hours": ["09:00", "09:10"], "slot_duration_minutes": 30}}
]`), 0o644))

	out, err := runCLI(t, "run", "--config-dir", dir, "--providers", providers, "cleaning")
	require.Error(t, err)

	var noResult *NoResultError
	require.True(t, errors.As(err, &noResult), "got %v", err)
	assert.Contains(t, out, "No bookable slots were found.")
}

func TestRequestWeights(t *testing.T) {
	t.Run("defaults stay implicit", func(t *testing.T) {
		cmd := newRunCommand()
		require.NoError(t, cmd.ParseFlags(nil))
		_, ok := requestWeights(cmd, &runOptions{}, models.DefaultPreferenceWeights())
		assert.False(t, ok)
	})

	t.Run("flags override config", func(t *testing.T) {
		cmd := newRunCommand()
		require.NoError(t, cmd.ParseFlags([]string{"--distance-weight", "0.9"}))

		base := models.PreferenceWeights{AvailabilityWeight: 0.1, RatingWeight: 0.1, DistanceWeight: 0.1}
		w, ok := requestWeights(cmd, &runOptions{distanceWeight: 0.9}, base)
		assert.True(t, ok)
		assert.Equal(t, models.PreferenceWeights{AvailabilityWeight: 0.1, RatingWeight: 0.1, DistanceWeight: 0.9}, w)
	})

	t.Run("configured weights are passed on", func(t *testing.T) {
		cmd := newRunCommand()
		require.NoError(t, cmd.ParseFlags(nil))
		base := models.PreferenceWeights{DistanceWeight: 1}
		w, ok := requestWeights(cmd, &runOptions{}, base)
		assert.True(t, ok)
		assert.Equal(t, base, w)
	})
}
