package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "test.yaml", `
name: test_scenario
description: "Test scenario for validation"
draw: 0.25
steps:
  - at: 19s
    expect:
      state: finalized
      retry_count: 0
  - at: 1s
    watch: true
  - at: 5s
    push:
      status: settled
      skew: -400s
      tamper: true
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, 0.25, scenario.Draw)
	assert.Equal(t, DefaultOrderID, scenario.orderID())
	require.Len(t, scenario.Steps, 3)

	// Steps are sorted by offset.
	assert.Equal(t, time.Second, scenario.Steps[0].At)
	assert.True(t, scenario.Steps[0].Watch)

	push := scenario.Steps[1].Push
	require.NotNil(t, push)
	assert.Equal(t, "settled", push.Status)
	assert.Equal(t, -400*time.Second, push.Skew)
	assert.True(t, push.Tamper)

	exp := scenario.Steps[2].Expect
	require.NotNil(t, exp)
	assert.Equal(t, "finalized", exp.State)
	require.NotNil(t, exp.RetryCount)
	assert.Equal(t, 0, *exp.RetryCount)
	assert.Nil(t, exp.PollingActive)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownFieldRejected(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "expectation misspelled"
steps:
  - at: 1s
    watch: true
    expcet:
      state: watching
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
	assert.Contains(t, err.Error(), "expcet")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\nsteps:\n  - at: 1s\n    watch: true\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			content: "name: n\nsteps:\n  - at: 1s\n    watch: true\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "draw out of range",
			content: "name: n\ndescription: d\ndraw: 1\nsteps:\n  - at: 1s\n    watch: true\n",
			wantErr: "draw must be in [0, 1)",
		},
		{
			name:    "fractional offset",
			content: "name: n\ndescription: d\nsteps:\n  - at: 1500ms\n    watch: true\n",
			wantErr: "whole number of seconds",
		},
		{
			name:    "negative offset",
			content: "name: n\ndescription: d\nsteps:\n  - at: -1s\n    watch: true\n",
			wantErr: "at must not be negative",
		},
		{
			name:    "empty step",
			content: "name: n\ndescription: d\nsteps:\n  - at: 1s\n",
			wantErr: "step does nothing",
		},
		{
			name:    "unknown push status",
			content: "name: n\ndescription: d\nsteps:\n  - at: 1s\n    push:\n      status: refunded\n",
			wantErr: "steps[0]: push",
		},
		{
			name:    "unknown expected state",
			content: "name: n\ndescription: d\nsteps:\n  - at: 1s\n    expect:\n      state: done\n",
			wantErr: `unknown state "done"`,
		},
		{
			name:    "unknown expected source",
			content: "name: n\ndescription: d\nsteps:\n  - at: 1s\n    expect:\n      source: email\n",
			wantErr: `unknown source "email"`,
		},
		{
			name:    "watched twice",
			content: "name: n\ndescription: d\nsteps:\n  - at: 1s\n    watch: true\n  - at: 2s\n    watch: true\n",
			wantErr: "already watched",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "b.yaml", "name: second\ndescription: d\nsteps:\n  - at: 1s\n    watch: true\n")
	writeScenario(t, dir, "a.yaml", "name: first\ndescription: d\nsteps:\n  - at: 1s\n    watch: true\n")
	writeScenario(t, dir, "notes.txt", "ignored")

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].Name)
	assert.Equal(t, "second", scenarios[1].Name)
}

func TestLoadDir_DuplicateName(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", "name: same\ndescription: d\nsteps:\n  - at: 1s\n    watch: true\n")
	writeScenario(t, dir, "b.yaml", "name: same\ndescription: d\nsteps:\n  - at: 1s\n    watch: true\n")

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario name "same" already used by a.yaml`)
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios")
}
