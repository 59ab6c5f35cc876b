package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	for _, bad := range []string{"", "Settled", "pending", "done "} {
		_, err := ParseStatus(bad)
		assert.Error(t, err, "expected %q to be rejected", bad)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusCreated.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusSettled.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestStatusCanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusProcessing, true},
		{StatusCreated, StatusSettled, true},
		{StatusCreated, StatusFailed, true},
		{StatusProcessing, StatusSettled, true},
		{StatusProcessing, StatusFailed, true},
		{StatusCreated, StatusCreated, false},
		{StatusProcessing, StatusCreated, false},
		{StatusSettled, StatusFailed, false},
		{StatusFailed, StatusSettled, false},
		{StatusSettled, StatusSettled, false},
		{StatusSettled, StatusProcessing, false},
		{Status("bogus"), StatusSettled, false},
		{StatusCreated, Status("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanAdvanceTo(tt.to))
		})
	}
}
