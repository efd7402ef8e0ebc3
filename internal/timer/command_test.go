package timer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowUpID(t *testing.T) {
	assert.Equal(t, "follow-up-alice@example.com", FollowUpID("alice@example.com"))
}

func TestNewFollowUp(t *testing.T) {
	fireAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tm, err := NewFollowUp("alice@example.com", fireAt)
	require.NoError(t, err)
	assert.Equal(t, "follow-up-alice@example.com", tm.ID)
	assert.Equal(t, "alice@example.com", tm.Prospect)
	assert.Equal(t, fireAt, tm.FireAt)

	var cmd Command
	require.NoError(t, json.Unmarshal(tm.Command, &cmd))
	assert.Equal(t, CommandFollowUp, cmd.Type)
	assert.Equal(t, "alice@example.com", cmd.Prospect)
}
