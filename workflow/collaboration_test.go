package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollaboration_Lifecycle(t *testing.T) {
	c := NewCollaboration("squad", "cut latency", []string{"a", "b"}, StrategyConsensus, ProtocolBroadcast)
	assert.Equal(t, CollaborationForming, c.Status())
	assert.ErrorIs(t, c.AppendOutcome("early", nil), ErrInvalidTransition)

	require.NoError(t, c.Activate("vote on each change"))
	require.NoError(t, c.AppendOutcome("first", map[string]any{"gain": 0.1}))
	require.NoError(t, c.AppendOutcome("second", nil))

	snap := c.Snapshot()
	assert.Equal(t, CollaborationActive, snap.Status)
	assert.Equal(t, "vote on each change", snap.Recommendation)
	require.Len(t, snap.Outcomes, 2)
	assert.Equal(t, "first", snap.Outcomes[0].Summary)

	require.NoError(t, c.Complete())
	assert.ErrorIs(t, c.Dissolve(), ErrInvalidTransition)
	assert.ErrorIs(t, c.AppendOutcome("late", nil), ErrInvalidTransition)
}

func TestCollaboration_Dissolve(t *testing.T) {
	c := NewCollaboration("squad", "obj", nil, StrategyHierarchical, ProtocolDirect)
	require.NoError(t, c.Dissolve())
	assert.Equal(t, CollaborationDissolved, c.Status())
	assert.ErrorIs(t, c.Activate("x"), ErrInvalidTransition)
}

func TestCollaboration_SnapshotOutcomesNeverNil(t *testing.T) {
	c := NewCollaboration("squad", "obj", []string{"a"}, StrategyDemocratic, ProtocolNegotiation)
	snap := c.Snapshot()
	assert.NotNil(t, snap.Outcomes)
	snap.AgentIDs[0] = "changed"
	assert.Equal(t, "a", c.AgentIDs[0])
}
