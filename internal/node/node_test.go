package node

import (
	"testing"

	"github.com/specialistvlad/privacyflow/internal/nodeid"
	"github.com/specialistvlad/privacyflow/internal/planner"
	"github.com/specialistvlad/privacyflow/internal/request"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusReady, true},
		{StatusPending, StatusComplete, true},
		{StatusPending, StatusRunning, false},
		{StatusReady, StatusRunning, true},
		{StatusRunning, StatusComplete, true},
		{StatusRunning, StatusErrored, true},
		{StatusErrored, StatusReady, true},
		{StatusErrored, StatusComplete, false},
		{StatusComplete, StatusReady, false},
		{StatusSkipped, StatusReady, false},
	}

	for _, tc := range testCases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.to))
		})
	}
}

func TestNode_SkipRunsOnce(t *testing.T) {
	n := New(&planner.TraversalNode{Address: nodeid.New("app", "users")}, request.ModeAccess)
	calls := 0

	assert.True(t, n.Skip(func() { calls++ }))
	assert.False(t, n.Skip(func() { calls++ }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "app:users", n.ID())
	assert.False(t, n.IsSentinel())
}
