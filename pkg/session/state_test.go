package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	allowed := [][2]State{
		{StateConnecting, StateAdmitted},
		{StateConnecting, StateClosed}, // rejected before admission
		{StateAdmitted, StateActive},
		{StateActive, StateClosing},
		{StateClosing, StateClosed},
	}
	for _, tr := range allowed {
		assert.True(t, canTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]State{
		{StateClosed, StateActive},
		{StateClosed, StateClosing},
		{StateActive, StateAdmitted},
		{StateClosing, StateActive},
		{StateAdmitted, StateConnecting},
	}
	for _, tr := range denied {
		assert.False(t, canTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestSetStateIgnoresInvalid(t *testing.T) {
	s := &Session{state: StateClosed}
	s.setState(StateActive)
	assert.Equal(t, StateClosed, s.State())
}
