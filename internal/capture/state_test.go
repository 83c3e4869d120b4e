package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNext_TransitionTable(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		want State
		ok   bool
	}{
		{Idle, EvStartRequested, Recording, true},
		{Idle, EvStopRequested, Idle, false},
		{Idle, EvDeviceFinished, Idle, false},
		{Recording, EvStartFailed, Idle, true},
		{Recording, EvDeviceError, Idle, true},
		{Recording, EvStopRequested, Finalizing, true},
		{Recording, EvDeviceFinished, Finalizing, true},
		{Recording, EvStartRequested, Recording, false},
		{Finalizing, EvDeviceFinished, Finalizing, true},
		{Finalizing, EvDeviceError, Idle, true},
		{Finalizing, EvFinalizeDone, Idle, true},
		{Finalizing, EvStartRequested, Finalizing, false},
		{Finalizing, EvStopRequested, Finalizing, false},
	}
	for _, c := range cases {
		got, ok := Next(c.from, c.ev)
		assert.Equal(t, c.ok, ok, "%s + %s", c.from, c.ev)
		assert.Equal(t, c.want, got, "%s + %s", c.from, c.ev)
	}
}

func TestFacing_Toggle(t *testing.T) {
	assert.Equal(t, FacingFront, FacingBack.Toggle())
	assert.Equal(t, FacingBack, FacingFront.Toggle())
}
