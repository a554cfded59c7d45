package ctxswitch

import (
	"errors"
	"testing"

	"github.com/go-foundations/sandboxrt/interrupt"
	"github.com/stretchr/testify/require"
)

func TestSwitchToRunsToCompletion(t *testing.T) {
	ctx := New(func(y *Yielder) error {
		return nil
	})

	res := ctx.SwitchTo()
	require.Equal(t, OutcomeReturned, res.Outcome)
}

func TestGuestTrapBecomesError(t *testing.T) {
	ctx := New(func(y *Yielder) error {
		panic("boom")
	})

	res := ctx.SwitchTo()
	require.Equal(t, OutcomeError, res.Outcome)
	require.Contains(t, res.Err.Error(), "boom")
}

func TestGuestErrorBecomesError(t *testing.T) {
	ctx := New(func(y *Yielder) error {
		return errors.New("explicit failure")
	})

	res := ctx.SwitchTo()
	require.Equal(t, OutcomeError, res.Outcome)
	require.EqualError(t, res.Err, "explicit failure")
}

func TestCooperativeYieldThenResume(t *testing.T) {
	ctx := New(func(y *Yielder) error {
		y.Cooperative()
		return nil
	})

	first := ctx.SwitchTo()
	require.Equal(t, OutcomePaused, first.Outcome)
	require.False(t, first.WasPreempted)

	second := ctx.SwitchTo()
	require.Equal(t, OutcomeReturned, second.Outcome)
}

func TestBlockThenResume(t *testing.T) {
	ctx := New(func(y *Yielder) error {
		y.Block()
		return nil
	})

	first := ctx.SwitchTo()
	require.Equal(t, OutcomeBlocked, first.Outcome)

	second := ctx.SwitchTo()
	require.Equal(t, OutcomeReturned, second.Outcome)
}

// TestRoundTripPreservesLocalState is the context-switch round-trip law:
// capture a context mid-execution, resume it, and every value that was
// "live" at the capture point (the analogue of callee-saved registers and
// the stack pointer) must equal its value at the capture point.
func TestRoundTripPreservesLocalState(t *testing.T) {
	var observedAfterResume int

	ctx := New(func(y *Yielder) error {
		localCounter := 42
		localCounter++ // 43, captured on the goroutine's stack across the pause
		y.Cooperative()
		observedAfterResume = localCounter
		return nil
	})

	ctx.SwitchTo()
	ctx.SwitchTo()

	require.Equal(t, 43, observedAfterResume)
}

func TestYieldIsNoOpWithoutPendingPreemption(t *testing.T) {
	ctrl := interrupt.NewController(0, interrupt.NewDeferredMaxTable(1))

	var ranToCompletion bool
	ctx := New(func(y *Yielder) error {
		y.Yield(ctrl) // no preemption pending: must not pause
		ranToCompletion = true
		return nil
	})

	res := ctx.SwitchTo()
	require.Equal(t, OutcomeReturned, res.Outcome)
	require.True(t, ranToCompletion)
}

func TestYieldPausesOnPendingPreemption(t *testing.T) {
	ctrl := interrupt.NewController(0, interrupt.NewDeferredMaxTable(1))
	ctrl.OnTimerFired(true, true) // arms a pending preemption

	ctx := New(func(y *Yielder) error {
		y.Yield(ctrl)
		return nil
	})

	first := ctx.SwitchTo()
	require.Equal(t, OutcomePaused, first.Outcome)
	require.True(t, first.WasPreempted)

	second := ctx.SwitchTo()
	require.Equal(t, OutcomeReturned, second.Outcome)
}
