package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingCall(context.Context) error { return eris.New("upstream down") }
func succeedingCall(context.Context) error { return nil }

func TestCircuitOpensAfterThreshold(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := c.Execute(ctx, failingCall)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, CircuitOpen, c.State())

	err := c.Execute(ctx, succeedingCall)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	require.Error(t, c.Execute(ctx, failingCall))
	require.Error(t, c.Execute(ctx, failingCall))
	require.NoError(t, c.Execute(ctx, succeedingCall))
	require.Error(t, c.Execute(ctx, failingCall))
	require.Error(t, c.Execute(ctx, failingCall))

	assert.Equal(t, CircuitClosed, c.State())
}

func TestCircuitHalfOpenProbeClosesOnSuccess(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	c := NewCircuit(CircuitConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	require.Error(t, c.Execute(ctx, failingCall))
	assert.Equal(t, CircuitOpen, c.State())

	now = now.Add(31 * time.Second)
	assert.Equal(t, CircuitHalfOpen, c.State())

	require.NoError(t, c.Execute(ctx, succeedingCall))
	assert.Equal(t, CircuitClosed, c.State())
}

func TestCircuitHalfOpenProbeReopensOnFailure(t *testing.T) {
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	c := NewCircuit(CircuitConfig{FailureThreshold: 1, ResetTimeout: 30 * time.Second})
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	require.Error(t, c.Execute(ctx, failingCall))

	now = now.Add(31 * time.Second)
	require.Error(t, c.Execute(ctx, failingCall))
	assert.Equal(t, CircuitOpen, c.State())

	// The clock has not advanced past the new failure, so calls are rejected.
	assert.ErrorIs(t, c.Execute(ctx, succeedingCall), ErrCircuitOpen)
}

func TestCircuitResetForcesClosed(t *testing.T) {
	c := NewCircuit(CircuitConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	ctx := context.Background()

	require.Error(t, c.Execute(ctx, failingCall))
	assert.Equal(t, CircuitOpen, c.State())

	c.Reset()
	assert.Equal(t, CircuitClosed, c.State())
	assert.NoError(t, c.Execute(ctx, succeedingCall))
}

func TestCircuitOnStateChangeObservesTransitions(t *testing.T) {
	type transition struct{ from, to CircuitState }
	var seen []transition
	c := NewCircuit(CircuitConfig{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
		OnStateChange: func(from, to CircuitState) {
			seen = append(seen, transition{from, to})
		},
	})
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }
	ctx := context.Background()

	require.Error(t, c.Execute(ctx, failingCall))
	now = now.Add(time.Minute)
	require.NoError(t, c.Execute(ctx, succeedingCall))

	require.Len(t, seen, 3)
	assert.Equal(t, transition{CircuitClosed, CircuitOpen}, seen[0])
	assert.Equal(t, transition{CircuitOpen, CircuitHalfOpen}, seen[1])
	assert.Equal(t, transition{CircuitHalfOpen, CircuitClosed}, seen[2])
}

func TestExecuteValPassesValueThrough(t *testing.T) {
	c := NewCircuit(CircuitConfig{})
	got, err := ExecuteVal(context.Background(), c, func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
