package circuitbreaker

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := New("test", 3, time.Minute)
	assert.Equal(t, StateClosed, b.GetState())
	assert.True(t, b.Allow())
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := New("test", 3, time.Minute)

	b.Failure()
	b.Failure()
	assert.Equal(t, StateClosed, b.GetState(), "below threshold the circuit stays closed")
	assert.True(t, b.Allow())

	b.Failure()
	assert.Equal(t, StateOpen, b.GetState())
	assert.False(t, b.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("test", 3, time.Minute)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	assert.Equal(t, StateClosed, b.GetState(), "failure count must reset on success")
}

func TestHalfOpenProbeAfterCooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	b := New("test", 1, time.Minute).WithClock(func() time.Time { return now })

	b.Failure()
	require.Equal(t, StateOpen, b.GetState())
	assert.False(t, b.Allow())

	// Cooldown elapsed: exactly one probe gets through.
	now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.GetState())
	assert.False(t, b.Allow(), "second caller must wait for the probe outcome")

	b.Success()
	assert.Equal(t, StateClosed, b.GetState())
	assert.True(t, b.Allow())
}

func TestFailedProbeReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	b := New("test", 1, time.Minute).WithClock(func() time.Time { return now })

	b.Failure()
	now = now.Add(time.Minute)
	require.True(t, b.Allow())

	b.Failure()
	assert.Equal(t, StateOpen, b.GetState())
	assert.False(t, b.Allow(), "a failed probe restarts the cooldown")

	now = now.Add(time.Minute)
	assert.True(t, b.Allow(), "next cooldown allows another probe")
}

func TestReset(t *testing.T) {
	b := New("test", 1, time.Hour)
	b.Failure()
	require.Equal(t, StateOpen, b.GetState())

	b.Reset()
	assert.Equal(t, StateClosed, b.GetState())
	assert.True(t, b.Allow())
}

func TestTripCallback(t *testing.T) {
	var tripped atomic.Int32
	b := New("test", 2, time.Minute).WithTripCallback(func(name string) {
		assert.Equal(t, "test", name)
		tripped.Add(1)
	})

	b.Failure()
	b.Failure()

	assert.Eventually(t, func() bool { return tripped.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
