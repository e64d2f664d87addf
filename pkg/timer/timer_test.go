package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndRing(t *testing.T) {
	svc := NewService()
	tm := svc.New("test")

	require.NoError(t, svc.Start(tm, 10*time.Millisecond))
	assert.True(t, svc.Armed(tm))
	assert.EqualValues(t, 1, svc.ActiveCount())

	assert.Eventually(t, tm.Expired, time.Second, time.Millisecond)
	assert.False(t, svc.Armed(tm))
	assert.EqualValues(t, 0, svc.ActiveCount())

	tm.Reset()
	assert.False(t, tm.Expired())
}

func TestStartRearmsArmedTimer(t *testing.T) {
	svc := NewService()
	tm := svc.New("rearm")

	require.NoError(t, svc.Start(tm, time.Hour))
	require.NoError(t, svc.Start(tm, 10*time.Millisecond))

	// only one underlying timer may remain
	assert.EqualValues(t, 1, svc.ActiveCount())
	assert.Eventually(t, tm.Expired, time.Second, time.Millisecond)
	assert.EqualValues(t, 0, svc.ActiveCount())
}

func TestStopIsIdempotent(t *testing.T) {
	svc := NewService()
	tm := svc.New("stop")

	require.NoError(t, svc.Start(tm, time.Hour))
	svc.Stop(tm)
	svc.Stop(tm)
	svc.Stop(tm)

	assert.False(t, svc.Armed(tm))
	assert.False(t, tm.Expired())
	assert.EqualValues(t, 0, svc.ActiveCount())
}

func TestStartFailures(t *testing.T) {
	svc := NewService()
	tm := svc.New("bad")

	tests := []struct {
		name     string
		timer    *Timer
		duration time.Duration
		want     error
	}{
		{"nil timer", nil, time.Second, ErrNullHandler},
		{"zero duration", tm, 0, ErrBadDuration},
		{"negative duration", tm, -time.Second, ErrBadDuration},
		{"over ceiling", tm, MaxDuration + time.Second, ErrBadDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Start(tt.timer, tt.duration)
			assert.ErrorIs(t, err, tt.want)
			if tt.timer != nil {
				// failures leave the timer stopped and non-ringing
				assert.False(t, svc.Armed(tt.timer))
				assert.False(t, tt.timer.Expired())
			}
		})
	}
}

func TestStaleRingNotDispatched(t *testing.T) {
	svc := NewService()
	tm := svc.New("stale")

	require.NoError(t, svc.Start(tm, 5*time.Millisecond))
	svc.Stop(tm)

	// let the cancelled expiry window pass; the ring must not land
	time.Sleep(30 * time.Millisecond)
	assert.False(t, tm.Expired())
}

func TestNewReturnsExistingTimer(t *testing.T) {
	svc := NewService()
	a := svc.New("shared")
	b := svc.New("shared")
	assert.Same(t, a, b)
}

func TestManualRing(t *testing.T) {
	svc := NewService()
	tm := svc.New("manual")

	tm.Ring()
	assert.True(t, tm.Expired())
	tm.Reset()
	assert.False(t, tm.Expired())
}
