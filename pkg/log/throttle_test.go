package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestThrottleGatesRepeats(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)

	th := NewThrottle(10)
	for i := 0; i < 25; i++ {
		th.Warn(logger, "send failed")
	}

	// occurrences 0, 10 and 20 pass the gate
	assert.Equal(t, 3, strings.Count(buf.String(), "send failed"))
	assert.EqualValues(t, 25, th.Count())
}

func TestThrottleReset(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := zerolog.New(buf)

	th := NewThrottle(100)
	th.Warn(logger, "drop")
	th.Warn(logger, "drop")
	th.Reset()
	th.Warn(logger, "drop")

	// first after reset passes again
	assert.Equal(t, 2, strings.Count(buf.String(), "drop"))
	assert.EqualValues(t, 1, th.Count())
}

func TestThrottleZeroUsesDefault(t *testing.T) {
	th := NewThrottle(0)
	assert.EqualValues(t, DefaultThrottle, th.every)
}
