package log

import "github.com/rs/zerolog"

// DefaultThrottle is the repeat count at which a throttled message is
// re-emitted with its running count.
const DefaultThrottle = 100

// Throttle suppresses repeated log messages from hot error paths such as
// datagram drops and send failures. The first occurrence is logged, then
// every Nth, each carrying the running count. Reset on success.
type Throttle struct {
	count uint64
	every uint64
}

// NewThrottle returns a throttle that passes the first message and then
// one out of every 'every' repeats.
func NewThrottle(every uint64) *Throttle {
	if every == 0 {
		every = DefaultThrottle
	}
	return &Throttle{every: every}
}

// Warn logs to the supplied logger at warn level when the throttle gate
// is open, and always increments the repeat count.
func (t *Throttle) Warn(logger zerolog.Logger, msg string) {
	if t.count%t.every == 0 {
		logger.Warn().Uint64("repeats", t.count).Msg(msg)
	}
	t.count++
}

// Error is Warn at error level.
func (t *Throttle) Error(logger zerolog.Logger, err error, msg string) {
	if t.count%t.every == 0 {
		logger.Error().Err(err).Uint64("repeats", t.count).Msg(msg)
	}
	t.count++
}

// Reset reopens the gate; called when the failing operation succeeds again.
func (t *Throttle) Reset() {
	t.count = 0
}

// Count returns the number of occurrences since the last reset.
func (t *Throttle) Count() uint64 {
	return t.count
}
