package timer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// MaxDuration is the longest duration a timer may be armed with.
const MaxDuration = 30000 * time.Second

var (
	ErrBadDuration = errors.New("timer: bad duration")
	ErrNullHandler = errors.New("timer: nil timer")
	ErrTimerCreate = errors.New("timer: create failed")
	ErrTimerSet    = errors.New("timer: set failed")
)

// Timer is a logical timer owned by a state machine. The ring flag is the
// only field touched outside the main loop; everything else is main-loop
// private.
type Timer struct {
	name    string
	service *Service

	mu      sync.Mutex
	handle  *time.Timer
	armed   bool
	ring    atomic.Bool
	rings   atomic.Uint64
	seq     uint64 // arm generation, stale fires are dropped
	secs    time.Duration
	armedAt time.Time
}

// Name returns the identifier the timer was registered under.
func (t *Timer) Name() string {
	return t.name
}

// Expired reports whether the timer rang since the last Reset.
func (t *Timer) Expired() bool {
	return t.ring.Load()
}

// Reset clears the ring flag without touching the armed state.
func (t *Timer) Reset() {
	t.ring.Store(false)
}

// Ring marks the timer expired. It is the only mutation allowed from a
// signal or callback context.
func (t *Timer) Ring() {
	t.ring.Store(true)
	t.rings.Add(1)
}

// Service owns every logical timer of a daemon and tracks the process-wide
// active count for diagnostics.
type Service struct {
	mu      sync.Mutex
	timers  map[string]*Timer
	active  atomic.Int64
	unknown atomic.Uint64
}

// NewService creates an empty timer service.
func NewService() *Service {
	return &Service{timers: make(map[string]*Timer)}
}

// New registers a named logical timer. Registering an existing name returns
// the already-registered timer.
func (s *Service) New(name string) *Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		return t
	}
	t := &Timer{name: name, service: s}
	s.timers[name] = t
	return t
}

// Start arms the timer for the given duration. Starting an already-armed
// timer cancels the previous expiry. On any failure the timer is left
// stopped and non-ringing.
func (s *Service) Start(t *Timer, d time.Duration) error {
	if t == nil {
		return ErrNullHandler
	}
	if d <= 0 || d > MaxDuration {
		s.stopLocked(t)
		return ErrBadDuration
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.armed {
		if t.handle != nil {
			t.handle.Stop()
		}
		s.active.Add(-1)
	}
	t.ring.Store(false)
	t.seq++
	seq := t.seq
	t.secs = d
	t.armedAt = time.Now()

	t.handle = time.AfterFunc(d, func() {
		t.mu.Lock()
		stale := seq != t.seq || !t.armed
		if !stale {
			t.armed = false
			s.active.Add(-1)
		}
		t.mu.Unlock()
		if stale {
			s.unknown.Add(1)
			return
		}
		t.Ring()
	})
	if t.handle == nil {
		return ErrTimerCreate
	}
	t.armed = true
	s.active.Add(1)
	return nil
}

// Stop disarms the timer. Safe to call from any context and idempotent; a
// stop against an unarmed timer is a no-op.
func (s *Service) Stop(t *Timer) {
	if t == nil {
		return
	}
	s.stopLocked(t)
}

func (s *Service) stopLocked(t *Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.armed {
		if t.handle != nil {
			t.handle.Stop()
		}
		t.armed = false
		t.seq++
		s.active.Add(-1)
	}
	t.ring.Store(false)
}

// Armed reports whether the timer is currently running.
func (s *Service) Armed(t *Timer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// ActiveCount returns the number of armed timers in the process.
func (s *Service) ActiveCount() int64 {
	return s.active.Load()
}

// UnknownRings returns the count of rings that arrived for a stale or
// unknown arm generation. These are recorded, never dispatched.
func (s *Service) UnknownRings() uint64 {
	return s.unknown.Load()
}
