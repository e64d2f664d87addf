package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the maintenance events the daemons can raise.
type Type uint32

// Event command codes shared with the maintenance master.
const (
	TypeNone Type = iota
	TypeHeartbeatReady
	TypeHeartbeatMinorSet
	TypeHeartbeatMinorClr
	TypeHeartbeatDegradeSet
	TypeHeartbeatDegradeClr
	TypeHeartbeatLoss
	TypeMonitorReady
	TypePmonLog
	TypePmonMinor
	TypePmonMajor
	TypePmonCrit
	TypePmonClear
)

func (t Type) String() string {
	switch t {
	case TypeHeartbeatReady:
		return "heartbeat.ready"
	case TypeHeartbeatMinorSet:
		return "heartbeat.minor.set"
	case TypeHeartbeatMinorClr:
		return "heartbeat.minor.clr"
	case TypeHeartbeatDegradeSet:
		return "heartbeat.degrade.set"
	case TypeHeartbeatDegradeClr:
		return "heartbeat.degrade.clr"
	case TypeHeartbeatLoss:
		return "heartbeat.loss"
	case TypeMonitorReady:
		return "monitor.ready"
	case TypePmonLog:
		return "pmon.log"
	case TypePmonMinor:
		return "pmon.minor"
	case TypePmonMajor:
		return "pmon.major"
	case TypePmonCrit:
		return "pmon.critical"
	case TypePmonClear:
		return "pmon.clear"
	}
	return "none"
}

// Event is one maintenance event headed for the master, also mirrored to
// in-process observers.
type Event struct {
	ID        string
	Type      Type
	Hostname  string
	Service   string
	Iface     string
	Process   string
	Timestamp time.Time
}

// Feed mirrors published events to in-process observers (diagnostics,
// tests). There is exactly one publisher per daemon, the main loop, so
// Publish delivers synchronously: no distribution goroutine, no
// lifecycle to manage. An observer that stops draining loses events, not
// the main loop; drops are counted per subscription.
type Feed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription is one observer's view of the feed.
type Subscription struct {
	// C delivers events in publish order until Cancel.
	C <-chan *Event

	feed    *Feed
	ch      chan *Event
	dropped uint64
}

// NewFeed creates a feed with no observers.
func NewFeed() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers an observer. The buffer bounds how far it may lag
// before events are dropped; zero picks a small default.
func (f *Feed) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscription{feed: f, ch: make(chan *Event, buffer)}
	sub.C = sub.ch

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

// Cancel removes the subscription and closes its channel.
func (sub *Subscription) Cancel() {
	sub.feed.mu.Lock()
	if _, ok := sub.feed.subs[sub]; ok {
		delete(sub.feed.subs, sub)
		close(sub.ch)
	}
	sub.feed.mu.Unlock()
}

// Dropped reports how many events this observer missed by lagging.
func (sub *Subscription) Dropped() uint64 {
	sub.feed.mu.Lock()
	defer sub.feed.mu.Unlock()
	return sub.dropped
}

// Publish stamps and delivers one event to every observer. Called only
// from the daemon main loop; never blocks.
func (f *Feed) Publish(ev *Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	f.mu.Lock()
	for sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
		}
	}
	f.mu.Unlock()
}

// ObserverCount returns the number of active subscriptions.
func (f *Feed) ObserverCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
