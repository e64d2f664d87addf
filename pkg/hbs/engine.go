package hbs

import (
	"net"
	"time"

	"github.com/cuemby/nodehealth/pkg/alarm"
	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/event"
	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/metrics"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// InterfaceErrorsForReinit is the count of back-to-back send failures
	// on one network before its sockets are torn down and reopened.
	InterfaceErrorsForReinit = 8

	// BackoffFactor multiplies the pulse period during MNFA recovery.
	BackoffFactor = 4

	// DefaultMNFAThreshold is the number of peers that must trip the
	// failure threshold within one period to enter the hold-off.
	DefaultMNFAThreshold = 2

	// MNFARecoveryGrace is the settle time after the last failed peer
	// recovers before the hold-off is dropped.
	MNFARecoveryGrace = 3 * time.Second

	// MaxSilentFaultLoopCount is the tick count with zero transmit
	// attempts on any network that trips the silent-fault log.
	MaxSilentFaultLoopCount = 500
)

// PulseSocket is the slice of the messaging layer the engine drives; the
// real implementation is msg.Socket.
type PulseSocket interface {
	Read(buf []byte) (int, *net.UDPAddr, error)
	Write(buf []byte, override *net.UDPAddr) (int, error)
	Close() error
}

// SocketFactory builds the rx/tx socket pair for a network; the engine
// calls it again whenever an interface needs reinitialization.
type SocketFactory func(n types.Network) (rx, tx PulseSocket, err error)

// EventSink delivers maintenance events to the master.
type EventSink interface {
	Send(ev *event.Event) error
}

type netChannel struct {
	provisioned  bool
	rx, tx       PulseSocket
	sendFailures int
	txAttempts   uint64
	seq          uint32
}

// Engine is the heartbeat pulse engine: one multicast request per network
// per period, response draining, miss accounting and the per-peer severity
// ladder. Single-threaded; every method runs on the daemon main loop.
type Engine struct {
	cfg      *config.HbsConfig
	hostname string
	ctrlID   int

	inv     *Inventory
	alarms  *alarm.Manager
	events  EventSink
	factory SocketFactory
	logger  zerolog.Logger

	nets [types.NetworkCount]*netChannel

	periodMsecs     int
	basePeriodMsecs int
	active          bool // active controller emits pulse requests

	failureAction    config.FailureAction
	failedThisPeriod int
	mnfaThreshold    int
	mnfaActive       bool
	mnfaRecoverAt    time.Time

	// self flags observed from our own response loopback
	selfFlags uint32

	silentTicks  uint64
	silentLogged bool

	sendLog *log.Throttle
	rxBuf   []byte
}

// NewEngine wires a pulse engine. Networks are provisioned lazily by
// EnableNetwork.
func NewEngine(cfg *config.HbsConfig, hostname string, ctrlID int, fm alarm.FM, events EventSink, factory SocketFactory) *Engine {
	e := &Engine{
		cfg:             cfg,
		hostname:        hostname,
		ctrlID:          ctrlID,
		inv:             NewInventory(),
		alarms:          alarm.NewManager(fm),
		events:          events,
		factory:         factory,
		logger:          log.WithComponent("pulse-engine"),
		periodMsecs:     cfg.HeartbeatPeriodMsecs,
		basePeriodMsecs: cfg.HeartbeatPeriodMsecs,
		failureAction:   cfg.FailureAction,
		mnfaThreshold:   DefaultMNFAThreshold,
		sendLog:         log.NewThrottle(0),
		rxBuf:           make([]byte, 2048),
	}
	for n := range e.nets {
		e.nets[n] = &netChannel{}
	}
	return e
}

// Inventory exposes the peer table to the command channel and SM server.
func (e *Engine) Inventory() *Inventory {
	return e.inv
}

// Alarms exposes the alarm manager.
func (e *Engine) Alarms() *alarm.Manager {
	return e.alarms
}

// PeriodMsecs returns the current pulse period.
func (e *Engine) PeriodMsecs() int {
	return e.periodMsecs
}

// SetActive switches the engine between active and standby controller
// roles. Only the active controller transmits.
func (e *Engine) SetActive(active bool) {
	if e.active == active {
		return
	}
	e.active = active
	e.logger.Info().Bool("active", active).Msg("controller activity state changed")
}

// EnableNetwork provisions a network and opens its sockets.
func (e *Engine) EnableNetwork(n types.Network) error {
	ch := e.nets[n]
	if err := e.openSockets(n); err != nil {
		return err
	}
	ch.provisioned = true
	return nil
}

func (e *Engine) openSockets(n types.Network) error {
	ch := e.nets[n]
	if ch.rx != nil {
		ch.rx.Close()
	}
	if ch.tx != nil {
		ch.tx.Close()
	}
	rx, tx, err := e.factory(n)
	if err != nil {
		return err
	}
	ch.rx, ch.tx = rx, tx
	ch.sendFailures = 0
	return nil
}

// Tick runs one period boundary: close out the ending period (miss
// accounting, ladder), then transmit the next period's pulse requests.
func (e *Engine) Tick() {
	e.failedThisPeriod = 0

	for _, p := range e.inv.List() {
		if !p.Monitored {
			continue
		}
		for n := types.Network(0); n < types.NetworkCount; n++ {
			if e.nets[n].provisioned {
				e.accountPeer(p, n)
			}
		}
	}

	e.updateMNFA()
	e.serviceSilentFaultDetector()

	if e.active {
		e.transmit()
	}
}

// transmit emits exactly one pulse request per provisioned network.
func (e *Engine) transmit() {
	snapshot := e.BuildSnapshot()

	for n := types.Network(0); n < types.NetworkCount; n++ {
		ch := e.nets[n]
		if !ch.provisioned {
			continue
		}
		ch.seq++

		req := &Message{
			Request:  true,
			Version:  Version,
			Seq:      ch.seq,
			Hostname: e.hostname,
			Cluster:  snapshot,
		}
		req.SetController(e.ctrlID)

		data, err := req.Encode()
		if err != nil {
			e.logger.Error().Err(err).Msg("pulse request encode failed")
			continue
		}

		ch.txAttempts++
		if _, err := ch.tx.Write(data, nil); err != nil {
			ch.sendFailures++
			e.sendLog.Error(e.logger, err, "pulse request send failed on "+n.String())
			if ch.sendFailures >= InterfaceErrorsForReinit {
				e.reinit(n)
			}
			continue
		}
		ch.sendFailures = 0
		e.sendLog.Reset()
		metrics.PulsesSent.WithLabelValues(n.String()).Inc()

		// arm expectations for the new period
		for _, p := range e.inv.List() {
			if p.Monitored {
				p.Net[n].Expected = true
				p.Net[n].Outstanding = true
			}
		}
	}
}

func (e *Engine) reinit(n types.Network) {
	e.logger.Warn().Str("network", n.String()).Msg("back-to-back send failures, reinitializing interface sockets")
	metrics.InterfaceReinits.WithLabelValues(n.String()).Inc()
	if err := e.openSockets(n); err != nil {
		e.logger.Error().Err(err).Str("network", n.String()).Msg("interface reinit failed, will retry after next failure burst")
	}
}

// DrainResponses consumes every queued response on every provisioned
// network. Called repeatedly between ticks by the main loop.
func (e *Engine) DrainResponses() {
	for n := types.Network(0); n < types.NetworkCount; n++ {
		ch := e.nets[n]
		if !ch.provisioned || ch.rx == nil {
			continue
		}
		for {
			sz, _, err := ch.rx.Read(e.rxBuf)
			if err != nil {
				break
			}
			e.handleResponse(n, e.rxBuf[:sz])
		}
	}
}

func (e *Engine) handleResponse(n types.Network, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		metrics.PulsesDropped.WithLabelValues("bad_magic").Inc()
		return
	}
	if msg.Request {
		// our own multicast request looped back
		return
	}
	if msg.Controller() != e.ctrlID {
		// destined for the other controller
		metrics.PulsesDropped.WithLabelValues("other_controller").Inc()
		return
	}

	if msg.Hostname == e.hostname {
		// self response carries local clustered-services presence; it is
		// never credited as a peer pulse
		e.selfFlags = msg.Flags
		return
	}

	ch := e.nets[n]
	if msg.Seq != ch.seq {
		metrics.PulsesOutOfSequence.WithLabelValues(n.String()).Inc()
		if p := e.inv.GetByRRI(msg.RRI, msg.Hostname); p != nil {
			p.Net[n].OutOfSeq++
		}
		return
	}

	p := e.inv.GetByRRI(msg.RRI, msg.Hostname)
	if p == nil || !p.Monitored {
		metrics.PulsesDropped.WithLabelValues("unknown_host").Inc()
		return
	}

	stats := &p.Net[n]
	if stats.Outstanding {
		stats.Outstanding = false
	}
	stats.Misses = 0
	stats.TotalRx++
	metrics.PulsesReceived.WithLabelValues(n.String()).Inc()
	metrics.PeerMisses.WithLabelValues(p.Hostname, n.String()).Set(0)

	e.accountPmond(p, n, msg.Flags)

	if msg.Cluster != nil {
		p.View = msg.Cluster
	}
}

// BuildSnapshot produces the cluster view appended to pulse requests and
// served to SM.
func (e *Engine) BuildSnapshot() *Snapshot {
	snap := &Snapshot{}
	for _, p := range e.inv.List() {
		if !p.Monitored {
			continue
		}
		for n := types.Network(0); n < types.NetworkCount; n++ {
			if !e.nets[n].provisioned {
				continue
			}
			if len(snap.Networks[n]) >= MaxSnapshotEntries {
				continue
			}
			snap.Networks[n] = append(snap.Networks[n], SnapshotEntry{
				HostnameHash: HostnameHash(p.Hostname),
				Reachable:    p.Net[n].State != StateFailed,
				HeartbeatOK:  p.Net[n].Misses == 0,
			})
		}
	}
	return snap
}

// SelfFlags returns the flags observed on our own looped-back response.
func (e *Engine) SelfFlags() uint32 {
	return e.selfFlags
}

func (e *Engine) sendEvent(t event.Type, hostname string, n types.Network) {
	ev := &event.Event{
		Type:     t,
		Hostname: hostname,
		Service:  "heartbeat",
		Iface:    n.String(),
	}
	if err := e.events.Send(ev); err != nil {
		e.logger.Error().Err(err).Str("event", t.String()).Msg("event send to maintenance master failed")
	}
}

// --- MNFA -----------------------------------------------------------------

func (e *Engine) updateMNFA() {
	if e.failedThisPeriod >= e.mnfaThreshold && !e.mnfaActive {
		e.mnfaActive = true
		metrics.MNFAActive.Set(1)
		e.logger.Warn().
			Int("failed_peers", e.failedThisPeriod).
			Msg("multi-node failure avoidance entered")
		for _, p := range e.inv.List() {
			for n := types.Network(0); n < types.NetworkCount; n++ {
				if p.Net[n].State == StateFailed {
					p.MNFAActive = true
				}
			}
		}
		return
	}

	if e.mnfaActive {
		anyFailed := false
		for _, p := range e.inv.List() {
			for n := types.Network(0); n < types.NetworkCount; n++ {
				if p.Monitored && p.Net[n].State == StateFailed {
					anyFailed = true
				}
			}
		}
		if anyFailed {
			e.mnfaRecoverAt = time.Time{}
			return
		}
		if e.mnfaRecoverAt.IsZero() {
			e.mnfaRecoverAt = types.ClockNow().Add(MNFARecoveryGrace)
			return
		}
		if types.ClockNow().After(e.mnfaRecoverAt) {
			e.mnfaActive = false
			e.mnfaRecoverAt = time.Time{}
			metrics.MNFAActive.Set(0)
			e.logger.Info().Msg("multi-node failure avoidance exited")
			for _, p := range e.inv.List() {
				p.MNFAActive = false
			}
		}
	}
}

// Backoff multiplies the pulse period for MNFA recovery.
func (e *Engine) Backoff() {
	e.periodMsecs = e.basePeriodMsecs * BackoffFactor
	e.logger.Info().Int("period_msecs", e.periodMsecs).Msg("heartbeat period backed off")
}

// Recover restores the base pulse period.
func (e *Engine) Recover() {
	e.periodMsecs = e.basePeriodMsecs
	e.logger.Info().Int("period_msecs", e.periodMsecs).Msg("heartbeat period restored")
}

// --- failure action -------------------------------------------------------

// SetFailureAction changes the failure action. Leaving none clears every
// heartbeat alarm and all pulse stats so the ladder restarts fresh.
func (e *Engine) SetFailureAction(action config.FailureAction) {
	if e.failureAction == action {
		return
	}
	leavingNone := e.failureAction == config.ActionNone
	e.failureAction = action
	e.logger.Info().Str("action", string(action)).Msg("heartbeat failure action changed")
	if leavingNone {
		for _, p := range e.inv.List() {
			e.clearPeer(p)
		}
	}
}

// --- host control ---------------------------------------------------------

// AddHost inserts or refreshes a peer from a maintenance master command.
func (e *Engine) AddHost(hostname string, state types.HostState) *Peer {
	p := e.inv.Add(hostname)
	p.State = state
	e.logger.Info().Str("hostname", hostname).Msg("host added to heartbeat inventory")
	return p
}

// StartHost begins monitoring a peer.
func (e *Engine) StartHost(hostname string) {
	if p, ok := e.inv.Get(hostname); ok {
		p.Monitored = true
		e.logger.Info().Str("hostname", hostname).Msg("heartbeat monitoring started")
		e.publishMonitoredCounts()
	}
}

// StopHost halts monitoring and clears the peer's stats and alarms.
func (e *Engine) StopHost(hostname string) {
	if p, ok := e.inv.Get(hostname); ok {
		p.Monitored = false
		e.clearPeer(p)
		e.logger.Info().Str("hostname", hostname).Msg("heartbeat monitoring stopped")
		e.publishMonitoredCounts()
	}
}

// DelHost stops monitoring and removes the peer from inventory.
func (e *Engine) DelHost(hostname string) {
	e.StopHost(hostname)
	if e.inv.Delete(hostname) {
		e.logger.Info().Str("hostname", hostname).Msg("host deleted from heartbeat inventory")
	}
}

func (e *Engine) publishMonitoredCounts() {
	for n := types.Network(0); n < types.NetworkCount; n++ {
		if e.nets[n].provisioned {
			metrics.PeersMonitored.WithLabelValues(n.String()).Set(float64(e.inv.MonitoredCount(n)))
		}
	}
}

// --- silent fault detector ------------------------------------------------

// serviceSilentFaultDetector logs once when no transmit attempts have been
// observed for too many ticks. Log and continue; recovery is a human
// action through the external supervisor.
func (e *Engine) serviceSilentFaultDetector() {
	if !e.active {
		e.silentTicks = 0
		return
	}

	progress := false
	for n := types.Network(0); n < types.NetworkCount; n++ {
		ch := e.nets[n]
		if ch.provisioned && ch.txAttempts > 0 {
			ch.txAttempts = 0
			progress = true
		}
	}
	if progress {
		if e.silentLogged {
			e.logger.Info().Msg("heartbeat service is making forward progress again")
			e.silentLogged = false
		}
		e.silentTicks = 0
		return
	}

	e.silentTicks++
	if e.silentTicks > MaxSilentFaultLoopCount && !e.silentLogged {
		e.silentLogged = true
		e.logger.Warn().
			Str("service", "heartbeat").
			Msg("heartbeat service is not making forward progress; no automatic recovery")
	}
}
