package hbs

import (
	"fmt"

	"github.com/cuemby/nodehealth/pkg/alarm"
	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/event"
	"github.com/cuemby/nodehealth/pkg/metrics"
	"github.com/cuemby/nodehealth/pkg/types"
)

// PmondMissingThreshold is the number of consecutive pulse responses
// without the pmond-alive flag before the host is degraded for a missing
// process monitor.
const PmondMissingThreshold = 10

func hbAlarmID(n types.Network) string {
	if n == types.NetworkClstr {
		return alarm.IDClstrHeartbeat
	}
	return alarm.IDMgmntHeartbeat
}

// accountPeer closes the period for one peer on one network: an expected
// peer still outstanding takes a miss, and the severity ladder is walked in
// whichever direction the miss count dictates.
func (e *Engine) accountPeer(p *Peer, n types.Network) {
	stats := &p.Net[n]
	if !stats.Expected {
		return
	}
	stats.Expected = false

	if stats.Outstanding {
		stats.Outstanding = false
		stats.Misses++
		stats.TotalMissed++
		metrics.PeerMisses.WithLabelValues(p.Hostname, n.String()).Set(float64(stats.Misses))
		e.escalate(p, n)
		return
	}

	// a credited period resets the miss counter on arrival; recovery is
	// driven here at the tick boundary
	if stats.Misses == 0 && stats.State != StateClear {
		e.recoverOneStep(p, n)
	}
}

// escalate walks the severity ladder upward.
func (e *Engine) escalate(p *Peer, n types.Network) {
	if e.failureAction == config.ActionNone {
		// track misses, suppress every alarm and event
		return
	}

	stats := &p.Net[n]
	switch {
	case stats.Misses >= e.cfg.FailureThreshold && stats.State != StateFailed:
		stats.State = StateFailed
		e.failedThisPeriod++
		e.logger.Error().
			Str("hostname", p.Hostname).
			Str("network", n.String()).
			Int("misses", stats.Misses).
			Msg("heartbeat loss")
		e.sendEvent(event.TypeHeartbeatLoss, p.Hostname, n)
		// fail vs degrade vs alarm only changes what the maintenance master
		// does with the loss event; the alarm is raised in all three
		e.alarms.Raise(p.Hostname, hbAlarmID(n), "", types.SeverityCritical,
			fmt.Sprintf("%s experienced a persistent critical communication failure on the %s network", p.Hostname, n))

	case stats.Misses >= e.cfg.DegradeThreshold && stats.State == StateMinor:
		stats.State = StateDegrade
		e.logger.Warn().
			Str("hostname", p.Hostname).
			Str("network", n.String()).
			Int("misses", stats.Misses).
			Msg("heartbeat degrade")
		e.sendEvent(event.TypeHeartbeatDegradeSet, p.Hostname, n)
		e.alarms.Raise(p.Hostname, hbAlarmID(n), "", types.SeverityMajor,
			fmt.Sprintf("%s is experiencing intermittent heartbeat loss on the %s network", p.Hostname, n))

	case stats.Misses >= e.cfg.MinorThreshold && stats.State == StateClear:
		// minor is an internal degrade hint only: no alarm, no event
		stats.State = StateMinor
		e.logger.Info().
			Str("hostname", p.Hostname).
			Str("network", n.String()).
			Int("misses", stats.Misses).
			Msg("heartbeat minor")
	}
}

// recoverOneStep emits the matching CLR event and lowers the alarm one step
// per clean tick.
func (e *Engine) recoverOneStep(p *Peer, n types.Network) {
	stats := &p.Net[n]
	switch stats.State {
	case StateFailed:
		stats.State = StateDegrade
		e.alarms.Raise(p.Hostname, hbAlarmID(n), "", types.SeverityMajor,
			fmt.Sprintf("%s heartbeat recovering on the %s network", p.Hostname, n))
	case StateDegrade:
		stats.State = StateMinor
		e.sendEvent(event.TypeHeartbeatDegradeClr, p.Hostname, n)
		e.alarms.Clear(p.Hostname, hbAlarmID(n), "")
	case StateMinor:
		stats.State = StateClear
		e.logger.Info().
			Str("hostname", p.Hostname).
			Str("network", n.String()).
			Msg("heartbeat clear")
		if p.MNFAActive {
			p.MNFAActive = false
		}
	}
}

// accountPmond tracks the pmond-alive flag carried in pulse responses.
// Responses without the flag accumulate; one flagged response clears.
func (e *Engine) accountPmond(p *Peer, n types.Network, flags uint32) {
	stats := &p.Net[n]
	if flags&FlagPmondAlive != 0 {
		if stats.PmondMissing >= PmondMissingThreshold {
			e.alarms.Clear(p.Hostname, alarm.IDPmonProcess, alarm.ProcessEntity("pmond"))
		}
		stats.PmondMissing = 0
		return
	}
	stats.PmondMissing++
	if stats.PmondMissing == PmondMissingThreshold && e.failureAction != config.ActionNone {
		e.alarms.Raise(p.Hostname, alarm.IDPmonProcess, alarm.ProcessEntity("pmond"),
			types.SeverityMajor,
			fmt.Sprintf("%s process monitor is not running", p.Hostname))
	}
}

// clearPeer drops every heartbeat alarm and stat a peer holds. Used by
// stop_host, del_host and when the failure action leaves none.
func (e *Engine) clearPeer(p *Peer) {
	for n := types.Network(0); n < types.NetworkCount; n++ {
		if p.Net[n].State > StateMinor {
			e.alarms.Clear(p.Hostname, hbAlarmID(n), "")
		}
		if p.Net[n].PmondMissing >= PmondMissingThreshold {
			e.alarms.Clear(p.Hostname, alarm.IDPmonProcess, alarm.ProcessEntity("pmond"))
		}
		metrics.PeerMisses.WithLabelValues(p.Hostname, n.String()).Set(0)
	}
	p.ResetStats()
}
