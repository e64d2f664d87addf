package pmon

import (
	"time"

	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/metrics"
	"github.com/cuemby/nodehealth/pkg/types"
)

// passiveStep advances the passive recovery state machine one stage.
// The machine idles in StageStart while the process is healthy; failure
// detection (audit or death notification) drops it into StageManage.
func (s *Supervisor) passiveStep(p *Process) {
	switch p.Stage {

	case StageStart:
		// healthy idle

	case StageManage:
		s.manage(p)

	case StageRespawn:
		s.respawn(p)

	case StageMonitorWait:
		if !p.Timer.Expired() {
			return
		}
		p.Timer.Reset()
		pid := p.PidFromFile()
		if !p.SigchldRxed || p.ChildPid == 0 || p.ChildStatus != 0 || pid == 0 {
			switch {
			case p.ChildPid == 0:
				s.logger.Error().Str("process", p.Name()).Msg("spawn has null child pid")
			case !p.SigchldRxed:
				s.logger.Error().Str("process", p.Name()).Int("child_pid", p.ChildPid).Msg("spawn timeout")
			case p.ChildStatus != 0:
				s.logger.Error().Str("process", p.Name()).Int("rc", p.ChildStatus).Msg("spawn failed")
			default:
				s.logger.Error().Str("process", p.Name()).Msg("pidfile still missing after startup window")
			}
			s.spawner.KillChild(p)
			s.timers.Start(p.Timer, time.Duration(p.Cfg.IntervalSecs)*time.Second)
			p.Stage = StageRestartWait
		} else {
			p.Pid = pid
			p.DebounceCnt = 0
			p.Stage = StageMonitor
			s.logger.Info().Str("process", p.Name()).Int("pid", p.Pid).Msg("monitoring respawned process")
			s.timers.Start(p.Timer, time.Second)
		}
		p.SigchldRxed = false

	case StageMonitor:
		// the process must stay up through the debounce period before
		// this restart attempt counts as success
		if !PidRunning(p.Pid) {
			s.logger.Warn().
				Str("process", p.Name()).
				Int("restarts_cnt", p.RestartsCnt).
				Int("restarts", p.Cfg.Restarts).
				Int("retry_in_secs", p.Cfg.IntervalSecs).
				Msg("respawn monitor failed, retrying")
			p.Stage = StageTimerWait
			return
		}
		if p.Timer.Expired() {
			p.Timer.Reset()
			p.DebounceCnt++
			if p.DebounceCnt >= p.Cfg.DebounceSecs {
				s.logger.Info().Str("process", p.Name()).Int("pid", p.Pid).Msg("process stable")
				p.Stage = StageFinish
			} else {
				s.timers.Start(p.Timer, time.Second)
			}
		}

	case StageTimerWait:
		if s.timers.Armed(p.Timer) && !p.Timer.Expired() {
			return
		}
		p.Timer.Reset()
		s.spawner.KillChild(p)
		if p.Cfg.IntervalSecs == 0 {
			p.Timer.Ring()
		} else {
			s.timers.Start(p.Timer, time.Duration(p.Cfg.IntervalSecs)*time.Second)
		}
		p.Stage = StageRestartWait

	case StageRestartWait:
		if p.Timer.Expired() {
			p.Timer.Reset()
			p.Stage = StageManage
		}

	case StageIgnore:
		// absorbing unless the process recovers through external means
		if pid := p.PidFromFile(); pid != 0 {
			p.Pid = pid
			if p.Stopped {
				p.Stopped = false
			}
			p.Stage = StageFinish
		}

	case StageFinish:
		s.spawner.KillChild(p)
		s.logger.Info().Str("process", p.Name()).Int("pid", p.Pid).Msg("process recovered")
		p.Failed = false
		p.Ignore = false
		p.DebounceCnt = 0
		s.clearAlarm(p)
		if pid := p.PidFromFile(); pid != 0 {
			p.Pid = pid
		}
		s.register(p)
		if p.Cfg.Mode == config.ModeActive {
			// restart active monitoring against the fresh pid
			p.AStage = ActiveStartMonitor
			p.MonitorStart = types.ClockNow()
			p.ActiveResponse = false
		}
		p.Stage = StageStart

	case StagePolling:
		if !p.Timer.Expired() {
			return
		}
		p.Timer.Reset()
		if markerPresent(subfunctionMarker(p.Cfg.Subfunction)) {
			delay := s.startDelaySecs
			if p.Cfg.StartDelaySecs > 0 {
				delay = p.Cfg.StartDelaySecs
			}
			s.timers.Start(p.Timer, time.Duration(delay)*time.Second)
			p.Stage = StageStartWait
		} else {
			s.timers.Start(p.Timer, time.Second)
		}

	case StageStartWait:
		if !p.Timer.Expired() {
			return
		}
		p.Timer.Reset()
		if pid := p.PidFromFile(); pid != 0 {
			p.Pid = pid
			p.Stage = StageFinish
		} else {
			p.Failed = true
			p.Stage = StageManage
		}

	case StageStopped:
		// held by the command inbox until start or auto-recovery

	default:
		s.logger.Error().Str("process", p.Name()).Int("stage", int(p.Stage)).Msg("invalid passive stage, correcting")
		p.Stage = StageFinish
	}
}

// manage decides the recovery policy for a failed process.
func (s *Supervisor) manage(p *Process) {
	switch {
	case p.Restart:
		// commanded restart: no policy decision, straight to respawn

	case p.Cfg.Severity == types.SeverityCritical && p.Cfg.Restarts == 0:
		// critical with auto-restart disabled: assert once and hold
		s.assertAlarm(p)
		s.logger.Warn().Str("process", p.Name()).Msg("auto-restart disabled")
		if p.Cfg.Quorum {
			s.quorumFailure(p)
		}
		p.Ignore = true
		p.Stage = StageIgnore
		return

	case p.Cfg.Severity == types.SeverityCritical && p.RestartsCnt >= p.Cfg.Restarts:
		s.assertAlarm(p)
		p.RestartsCnt = 0
		s.logger.Info().Str("process", p.Name()).Msg("allowing auto-restart of failed critical process")
		if p.Cfg.Quorum {
			s.quorumFailure(p)
		}

	case p.RestartsCnt == 0 && p.Cfg.Restarts != 0:
		// first failure of a fresh cycle: log only
		s.logEvent(p)

	case p.RestartsCnt == 0 && p.Cfg.Restarts == 0:
		// auto recovery disabled: log, alarm, monitor for manual recovery
		s.logEvent(p)
		s.assertAlarm(p)
		s.logger.Warn().Str("process", p.Name()).Msg("auto-restart disabled, monitoring for recovery")
		if p.Cfg.Quorum {
			s.quorumFailure(p)
		}
		p.Ignore = true
		p.Stage = StageIgnore
		return

	case p.RestartsCnt >= p.Cfg.Restarts:
		// restart threshold reached for a non-critical process
		s.assertAlarm(p)
		p.RestartsCnt = 0
		p.DebounceCnt = 0
		if p.Cfg.Quorum {
			s.quorumFailure(p)
		}
	}
	p.Stage = StageRespawn
}

// respawn forks the recovery command. Exactly one child per visit.
func (s *Supervisor) respawn(p *Process) {
	command, argv := RecoveryCommand(p.Cfg, p.Restart)
	if command == "" {
		s.logger.Error().Str("process", p.Name()).Msg("no recovery method, cannot respawn")
		p.Ignore = true
		p.Stage = StageIgnore
		return
	}

	s.logger.Info().
		Str("process", p.Name()).
		Str("command", command).
		Strs("argv", argv).
		Int("debounce_secs", p.Cfg.DebounceSecs).
		Msg("respawning process")

	p.RestartsCnt++
	metrics.ProcessRestarts.WithLabelValues(p.Name()).Inc()
	p.SigchldRxed = false
	p.ChildStatus = 0
	s.timers.Stop(p.Timer)

	pid, err := s.spawner.Spawn(p.Name(), command, argv...)
	if err != nil {
		s.logger.Error().Err(err).Str("process", p.Name()).Msg("recovery spawn failed")
		p.ChildPid = 0
		s.timers.Start(p.Timer, time.Duration(p.Cfg.IntervalSecs)*time.Second)
		p.Stage = StageRestartWait
		return
	}
	p.ChildPid = pid

	if p.Restart {
		p.Restart = false
		p.Registered = false
	}
	s.timers.Start(p.Timer, time.Duration(p.Cfg.StartupSecs)*time.Second)
	p.Stage = StageMonitorWait
}
