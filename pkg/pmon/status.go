package pmon

import (
	"os"
	"strings"
	"time"
)

// statusStep advances the status monitoring state machine one stage.
// Supervision runs the configured script with the status argument every
// period; a failing status triggers the start argument, with the restart
// budget held across INTERVAL_WAIT.
func (s *Supervisor) statusStep(p *Process) {
	switch p.SStage {

	case StatusBegin:
		s.timers.Start(p.Timer, time.Duration(p.Cfg.Status.PeriodSec)*time.Second)
		p.SStage = StatusExecuteStatus

	case StatusExecuteStatus:
		if !p.Timer.Expired() {
			return
		}
		p.Timer.Reset()
		p.ChildStatus = 0
		s.timers.Start(p.Timer, time.Duration(p.Cfg.Status.TimeoutSec)*time.Second)
		if err := s.execScript(p, p.Cfg.Status.StatusArg); err != nil {
			s.logger.Error().Err(err).Str("process", p.Name()).Msg("status command spawn failed")
			p.ChildStatus = 1
		}
		p.SStage = StatusExecuteStatusWait

	case StatusExecuteStatusWait:
		if !p.Timer.Expired() && p.ChildStatus == 0 && !p.SigchldRxed {
			return
		}
		s.timers.Stop(p.Timer)
		p.Timer.Reset()

		if !p.SigchldRxed || p.ChildPid == 0 || p.ChildStatus != 0 {
			switch {
			case p.ChildPid == 0:
				s.logger.Error().Str("process", p.Name()).Msg("status command has null child pid")
			case !p.SigchldRxed:
				s.logger.Error().Str("process", p.Name()).Int("child_pid", p.ChildPid).Msg("status command execution timed out")
				s.spawner.KillChild(p)
			default:
				s.logger.Error().Str("process", p.Name()).Int("rc", p.ChildStatus).Msg("status command reported failure, start pending")
				s.reportStatusFailureText(p)
			}
			p.StatusFailed = true
			p.WasFailed = true
			p.SStage = StatusExecuteStart
		} else {
			p.RestartsCnt = 0
			if p.Failed {
				s.clearAlarm(p)
			}
			p.StatusFailed = false
			p.Failed = false
			p.SStage = StatusBegin
		}
		p.ChildPid = 0
		p.SigchldRxed = false

	case StatusExecuteStart:
		p.ChildStatus = 0
		s.timers.Start(p.Timer, time.Duration(p.Cfg.Status.TimeoutSec)*time.Second)
		if err := s.execScript(p, p.Cfg.Status.StartArg); err != nil {
			s.logger.Error().Err(err).Str("process", p.Name()).Msg("start command spawn failed")
			p.ChildStatus = 1
		}
		p.SStage = StatusExecuteStartWait

	case StatusExecuteStartWait:
		if !p.Timer.Expired() && p.ChildStatus == 0 && !p.SigchldRxed {
			return
		}
		s.timers.Stop(p.Timer)
		p.Timer.Reset()

		if !p.SigchldRxed || p.ChildPid == 0 || p.ChildStatus != 0 || p.StatusFailed {
			switch {
			case p.ChildPid == 0:
				s.logger.Error().Str("process", p.Name()).Msg("start command has null child pid")
			case !p.SigchldRxed:
				s.logger.Error().Str("process", p.Name()).Int("child_pid", p.ChildPid).Msg("start command execution timed out")
				s.spawner.KillChild(p)
			case p.ChildStatus != 0:
				s.logger.Error().Str("process", p.Name()).Int("rc", p.ChildStatus).Msg("start command returned failure")
			}

			p.RestartsCnt++
			if p.RestartsCnt == 1 && p.Cfg.Restarts != 0 {
				// first failure: log only
				s.logEvent(p)
			} else if p.RestartsCnt >= p.Cfg.Restarts {
				s.logger.Warn().Str("process", p.Name()).Int("threshold", p.Cfg.Restarts).Msg("failure threshold reached, alarming")
				s.assertAlarm(p)
				p.Failed = true
				p.RestartsCnt = 0
			} else {
				s.logger.Warn().
					Str("process", p.Name()).
					Int("failures", p.RestartsCnt).
					Int("restarts", p.Cfg.Restarts).
					Msg("start failed, retrying")
			}
			s.timers.Start(p.Timer, time.Duration(p.Cfg.IntervalSecs)*time.Second)
			p.SStage = StatusIntervalWait
		} else {
			// started; status success path closes the loop next period
			p.StatusFailed = false
			p.SStage = StatusBegin
		}
		p.ChildPid = 0
		p.SigchldRxed = false

	case StatusIntervalWait:
		if p.Timer.Expired() {
			p.Timer.Reset()
			p.StatusFailed = false
			p.SStage = StatusExecuteStart
		}

	default:
		p.SStage = StatusBegin
	}
}

// execScript forks the status-mode script with one argument.
func (s *Supervisor) execScript(p *Process, arg string) error {
	p.SigchldRxed = false
	pid, err := s.spawner.Spawn(p.Name(), p.Cfg.Script, arg)
	if err != nil {
		p.ChildPid = 0
		return err
	}
	p.ChildPid = pid
	return nil
}

// reportStatusFailureText surfaces the script's failure explanation file
// when one is configured and present.
func (s *Supervisor) reportStatusFailureText(p *Process) {
	path := p.Cfg.Status.StatusFailureTextFile
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	text := strings.TrimSpace(string(data))
	if text != "" {
		s.logger.Warn().Str("process", p.Name()).Str("detail", text).Msg("status failure detail")
	}
}
