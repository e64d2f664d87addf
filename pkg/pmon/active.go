package pmon

import (
	"errors"
	"time"
)

// startupGrace is the window in which a process that has never answered a
// pulse is forgiven its misses, provided the pulse period is shorter than
// the window itself.
const startupGrace = 3 * time.Minute

// activeStep advances the active monitoring state machine one stage. The
// machine exchanges loopback pulses with the process; a threshold of
// back-to-back misses hands the process to the passive FSM for restart.
func (s *Supervisor) activeStep(p *Process) {
	switch p.AStage {

	case ActiveIdle:
		// not monitoring

	case ActiveStartMonitor:
		p.Sock.close()
		sock, err := openActiveSocket(p.Cfg.Active.Port)
		if err != nil {
			s.logger.Error().Err(err).Str("process", p.Name()).Msg("active monitor socket open failed")
			p.ActiveFailed = true
			s.manageFailure(p, "active monitor socket open failed")
			return
		}
		p.Sock = sock
		p.AStage = ActiveGapSetup

	case ActiveGapSetup:
		s.timers.Stop(p.Timer)
		s.timers.Start(p.Timer, time.Duration(p.Cfg.Active.PeriodSec)*time.Second)
		p.AStage = ActiveGapWait

	case ActiveGapWait, ActiveRequestWait:
		if p.Timer.Expired() {
			p.Timer.Reset()
			p.AStage = ActivePulseRequest
		}

	case ActivePulseRequest:
		p.Waiting = true
		p.TxSequence++
		if err := p.Sock.sendPulse(p.Name(), p.TxSequence); err != nil {
			p.Waiting = false
			p.SendErrCnt++
			s.logger.Warn().Err(err).
				Str("process", p.Name()).
				Int("b2b_misses", p.B2BMissCount).
				Int("send_errors", p.SendErrCnt).
				Msg("pulse request send failed")
			p.B2BMissCount++
			if p.B2BMissCount >= p.Cfg.Active.Threshold {
				s.activeFail(p)
			} else {
				p.AStage = ActiveGapSetup
			}
			return
		}
		p.PulseCount++
		s.timers.Start(p.Timer, time.Duration(p.Cfg.Active.TimeoutSec)*time.Second)
		p.AStage = ActivePulseResponse

	case ActivePulseResponse:
		s.pulseResponse(p)

	case ActiveDebounceSetup:
		p.ActiveDebounce = true
		p.ADebounceCnt = 0
		p.AStage = ActivePulseResponse

	case ActiveDebounce:
		// folded into pulseResponse bookkeeping
		p.AStage = ActivePulseResponse

	case ActiveFailed:
		p.ActiveResponse = false
		p.ActiveFailed = true
		p.AFailedCount++
		p.B2BMissCount = 0
		s.timers.Stop(p.Timer)
		s.manageFailure(p, "active monitoring failure")
		p.AStage = ActiveStartMonitor

	default:
		p.AStage = ActiveGapSetup
	}
}

// pulseResponse consumes any queued response and handles the timeout ring.
func (s *Supervisor) pulseResponse(p *Process) {
	seq, err := p.Sock.recvPulse(p.Name())
	if err == nil {
		p.RxSequence = seq

		if !p.ActiveResponse {
			p.ActiveResponse = true
		}

		if p.RxSequence != p.TxSequence {
			p.B2BMissCount++
			p.MesgErrCnt++
			s.logger.Warn().
				Str("process", p.Name()).
				Uint32("tx", p.TxSequence).
				Uint32("rx", p.RxSequence).
				Msg("out-of-sequence pulse response")
			if p.B2BMissCount >= p.Cfg.Active.Threshold {
				s.activeFail(p)
				return
			}
		} else {
			if p.B2BMissCount > p.B2BMissPeak {
				p.B2BMissPeak = p.B2BMissCount
			}
			p.B2BMissCount = 0
		}

		// active monitoring debounce: a recovered process must answer
		// period+1 clean pulses before the alarm drops
		if p.ActiveDebounce {
			p.ADebounceCnt++
			if p.ADebounceCnt >= p.Cfg.Active.PeriodSec+1 {
				s.logger.Info().Str("process", p.Name()).Int("pid", p.Pid).Msg("active monitoring debounced")
				p.ActiveDebounce = false
				p.ADebounceCnt = 0
				p.RestartsCnt = 0
				p.QuorumFailure = false
				p.QuorumUnrecoverable = false
				p.ActiveFailed = false
				p.B2BMissCount = 0
				p.SendErrCnt = 0
				p.RecvErrCnt = 0
				p.MesgErrCnt = 0
				s.clearAlarm(p)
			}
		}
		p.RxSequence = 0
		p.Waiting = false
	} else if errors.Is(err, ErrAmonParse) {
		// parse failures count as message errors; an empty queue does not
		p.MesgErrCnt++
	}

	if p.Timer.Expired() {
		p.Timer.Reset()
		if p.Waiting {
			p.RecvErrCnt++
			p.B2BMissCount++
			if p.B2BMissCount > 1 {
				s.logger.Warn().
					Str("process", p.Name()).
					Int("misses", p.B2BMissCount).
					Uint32("tx", p.TxSequence).
					Msg("missing pulse response")
			}
			if p.B2BMissCount >= p.Cfg.Active.Threshold {
				if s.forgiveStartupMiss(p) {
					// more forgiving startup handling
				} else {
					s.activeFail(p)
					return
				}
			}
		}
		p.AStage = ActivePulseRequest
	}
}

// forgiveStartupMiss implements the never-responded grace: misses are
// forgiven while the process has never answered, the configured period is
// shorter than the grace window, and the miss count has not yet covered
// the window.
func (s *Supervisor) forgiveStartupMiss(p *Process) bool {
	period := time.Duration(p.Cfg.Active.PeriodSec) * time.Second
	if p.ActiveResponse {
		return false
	}
	if period >= startupGrace {
		return false
	}
	return p.B2BMissCount < int(startupGrace/period)
}

func (s *Supervisor) activeFail(p *Process) {
	p.AStage = ActiveFailed
	s.activeStep(p)
}
