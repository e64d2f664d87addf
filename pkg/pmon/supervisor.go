package pmon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/nodehealth/pkg/alarm"
	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/event"
	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/metrics"
	"github.com/cuemby/nodehealth/pkg/timer"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/rs/zerolog"
)

// configCompleteDir holds the subfunction gate marker files.
var configCompleteDir = "/etc/platform"

// EventSink delivers process events to the maintenance master.
type EventSink interface {
	Send(ev *event.Event) error
}

// Supervisor owns every monitored process and drives the three monitoring
// state machines from the daemon main loop.
type Supervisor struct {
	cfg      *config.PmonConfig
	hostname string

	procs  map[string]*Process
	order  []string
	timers *timer.Service
	alarms *alarm.Manager
	events EventSink

	spawner  *Spawner
	notifier *Notifier
	logger   zerolog.Logger

	startDelaySecs int
}

// NewSupervisor builds an empty supervisor; processes arrive via Load.
func NewSupervisor(cfg *config.PmonConfig, hostname string, fm alarm.FM, events EventSink) *Supervisor {
	return &Supervisor{
		cfg:            cfg,
		hostname:       hostname,
		procs:          make(map[string]*Process),
		timers:         timer.NewService(),
		alarms:         alarm.NewManager(fm),
		events:         events,
		spawner:        NewSpawner(),
		notifier:       NewNotifier(),
		logger:         log.WithComponent("pmon"),
		startDelaySecs: cfg.StartDelaySecs,
	}
}

// Timers exposes the timer service for the daemon main loop diagnostics.
func (s *Supervisor) Timers() *timer.Service {
	return s.timers
}

// Alarms exposes the alarm manager.
func (s *Supervisor) Alarms() *alarm.Manager {
	return s.alarms
}

// Notifier exposes the kernel notification facility.
func (s *Supervisor) Notifier() *Notifier {
	return s.notifier
}

// Get looks up a process by name.
func (s *Supervisor) Get(name string) (*Process, bool) {
	p, ok := s.procs[name]
	return p, ok
}

// Processes returns every process in load order.
func (s *Supervisor) Processes() []*Process {
	out := make([]*Process, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.procs[name])
	}
	return out
}

// Load installs a parsed process profile. Existing supervision state is
// replaced; see Reload for the full fresh-slate path.
func (s *Supervisor) Load(cfgs []*config.Process) {
	counts := map[config.MonitorMode]int{}
	for _, pc := range cfgs {
		t := s.timers.New("pmon-" + pc.Name)
		p := NewProcess(pc, t)

		if pc.Subfunction != config.SubfunctionNone {
			p.Stage = StagePolling
			s.timers.Start(p.Timer, time.Second)
		} else if pid := p.PidFromFile(); pid != 0 {
			p.Pid = pid
			s.register(p)
		} else if pc.Mode != config.ModeStatus {
			// not running at load; let the passive FSM recover it
			s.manageFailure(p, "not running at profile load")
		}

		if pc.Mode == config.ModeActive {
			p.AStage = ActiveStartMonitor
			p.MonitorStart = types.ClockNow()
		}
		if pc.Mode == config.ModeStatus {
			p.SStage = StatusBegin
		}

		s.procs[pc.Name] = p
		s.order = append(s.order, pc.Name)
		counts[pc.Mode]++
	}
	for mode, count := range counts {
		metrics.ProcessesMonitored.WithLabelValues(string(mode)).Set(float64(count))
	}
	s.logger.Info().Int("processes", len(cfgs)).Bool("polling_fallback", s.notifier.Polling()).Msg("process profile loaded")
}

// register subscribes the process pid for death notification.
func (s *Supervisor) register(p *Process) {
	if err := s.notifier.Register(p.Pid); err != nil {
		s.logger.Warn().Err(err).Str("process", p.Name()).Int("pid", p.Pid).Msg("death notification registration failed")
		return
	}
	p.Registered = true
}

// unregister drops the death-notification subscription.
func (s *Supervisor) unregister(p *Process) {
	if p.Registered {
		s.notifier.Unregister(p.Pid)
		p.Registered = false
	}
}

// Audit is the periodic pass: detect passive failures, step every FSM,
// and fold in reaped children.
func (s *Supervisor) Audit() {
	s.drainChildExits()

	for _, name := range s.order {
		p := s.procs[name]
		if p.Stopped && p.Stage != StageIgnore {
			continue
		}
		switch p.Cfg.Mode {
		case config.ModePassive:
			s.auditPassive(p)
			s.passiveStep(p)
		case config.ModeActive:
			s.auditPassive(p)
			s.passiveStep(p)
			if !p.Failed {
				s.activeStep(p)
			}
		case config.ModeStatus:
			s.statusStep(p)
		}
	}
}

// auditPassive detects a dead monitored pid outside the recovery FSM.
func (s *Supervisor) auditPassive(p *Process) {
	if p.Failed || p.Ignore || p.Stopped || p.Restart {
		return
	}
	if p.Stage != StageStart {
		return
	}
	if p.Pid != 0 && PidRunning(p.Pid) {
		return
	}
	if pid := p.PidFromFile(); pid != 0 {
		// pid moved under us (external restart); track the new one
		s.unregister(p)
		p.Pid = pid
		s.register(p)
		return
	}
	s.manageFailure(p, "process not running")
}

// manageFailure routes any detected failure into the passive recovery FSM.
func (s *Supervisor) manageFailure(p *Process, reason string) {
	s.logger.Warn().Str("process", p.Name()).Str("reason", reason).Msg("process failed")
	metrics.ProcessFailures.WithLabelValues(p.Name(), string(p.Cfg.Mode)).Inc()
	s.unregister(p)
	p.Failed = true
	p.Stage = StageManage
}

// drainChildExits copies reap results into the owning process records.
func (s *Supervisor) drainChildExits() {
	for {
		select {
		case exit := <-s.spawner.Exits():
			p, ok := s.procs[exit.Process]
			if !ok || p.ChildPid != exit.Pid {
				continue
			}
			p.SigchldRxed = true
			p.ChildStatus = exit.ExitCode
			p.ChildRanFor = exit.RanFor
			p.Timer.Ring()
		default:
			return
		}
	}
}

// --- alarm and event plumbing --------------------------------------------

func (s *Supervisor) assertAlarm(p *Process) {
	p.AlarmSeverity = p.Cfg.Severity
	s.alarms.Raise(s.hostname, alarm.IDPmonProcess, alarm.ProcessEntity(p.Name()),
		p.Cfg.Severity,
		fmt.Sprintf("%s process has failed; auto recovery in progress", p.Name()))
	metrics.AlarmsRaised.WithLabelValues(alarm.IDPmonProcess).Inc()
	s.sendEvent(p, severityEvent(p.Cfg.Severity))
}

func (s *Supervisor) clearAlarm(p *Process) {
	if p.AlarmSeverity == types.SeverityClear {
		return
	}
	p.AlarmSeverity = types.SeverityClear
	s.alarms.Clear(s.hostname, alarm.IDPmonProcess, alarm.ProcessEntity(p.Name()))
	metrics.AlarmsCleared.WithLabelValues(alarm.IDPmonProcess).Inc()
	s.sendEvent(p, event.TypePmonClear)
}

func (s *Supervisor) logEvent(p *Process) {
	s.alarms.Log(s.hostname, alarm.IDPmonProcess, alarm.ProcessEntity(p.Name()),
		types.SeverityMinor,
		fmt.Sprintf("%s process failed; restarting (%d of %d)", p.Name(), p.RestartsCnt, p.Cfg.Restarts), "")
	s.sendEvent(p, event.TypePmonLog)
}

func severityEvent(sev types.Severity) event.Type {
	switch sev {
	case types.SeverityCritical:
		return event.TypePmonCrit
	case types.SeverityMajor:
		return event.TypePmonMajor
	default:
		return event.TypePmonMinor
	}
}

func (s *Supervisor) sendEvent(p *Process, t event.Type) {
	ev := &event.Event{
		Type:     t,
		Hostname: s.hostname,
		Service:  "pmond",
		Process:  p.Name(),
	}
	if err := s.events.Send(ev); err != nil {
		s.logger.Error().Err(err).Str("event", t.String()).Msg("event send to maintenance master failed")
	}
}

// quorumFailure manages the two-strike quorum escalation: first trip marks
// the quorum failed for the run, a second trip marks it unrecoverable and
// is surfaced to the host watchdog.
func (s *Supervisor) quorumFailure(p *Process) {
	if p.QuorumFailure {
		p.QuorumUnrecoverable = true
		s.logger.Error().Str("process", p.Name()).Msg("quorum process unrecoverable")
	} else {
		p.QuorumFailure = true
		metrics.QuorumFailures.Inc()
		s.logger.Warn().Str("process", p.Name()).Msg("quorum process failed")
	}
}

// QuorumUnrecoverable reports whether any quorum member has exhausted
// recovery; the host watchdog pulser reads this every update period.
func (s *Supervisor) QuorumUnrecoverable() (string, bool) {
	for _, name := range s.order {
		p := s.procs[name]
		if p.Cfg.Quorum && p.QuorumUnrecoverable {
			return p.Name(), true
		}
	}
	return "", false
}

// subfunctionMarker maps a subfunction gate to its marker file.
func subfunctionMarker(sub config.Subfunction) string {
	switch sub {
	case config.SubfunctionWorker:
		return filepath.Join(configCompleteDir, ".initial_config_complete_worker")
	case config.SubfunctionStorage:
		return filepath.Join(configCompleteDir, ".initial_config_complete_storage")
	case config.SubfunctionLastConfig:
		return filepath.Join(configCompleteDir, ".initial_config_complete")
	}
	return ""
}

func markerPresent(path string) bool {
	if path == "" {
		return true
	}
	_, err := os.Stat(path)
	return err == nil
}
