package pmon

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/timer"
	"github.com/cuemby/nodehealth/pkg/types"
	"golang.org/x/sys/unix"
)

// PassiveStage enumerates the passive monitoring state machine.
type PassiveStage int

const (
	StageStart PassiveStage = iota
	StageManage
	StageRespawn
	StageMonitorWait
	StageMonitor
	StageFinish
	StageTimerWait
	StageRestartWait
	StageIgnore
	StagePolling
	StageStartWait
	StageStopped
)

func (s PassiveStage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageManage:
		return "manage"
	case StageRespawn:
		return "respawn"
	case StageMonitorWait:
		return "monitor-wait"
	case StageMonitor:
		return "monitor"
	case StageFinish:
		return "finish"
	case StageTimerWait:
		return "timer-wait"
	case StageRestartWait:
		return "restart-wait"
	case StageIgnore:
		return "ignore"
	case StagePolling:
		return "polling"
	case StageStartWait:
		return "start-wait"
	case StageStopped:
		return "stopped"
	}
	return "unknown"
}

// ActiveStage enumerates the active monitoring state machine.
type ActiveStage int

const (
	ActiveIdle ActiveStage = iota
	ActiveStartMonitor
	ActiveGapSetup
	ActiveGapWait
	ActivePulseRequest
	ActiveRequestWait
	ActivePulseResponse
	ActiveDebounceSetup
	ActiveDebounce
	ActiveFailed
)

func (s ActiveStage) String() string {
	switch s {
	case ActiveIdle:
		return "idle"
	case ActiveStartMonitor:
		return "start-monitor"
	case ActiveGapSetup:
		return "gap-setup"
	case ActiveGapWait:
		return "gap-wait"
	case ActivePulseRequest:
		return "pulse-request"
	case ActiveRequestWait:
		return "request-wait"
	case ActivePulseResponse:
		return "pulse-response"
	case ActiveDebounceSetup:
		return "debounce-setup"
	case ActiveDebounce:
		return "debounce"
	case ActiveFailed:
		return "failed"
	}
	return "unknown"
}

// StatusStage enumerates the status monitoring state machine.
type StatusStage int

const (
	StatusBegin StatusStage = iota
	StatusExecuteStatus
	StatusExecuteStatusWait
	StatusExecuteStart
	StatusExecuteStartWait
	StatusIntervalWait
)

func (s StatusStage) String() string {
	switch s {
	case StatusBegin:
		return "begin"
	case StatusExecuteStatus:
		return "execute-status"
	case StatusExecuteStatusWait:
		return "execute-status-wait"
	case StatusExecuteStart:
		return "execute-start"
	case StatusExecuteStartWait:
		return "execute-start-wait"
	case StatusIntervalWait:
		return "interval-wait"
	}
	return "unknown"
}

// Process is the live supervision record for one configured process.
type Process struct {
	Cfg *config.Process

	Pid      int
	ChildPid int

	Stage  PassiveStage
	AStage ActiveStage
	SStage StatusStage

	RestartsCnt int
	DebounceCnt int

	AlarmSeverity types.Severity

	Failed     bool
	Stopped    bool
	Ignore     bool
	Restart    bool
	Registered bool

	QuorumFailure       bool
	QuorumUnrecoverable bool

	// child-exit notification state; the reaper goroutine only writes
	// through the supervisor's exit channel, the main loop copies into
	// these fields
	SigchldRxed bool
	ChildStatus int
	ChildRanFor time.Duration

	// active-mode counters
	TxSequence     uint32
	RxSequence     uint32
	B2BMissCount   int
	B2BMissPeak    int
	SendErrCnt     int
	RecvErrCnt     int
	MesgErrCnt     int
	PulseCount     uint64
	AFailedCount   int
	Waiting        bool
	ActiveResponse bool
	ActiveFailed   bool
	ActiveDebounce bool
	ADebounceCnt   int
	MonitorStart   time.Time // for the startup forgiveness window

	// status-mode state
	StatusFailed bool
	WasFailed    bool

	Timer *timer.Timer

	// active-mode loopback socket; nil unless mode is active
	Sock *activeSocket
}

// NewProcess wraps a parsed configuration in a fresh runtime record.
func NewProcess(cfg *config.Process, t *timer.Timer) *Process {
	return &Process{
		Cfg:   cfg,
		Stage: StageStart,
		Timer: t,
	}
}

// Name returns the configured process name.
func (p *Process) Name() string {
	return p.Cfg.Name
}

// PidFromFile reads and validates the configured pidfile. Returns 0 when
// the file is missing, unparsable or names a dead pid.
func (p *Process) PidFromFile() int {
	if p.Cfg.PidFile == "" {
		return 0
	}
	data, err := os.ReadFile(p.Cfg.PidFile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	if !PidRunning(pid) {
		return 0
	}
	return pid
}

// PidRunning probes a pid with a null signal.
func PidRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
