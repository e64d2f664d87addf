package pmon

import (
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/rs/zerolog"
)

// stopAutoRecovery is how long a stopped process stays stopped before
// monitoring resumes on its own.
const stopAutoRecovery = 30 * time.Minute

// Command is one JSON control request on the loopback command port.
type Command struct {
	Command string `json:"command"`
	Process string `json:"process"`
}

// CommandSocket is the slice of the messaging layer the inbox drains.
type CommandSocket interface {
	Read(buf []byte) (int, *net.UDPAddr, error)
}

// Inbox accepts start/stop/restart commands for supervised processes.
type Inbox struct {
	sup    *Supervisor
	sock   CommandSocket
	logger zerolog.Logger
	buf    []byte

	// exit requests a daemon restart via the external supervisor
	exit func()
}

// NewInbox attaches the command inbox to an RX socket. The exit callback
// runs when pmond itself is commanded to restart.
func NewInbox(sup *Supervisor, sock CommandSocket, exit func()) *Inbox {
	if exit == nil {
		exit = func() { os.Exit(0) }
	}
	return &Inbox{
		sup:    sup,
		sock:   sock,
		logger: log.WithComponent("pmon-command"),
		buf:    make([]byte, 1024),
		exit:   exit,
	}
}

// Service drains every queued command. Called each main-loop pass.
func (i *Inbox) Service() {
	for {
		n, _, err := i.sock.Read(i.buf)
		if err != nil {
			return
		}
		i.dispatch(i.buf[:n])
	}
}

func (i *Inbox) dispatch(data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		i.logger.Warn().Err(err).Msg("malformed process command dropped")
		return
	}

	if cmd.Command == "restart" && cmd.Process == "pmond" {
		// external supervisor restarts the daemon
		i.logger.Info().Msg("self restart commanded, exiting")
		i.exit()
		return
	}

	p, ok := i.sup.Get(cmd.Process)
	if !ok {
		i.logger.Warn().Str("process", cmd.Process).Str("command", cmd.Command).Msg("command for unknown process ignored")
		return
	}
	if p.Cfg.Mode == config.ModeStatus {
		i.logger.Warn().Str("process", cmd.Process).Str("command", cmd.Command).Msg("commands not accepted for status-monitored processes")
		return
	}

	switch cmd.Command {
	case "stop":
		i.stop(p)
	case "start":
		i.start(p)
	case "restart":
		i.restart(p)
	default:
		i.logger.Warn().Str("command", cmd.Command).Msg("unknown process command ignored")
	}
}

// stop halts supervision, kills the process and arms the auto-recovery
// timer.
func (i *Inbox) stop(p *Process) {
	i.logger.Info().Str("process", p.Name()).Msg("stop commanded")
	i.sup.unregister(p)
	i.sup.spawner.KillChild(p)
	KillPid(p.Pid)
	p.Sock.close()
	p.Sock = nil
	p.Stopped = true
	p.Ignore = true
	p.Stage = StageStopped
	p.AStage = ActiveIdle
	i.sup.timers.Stop(p.Timer)
	i.sup.timers.Start(p.Timer, stopAutoRecovery)
}

// start resumes supervision of a stopped process by dropping it straight
// into respawn.
func (i *Inbox) start(p *Process) {
	if !p.Stopped {
		i.logger.Warn().Str("process", p.Name()).Msg("start commanded but process is not stopped")
		return
	}
	i.logger.Info().Str("process", p.Name()).Msg("start commanded")
	p.Stopped = false
	p.Ignore = false
	p.Failed = true
	i.sup.timers.Stop(p.Timer)
	p.Stage = StageRespawn
}

// restart marks a commanded restart and re-enters the manage stage.
func (i *Inbox) restart(p *Process) {
	i.logger.Info().Str("process", p.Name()).Msg("restart commanded")
	p.Restart = true
	p.Stopped = false
	p.Ignore = false
	p.Stage = StageManage
}

// ServiceStopRecovery resumes any stopped process whose auto-recovery
// timer rang. Called at audit boundaries.
func (i *Inbox) ServiceStopRecovery() {
	for _, p := range i.sup.Processes() {
		if p.Stopped && p.Stage == StageStopped && p.Timer.Expired() {
			p.Timer.Reset()
			i.logger.Info().Str("process", p.Name()).Msg("stop window expired, resuming monitoring")
			i.start(p)
		}
	}
}
