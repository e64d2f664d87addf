package hbs

import (
	"encoding/json"

	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/rs/zerolog"
)

// Command names accepted from the maintenance master.
const (
	CmdAddHost   = "add_host"
	CmdDelHost   = "del_host"
	CmdStartHost = "start_host"
	CmdStopHost  = "stop_host"
	CmdBackoff   = "backoff"
	CmdRecover   = "recover"
	CmdActive    = "active"
	CmdStandby   = "standby"
	CmdAction    = "failure_action"
)

// Command is one control request from the maintenance master.
type Command struct {
	Command  string `json:"command"`
	Hostname string `json:"hostname,omitempty"`
	Admin    string `json:"admin,omitempty"`
	Oper     string `json:"oper,omitempty"`
	Avail    string `json:"avail,omitempty"`
	Action   string `json:"action,omitempty"`
}

// CommandChannel drains maintenance master commands from the command port
// and applies them to the engine. Single-threaded with the main loop.
type CommandChannel struct {
	engine *Engine
	sock   PulseSocket
	logger zerolog.Logger
	buf    []byte
}

// NewCommandChannel attaches the command inbox to an RX socket.
func NewCommandChannel(engine *Engine, sock PulseSocket) *CommandChannel {
	return &CommandChannel{
		engine: engine,
		sock:   sock,
		logger: log.WithComponent("hbs-command"),
		buf:    make([]byte, 4096),
	}
}

// Service drains every queued command. Called each main-loop pass.
func (c *CommandChannel) Service() {
	for {
		n, _, err := c.sock.Read(c.buf)
		if err != nil {
			return
		}
		c.dispatch(c.buf[:n])
	}
}

func (c *CommandChannel) dispatch(data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.logger.Warn().Err(err).Msg("malformed command dropped")
		return
	}

	switch cmd.Command {
	case CmdAddHost:
		if cmd.Hostname == "" {
			c.logger.Warn().Msg("add_host with no hostname dropped")
			return
		}
		state := types.HostState{
			Admin: types.AdminState(cmd.Admin),
			Oper:  types.OperState(cmd.Oper),
			Avail: types.AvailStatus(cmd.Avail),
		}
		c.engine.AddHost(cmd.Hostname, state)
	case CmdDelHost:
		c.engine.DelHost(cmd.Hostname)
	case CmdStartHost:
		c.engine.StartHost(cmd.Hostname)
	case CmdStopHost:
		c.engine.StopHost(cmd.Hostname)
	case CmdBackoff:
		c.engine.Backoff()
	case CmdRecover:
		c.engine.Recover()
	case CmdActive:
		c.engine.SetActive(true)
	case CmdStandby:
		c.engine.SetActive(false)
	case CmdAction:
		switch action := config.FailureAction(cmd.Action); action {
		case config.ActionFail, config.ActionDegrade, config.ActionAlarm, config.ActionNone:
			c.engine.SetFailureAction(action)
		default:
			c.logger.Warn().Str("action", cmd.Action).Msg("unknown failure action dropped")
		}
	default:
		c.logger.Warn().Str("command", cmd.Command).Msg("unknown command dropped")
	}
}
