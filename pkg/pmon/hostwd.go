package pmon

import (
	"encoding/json"
	"time"

	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/rs/zerolog"
)

// HostwdSocketName is the watchdog's abstract unix datagram address.
const HostwdSocketName = "hostwd"

// Watchdog message commands.
const (
	HostwdCmdNone     = "NONE"
	HostwdCmdPmonCrit = "PMON_CRIT"
)

// HostwdMessage is the update sent to the host watchdog.
type HostwdMessage struct {
	Cmd      string `json:"cmd"`
	Hostname string `json:"hostname"`
	Reason   string `json:"reason,omitempty"`
}

// HostwdSocket is the write side of the watchdog exchange.
type HostwdSocket interface {
	Write(buf []byte) (int, error)
}

// HostwdPulser reports quorum health to the host watchdog every update
// period: cmd NONE while healthy, PMON_CRIT with a reason once any quorum
// process is unrecoverable.
type HostwdPulser struct {
	sup      *Supervisor
	sock     HostwdSocket
	hostname string
	period   time.Duration
	logger   zerolog.Logger
	lastSent time.Time
	sendLog  *log.Throttle
}

// NewHostwdPulser wires the watchdog updater.
func NewHostwdPulser(sup *Supervisor, sock HostwdSocket, hostname string, periodSecs int) *HostwdPulser {
	return &HostwdPulser{
		sup:      sup,
		sock:     sock,
		hostname: hostname,
		period:   time.Duration(periodSecs) * time.Second,
		logger:   log.WithComponent("hostwd"),
		sendLog:  log.NewThrottle(0),
	}
}

// Service sends the periodic update when the period has elapsed. Called
// each audit pass.
func (h *HostwdPulser) Service() {
	now := types.ClockNow()
	if !h.lastSent.IsZero() && now.Sub(h.lastSent) < h.period {
		return
	}
	h.lastSent = now

	update := HostwdMessage{Cmd: HostwdCmdNone, Hostname: h.hostname}
	if process, bad := h.sup.QuorumUnrecoverable(); bad {
		update.Cmd = HostwdCmdPmonCrit
		update.Reason = process + " quorum process is unrecoverable"
	}

	data, err := json.Marshal(update)
	if err != nil {
		h.logger.Error().Err(err).Msg("watchdog update encode failed")
		return
	}
	if _, err := h.sock.Write(data); err != nil {
		h.sendLog.Error(h.logger, err, "watchdog update send failed")
		return
	}
	h.sendLog.Reset()
	if update.Cmd != HostwdCmdNone {
		h.logger.Warn().Str("reason", update.Reason).Msg("critical quorum state reported to watchdog")
	}
}
