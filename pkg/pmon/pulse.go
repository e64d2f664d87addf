package pmon

import (
	"fmt"
	"net"
	"time"

	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/rs/zerolog"
)

// Pulser keeps the local heartbeat client aware that the process monitor
// is alive. The client folds this into the pmond-alive flag of its pulse
// responses, which is how controllers notice a dead monitor.
type Pulser struct {
	conn     *net.UDPConn
	hostname string
	period   time.Duration
	seq      uint64
	lastSent time.Time
	logger   zerolog.Logger
	sendLog  *log.Throttle
}

// NewPulser dials the local heartbeat client pulse port.
func NewPulser(hostname string, port int, period time.Duration) (*Pulser, error) {
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("pmon: pulse port %d: %w", port, err)
	}
	return &Pulser{
		conn:     conn,
		hostname: hostname,
		period:   period,
		logger:   log.WithComponent("pmon-pulse"),
		sendLog:  log.NewThrottle(0),
	}, nil
}

// Service emits the alive pulse when the period has elapsed.
func (p *Pulser) Service() {
	now := types.ClockNow()
	if !p.lastSent.IsZero() && now.Sub(p.lastSent) < p.period {
		return
	}
	p.lastSent = now
	p.seq++

	msg := fmt.Sprintf("pmond %s %d", p.hostname, p.seq)
	if _, err := p.conn.Write([]byte(msg)); err != nil {
		p.sendLog.Error(p.logger, err, "alive pulse send failed")
		return
	}
	p.sendLog.Reset()
}

// Close releases the pulse socket.
func (p *Pulser) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
