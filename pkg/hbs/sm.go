package hbs

import (
	"encoding/json"
	"time"

	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/rs/zerolog"
)

// Service manager liveness tuning.
const (
	// SMHeartbeatPulsePeriod is the longest gap between SM pulses before
	// the engine declares SM missing.
	SMHeartbeatPulsePeriod = 800 * time.Millisecond

	// SMRecoverBeeps is the count of consecutive pulses required to leave
	// the missing state.
	SMRecoverBeeps = 16

	// SMRecoverDuration is the window the recovery beeps must land in.
	SMRecoverDuration = 1600 * time.Millisecond
)

// SMRequest is the loopback query from the service manager.
type SMRequest struct {
	Origin  string `json:"origin"`
	Service string `json:"service"`
	Request string `json:"request"`
	ReqID   int    `json:"reqid"`
}

// SMReply carries the cluster snapshot back to the service manager.
type SMReply struct {
	Origin  string    `json:"origin"`
	Service string    `json:"service"`
	ReqID   int       `json:"reqid"`
	Cluster *Snapshot `json:"cluster"`
}

// SMServer owns the loopback exchange with the service manager: a liveness
// pulse stream inbound and cluster-snapshot queries answered through the
// client socket.
type SMServer struct {
	engine *Engine
	rx     PulseSocket // server socket, queries arrive here
	tx     PulseSocket // client socket, replies go here
	logger zerolog.Logger

	lastPulse    time.Time
	missing      bool
	recoverCount int
	recoverStart time.Time

	buf []byte
}

// NewSMServer binds the SM exchange to the engine.
func NewSMServer(engine *Engine, rx, tx PulseSocket) *SMServer {
	return &SMServer{
		engine:    engine,
		rx:        rx,
		tx:        tx,
		logger:    log.WithComponent("sm-server"),
		lastPulse: types.ClockNow(),
		buf:       make([]byte, 4096),
	}
}

// Missing reports whether SM pulses have gone absent.
func (s *SMServer) Missing() bool {
	return s.missing
}

// Service drains queued SM requests and updates the liveness state.
// Called every main-loop pass.
func (s *SMServer) Service() {
	for {
		n, _, err := s.rx.Read(s.buf)
		if err != nil {
			break
		}
		s.handle(s.buf[:n])
	}
	s.checkLiveness()
}

func (s *SMServer) handle(data []byte) {
	var req SMRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn().Err(err).Msg("malformed sm request dropped")
		return
	}
	if req.Origin != "sm" || req.Service != "heartbeat" {
		s.logger.Warn().Str("origin", req.Origin).Str("service", req.Service).Msg("unexpected sm request dropped")
		return
	}

	s.beep()

	if req.ReqID == 0 {
		// pure liveness pulse, no reply owed
		return
	}
	if req.Request != "cluster_info" {
		s.logger.Warn().Str("request", req.Request).Msg("unknown sm request dropped")
		return
	}

	reply := SMReply{
		Origin:  "hbs",
		Service: "heartbeat",
		ReqID:   req.ReqID,
		Cluster: s.engine.BuildSnapshot(),
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error().Err(err).Msg("sm reply encode failed")
		return
	}
	if _, err := s.tx.Write(data, nil); err != nil {
		s.logger.Error().Err(err).Msg("sm reply send failed")
	}
}

// beep records one SM pulse and walks the recovery window when missing.
func (s *SMServer) beep() {
	now := types.ClockNow()

	if !s.missing {
		s.lastPulse = now
		return
	}

	// in recovery: beeps must be consecutive within the window; one miss
	// (window expiry) restarts the count
	if s.recoverCount == 0 || now.Sub(s.recoverStart) > SMRecoverDuration {
		s.recoverCount = 0
		s.recoverStart = now
	}
	s.recoverCount++
	if s.recoverCount >= SMRecoverBeeps {
		s.missing = false
		s.recoverCount = 0
		s.lastPulse = now
		s.logger.Info().Msg("service manager pulse recovered")
	}
}

func (s *SMServer) checkLiveness() {
	now := types.ClockNow()
	if s.missing {
		// a stretch with no beeps at all restarts the recovery count
		if s.recoverCount > 0 && now.Sub(s.recoverStart) > SMRecoverDuration {
			s.recoverCount = 0
		}
		return
	}
	if now.Sub(s.lastPulse) > SMHeartbeatPulsePeriod {
		s.missing = true
		s.recoverCount = 0
		s.logger.Warn().
			Dur("since_last_pulse", now.Sub(s.lastPulse)).
			Msg("service manager pulse missing")
	}
}
