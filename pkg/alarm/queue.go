package alarm

import (
	"encoding/json"
	"net"

	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Request is one symbolic alarm operation received over the loopback
// request port.
type Request struct {
	AlarmID   string `json:"alarmid"`
	Hostname  string `json:"hostname"`
	Operation string `json:"operation"` // "set" or "clear"
	Severity  string `json:"severity"`
	Entity    string `json:"entity"`
	Prefix    string `json:"prefix,omitempty"`
}

// Batch is the wire envelope carrying queued requests.
type Batch struct {
	Requests []Request `json:"mtcalarm"`
}

// RequestSocket is the receive slice of the messaging layer the queue
// drains.
type RequestSocket interface {
	Read(buf []byte) (int, *net.UDPAddr, error)
}

// Queue drains symbolic alarm requests from a UDP socket and applies them
// through a Manager. Individual parse failures drop the offending entry,
// never the batch.
type Queue struct {
	sock    RequestSocket
	mgr     *Manager
	logger  zerolog.Logger
	dropLog *log.Throttle
	buf     []byte
}

// NewQueue attaches a request queue to an RX socket.
func NewQueue(sock RequestSocket, mgr *Manager) *Queue {
	return &Queue{
		sock:    sock,
		mgr:     mgr,
		logger:  log.WithComponent("alarm-queue"),
		dropLog: log.NewThrottle(0),
		buf:     make([]byte, 8192),
	}
}

// Service drains every queued datagram. Called each main-loop pass.
func (q *Queue) Service() {
	for {
		n, _, err := q.sock.Read(q.buf)
		if err != nil {
			return
		}
		q.dispatch(q.buf[:n])
	}
}

func (q *Queue) dispatch(data []byte) {
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		q.dropLog.Error(q.logger, err, "malformed alarm request batch dropped")
		return
	}
	reqID := uuid.NewString()
	for i, req := range batch.Requests {
		if req.AlarmID == "" || req.Hostname == "" {
			q.logger.Warn().
				Str("reqid", reqID).
				Int("entry", i).
				Msg("alarm request entry missing alarmid or hostname, dropped")
			continue
		}
		switch req.Operation {
		case "set":
			sev := types.ParseSeverity(req.Severity)
			if sev == types.SeverityClear {
				q.logger.Warn().
					Str("reqid", reqID).
					Str("alarm_id", req.AlarmID).
					Str("severity", req.Severity).
					Msg("alarm set with unusable severity, dropped")
				continue
			}
			reason := req.AlarmID
			if req.Prefix != "" {
				// prefix rides along as reason-text suffix
				reason = reason + " " + req.Prefix
			}
			q.mgr.Raise(req.Hostname, req.AlarmID, req.Entity, sev, reason)
		case "clear":
			q.mgr.Clear(req.Hostname, req.AlarmID, req.Entity)
		default:
			q.logger.Warn().
				Str("reqid", reqID).
				Str("operation", req.Operation).
				Msg("alarm request with unknown operation, dropped")
		}
	}
}
