package alarm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/rs/zerolog"
)

// Well-known alarm identifiers.
const (
	IDMgmntHeartbeat = "200.005"
	IDPmonProcess    = "200.006"
	IDClstrHeartbeat = "200.009"
)

// Entity name fragments used when composing entity instances.
const (
	EntityMgmnt   = "network=mgmnt"
	EntityClstr   = "network=clstr"
	EntityService = "service=heartbeat"
)

// Record is one alarm as FM sees it.
type Record struct {
	Host     string
	ID       string
	Entity   string
	Severity types.Severity
	Reason   string
}

// FM is the external fault-management sink. Implementations must be safe
// for use from a single goroutine; the daemons only call from their main
// loop.
type FM interface {
	Set(rec Record) error
	Clear(host, id, entity string) error
	Query(host, id, entity string) (types.Severity, error)
	QueryAll(host, id string) ([]Record, error)
}

// EntityInstance composes the FM entity instance string. The instance
// always begins with host=<hostname>; sub-entities append .process=<name>
// or .sensor=<name>.
func EntityInstance(host, sub string) string {
	if sub == "" {
		return "host=" + host
	}
	return "host=" + host + "." + sub
}

// ProcessEntity names a supervised process under its host.
func ProcessEntity(process string) string {
	return "process=" + process
}

// Manager deduplicates symbolic alarm requests before they reach FM.
// Repeated raises at an unchanged severity are no-ops; clears are suppressed
// when FM has nothing to clear.
type Manager struct {
	fm     FM
	logger zerolog.Logger

	mu      sync.Mutex
	current map[string]types.Severity
}

// NewManager wraps an FM adapter with severity caching.
func NewManager(fm FM) *Manager {
	return &Manager{
		fm:      fm,
		logger:  log.WithComponent("alarm"),
		current: make(map[string]types.Severity),
	}
}

func key(host, id, entity string) string {
	return host + "\x00" + id + "\x00" + entity
}

// Raise sets an alarm. If the alarm is already at the requested severity
// the call is a no-op; otherwise the set is forwarded to FM with an
// accompanying info log. A non-OK FM answer is logged only, never retried
// in a loop.
func (m *Manager) Raise(host, id, entity string, severity types.Severity, reason string) {
	if severity == types.SeverityClear {
		m.Clear(host, id, entity)
		return
	}

	m.mu.Lock()
	k := key(host, id, entity)
	if m.current[k] == severity {
		m.mu.Unlock()
		return
	}
	m.current[k] = severity
	m.mu.Unlock()

	m.logger.Info().
		Str("hostname", host).
		Str("alarm_id", id).
		Str("entity", entity).
		Str("severity", severity.String()).
		Msg(reason)

	if err := m.fm.Set(Record{Host: host, ID: id, Entity: entity, Severity: severity, Reason: reason}); err != nil {
		m.logger.Error().Err(err).
			Str("alarm_id", id).
			Str("entity", entity).
			Msg("fm alarm set failed")
	}
}

// Clear removes an alarm. Idempotent: FM is queried first and redundant
// clears are suppressed.
func (m *Manager) Clear(host, id, entity string) {
	m.mu.Lock()
	k := key(host, id, entity)
	cached := m.current[k]
	delete(m.current, k)
	m.mu.Unlock()

	if cached == types.SeverityClear {
		sev, err := m.fm.Query(host, id, entity)
		if err != nil || sev == types.SeverityClear {
			return
		}
	}

	m.logger.Info().
		Str("hostname", host).
		Str("alarm_id", id).
		Str("entity", entity).
		Msg("alarm clear")

	if err := m.fm.Clear(host, id, entity); err != nil {
		m.logger.Error().Err(err).
			Str("alarm_id", id).
			Str("entity", entity).
			Msg("fm alarm clear failed")
	}
}

// ClearAll purges every alarm under the host's entity root.
func (m *Manager) ClearAll(host string) {
	m.mu.Lock()
	prefix := host + "\x00"
	for k := range m.current {
		if strings.HasPrefix(k, prefix) {
			delete(m.current, k)
		}
	}
	m.mu.Unlock()

	if err := m.fm.Clear(host, "", ""); err != nil {
		m.logger.Error().Err(err).Str("hostname", host).Msg("fm alarm purge failed")
	}
}

// Query returns the current severity of an alarm, clear when not present.
func (m *Manager) Query(host, id, entity string) types.Severity {
	m.mu.Lock()
	if sev, ok := m.current[key(host, id, entity)]; ok {
		m.mu.Unlock()
		return sev
	}
	m.mu.Unlock()

	sev, err := m.fm.Query(host, id, entity)
	if err != nil {
		return types.SeverityClear
	}
	return sev
}

// QueryAll lists the active alarms FM holds for host under one alarm id.
func (m *Manager) QueryAll(host, id string) []Record {
	recs, err := m.fm.QueryAll(host, id)
	if err != nil {
		m.logger.Error().Err(err).Str("alarm_id", id).Msg("fm alarm query failed")
		return nil
	}
	return recs
}

// Log emits a log-only (MSG mode) event through the alarm logger without
// touching FM state. The optional prefix is appended to the reason text.
func (m *Manager) Log(host, id, entity string, severity types.Severity, reason, prefix string) {
	if prefix != "" {
		reason = fmt.Sprintf("%s %s", reason, prefix)
	}
	m.logger.Info().
		Str("hostname", host).
		Str("alarm_id", id).
		Str("entity", entity).
		Str("severity", severity.String()).
		Bool("log_only", true).
		Msg(reason)
}
