package alarm

import (
	"strings"
	"sync"

	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/rs/zerolog"
)

// FMStore is the local fault-management adapter. The real FM service is
// external to this subsystem; this adapter keeps the authoritative local
// view the daemons act on and journals every state change. Tests use it
// directly as a fake.
type FMStore struct {
	mu     sync.Mutex
	active map[string]Record
	logger zerolog.Logger
}

// NewFMStore creates an empty adapter.
func NewFMStore() *FMStore {
	return &FMStore{
		active: make(map[string]Record),
		logger: log.WithComponent("fm"),
	}
}

func (f *FMStore) key(host, id, entity string) string {
	return host + "\x00" + id + "\x00" + entity
}

// Set records an alarm assertion.
func (f *FMStore) Set(rec Record) error {
	f.mu.Lock()
	f.active[f.key(rec.Host, rec.ID, rec.Entity)] = rec
	f.mu.Unlock()
	f.logger.Info().
		Str("hostname", rec.Host).
		Str("alarm_id", rec.ID).
		Str("entity", rec.Entity).
		Str("severity", rec.Severity.String()).
		Msg("alarm set")
	return nil
}

// Clear removes an alarm. Empty id clears every alarm under the host.
func (f *FMStore) Clear(host, id, entity string) error {
	f.mu.Lock()
	if id == "" {
		prefix := host + "\x00"
		for k := range f.active {
			if strings.HasPrefix(k, prefix) {
				delete(f.active, k)
			}
		}
	} else {
		delete(f.active, f.key(host, id, entity))
	}
	f.mu.Unlock()
	return nil
}

// Query returns the current severity, clear when absent.
func (f *FMStore) Query(host, id, entity string) (types.Severity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.active[f.key(host, id, entity)]; ok {
		return rec.Severity, nil
	}
	return types.SeverityClear, nil
}

// QueryAll lists the active alarms for host under one alarm id.
func (f *FMStore) QueryAll(host, id string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.active {
		if rec.Host == host && rec.ID == id {
			out = append(out, rec)
		}
	}
	return out, nil
}
