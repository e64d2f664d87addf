package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/nodehealth/pkg/log"
	"github.com/cuemby/nodehealth/pkg/types"
	"gopkg.in/ini.v1"
)

// MonitorMode selects how a process is supervised.
type MonitorMode string

const (
	ModePassive MonitorMode = "passive"
	ModeActive  MonitorMode = "active"
	ModeStatus  MonitorMode = "status"
)

// Subfunction gates monitoring on a config-complete marker.
type Subfunction string

const (
	SubfunctionNone       Subfunction = ""
	SubfunctionWorker     Subfunction = "worker"
	SubfunctionStorage    Subfunction = "storage"
	SubfunctionLastConfig Subfunction = "last-config"
)

// ActiveSpec is the tuning tuple for active-mode monitoring.
type ActiveSpec struct {
	Port       int
	PeriodSec  int
	TimeoutSec int
	Threshold  int
}

// StatusSpec is the tuning tuple for status-mode monitoring.
type StatusSpec struct {
	PeriodSec             int
	TimeoutSec            int
	StartArg              string
	StatusArg             string
	StatusFailureTextFile string
}

// Process is one supervised process, read from a /etc/pmon.d conf file.
type Process struct {
	Name     string
	Service  string
	Script   string
	Style    string
	PidFile  string
	Severity types.Severity
	Mode     MonitorMode

	Restarts       int
	IntervalSecs   int
	DebounceSecs   int
	StartupSecs    int
	StartDelaySecs int

	Quorum       bool
	FullInitReqd bool
	Subfunction  Subfunction

	Active *ActiveSpec
	Status *StatusSpec

	// ConfFile records where the profile came from, for reload diffing.
	ConfFile string
}

// RecoveryTarget reports the unit or script name used in logs and alarms.
func (p *Process) RecoveryTarget() string {
	if p.Service != "" {
		return p.Service
	}
	return p.Script
}

// LoadProcess parses one pmon.d conf file.
func LoadProcess(path string) (*Process, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	sec := f.Section("process")

	name := sec.Key("process").String()
	if name == "" {
		return nil, fmt.Errorf("%w: [process] process in %s", ErrMissingKey, path)
	}

	p := &Process{
		Name:     name,
		Service:  sec.Key("service").String(),
		Script:   sec.Key("script").String(),
		Style:    sec.Key("style").String(),
		PidFile:  sec.Key("pidfile").String(),
		ConfFile: path,
	}

	switch sev := sec.Key("severity").String(); sev {
	case "minor":
		p.Severity = types.SeverityMinor
	case "major":
		p.Severity = types.SeverityMajor
	case "critical":
		p.Severity = types.SeverityCritical
	default:
		return nil, fmt.Errorf("config: %s: severity %q not in {minor,major,critical}", path, sev)
	}

	p.Restarts = sec.Key("restarts").MustInt(3)
	p.IntervalSecs = sec.Key("interval").MustInt(10)
	p.DebounceSecs = sec.Key("debounce").MustInt(20)
	p.StartupSecs = sec.Key("startuptime").MustInt(5)
	p.StartDelaySecs = sec.Key("start_delay").MustInt(0)
	p.Quorum = sec.Key("quorum").MustInt(0) != 0
	p.FullInitReqd = sec.Key("full_init_reqd").MustInt(0) != 0

	switch sub := Subfunction(sec.Key("subfunction").String()); sub {
	case SubfunctionNone, SubfunctionWorker, SubfunctionStorage, SubfunctionLastConfig:
		p.Subfunction = sub
	default:
		return nil, fmt.Errorf("config: %s: unknown subfunction %q", path, sub)
	}

	switch mode := MonitorMode(sec.Key("mode").MustString(string(ModePassive))); mode {
	case ModePassive:
		p.Mode = ModePassive
	case ModeActive:
		p.Mode = ModeActive
		p.Active = &ActiveSpec{
			Port:       sec.Key("port").MustInt(0),
			PeriodSec:  sec.Key("period").MustInt(5),
			TimeoutSec: sec.Key("timeout").MustInt(5),
			Threshold:  sec.Key("threshold").MustInt(3),
		}
		if p.Active.Port == 0 {
			return nil, fmt.Errorf("%w: [process] port for active mode in %s", ErrMissingKey, path)
		}
	case ModeStatus:
		p.Mode = ModeStatus
		p.Status = &StatusSpec{
			PeriodSec:             sec.Key("period").MustInt(60),
			TimeoutSec:            sec.Key("timeout").MustInt(30),
			StartArg:              sec.Key("start_arg").MustString("start"),
			StatusArg:             sec.Key("status_arg").MustString("status"),
			StatusFailureTextFile: sec.Key("status_failure_text").String(),
		}
		if p.Script == "" {
			return nil, fmt.Errorf("%w: [process] script for status mode in %s", ErrMissingKey, path)
		}
	default:
		return nil, fmt.Errorf("config: %s: mode %q not in {passive,active,status}", path, mode)
	}

	if p.Mode != ModeStatus && p.PidFile == "" {
		return nil, fmt.Errorf("%w: [process] pidfile in %s", ErrMissingKey, path)
	}
	return p, nil
}

// LoadProcessDir reads every *.conf under dir. A file that fails to parse is
// logged and skipped; it never sinks the whole profile.
func LoadProcessDir(dir string) ([]*Process, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("config: read dir %s: %w", dir, err)
	}

	logger := log.WithComponent("config")
	var procs []*Process
	names := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".conf") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		p, err := LoadProcess(path)
		if err != nil {
			logger.Error().Err(err).Str("file", path).Msg("process config rejected")
			continue
		}
		if names[p.Name] {
			logger.Warn().Str("process", p.Name).Str("file", path).Msg("duplicate process config ignored")
			continue
		}
		names[p.Name] = true
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Name < procs[j].Name })
	return procs, nil
}
