package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// Default config file locations.
const (
	MtcConfPath    = "/etc/mtc/mtc.conf"
	MtcOverlayPath = "/etc/mtc/.mtc.ini"
	PmonConfPath   = "/etc/mtc/pmond.conf"
	PmonDirPath    = "/etc/pmon.d"
)

// virtualMarker exists on virtualized deployments, where the heartbeat
// period is clamped to its maximum.
const virtualMarker = "/var/run/virtual"

// ErrMissingKey is wrapped into every required-key failure.
var ErrMissingKey = errors.New("config: missing required key")

// FailureAction selects what the heartbeat agent does when a peer trips
// the failure threshold.
type FailureAction string

const (
	ActionFail    FailureAction = "fail"
	ActionDegrade FailureAction = "degrade"
	ActionAlarm   FailureAction = "alarm"
	ActionNone    FailureAction = "none"
)

// HbsConfig is the heartbeat agent tuning loaded from mtc.conf.
type HbsConfig struct {
	HeartbeatPeriodMsecs int
	MinorThreshold       int
	DegradeThreshold     int
	FailureThreshold     int
	FailureAction        FailureAction
	Multicast            string

	MtcToHbsCmdPort   int
	HbsToMtcEventPort int
	AgentMgmntPort    int
	ClientMgmntPort   int
	AgentClstrPort    int
	ClientClstrPort   int
	MtcAlarmReqPort   int
	SMServerPort      int
	SMClientPort      int

	SchedulingPriority int
}

// Heartbeat period bounds; a virtual environment pins the maximum.
const (
	MinHeartbeatPeriodMsecs = 100
	MaxHeartbeatPeriodMsecs = 1000
)

// LoadHbs reads the agent section of mtc.conf, with the dot-ini overlay
// applied on top when present.
func LoadHbs(path, overlay string) (*HbsConfig, error) {
	f, err := loadLayered(path, overlay)
	if err != nil {
		return nil, err
	}
	agent := f.Section("agent")

	cfg := &HbsConfig{}
	intKeys := []struct {
		key string
		dst *int
	}{
		{"heartbeat_period", &cfg.HeartbeatPeriodMsecs},
		{"hbs_minor_threshold", &cfg.MinorThreshold},
		{"heartbeat_degrade_threshold", &cfg.DegradeThreshold},
		{"heartbeat_failure_threshold", &cfg.FailureThreshold},
		{"mtc_to_hbs_cmd_port", &cfg.MtcToHbsCmdPort},
		{"hbs_to_mtc_event_port", &cfg.HbsToMtcEventPort},
		{"hbs_agent_mgmnt_port", &cfg.AgentMgmntPort},
		{"hbs_client_mgmnt_port", &cfg.ClientMgmntPort},
		{"hbs_agent_clstr_port", &cfg.AgentClstrPort},
		{"hbs_client_clstr_port", &cfg.ClientClstrPort},
		{"mtcalarm_req_port", &cfg.MtcAlarmReqPort},
		{"scheduling_priority", &cfg.SchedulingPriority},
		{"sm_server_port", &cfg.SMServerPort},
		{"sm_client_port", &cfg.SMClientPort},
	}
	for _, k := range intKeys {
		if !agent.HasKey(k.key) {
			return nil, fmt.Errorf("%w: [agent] %s", ErrMissingKey, k.key)
		}
		v, err := agent.Key(k.key).Int()
		if err != nil {
			return nil, fmt.Errorf("config: [agent] %s: %w", k.key, err)
		}
		*k.dst = v
	}

	if !agent.HasKey("multicast") {
		return nil, fmt.Errorf("%w: [agent] multicast", ErrMissingKey)
	}
	cfg.Multicast = agent.Key("multicast").String()

	if !agent.HasKey("heartbeat_failure_action") {
		return nil, fmt.Errorf("%w: [agent] heartbeat_failure_action", ErrMissingKey)
	}
	switch action := FailureAction(agent.Key("heartbeat_failure_action").String()); action {
	case ActionFail, ActionDegrade, ActionAlarm, ActionNone:
		cfg.FailureAction = action
	default:
		return nil, fmt.Errorf("config: heartbeat_failure_action %q not in {fail,degrade,alarm,none}", action)
	}

	cfg.clampPeriod()
	return cfg, nil
}

func (c *HbsConfig) clampPeriod() {
	if c.HeartbeatPeriodMsecs < MinHeartbeatPeriodMsecs {
		c.HeartbeatPeriodMsecs = MinHeartbeatPeriodMsecs
	}
	if c.HeartbeatPeriodMsecs > MaxHeartbeatPeriodMsecs {
		c.HeartbeatPeriodMsecs = MaxHeartbeatPeriodMsecs
	}
	if IsVirtual() {
		c.HeartbeatPeriodMsecs = MaxHeartbeatPeriodMsecs
	}
}

// IsVirtual reports whether the node runs in a virtual environment.
func IsVirtual() bool {
	_, err := os.Stat(virtualMarker)
	return err == nil
}

// PmonConfig is the process monitor tuning loaded from pmond.conf.
type PmonConfig struct {
	AuditPeriodMsecs       int
	StartDelaySecs         int
	HostwdUpdatePeriodSecs int

	PmonCmdPort     int
	EventPort       int
	PulsePort       int
	MtcAlarmReqPort int
}

// Audit period and start delay bounds.
const (
	MinAuditPeriodMsecs = 50
	MaxAuditPeriodMsecs = 999
	MinStartDelaySecs   = 1
	MaxStartDelaySecs   = 120
)

// LoadPmon reads pmond.conf.
func LoadPmon(path string) (*PmonConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	client := f.Section("client")

	cfg := &PmonConfig{}
	intKeys := []struct {
		key string
		dst *int
	}{
		{"audit_period", &cfg.AuditPeriodMsecs},
		{"start_delay", &cfg.StartDelaySecs},
		{"hostwd_update_period", &cfg.HostwdUpdatePeriodSecs},
		{"pmon_cmd_port", &cfg.PmonCmdPort},
		{"pmon_event_port", &cfg.EventPort},
		{"pmon_pulse_port", &cfg.PulsePort},
		{"mtcalarm_req_port", &cfg.MtcAlarmReqPort},
	}
	for _, k := range intKeys {
		if !client.HasKey(k.key) {
			return nil, fmt.Errorf("%w: [client] %s", ErrMissingKey, k.key)
		}
		v, err := client.Key(k.key).Int()
		if err != nil {
			return nil, fmt.Errorf("config: [client] %s: %w", k.key, err)
		}
		*k.dst = v
	}

	if cfg.AuditPeriodMsecs < MinAuditPeriodMsecs {
		cfg.AuditPeriodMsecs = MinAuditPeriodMsecs
	}
	if cfg.AuditPeriodMsecs > MaxAuditPeriodMsecs {
		cfg.AuditPeriodMsecs = MaxAuditPeriodMsecs
	}
	if cfg.StartDelaySecs < MinStartDelaySecs {
		cfg.StartDelaySecs = MinStartDelaySecs
	}
	if cfg.StartDelaySecs > MaxStartDelaySecs {
		cfg.StartDelaySecs = MaxStartDelaySecs
	}
	return cfg, nil
}

func loadLayered(path, overlay string) (*ini.File, error) {
	sources := []interface{}{path}
	if overlay != "" {
		if _, err := os.Stat(overlay); err == nil {
			sources = append(sources, overlay)
		}
	}
	f, err := ini.LooseLoad(sources[0], sources[1:]...)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return f, nil
}
