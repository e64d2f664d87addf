package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const goodMtcConf = `
[agent]
heartbeat_period = 1000
hbs_minor_threshold = 4
heartbeat_degrade_threshold = 6
heartbeat_failure_threshold = 10
heartbeat_failure_action = fail
multicast = 239.1.1.2
mtc_to_hbs_cmd_port = 2104
hbs_to_mtc_event_port = 2107
hbs_agent_mgmnt_port = 2103
hbs_client_mgmnt_port = 2106
hbs_agent_clstr_port = 2111
hbs_client_clstr_port = 2112
mtcalarm_req_port = 2122
scheduling_priority = 99
sm_server_port = 2124
sm_client_port = 2125
`

func TestLoadHbs(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mtc.conf", goodMtcConf)

	cfg, err := LoadHbs(path, "")
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.HeartbeatPeriodMsecs)
	assert.Equal(t, 4, cfg.MinorThreshold)
	assert.Equal(t, 6, cfg.DegradeThreshold)
	assert.Equal(t, 10, cfg.FailureThreshold)
	assert.Equal(t, ActionFail, cfg.FailureAction)
	assert.Equal(t, "239.1.1.2", cfg.Multicast)
	assert.Equal(t, 2103, cfg.AgentMgmntPort)
	assert.Equal(t, 2124, cfg.SMServerPort)
}

func TestLoadHbsMissingKey(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mtc.conf", "[agent]\nheartbeat_period = 1000\n")

	_, err := LoadHbs(path, "")
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestLoadHbsBadFailureAction(t *testing.T) {
	dir := t.TempDir()
	bad := goodMtcConf + "\n"
	conf := replaceLine(bad, "heartbeat_failure_action = fail", "heartbeat_failure_action = explode")
	path := writeFile(t, dir, "mtc.conf", conf)

	_, err := LoadHbs(path, "")
	assert.Error(t, err)
}

func TestLoadHbsPeriodClamped(t *testing.T) {
	tests := []struct {
		name   string
		period string
		want   int
	}{
		{"below floor", "heartbeat_period = 50", 100},
		{"above ceiling", "heartbeat_period = 5000", 1000},
		{"in range", "heartbeat_period = 500", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			conf := replaceLine(goodMtcConf, "heartbeat_period = 1000", tt.period)
			path := writeFile(t, dir, "mtc.conf", conf)

			cfg, err := LoadHbs(path, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.HeartbeatPeriodMsecs)
		})
	}
}

func TestLoadHbsOverlayWins(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "mtc.conf", goodMtcConf)
	overlay := writeFile(t, dir, ".mtc.ini", "[agent]\nheartbeat_failure_threshold = 20\n")

	cfg, err := LoadHbs(base, overlay)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.FailureThreshold)
}

const goodPmonConf = `
[client]
audit_period = 200
start_delay = 10
hostwd_update_period = 5
pmon_cmd_port = 2109
pmon_event_port = 2101
pmon_pulse_port = 2108
mtcalarm_req_port = 2122
`

func TestLoadPmon(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "pmond.conf", goodPmonConf)

	cfg, err := LoadPmon(path)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.AuditPeriodMsecs)
	assert.Equal(t, 10, cfg.StartDelaySecs)
	assert.Equal(t, 5, cfg.HostwdUpdatePeriodSecs)
}

func TestLoadPmonBoundsClamped(t *testing.T) {
	dir := t.TempDir()
	conf := replaceLine(goodPmonConf, "audit_period = 200", "audit_period = 10")
	conf = replaceLine(conf, "start_delay = 10", "start_delay = 600")
	path := writeFile(t, dir, "pmond.conf", conf)

	cfg, err := LoadPmon(path)
	require.NoError(t, err)
	assert.Equal(t, MinAuditPeriodMsecs, cfg.AuditPeriodMsecs)
	assert.Equal(t, MaxStartDelaySecs, cfg.StartDelaySecs)
}

func replaceLine(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}
