package config

import (
	"testing"

	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProcessPassive(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sshd.conf", `
[process]
process = sshd
service = sshd
pidfile = /var/run/sshd.pid
severity = major
restarts = 3
interval = 5
debounce = 20
startuptime = 10
mode = passive
quorum = 0
`)

	p, err := LoadProcess(path)
	require.NoError(t, err)
	assert.Equal(t, "sshd", p.Name)
	assert.Equal(t, ModePassive, p.Mode)
	assert.Equal(t, types.SeverityMajor, p.Severity)
	assert.Equal(t, 3, p.Restarts)
	assert.Equal(t, 5, p.IntervalSecs)
	assert.Equal(t, 20, p.DebounceSecs)
	assert.False(t, p.Quorum)
	assert.Nil(t, p.Active)
	assert.Nil(t, p.Status)
}

func TestLoadProcessActive(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sm.conf", `
[process]
process = sm
service = sm
pidfile = /var/run/sm.pid
severity = critical
restarts = 0
mode = active
quorum = 1
port = 2139
period = 5
timeout = 5
threshold = 3
`)

	p, err := LoadProcess(path)
	require.NoError(t, err)
	assert.Equal(t, ModeActive, p.Mode)
	assert.True(t, p.Quorum)
	require.NotNil(t, p.Active)
	assert.Equal(t, 2139, p.Active.Port)
	assert.Equal(t, 5, p.Active.PeriodSec)
	assert.Equal(t, 3, p.Active.Threshold)
}

func TestLoadProcessStatus(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ceph.conf", `
[process]
process = ceph
script = /etc/init.d/ceph-init-wrapper
severity = major
restarts = 3
interval = 30
mode = status
period = 30
timeout = 120
start_arg = start
status_arg = status
status_failure_text = /tmp/ceph_status_failure.txt
`)

	p, err := LoadProcess(path)
	require.NoError(t, err)
	assert.Equal(t, ModeStatus, p.Mode)
	require.NotNil(t, p.Status)
	assert.Equal(t, "status", p.Status.StatusArg)
	assert.Equal(t, "/tmp/ceph_status_failure.txt", p.Status.StatusFailureTextFile)
}

func TestLoadProcessRejections(t *testing.T) {
	tests := []struct {
		name string
		conf string
	}{
		{"missing process name", "[process]\npidfile = /var/run/x.pid\nseverity = minor\n"},
		{"bad severity", "[process]\nprocess = x\npidfile = /p\nseverity = fatal\n"},
		{"bad mode", "[process]\nprocess = x\npidfile = /p\nseverity = minor\nmode = aggressive\n"},
		{"active without port", "[process]\nprocess = x\npidfile = /p\nseverity = minor\nmode = active\n"},
		{"status without script", "[process]\nprocess = x\nseverity = minor\nmode = status\n"},
		{"passive without pidfile", "[process]\nprocess = x\nscript = /s\nseverity = minor\nmode = passive\n"},
		{"unknown subfunction", "[process]\nprocess = x\npidfile = /p\nseverity = minor\nsubfunction = mainframe\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeFile(t, dir, "bad.conf", tt.conf)
			_, err := LoadProcess(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadProcessDirSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.conf", `
[process]
process = ntpd
script = /etc/init.d/ntpd
pidfile = /var/run/ntpd.pid
severity = minor
`)
	writeFile(t, dir, "broken.conf", "[process]\nseverity = minor\n")
	writeFile(t, dir, "notes.txt", "not a conf file")

	procs, err := LoadProcessDir(dir)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "ntpd", procs[0].Name)
}

func TestLoadProcessDirDuplicateIgnored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.conf", "[process]\nprocess = dup\nscript = /s\npidfile = /p\nseverity = minor\n")
	writeFile(t, dir, "b.conf", "[process]\nprocess = dup\nscript = /s\npidfile = /p\nseverity = major\n")

	procs, err := LoadProcessDir(dir)
	require.NoError(t, err)
	assert.Len(t, procs, 1)
}
