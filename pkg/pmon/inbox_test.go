package pmon

import (
	"net"
	"testing"

	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCmdSocket feeds queued commands to the inbox.
type fakeCmdSocket struct {
	datagrams [][]byte
}

func (f *fakeCmdSocket) Read(buf []byte) (int, *net.UDPAddr, error) {
	if len(f.datagrams) == 0 {
		return 0, nil, net.ErrClosed
	}
	d := f.datagrams[0]
	f.datagrams = f.datagrams[1:]
	return copy(buf, d), &net.UDPAddr{}, nil
}

func (f *fakeCmdSocket) push(cmd string) {
	f.datagrams = append(f.datagrams, []byte(cmd))
}

func TestInboxStopStartRestart(t *testing.T) {
	h := newPmonHarness(t)
	p := h.addProcess(t, passiveConfig("ntpd", h.livePidFile(t, "ntpd"), types.SeverityMajor, 3))
	p.Pid = 0 // never kill a real pid from the test

	sock := &fakeCmdSocket{}
	inbox := NewInbox(h.sup, sock, func() {})

	sock.push(`{"command":"stop","process":"ntpd"}`)
	inbox.Service()
	assert.True(t, p.Stopped)
	assert.True(t, p.Ignore)
	assert.Equal(t, StageStopped, p.Stage)
	assert.True(t, h.sup.timers.Armed(p.Timer), "auto-recovery timer armed")

	// start is only valid while stopped
	sock.push(`{"command":"start","process":"ntpd"}`)
	inbox.Service()
	assert.False(t, p.Stopped)
	assert.Equal(t, StageRespawn, p.Stage)

	sock.push(`{"command":"start","process":"ntpd"}`)
	inbox.Service()
	assert.Equal(t, StageRespawn, p.Stage, "start of a non-stopped process is rejected")

	sock.push(`{"command":"restart","process":"ntpd"}`)
	inbox.Service()
	assert.True(t, p.Restart)
	assert.Equal(t, StageManage, p.Stage)
	assert.True(t, h.sup.RestartInProgress())
}

func TestInboxRejectsStatusModeProcess(t *testing.T) {
	h := newPmonHarness(t)
	cfg := &config.Process{
		Name:     "ceph",
		Script:   "/etc/init.d/ceph",
		Severity: types.SeverityMajor,
		Mode:     config.ModeStatus,
		Restarts: 3,
		Status:   &config.StatusSpec{PeriodSec: 30, TimeoutSec: 10, StartArg: "start", StatusArg: "status"},
	}
	p := h.addProcess(t, cfg)

	sock := &fakeCmdSocket{}
	inbox := NewInbox(h.sup, sock, func() {})
	sock.push(`{"command":"restart","process":"ceph"}`)
	inbox.Service()

	assert.False(t, p.Restart)
}

func TestInboxUnknownProcessIgnored(t *testing.T) {
	h := newPmonHarness(t)
	sock := &fakeCmdSocket{}
	inbox := NewInbox(h.sup, sock, func() {})

	sock.push(`{"command":"stop","process":"ghost"}`)
	sock.push(`{malformed`)
	inbox.Service() // must not panic or act
}

func TestInboxSelfRestartExits(t *testing.T) {
	h := newPmonHarness(t)
	exited := false
	sock := &fakeCmdSocket{}
	inbox := NewInbox(h.sup, sock, func() { exited = true })

	sock.push(`{"command":"restart","process":"pmond"}`)
	inbox.Service()
	assert.True(t, exited)
}

func TestStopAutoRecovery(t *testing.T) {
	h := newPmonHarness(t)
	pidfile := h.livePidFile(t, "auto")
	p := h.addProcess(t, passiveConfig("auto", pidfile, types.SeverityMajor, 3))
	p.Pid = 0

	sock := &fakeCmdSocket{}
	inbox := NewInbox(h.sup, sock, func() {})
	sock.push(`{"command":"stop","process":"auto"}`)
	inbox.Service()
	require.True(t, p.Stopped)

	// simulate the 30 minute window expiring
	h.sup.timers.Stop(p.Timer)
	p.Timer.Ring()
	inbox.ServiceStopRecovery()

	assert.False(t, p.Stopped)
	assert.Equal(t, StageRespawn, p.Stage)
}
