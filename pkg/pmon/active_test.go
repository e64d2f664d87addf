package pmon

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/cuemby/nodehealth/pkg/config"
	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMonitored stands in for an actively monitored process on the
// loopback.
type fakeMonitored struct {
	conn *net.UDPConn
	port int
}

func newFakeMonitored(t *testing.T) *fakeMonitored {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &fakeMonitored{conn: conn, port: conn.LocalAddr().(*net.UDPAddr).Port}
}

// answer reads one pulse request and echoes the response protocol.
func (f *fakeMonitored) answer(t *testing.T, name string, seqOverride uint32) {
	t.Helper()
	buf := make([]byte, 256)
	f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, peer, err := f.conn.ReadFromUDP(buf)
	require.NoError(t, err)

	var gotName string
	var magic, seq uint32
	_, err = fmt.Sscanf(string(buf[:n]), "%s %x %d", &gotName, &magic, &seq)
	require.NoError(t, err)
	require.Equal(t, name, gotName)
	require.EqualValues(t, amonMagic, magic)

	if seqOverride != 0 {
		seq = seqOverride
	}
	_, err = f.conn.WriteToUDP([]byte(fmt.Sprintf("%s %x %d", name, uint32(amonMagicRsp), seq)), peer)
	require.NoError(t, err)
}

func activeProcess(t *testing.T, h *pmonHarness, port int) *Process {
	t.Helper()
	cfg := passiveConfig("amon-proc", h.livePidFile(t, "amon-proc"), types.SeverityMajor, 3)
	cfg.Mode = config.ModeActive
	cfg.Active = &config.ActiveSpec{Port: port, PeriodSec: 5, TimeoutSec: 5, Threshold: 3}
	return h.addProcess(t, cfg)
}

func TestActivePulseExchange(t *testing.T) {
	h := newPmonHarness(t)
	mon := newFakeMonitored(t)
	p := activeProcess(t, h, mon.port)
	require.Equal(t, ActiveStartMonitor, p.AStage)

	h.sup.activeStep(p) // open socket
	require.Equal(t, ActiveGapSetup, p.AStage)
	h.sup.activeStep(p) // arm gap timer
	require.Equal(t, ActiveGapWait, p.AStage)

	p.Timer.Ring()
	h.sup.activeStep(p) // gap expired
	require.Equal(t, ActivePulseRequest, p.AStage)
	h.sup.activeStep(p) // send pulse
	require.Equal(t, ActivePulseResponse, p.AStage)

	mon.answer(t, "amon-proc", 0)
	// give the loopback datagram a moment to land
	assert.Eventually(t, func() bool {
		h.sup.activeStep(p)
		return p.B2BMissCount == 0 && !p.Waiting
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, p.ActiveResponse)
}

func TestActiveMissesEscalateToFailure(t *testing.T) {
	// spec scenario: no ACKs at threshold 3 hands off to passive recovery
	h := newPmonHarness(t)
	mon := newFakeMonitored(t)
	p := activeProcess(t, h, mon.port)
	p.ActiveResponse = true // past the startup grace

	h.sup.activeStep(p) // open socket
	h.sup.activeStep(p) // gap setup

	for i := 0; i < p.Cfg.Active.Threshold; i++ {
		p.Timer.Ring()
		h.sup.activeStep(p) // gap/request wait -> pulse request
		h.sup.activeStep(p) // send, arm timeout
		require.Equal(t, ActivePulseResponse, p.AStage)
		p.Timer.Ring()
		h.sup.activeStep(p) // timeout with no answer
	}

	assert.True(t, p.Failed, "active failure must engage passive recovery")
	assert.Equal(t, StageManage, p.Stage)
	assert.True(t, p.ActiveFailed)
	assert.Equal(t, ActiveStartMonitor, p.AStage)
}

func TestActiveOutOfSequenceCountsAsMiss(t *testing.T) {
	h := newPmonHarness(t)
	mon := newFakeMonitored(t)
	p := activeProcess(t, h, mon.port)

	h.sup.activeStep(p)
	h.sup.activeStep(p)
	p.Timer.Ring()
	h.sup.activeStep(p)
	h.sup.activeStep(p) // pulse sent, tx_sequence == 1

	mon.answer(t, "amon-proc", 9999)
	assert.Eventually(t, func() bool {
		h.sup.activeStep(p)
		return p.MesgErrCnt == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, p.B2BMissCount)
}

func TestForgivenessBoundary(t *testing.T) {
	h := newPmonHarness(t)
	mon := newFakeMonitored(t)
	p := activeProcess(t, h, mon.port)

	tests := []struct {
		name      string
		periodSec int
		response  bool
		misses    int
		forgiven  bool
	}{
		{"never responded, short period, few misses", 5, false, 3, true},
		{"never responded, short period, window consumed", 5, false, 36, false},
		{"boundary: misses one below window", 5, false, 35, true},
		{"already responded", 5, true, 3, false},
		{"period at the grace window", 180, false, 3, false},
		{"period beyond the grace window", 300, false, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.Cfg.Active.PeriodSec = tt.periodSec
			p.ActiveResponse = tt.response
			p.B2BMissCount = tt.misses
			assert.Equal(t, tt.forgiven, h.sup.forgiveStartupMiss(p))
		})
	}
}
