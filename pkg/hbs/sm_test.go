package hbs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock steps types.ClockNow deterministically.
type fakeClock struct {
	now time.Time
}

func installClock(t *testing.T) *fakeClock {
	t.Helper()
	c := &fakeClock{now: time.Unix(1700000000, 0)}
	types.ClockNow = func() time.Time { return c.now }
	t.Cleanup(func() { types.ClockNow = time.Now })
	return c
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newSMHarness(t *testing.T) (*harness, *SMServer, *fakeSocket, *fakeSocket) {
	t.Helper()
	h := newHarness(t, testConfig())
	rx := &fakeSocket{}
	tx := &fakeSocket{}
	return h, NewSMServer(h.engine, rx, tx), rx, tx
}

func smPulse(reqid int) []byte {
	data, _ := json.Marshal(SMRequest{Origin: "sm", Service: "heartbeat", Request: "cluster_info", ReqID: reqid})
	return data
}

func TestSMClusterInfoReply(t *testing.T) {
	h, sm, rx, tx := newSMHarness(t)
	addMonitoredHost(h, "compute-0")
	h.engine.Tick()

	rx.rxQueue = append(rx.rxQueue, smPulse(7))
	sm.Service()

	require.Len(t, tx.sent, 1)
	var reply SMReply
	require.NoError(t, json.Unmarshal(tx.sent[0], &reply))
	assert.Equal(t, 7, reply.ReqID)
	require.NotNil(t, reply.Cluster)
	_, ok := reply.Cluster.Lookup(types.NetworkMgmnt, "compute-0")
	assert.True(t, ok)
}

func TestSMPulseNeedsNoReply(t *testing.T) {
	_, sm, rx, tx := newSMHarness(t)

	rx.rxQueue = append(rx.rxQueue, smPulse(0))
	sm.Service()
	assert.Empty(t, tx.sent)
	assert.False(t, sm.Missing())
}

func TestSMMissingAndRecovery(t *testing.T) {
	clock := installClock(t)
	_, sm, rx, _ := newSMHarness(t)

	// a pulse, then silence past the pulse period
	rx.rxQueue = append(rx.rxQueue, smPulse(0))
	sm.Service()
	clock.advance(SMHeartbeatPulsePeriod + 100*time.Millisecond)
	sm.Service()
	require.True(t, sm.Missing())

	// recovery needs the full consecutive beep count in the window
	for i := 0; i < SMRecoverBeeps-1; i++ {
		clock.advance(50 * time.Millisecond)
		rx.rxQueue = append(rx.rxQueue, smPulse(0))
		sm.Service()
		require.True(t, sm.Missing(), "recovery must not complete early")
	}
	clock.advance(50 * time.Millisecond)
	rx.rxQueue = append(rx.rxQueue, smPulse(0))
	sm.Service()
	assert.False(t, sm.Missing())
}

func TestSMRecoveryRestartsOnMiss(t *testing.T) {
	clock := installClock(t)
	_, sm, rx, _ := newSMHarness(t)

	clock.advance(SMHeartbeatPulsePeriod + time.Millisecond)
	sm.Service()
	require.True(t, sm.Missing())

	// half the beeps, then a gap longer than the recovery window
	for i := 0; i < SMRecoverBeeps/2; i++ {
		clock.advance(50 * time.Millisecond)
		rx.rxQueue = append(rx.rxQueue, smPulse(0))
		sm.Service()
	}
	clock.advance(SMRecoverDuration + time.Millisecond)
	sm.Service()
	require.True(t, sm.Missing())

	// the count restarted: the same half is not enough
	for i := 0; i < SMRecoverBeeps/2; i++ {
		clock.advance(50 * time.Millisecond)
		rx.rxQueue = append(rx.rxQueue, smPulse(0))
		sm.Service()
	}
	assert.True(t, sm.Missing())
}

func TestSMMalformedRequestDropped(t *testing.T) {
	_, sm, rx, tx := newSMHarness(t)

	rx.rxQueue = append(rx.rxQueue, []byte(`{broken`))
	rx.rxQueue = append(rx.rxQueue, []byte(`{"origin":"someone-else","service":"heartbeat","reqid":1}`))
	sm.Service()
	assert.Empty(t, tx.sent)
}
