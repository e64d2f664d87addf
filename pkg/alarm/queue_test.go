package alarm

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket feeds queued datagrams to the queue under test.
type fakeSocket struct {
	datagrams [][]byte
}

func (f *fakeSocket) Read(buf []byte) (int, *net.UDPAddr, error) {
	if len(f.datagrams) == 0 {
		return 0, nil, net.ErrClosed
	}
	d := f.datagrams[0]
	f.datagrams = f.datagrams[1:]
	return copy(buf, d), &net.UDPAddr{}, nil
}

func TestQueueAppliesBatch(t *testing.T) {
	fm := NewFMStore()
	mgr := NewManager(fm)
	sock := &fakeSocket{datagrams: [][]byte{[]byte(`{
		"mtcalarm": [
			{"alarmid":"200.006","hostname":"compute-0","operation":"set","severity":"major","entity":"process=sshd"},
			{"alarmid":"200.005","hostname":"compute-0","operation":"set","severity":"critical","entity":""}
		]
	}`)}}

	NewQueue(sock, mgr).Service()

	assert.Equal(t, types.SeverityMajor, mgr.Query("compute-0", "200.006", "process=sshd"))
	assert.Equal(t, types.SeverityCritical, mgr.Query("compute-0", "200.005", ""))
}

func TestQueueDropsBadEntryKeepsBatch(t *testing.T) {
	fm := NewFMStore()
	mgr := NewManager(fm)
	sock := &fakeSocket{datagrams: [][]byte{[]byte(`{
		"mtcalarm": [
			{"alarmid":"","hostname":"compute-0","operation":"set","severity":"major"},
			{"alarmid":"200.006","hostname":"compute-0","operation":"frobnicate"},
			{"alarmid":"200.006","hostname":"compute-0","operation":"set","severity":"not-a-severity"},
			{"alarmid":"200.006","hostname":"compute-0","operation":"set","severity":"minor","entity":"process=ntpd"}
		]
	}`)}}

	NewQueue(sock, mgr).Service()

	// only the final well-formed entry lands
	assert.Equal(t, types.SeverityMinor, mgr.Query("compute-0", "200.006", "process=ntpd"))
}

func TestQueueMalformedBatchDropped(t *testing.T) {
	fm := NewFMStore()
	mgr := NewManager(fm)
	sock := &fakeSocket{datagrams: [][]byte{
		[]byte(`{not json`),
		[]byte(`{"mtcalarm":[{"alarmid":"200.005","hostname":"compute-1","operation":"set","severity":"major"}]}`),
	}}

	NewQueue(sock, mgr).Service()

	// the broken datagram must not block the next one
	assert.Equal(t, types.SeverityMajor, mgr.Query("compute-1", "200.005", ""))
}

func TestQueueClearOperation(t *testing.T) {
	fm := NewFMStore()
	mgr := NewManager(fm)
	mgr.Raise("compute-0", "200.006", "process=sshd", types.SeverityMajor, "failed")

	sock := &fakeSocket{datagrams: [][]byte{
		[]byte(`{"mtcalarm":[{"alarmid":"200.006","hostname":"compute-0","operation":"clear","entity":"process=sshd"}]}`),
	}}
	NewQueue(sock, mgr).Service()

	assert.Equal(t, types.SeverityClear, mgr.Query("compute-0", "200.006", "process=sshd"))
}

func TestBatchRoundTrip(t *testing.T) {
	in := Batch{Requests: []Request{
		{AlarmID: "200.006", Hostname: "compute-0", Operation: "set", Severity: "major", Entity: "process=sshd", Prefix: "spawn failed"},
		{AlarmID: "200.005", Hostname: "controller-1", Operation: "clear"},
	}}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Batch
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
