package hbs

import (
	"testing"

	"github.com/cuemby/nodehealth/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPulseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"request", Message{Request: true, Version: Version, Seq: 42, RRI: 7, Hostname: "compute-0"}},
		{"response with flags", Message{Version: Version, Seq: 9000, Flags: FlagHeartbeatOK | FlagPmondAlive, RRI: 3, Hostname: "controller-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Encode()
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg.Request, got.Request)
			assert.Equal(t, tt.msg.Seq, got.Seq)
			assert.Equal(t, tt.msg.RRI, got.RRI)
			assert.Equal(t, tt.msg.Hostname, got.Hostname)
			assert.Equal(t, tt.msg.Flags, got.Flags)
		})
	}
}

func TestPulseControllerID(t *testing.T) {
	m := &Message{Request: true, Hostname: "controller-0"}
	m.SetController(1)
	m.Flags |= FlagHeartbeatOK

	data, err := m.Encode()
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, 1, got.Controller())
	assert.NotZero(t, got.Flags&FlagHeartbeatOK, "controller id must not clobber status bits")

	got.SetController(0)
	assert.Equal(t, 0, got.Controller())
}

func TestPulseRequestCarriesSnapshot(t *testing.T) {
	snap := &Snapshot{}
	snap.Networks[types.NetworkMgmnt] = []SnapshotEntry{
		{HostnameHash: HostnameHash("compute-0"), Reachable: true, HeartbeatOK: true},
		{HostnameHash: HostnameHash("compute-1"), Reachable: false},
	}

	m := &Message{Request: true, Version: Version, Seq: 1, Hostname: "controller-0", Cluster: snap}
	data, err := m.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, got.Cluster)

	entry, ok := got.Cluster.Lookup(types.NetworkMgmnt, "compute-0")
	require.True(t, ok)
	assert.True(t, entry.Reachable)
	assert.True(t, entry.HeartbeatOK)

	entry, ok = got.Cluster.Lookup(types.NetworkMgmnt, "compute-1")
	require.True(t, ok)
	assert.False(t, entry.Reachable)

	_, ok = got.Cluster.Lookup(types.NetworkMgmnt, "compute-9")
	assert.False(t, ok)
}

func TestDecodeRejects(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		data := make([]byte, 128)
		copy(data, "cgts inpulse ??")
		_, err := Decode(data)
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("short message", func(t *testing.T) {
		_, err := Decode([]byte(ReqHeader))
		assert.ErrorIs(t, err, ErrShortMessage)
	})

	t.Run("oversized hostname", func(t *testing.T) {
		m := &Message{Hostname: "this-hostname-is-way-too-long-to-fit-the-fixed-field"}
		_, err := m.Encode()
		assert.Error(t, err)
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	snap := &Snapshot{}
	for i := 0; i < MaxSnapshotEntries; i++ {
		snap.Networks[types.NetworkClstr] = append(snap.Networks[types.NetworkClstr], SnapshotEntry{
			HostnameHash: uint32(i * 31),
			Reachable:    i%2 == 0,
			HeartbeatOK:  i%3 == 0,
		})
	}

	data, err := snap.Encode()
	require.NoError(t, err)

	got, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, snap.Networks, got.Networks)
}

func TestSnapshotDecodeRejectsTruncation(t *testing.T) {
	snap := &Snapshot{}
	snap.Networks[types.NetworkMgmnt] = []SnapshotEntry{{HostnameHash: 1, Reachable: true}}
	data, err := snap.Encode()
	require.NoError(t, err)

	_, err = DecodeSnapshot(data[:len(data)-3])
	assert.ErrorIs(t, err, ErrBadSnapshot)
}
