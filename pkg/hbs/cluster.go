package hbs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/fnv"

	"github.com/cuemby/nodehealth/pkg/types"
)

// MaxSnapshotEntries bounds the per-network entry vector carried inside a
// pulse request.
const MaxSnapshotEntries = 32

// ErrBadSnapshot marks a snapshot trailer that fails structural checks.
var ErrBadSnapshot = errors.New("hbs: bad cluster snapshot")

// SnapshotEntry is one host's view in the cluster snapshot. Hostnames
// travel as hashes so receivers can locate themselves without string
// parsing.
type SnapshotEntry struct {
	HostnameHash uint32 `json:"hostname_hash"`
	Reachable    bool   `json:"reachable"`
	HeartbeatOK  bool   `json:"heartbeat_ok"`
}

// Snapshot is the per-network cluster view produced by the active
// controller and consumed by the service manager.
type Snapshot struct {
	Networks [types.NetworkCount][]SnapshotEntry `json:"networks"`
}

// HostnameHash is the hash receivers use for snapshot self-lookup.
func HostnameHash(hostname string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(hostname))
	return h.Sum32()
}

// Lookup finds the entry for hostname on network n.
func (s *Snapshot) Lookup(n types.Network, hostname string) (SnapshotEntry, bool) {
	want := HostnameHash(hostname)
	for _, e := range s.Networks[n] {
		if e.HostnameHash == want {
			return e, true
		}
	}
	return SnapshotEntry{}, false
}

const entrySize = 5 // u32 hash + packed status byte

// Encode serializes the snapshot trailer: per network, a u16 entry count
// followed by the entries.
func (s *Snapshot) Encode() ([]byte, error) {
	buf := &bytes.Buffer{}
	for n := types.Network(0); n < types.NetworkCount; n++ {
		entries := s.Networks[n]
		if len(entries) > MaxSnapshotEntries {
			return nil, ErrBadSnapshot
		}
		binary.Write(buf, binary.LittleEndian, uint16(len(entries)))
		for _, e := range entries {
			binary.Write(buf, binary.LittleEndian, e.HostnameHash)
			var status byte
			if e.Reachable {
				status |= 1
			}
			if e.HeartbeatOK {
				status |= 2
			}
			buf.WriteByte(status)
		}
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses a snapshot trailer.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	off := 0
	for n := types.Network(0); n < types.NetworkCount; n++ {
		if off+2 > len(data) {
			return nil, ErrBadSnapshot
		}
		count := int(binary.LittleEndian.Uint16(data[off:]))
		off += 2
		if count > MaxSnapshotEntries {
			return nil, ErrBadSnapshot
		}
		if off+count*entrySize > len(data) {
			return nil, ErrBadSnapshot
		}
		if count == 0 {
			continue
		}
		entries := make([]SnapshotEntry, 0, count)
		for i := 0; i < count; i++ {
			hash := binary.LittleEndian.Uint32(data[off:])
			status := data[off+4]
			entries = append(entries, SnapshotEntry{
				HostnameHash: hash,
				Reachable:    status&1 != 0,
				HeartbeatOK:  status&2 != 0,
			})
			off += entrySize
		}
		s.Networks[n] = entries
	}
	return s, nil
}
