package hbs

import (
	"sort"
	"sync"

	"github.com/cuemby/nodehealth/pkg/types"
)

// PeerState is the per-network heartbeat state ladder of a peer.
type PeerState int

const (
	StateClear PeerState = iota
	StateMinor
	StateDegrade
	StateFailed
)

func (s PeerState) String() string {
	switch s {
	case StateClear:
		return "clear"
	case StateMinor:
		return "minor"
	case StateDegrade:
		return "degrade"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// NetStats is the per-network pulse bookkeeping for one peer.
type NetStats struct {
	Expected    bool // pulse request covered this peer this period
	Outstanding bool // response not yet credited this period
	Misses      int  // consecutive missed periods
	State       PeerState

	// PmondMissing counts responses that arrived without the pmond-alive
	// flag; one flagged response clears it.
	PmondMissing int

	// Totals for diagnostics.
	TotalRx    uint64
	TotalMissed uint64
	OutOfSeq   uint64
}

// Peer is one inventory member of the heartbeat service.
type Peer struct {
	Hostname string
	RRI      uint32
	State    types.HostState

	Monitored  bool
	MNFAActive bool

	Net [types.NetworkCount]NetStats

	// Cluster view most recently embedded in this peer's response.
	View *Snapshot
}

// Inventory holds every known peer, keyed by hostname. Mutated only from
// the engine's main loop.
type Inventory struct {
	mu      sync.RWMutex
	peers   map[string]*Peer
	nextRRI uint32
}

// NewInventory creates an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{peers: make(map[string]*Peer)}
}

// Add inserts a peer, or returns the existing record on re-add. The
// resource reference index is assigned once and never reused within a run.
func (inv *Inventory) Add(hostname string) *Peer {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if len(hostname) > types.MaxHostnameLen {
		hostname = hostname[:types.MaxHostnameLen]
	}
	if p, ok := inv.peers[hostname]; ok {
		return p
	}
	inv.nextRRI++
	p := &Peer{Hostname: hostname, RRI: inv.nextRRI}
	inv.peers[hostname] = p
	return p
}

// Get looks a peer up by hostname.
func (inv *Inventory) Get(hostname string) (*Peer, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	p, ok := inv.peers[hostname]
	return p, ok
}

// GetByRRI resolves the lookup clue carried in pulse messages. Falls back
// to nil when the hint is stale.
func (inv *Inventory) GetByRRI(rri uint32, hostname string) *Peer {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	for _, p := range inv.peers {
		if p.RRI == rri && p.Hostname == hostname {
			return p
		}
	}
	if p, ok := inv.peers[hostname]; ok {
		return p
	}
	return nil
}

// Delete removes a peer from inventory.
func (inv *Inventory) Delete(hostname string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if _, ok := inv.peers[hostname]; !ok {
		return false
	}
	delete(inv.peers, hostname)
	return true
}

// List returns the peers sorted by hostname for deterministic iteration.
func (inv *Inventory) List() []*Peer {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]*Peer, 0, len(inv.peers))
	for _, p := range inv.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

// MonitoredCount returns how many peers are heartbeated on network n.
func (inv *Inventory) MonitoredCount(n types.Network) int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	count := 0
	for _, p := range inv.peers {
		if p.Monitored {
			count++
		}
	}
	return count
}

// ResetStats zeroes one peer's pulse bookkeeping on every network. Used by
// stop_host and when leaving the "none" failure action.
func (p *Peer) ResetStats() {
	for n := range p.Net {
		p.Net[n] = NetStats{}
	}
	p.MNFAActive = false
}
