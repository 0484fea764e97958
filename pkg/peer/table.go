package peer

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ipv7net/mesh/pkg/address"
)

// Table is the in-memory peer store, keyed by node identifier. All
// methods are safe for concurrent use; membership observers fire before
// the mutating call returns and must not call back into the table.
type Table struct {
	mu        sync.RWMutex
	peers     map[address.NodeID]*Info
	observers []Observer
	maxPeers  int
	clock     clock.Clock
}

// NewTable builds an empty table. maxPeers <= 0 means unbounded; when
// the table is full the stalest entry makes room for a new one. A nil
// clk falls back to the wall clock.
func NewTable(maxPeers int, clk clock.Clock) *Table {
	if clk == nil {
		clk = clock.New()
	}
	return &Table{
		peers:    make(map[address.NodeID]*Info),
		maxPeers: maxPeers,
		clock:    clk,
	}
}

// AddObserver registers for membership changes.
func (t *Table) AddObserver(obs Observer) {
	t.mu.Lock()
	t.observers = append(t.observers, obs)
	t.mu.Unlock()
}

// AddPeer inserts or replaces the entry for info.Address. A replace
// keeps the existing reputation; an insert seeds InitialReputation
// unless the caller set one. Zero LastSeen means now. Returns true when
// the peer was not known before.
func (t *Table) AddPeer(info Info) bool {
	if info.Address.IsBroadcast() {
		return false
	}

	info.Endpoints = append([]string(nil), info.Endpoints...)
	if info.LastSeen.IsZero() {
		info.LastSeen = t.clock.Now()
	}
	if info.Reputation == 0 {
		info.Reputation = InitialReputation
	}

	id := info.Address.NodeID()

	t.mu.Lock()
	existing, known := t.peers[id]
	if known {
		info.Reputation = existing.Reputation
		if info.PublicKey == nil {
			info.PublicKey = existing.PublicKey
		}
		if len(info.Endpoints) == 0 {
			info.Endpoints = existing.Endpoints
		}
		if info.Geohash == "" {
			info.Geohash = existing.Geohash
		}
		*existing = info
		t.mu.Unlock()
		return false
	}

	var evicted *Info
	if t.maxPeers > 0 && len(t.peers) >= t.maxPeers {
		evicted = t.stalestLocked()
		if evicted != nil {
			delete(t.peers, evicted.Address.NodeID())
		}
	}
	t.peers[id] = &info
	added := info
	observers := t.observers
	t.mu.Unlock()

	for _, obs := range observers {
		if evicted != nil {
			obs.PeerRemoved(*evicted)
		}
		obs.PeerAdded(added)
	}
	return true
}

// UpdatePeer refreshes LastSeen for a known peer. Unknown addresses are
// a no-op; traffic alone does not earn table membership.
func (t *Table) UpdatePeer(addr address.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.peers[addr.NodeID()]
	if !ok {
		return false
	}
	info.LastSeen = t.clock.Now()
	return true
}

// RemovePeer deletes the entry and notifies observers. Returns false
// for unknown addresses.
func (t *Table) RemovePeer(addr address.Address) bool {
	t.mu.Lock()
	info, ok := t.peers[addr.NodeID()]
	if !ok {
		t.mu.Unlock()
		return false
	}
	removed := *info
	delete(t.peers, addr.NodeID())
	observers := t.observers
	t.mu.Unlock()

	for _, obs := range observers {
		obs.PeerRemoved(removed)
	}
	return true
}

// Get returns a copy of the entry for addr.
func (t *Table) Get(addr address.Address) (Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info, ok := t.peers[addr.NodeID()]
	if !ok {
		return Info{}, false
	}
	return copyInfo(info), true
}

// All returns copies of every entry, ordered by node identifier so the
// listing is stable across calls.
func (t *Table) All() []Info {
	t.mu.RLock()
	out := make([]Info, 0, len(t.peers))
	for _, info := range t.peers {
		out = append(out, copyInfo(info))
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Address.NodeID(), out[j].Address.NodeID()
		return bytes.Compare(a[:], b[:]) < 0
	})
	return out
}

// Count returns the number of known peers.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// FindClosest returns up to k peers ordered by proximity to target:
// longest common geohash prefix first, ties broken by smaller numeric
// distance between node identifiers.
func (t *Table) FindClosest(target address.Address, k int) []Info {
	if k <= 0 {
		return nil
	}

	t.mu.RLock()
	candidates := make([]Info, 0, len(t.peers))
	for _, info := range t.peers {
		candidates = append(candidates, copyInfo(info))
	}
	t.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		pi := address.CommonPrefixLen(candidates[i].Address, target)
		pj := address.CommonPrefixLen(candidates[j].Address, target)
		if pi != pj {
			return pi > pj
		}
		di := address.IDDistance(candidates[i].Address, target)
		dj := address.IDDistance(candidates[j].Address, target)
		return bytes.Compare(di[:], dj[:]) < 0
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// EvictExpired removes every peer not heard from within timeout and
// returns the evicted entries. Observers see one PeerRemoved per entry.
func (t *Table) EvictExpired(timeout time.Duration) []Info {
	now := t.clock.Now()

	t.mu.Lock()
	var evicted []Info
	for id, info := range t.peers {
		if now.Sub(info.LastSeen) > timeout {
			evicted = append(evicted, *info)
			delete(t.peers, id)
		}
	}
	observers := t.observers
	t.mu.Unlock()

	for _, info := range evicted {
		for _, obs := range observers {
			obs.PeerRemoved(info)
		}
	}
	return evicted
}

// AdjustReputation moves a peer's score by delta, clamped to
// [MinReputation, MaxReputation]. Returns the new score.
func (t *Table) AdjustReputation(addr address.Address, delta int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.peers[addr.NodeID()]
	if !ok {
		return 0, false
	}
	info.Reputation += delta
	if info.Reputation > MaxReputation {
		info.Reputation = MaxReputation
	}
	if info.Reputation < MinReputation {
		info.Reputation = MinReputation
	}
	return info.Reputation, true
}

func (t *Table) stalestLocked() *Info {
	var stalest *Info
	for _, info := range t.peers {
		if stalest == nil || info.LastSeen.Before(stalest.LastSeen) {
			stalest = info
		}
	}
	return stalest
}

func copyInfo(info *Info) Info {
	out := *info
	out.Endpoints = append([]string(nil), info.Endpoints...)
	return out
}
