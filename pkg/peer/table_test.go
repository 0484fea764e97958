package peer

import (
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sigurn/crc16"

	"github.com/ipv7net/mesh/pkg/address"
	"github.com/ipv7net/mesh/pkg/geo"
)

var addrCRC = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// makeAddr handcrafts an address with a fixed proximity and identifier
// low byte so ordering assertions stay deterministic.
func makeAddr(t *testing.T, hash string, id byte) address.Address {
	t.Helper()

	var buf [address.Size]byte
	var prox uint32
	var flags byte
	if hash != "" {
		flags = 0x1
		for i := 0; i < address.ProximityPrecision; i++ {
			prox = prox<<5 | uint32(strings.IndexByte(geo.Base32, hash[i]))
		}
	}
	buf[0] = 1<<6 | flags<<4 | byte(prox>>16)
	buf[1] = byte(prox >> 8)
	buf[2] = byte(prox)
	buf[3+address.NodeIDSize-1] = id
	sum := crc16.Checksum(buf[:19], addrCRC)
	buf[19] = byte(sum>>8) ^ byte(sum)

	addr, err := address.Deserialize(buf[:])
	if err != nil {
		t.Fatalf("Failed to build address: %v", err)
	}
	return addr
}

type recordingObserver struct {
	added   []Info
	removed []Info
}

func (r *recordingObserver) PeerAdded(info Info)   { r.added = append(r.added, info) }
func (r *recordingObserver) PeerRemoved(info Info) { r.removed = append(r.removed, info) }

func TestAddPeerSeedsDefaults(t *testing.T) {
	mock := clock.NewMock()
	table := NewTable(0, mock)
	addr := makeAddr(t, "u4pr", 1)

	if !table.AddPeer(Info{Address: addr}) {
		t.Fatalf("Expected first AddPeer to report a new peer")
	}

	info, ok := table.Get(addr)
	if !ok {
		t.Fatalf("Expected peer to be stored")
	}
	if info.Reputation != InitialReputation {
		t.Errorf("Expected reputation %d, got %d", InitialReputation, info.Reputation)
	}
	if !info.LastSeen.Equal(mock.Now()) {
		t.Errorf("Expected LastSeen seeded from the clock")
	}
}

func TestAddPeerReplaceKeepsReputation(t *testing.T) {
	table := NewTable(0, clock.NewMock())
	addr := makeAddr(t, "u4pr", 1)

	table.AddPeer(Info{Address: addr, Endpoints: []string{"mem://a"}})
	if _, ok := table.AdjustReputation(addr, 30); !ok {
		t.Fatalf("AdjustReputation failed for known peer")
	}

	if table.AddPeer(Info{Address: addr, Endpoints: []string{"tcp://192.0.2.1:7946"}, Capabilities: CapRelay}) {
		t.Errorf("Expected replace to report an existing peer")
	}

	info, _ := table.Get(addr)
	if info.Reputation != 80 {
		t.Errorf("Expected reputation preserved at 80, got %d", info.Reputation)
	}
	if len(info.Endpoints) != 1 || info.Endpoints[0] != "tcp://192.0.2.1:7946" {
		t.Errorf("Expected endpoints replaced, got %v", info.Endpoints)
	}
	if !info.Capabilities.Has(CapRelay) {
		t.Errorf("Expected capabilities replaced")
	}
}

func TestAddPeerReplaceKeepsKnownFields(t *testing.T) {
	table := NewTable(0, clock.NewMock())
	addr := makeAddr(t, "u4pr", 1)

	table.AddPeer(Info{Address: addr, Endpoints: []string{"mem://a"}, Geohash: "u4pruydq"})
	table.AddPeer(Info{Address: addr})

	info, _ := table.Get(addr)
	if len(info.Endpoints) != 1 || info.Endpoints[0] != "mem://a" {
		t.Errorf("Expected bare replace to keep endpoints, got %v", info.Endpoints)
	}
	if info.Geohash != "u4pruydq" {
		t.Errorf("Expected bare replace to keep geohash, got %q", info.Geohash)
	}
}

func TestAddPeerRejectsBroadcast(t *testing.T) {
	table := NewTable(0, nil)
	if table.AddPeer(Info{Address: address.Broadcast()}) {
		t.Errorf("Expected broadcast sentinel to be rejected")
	}
	if table.Count() != 0 {
		t.Errorf("Expected empty table, got %d", table.Count())
	}
}

func TestUpdatePeerRefreshesLastSeen(t *testing.T) {
	mock := clock.NewMock()
	table := NewTable(0, mock)
	addr := makeAddr(t, "u4pr", 1)

	table.AddPeer(Info{Address: addr})
	started := mock.Now()

	mock.Add(10 * time.Second)
	if !table.UpdatePeer(addr) {
		t.Fatalf("Expected UpdatePeer to find the peer")
	}

	info, _ := table.Get(addr)
	if !info.LastSeen.Equal(started.Add(10 * time.Second)) {
		t.Errorf("Expected LastSeen refreshed, got %v", info.LastSeen)
	}

	if table.UpdatePeer(makeAddr(t, "u4pr", 99)) {
		t.Errorf("Expected UpdatePeer to ignore unknown peers")
	}
}

func TestRemovePeer(t *testing.T) {
	table := NewTable(0, nil)
	addr := makeAddr(t, "u4pr", 1)

	table.AddPeer(Info{Address: addr})
	if !table.RemovePeer(addr) {
		t.Fatalf("Expected RemovePeer to succeed")
	}
	if _, ok := table.Get(addr); ok {
		t.Errorf("Expected peer gone after removal")
	}
	if table.RemovePeer(addr) {
		t.Errorf("Expected second removal to report unknown")
	}
}

func TestObserversFireOnMembershipChanges(t *testing.T) {
	mock := clock.NewMock()
	table := NewTable(0, mock)
	obs := &recordingObserver{}
	table.AddObserver(obs)

	a, b := makeAddr(t, "u4pr", 1), makeAddr(t, "u4pr", 2)

	table.AddPeer(Info{Address: a})
	table.AddPeer(Info{Address: a}) // replace, no event
	table.AddPeer(Info{Address: b})
	if len(obs.added) != 2 {
		t.Fatalf("Expected 2 added events, got %d", len(obs.added))
	}
	if !obs.added[0].Address.Equal(a) || !obs.added[1].Address.Equal(b) {
		t.Errorf("Expected added events in call order")
	}

	table.RemovePeer(a)
	mock.Add(2 * time.Minute)
	table.EvictExpired(time.Minute)

	if len(obs.removed) != 2 {
		t.Fatalf("Expected 2 removed events, got %d", len(obs.removed))
	}
	if !obs.removed[0].Address.Equal(a) || !obs.removed[1].Address.Equal(b) {
		t.Errorf("Expected removal then eviction events")
	}
}

func TestEvictExpired(t *testing.T) {
	mock := clock.NewMock()
	table := NewTable(0, mock)

	stale1 := makeAddr(t, "u4pr", 1)
	stale2 := makeAddr(t, "u4pr", 2)
	fresh := makeAddr(t, "u4pr", 3)
	table.AddPeer(Info{Address: stale1})
	table.AddPeer(Info{Address: stale2})
	table.AddPeer(Info{Address: fresh})

	mock.Add(60 * time.Second)
	table.UpdatePeer(fresh)

	mock.Add(40 * time.Second)
	evicted := table.EvictExpired(90 * time.Second)

	if len(evicted) != 2 {
		t.Fatalf("Expected 2 evictions, got %d", len(evicted))
	}
	if table.Count() != 1 {
		t.Errorf("Expected 1 peer left, got %d", table.Count())
	}
	if _, ok := table.Get(fresh); !ok {
		t.Errorf("Expected recently seen peer to survive")
	}
}

func TestFindClosestOrdering(t *testing.T) {
	table := NewTable(0, nil)
	target := makeAddr(t, "u4pr", 0)

	exact10 := makeAddr(t, "u4pr", 10)
	exact3 := makeAddr(t, "u4pr", 3)
	nearby := makeAddr(t, "u4pz", 1)
	far := makeAddr(t, "gcpv", 1)
	unlocated := makeAddr(t, "", 2)

	for _, a := range []address.Address{far, unlocated, exact10, nearby, exact3} {
		table.AddPeer(Info{Address: a})
	}

	got := table.FindClosest(target, 5)
	want := []address.Address{exact3, exact10, nearby, far, unlocated}
	if len(got) != len(want) {
		t.Fatalf("Expected %d peers, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Address.Equal(want[i]) {
			t.Errorf("Position %d: expected %s, got %s", i, want[i].ShortString(), got[i].Address.ShortString())
		}
	}

	top := table.FindClosest(target, 2)
	if len(top) != 2 || !top[0].Address.Equal(exact3) || !top[1].Address.Equal(exact10) {
		t.Errorf("Expected k to truncate after ordering")
	}

	if table.FindClosest(target, 0) != nil {
		t.Errorf("Expected nil for k=0")
	}
}

func TestCapacityEvictsStalest(t *testing.T) {
	mock := clock.NewMock()
	table := NewTable(2, mock)
	obs := &recordingObserver{}
	table.AddObserver(obs)

	oldest := makeAddr(t, "u4pr", 1)
	table.AddPeer(Info{Address: oldest})
	mock.Add(time.Second)
	table.AddPeer(Info{Address: makeAddr(t, "u4pr", 2)})
	mock.Add(time.Second)
	table.AddPeer(Info{Address: makeAddr(t, "u4pr", 3)})

	if table.Count() != 2 {
		t.Fatalf("Expected capacity to hold at 2, got %d", table.Count())
	}
	if _, ok := table.Get(oldest); ok {
		t.Errorf("Expected stalest peer evicted")
	}
	if len(obs.removed) != 1 || !obs.removed[0].Address.Equal(oldest) {
		t.Errorf("Expected eviction to notify observers")
	}
}

func TestAdjustReputationClamps(t *testing.T) {
	table := NewTable(0, nil)
	addr := makeAddr(t, "u4pr", 1)
	table.AddPeer(Info{Address: addr})

	if got, _ := table.AdjustReputation(addr, 1000); got != MaxReputation {
		t.Errorf("Expected clamp to %d, got %d", MaxReputation, got)
	}
	if got, _ := table.AdjustReputation(addr, -1000); got != MinReputation {
		t.Errorf("Expected clamp to %d, got %d", MinReputation, got)
	}
	if _, ok := table.AdjustReputation(makeAddr(t, "u4pr", 9), 1); ok {
		t.Errorf("Expected unknown peer to report false")
	}
}

func TestAllReturnsSortedCopies(t *testing.T) {
	table := NewTable(0, nil)
	for _, id := range []byte{3, 1, 2} {
		table.AddPeer(Info{Address: makeAddr(t, "u4pr", id), Endpoints: []string{"mem://x"}})
	}

	all := table.All()
	if len(all) != 3 {
		t.Fatalf("Expected 3 peers, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		a, b := all[i-1].Address.NodeID(), all[i].Address.NodeID()
		if string(a[:]) >= string(b[:]) {
			t.Errorf("Expected ascending identifier order")
		}
	}

	all[0].Endpoints[0] = "mutated"
	stored, _ := table.Get(all[0].Address)
	if stored.Endpoints[0] != "mem://x" {
		t.Errorf("Expected All to return copies, table was mutated")
	}
}

func TestCapabilityString(t *testing.T) {
	if got := Capability(0).String(); got != "none" {
		t.Errorf("Expected \"none\", got %q", got)
	}
	c := CapRelay | CapGateway
	if got := c.String(); got != "relay|gateway" {
		t.Errorf("Expected \"relay|gateway\", got %q", got)
	}
	if !c.Has(CapRelay) || c.Has(CapStorage) {
		t.Errorf("Expected Has to test individual bits")
	}
}
