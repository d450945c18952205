// Package discovery provides a thread-safe PeerStore for peers discovered
// via mDNS and turns them into Tendermint persistent_peers entries.
package discovery

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// TXT record keys announced by every node.
const (
	TxtNodeID  = "node_id"
	TxtP2PPort = "p2p"
	TxtVersion = "ver"
)

// Peer represents a discovered peer's basic information.
type Peer struct {
	Instance string
	Hostname string
	Port     int
	Addrs    []net.IP
	Txt      map[string]string
}

// NodeID returns the Tendermint node id announced by the peer.
func (p *Peer) NodeID() string { return p.Txt[TxtNodeID] }

// P2PAddress returns the peer's id@ip:port entry, or "" when the peer has
// not announced enough to be dialled.
func (p *Peer) P2PAddress() string {
	id := p.NodeID()
	port, err := strconv.Atoi(p.Txt[TxtP2PPort])
	if id == "" || err != nil || port <= 0 || len(p.Addrs) == 0 {
		return ""
	}
	return id + "@" + net.JoinHostPort(p.Addrs[0].String(), strconv.Itoa(port))
}

// PeerStore is a thread-safe store of discovered peers.
type PeerStore struct {
	mtx   sync.RWMutex
	peers map[string]*Peer // keyed by instance
}

// NewPeerStore creates an empty PeerStore.
func NewPeerStore() *PeerStore {
	return &PeerStore{peers: make(map[string]*Peer)}
}

// AddFromServiceEntry adds or updates a peer using a zeroconf ServiceEntry.
// It reports whether the peer's dialable address changed.
func (ps *PeerStore) AddFromServiceEntry(e *zeroconf.ServiceEntry) bool {
	if e == nil {
		return false
	}

	txt := make(map[string]string, len(e.Text))
	for _, t := range e.Text {
		if k, v, ok := strings.Cut(t, "="); ok {
			txt[k] = v
		}
	}
	peer := &Peer{
		Instance: e.Instance,
		Hostname: e.HostName,
		Port:     e.Port,
		Addrs:    append([]net.IP(nil), e.AddrIPv4...),
		Txt:      txt,
	}

	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	prev, ok := ps.peers[e.Instance]
	ps.peers[e.Instance] = peer
	return !ok || prev.P2PAddress() != peer.P2PAddress()
}

// Remove removes a peer by instance name and reports whether it was known.
func (ps *PeerStore) Remove(instance string) bool {
	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	_, ok := ps.peers[instance]
	delete(ps.peers, instance)
	return ok
}

// List returns a snapshot of known peers ordered by instance name.
func (ps *PeerStore) List() []*Peer {
	ps.mtx.RLock()
	defer ps.mtx.RUnlock()
	out := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// PersistentPeers returns the sorted id@ip:port entries of every dialable
// peer other than self.
func (ps *PeerStore) PersistentPeers(self string) []string {
	ps.mtx.RLock()
	defer ps.mtx.RUnlock()
	seen := make(map[string]struct{}, len(ps.peers))
	out := make([]string, 0, len(ps.peers))
	for _, p := range ps.peers {
		if p.NodeID() == self {
			continue
		}
		addr := p.P2PAddress()
		if addr == "" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}
