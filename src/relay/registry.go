package relay

import (
	"errors"
	"sort"
	"sync"

	"github.com/samber/lo"
)

var ErrRegistryFull = errors.New("relay registry is full")

// Registry maps connection ids to live peers. Ids are handed out
// monotonically and never reused during the lifetime of the process.
type Registry struct {
	mu       sync.RWMutex
	peers    map[int64]*Peer
	lastId   int64
	maxPeers int
}

func NewRegistry(maxPeers int) *Registry {
	return &Registry{
		peers:    make(map[int64]*Peer),
		maxPeers: maxPeers,
	}
}

// Register assigns a fresh id to p and adds it to the registry.
func (r *Registry) Register(p *Peer) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxPeers > 0 && len(r.peers) >= r.maxPeers {
		return 0, ErrRegistryFull
	}
	r.lastId++
	p.id = r.lastId
	r.peers[p.id] = p
	return p.id, nil
}

// Unregister removes id and reports whether it was still registered.
func (r *Registry) Unregister(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

func (r *Registry) Get(id int64) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[id]
	return p, ok
}

// Others returns every registered peer except the one with the given id.
func (r *Registry) Others(id int64) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Filter(lo.Values(r.peers), func(p *Peer, _ int) bool {
		return p.id != id
	})
}

func (r *Registry) Ids() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := lo.Keys(r.peers)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.peers)
}

func (r *Registry) Full() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.maxPeers > 0 && len(r.peers) >= r.maxPeers
}

// Drain empties the registry and returns the peers that were registered.
func (r *Registry) Drain() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	peers := lo.Values(r.peers)
	r.peers = make(map[int64]*Peer)
	return peers
}
