package server

import (
	"sort"
	"sync"

	"github.com/danmuck/bankwire/internal/observability"
	"github.com/danmuck/bankwire/internal/peer"
)

// accountBinder reports the account bound to a session, if any.
type accountBinder interface {
	AccountID() (uint32, bool)
}

type entry struct {
	peer    *peer.Peer
	session accountBinder
}

// Registry maps remote address to the actor serving it.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]entry)}
}

// Insert records p under its remote address. An actor already registered
// for that address has its live flag cleared and is returned.
func (r *Registry) Insert(p *peer.Peer, session accountBinder) *peer.Peer {
	key := p.RemoteAddr().String()
	r.mu.Lock()
	prev, ok := r.peers[key]
	r.peers[key] = entry{peer: p, session: session}
	r.mu.Unlock()

	if !ok || prev.peer == p {
		return nil
	}
	prev.peer.Stop()
	observability.RecordEviction("replaced", 1)
	return prev.peer
}

// Sweep drops every entry whose actor is no longer live.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	removed := 0
	for key, e := range r.peers {
		if !e.peer.Live() {
			delete(r.peers, key)
			removed++
		}
	}
	r.mu.Unlock()
	if removed > 0 {
		observability.RecordEviction("swept", removed)
	}
	return removed
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Registry) Get(addr string) (*peer.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.peers[addr]
	return e.peer, ok
}

// Snapshot returns every registered actor ordered by remote address.
func (r *Registry) Snapshot() []peer.Info {
	r.mu.RLock()
	out := make([]peer.Info, 0, len(r.peers))
	for _, e := range r.peers {
		info := e.peer.Info()
		if e.session != nil {
			if id, ok := e.session.AccountID(); ok {
				info.AccountID = &id
			}
		}
		out = append(out, info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Remote < out[j].Remote
	})
	return out
}

// StopAll offers notice to every actor on the best-effort path and clears
// their live flags.
func (r *Registry) StopAll(notice []byte) {
	r.mu.RLock()
	peers := make([]*peer.Peer, 0, len(r.peers))
	for _, e := range r.peers {
		peers = append(peers, e.peer)
	}
	r.mu.RUnlock()

	for _, p := range peers {
		if len(notice) > 0 && p.Live() {
			_ = p.SendBestEffort(notice)
		}
		p.Stop()
	}
}
