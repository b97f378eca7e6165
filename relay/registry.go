// Package relay implements the session lifecycle and message-routing engine:
// the per-connection state machine, the shared registry of live peers, the
// router deciding between live delivery and store-and-forward, and the
// synthetic responders answering to reserved names.
package relay

import (
	"sync"

	"github.com/samber/lo"
)

// Peer is one routable entry in the registry: a live human session or a
// synthetic responder answering to a reserved name.
type Peer interface {
	// Name returns the display name, empty until login succeeds.
	Name() string
	// UserID returns the numeric id recorded at login. Synthetic responders
	// report none.
	UserID() (int64, bool)
	// Deliver sends text to this peer, labeled as coming from sender.
	Deliver(sender, text string) error
}

// Registry is the process-wide set of live peers, mutated by the accept loop
// and by sessions tearing themselves down, scanned by every route operation.
// Insertion order is kept so duplicate display names resolve to the earliest
// entry.
type Registry struct {
	mu    sync.RWMutex
	peers []Peer
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Add(peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = append(r.peers, peer)
}

// Remove deletes the entry by identity. Removing a peer that was never added
// is a no-op.
func (r *Registry) Remove(peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.peers {
		if p == peer {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return
		}
	}
}

// FindByName returns the first peer with the given name. Sessions that have
// not completed login carry an empty name and never match a recipient.
func (r *Registry) FindByName(name string) (Peer, bool) {
	if name == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Names returns the display names of every registered peer, in insertion
// order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.peers, func(p Peer, _ int) string { return p.Name() })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
