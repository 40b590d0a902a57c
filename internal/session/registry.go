package session

import (
	"sync"

	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
)

// RemoteStream is the registry's view of an inbound media stream: an opaque
// handle owned by the connection layer and referenced here.
type RemoteStream interface {
	ID() string
	Kinds() []string
}

// Peer is one roster entry. Name and Stream arrive independently, so
// either can be empty at any moment.
type Peer struct {
	ID     protocol.PeerID
	Name   string
	Stream RemoteStream
}

// Registry maps peer ids to roster entries. Upserting an unknown id
// creates a partial entry; writes are last-write-wins.
type Registry struct {
	mu    sync.RWMutex
	peers map[protocol.PeerID]*Peer
	order []protocol.PeerID
}

func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[protocol.PeerID]*Peer),
	}
}

func (r *Registry) UpsertName(id protocol.PeerID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if peer, ok := r.peers[id]; ok {
		peer.Name = name
		return
	}
	r.peers[id] = &Peer{ID: id, Name: name}
	r.order = append(r.order, id)
}

func (r *Registry) UpsertStream(id protocol.PeerID, stream RemoteStream) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if peer, ok := r.peers[id]; ok {
		peer.Stream = stream
		return
	}
	r.peers[id] = &Peer{ID: id, Stream: stream}
	r.order = append(r.order, id)
}

func (r *Registry) Remove(id protocol.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return
	}
	delete(r.peers, id)
	for i, other := range r.order {
		if other == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// ReplaceAll swaps the whole membership for the snapshot, in snapshot
// order. Entries absent from the snapshot are discarded along with their
// streams; entries present start fresh with the snapshot's name and no
// stream until negotiation writes one back.
func (r *Registry) ReplaceAll(participants []protocol.PeerInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers = make(map[protocol.PeerID]*Peer, len(participants))
	r.order = r.order[:0]
	for _, participant := range participants {
		if _, ok := r.peers[participant.ID]; ok {
			continue
		}
		r.peers[participant.ID] = &Peer{ID: participant.ID, Name: participant.Name}
		r.order = append(r.order, participant.ID)
	}
}

func (r *Registry) Get(id protocol.PeerID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *peer, true
}

// List returns entry copies in arrival order.
func (r *Registry) List() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.peers[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
