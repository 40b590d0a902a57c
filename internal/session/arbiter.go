package session

import (
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
	"go.uber.org/atomic"
)

// Arbiter tracks the single room-wide screen-sharer claim. Start requests
// overwrite each other (last writer wins, no compare-and-swap) and Stop
// clears whoever is set. The arbiter never reacts to roster changes: a
// sharer's disconnect leaves the claim in place until a stop event arrives.
type Arbiter struct {
	sharer *atomic.String
}

func NewArbiter() *Arbiter {
	return &Arbiter{sharer: atomic.NewString("")}
}

func (a *Arbiter) Start(byID protocol.PeerID) {
	a.sharer.Store(byID)
}

func (a *Arbiter) Stop() {
	a.sharer.Store("")
}

func (a *Arbiter) Current() (protocol.PeerID, bool) {
	id := a.sharer.Load()
	return id, id != ""
}

func (a *Arbiter) SharedBy(id protocol.PeerID) bool {
	return id != "" && a.sharer.Load() == id
}
