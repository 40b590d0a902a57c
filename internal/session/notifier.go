package session

import (
	"sync"

	"github.com/Sergey-Ryabko-84/next-talk/pkg/executils"
	"go.uber.org/atomic"
)

type UpdateKind string

const (
	UpdateRoom       UpdateKind = "room"
	UpdateRoster     UpdateKind = "roster"
	UpdateSharing    UpdateKind = "sharing"
	UpdateMedia      UpdateKind = "media"
	UpdateChat       UpdateKind = "chat"
	UpdateConnection UpdateKind = "connection"
)

type Update struct {
	Kind     UpdateKind `json:"kind"`
	Revision uint64     `json:"revision"`
}

const notifierBuffer = 16

// Notifier fans session state changes out to watchers. Every transition
// bumps one shared revision; listeners that fall behind lose the oldest
// updates rather than blocking a transition.
type Notifier struct {
	mu        sync.Mutex
	listeners map[string]chan Update

	revision *atomic.Uint64
}

func NewNotifier() *Notifier {
	return &Notifier{
		listeners: make(map[string]chan Update),
		revision:  atomic.NewUint64(0),
	}
}

func (n *Notifier) Subscribe(id string) <-chan Update {
	ch := make(chan Update, notifierBuffer)

	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.listeners[id]; ok {
		close(old)
	}
	n.listeners[id] = ch
	return ch
}

func (n *Notifier) Unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.listeners[id]; ok {
		close(ch)
		delete(n.listeners, id)
	}
}

func (n *Notifier) Publish(kind UpdateKind) {
	update := Update{Kind: kind, Revision: n.revision.Inc()}

	// Sends below never block, so holding the mutex keeps close and
	// send ordered.
	n.mu.Lock()
	defer n.mu.Unlock()

	channels := make([]chan Update, 0, len(n.listeners))
	for _, ch := range n.listeners {
		channels = append(channels, ch)
	}

	executils.FanOut(4, channels, func(ch chan Update) {
		select {
		case ch <- update:
		default:
			// Full buffer: drop the oldest update, retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- update:
			default:
			}
		}
	})
}

func (n *Notifier) Revision() uint64 {
	return n.revision.Load()
}

func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.listeners {
		close(ch)
		delete(n.listeners, id)
	}
}
