package session

import (
	"sync"

	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
	"go.uber.org/atomic"
)

// ChatLog is the in-memory chat state: an append-only ordered message
// sequence plus the open/closed panel flag. Lives and dies with the
// session.
type ChatLog struct {
	mu       sync.RWMutex
	messages []protocol.ChatMessage

	open *atomic.Bool
}

func NewChatLog() *ChatLog {
	return &ChatLog{open: atomic.NewBool(false)}
}

func (l *ChatLog) Append(msg protocol.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
}

// Backfill replaces the log with a server-delivered history.
func (l *ChatLog) Backfill(history []protocol.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages[:0:0], history...)
}

func (l *ChatLog) Messages() []protocol.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]protocol.ChatMessage(nil), l.messages...)
}

func (l *ChatLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

func (l *ChatLog) ToggleOpen() bool {
	for {
		open := l.open.Load()
		if l.open.CompareAndSwap(open, !open) {
			return !open
		}
	}
}

func (l *ChatLog) Open() bool {
	return l.open.Load()
}
