package session

import (
	"testing"

	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
)

func chatMsg(author, content string, ts int64) protocol.ChatMessage {
	return protocol.ChatMessage{Author: author, Content: content, Timestamp: ts}
}

func TestChatAppendKeepsOrder(t *testing.T) {
	l := NewChatLog()
	l.Append(chatMsg("alice", "hi", 1))
	l.Append(chatMsg("bob", "hey", 2))
	l.Append(chatMsg("alice", "ready?", 3))

	got := l.Messages()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"hi", "hey", "ready?"} {
		if got[i].Content != want {
			t.Fatalf("messages[%d].Content = %q, want %q", i, got[i].Content, want)
		}
	}
}

func TestChatBackfillReplacesHistory(t *testing.T) {
	l := NewChatLog()
	l.Append(chatMsg("alice", "stale", 1))

	l.Backfill([]protocol.ChatMessage{
		chatMsg("bob", "first", 10),
		chatMsg("carol", "second", 11),
	})
	if l.Len() != 2 {
		t.Fatalf("len after backfill = %d, want 2", l.Len())
	}
	if got := l.Messages()[0].Content; got != "first" {
		t.Fatalf("messages[0].Content = %q, want %q", got, "first")
	}

	// Appends land after the restored history.
	l.Append(chatMsg("alice", "third", 12))
	if got := l.Messages()[2].Content; got != "third" {
		t.Fatalf("messages[2].Content = %q, want %q", got, "third")
	}

	// A later backfill replaces again rather than accumulating.
	l.Backfill(nil)
	if l.Len() != 0 {
		t.Fatalf("len after empty backfill = %d, want 0", l.Len())
	}
}

func TestChatMessagesReturnsCopy(t *testing.T) {
	l := NewChatLog()
	l.Append(chatMsg("alice", "hi", 1))

	got := l.Messages()
	got[0].Content = "mutated"

	if kept := l.Messages()[0].Content; kept != "hi" {
		t.Fatalf("log mutated through returned slice: %q", kept)
	}
}

func TestChatToggleOpen(t *testing.T) {
	l := NewChatLog()
	if l.Open() {
		t.Fatal("chat starts open")
	}
	if !l.ToggleOpen() {
		t.Fatal("first toggle must open")
	}
	if !l.Open() {
		t.Fatal("flag not persisted")
	}
	if l.ToggleOpen() {
		t.Fatal("second toggle must close")
	}
	if l.Open() {
		t.Fatal("two toggles must restore the initial state")
	}
}
