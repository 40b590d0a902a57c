package session

import (
	"github.com/Sergey-Ryabko-84/next-talk/internal/media"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
)

type PeerSnapshot struct {
	ID         protocol.PeerID `json:"peerId"`
	Name       string          `json:"userName"`
	HasStream  bool            `json:"hasStream"`
	StreamID   string          `json:"streamId,omitempty"`
	Connection string          `json:"connection"`
}

type ChatSnapshot struct {
	Open     bool                   `json:"open"`
	Messages []protocol.ChatMessage `json:"messages"`
}

// Snapshot is the point-in-time read model served over the console API.
// Collections are copies; holding one never blocks the session.
type Snapshot struct {
	RoomID         protocol.RoomID   `json:"roomId"`
	Local          protocol.PeerInfo `json:"local"`
	Media          media.State       `json:"media"`
	ScreenSharerID protocol.PeerID   `json:"screenSharerId,omitempty"`
	Peers          []PeerSnapshot    `json:"peers"`
	Chat           ChatSnapshot      `json:"chat"`
	Revision       uint64            `json:"revision"`
}

func (s *Session) Snapshot() Snapshot {
	peers := s.registry.List()
	out := make([]PeerSnapshot, 0, len(peers))
	for _, peer := range peers {
		ps := PeerSnapshot{
			ID:         peer.ID,
			Name:       peer.Name,
			Connection: s.callState(peer.ID).String(),
		}
		if peer.Stream != nil {
			ps.HasStream = true
			ps.StreamID = peer.Stream.ID()
		}
		out = append(out, ps)
	}

	sharer, _ := s.arbiter.Current()
	return Snapshot{
		RoomID:         s.RoomID(),
		Local:          s.LocalInfo(),
		Media:          s.media.State(),
		ScreenSharerID: sharer,
		Peers:          out,
		Chat: ChatSnapshot{
			Open:     s.chat.Open(),
			Messages: s.chat.Messages(),
		},
		Revision: s.notifier.Revision(),
	}
}
