package session

import (
	"context"

	"github.com/Sergey-Ryabko-84/next-talk/internal/media"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
)

// CallState is the lifecycle of one peer link.
type CallState int32

const (
	CallIdle CallState = iota
	CallConnecting
	CallConnected
	CallClosed
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallConnecting:
		return "connecting"
	case CallConnected:
		return "connected"
	case CallClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CallMetadata rides with the offer so the callee learns who is calling
// before any media flows.
type CallMetadata struct {
	DisplayName string `json:"displayName"`
}

// Call is one in-progress or established peer link. ReplaceVideo and
// ReplaceAudio swap the outbound sender's track in place without
// renegotiation; nil pauses the sender.
type Call interface {
	PeerID() protocol.PeerID
	OnStream(func(RemoteStream))
	ReplaceVideo(track *media.Track) error
	ReplaceAudio(track *media.Track) error
	State() CallState
	Close() error
}

// IncomingCall is an unsolicited link offer from a remote peer.
type IncomingCall interface {
	PeerID() protocol.PeerID
	Metadata() CallMetadata
	Answer(local *media.Stream) (Call, error)
}

// Connector is the media-connection capability the session drives. One
// umbrella handle: closing it tears down every link at once.
type Connector interface {
	Connect(ctx context.Context, peerID protocol.PeerID, local *media.Stream, meta CallMetadata) (Call, error)
	OnIncoming(func(IncomingCall))
	Close() error
}
