package rtc

import (
	webrtc "github.com/pion/webrtc/v3"

	"github.com/Sergey-Ryabko-84/next-talk/internal/session"
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
)

// Rendezvous wire frame. One websocket carries every call of this client;
// Call disambiguates, Src/Dst address peers by their stable identity.
const (
	envelopeOpen      = "open"
	envelopeOffer     = "offer"
	envelopeAnswer    = "answer"
	envelopeCandidate = "candidate"
	envelopeBye       = "bye"
	envelopeError     = "error"
)

type envelope struct {
	Type      string                     `json:"type"`
	Src       protocol.PeerID            `json:"src,omitempty"`
	Dst       protocol.PeerID            `json:"dst,omitempty"`
	Call      string                     `json:"call,omitempty"`
	Metadata  *session.CallMetadata      `json:"metadata,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
}
