package protocol

type PeerID = string

// PeerInfo is the wire shape of a participant: the rendezvous connection
// identity plus the display name shown to the room.
type PeerInfo struct {
	ID   PeerID `json:"peerId"`
	Name string `json:"userName"`
}
