package identity

import (
	"errors"
	"fmt"

	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
	"github.com/google/uuid"
)

var ErrEmptyDisplayName = errors.New("display name is empty")

// Local is who this process is inside a room: the stable identifier
// presented to the rendezvous endpoint and the display name shown to other
// participants. The same id is used on the signaling channel, so both
// channels agree on identity.
type Local struct {
	PeerID protocol.PeerID
	Name   string
}

func (l Local) Info() protocol.PeerInfo {
	return protocol.PeerInfo{ID: l.PeerID, Name: l.Name}
}

type NewLocalParams struct {
	// PeerID pins the identity; empty generates one.
	PeerID string
	// Name pins the display name; empty derives a guest name from the id.
	Name string
}

func NewLocal(params NewLocalParams) Local {
	id := params.PeerID
	if id == "" {
		id = uuid.NewString()
	}

	name := params.Name
	if name == "" {
		name = guestName(id)
	}

	return Local{PeerID: id, Name: name}
}

func guestName(id string) string {
	suffix := id
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("guest-%s", suffix)
}

// Rename returns the identity with a new display name. Empty names are
// rejected so a rename can never erase the participant label room-wide.
func (l Local) Rename(name string) (Local, error) {
	if name == "" {
		return l, ErrEmptyDisplayName
	}
	l.Name = name
	return l, nil
}
