package signaling

import (
	"github.com/Sergey-Ryabko-84/next-talk/pkg/protocol"
)

// Room lifecycle events consumed from the signaling deployment.
const (
	EventRoomCreated        = "room-created"
	EventGetUsers           = "get-users"
	EventUserDisconnected   = "user-disconnected"
	EventUserStartedSharing = "user-started-sharing"
	EventUserStoppedSharing = "user-stopped-sharing"
	EventNameChanged        = "name-changed"
	EventUserJoined         = "user-joined"
	EventAddMessage         = "add-message"
	EventGetMessages        = "get-messages"
)

// Events published by this client.
const (
	EventCreateRoom   = "create-room"
	EventJoinRoom     = "join-room"
	EventChangeName   = "change-name"
	EventStartSharing = "start-sharing"
	EventStopSharing  = "stop-sharing"
	EventSendMessage  = "send-message"
)

type RoomCreatedPayload struct {
	RoomID protocol.RoomID `json:"roomId"`
}

type GetUsersPayload struct {
	Participants []protocol.PeerInfo `json:"participants"`
}

type UserDisconnectedPayload struct {
	PeerID protocol.PeerID `json:"peerId"`
}

type SharingPayload struct {
	RoomID protocol.RoomID `json:"roomId,omitempty"`
	PeerID protocol.PeerID `json:"peerId,omitempty"`
}

type NameChangePayload struct {
	RoomID   protocol.RoomID `json:"roomId,omitempty"`
	PeerID   protocol.PeerID `json:"peerId"`
	UserName string          `json:"userName"`
}

type JoinRoomPayload struct {
	RoomID   protocol.RoomID `json:"roomId"`
	PeerID   protocol.PeerID `json:"peerId"`
	UserName string          `json:"userName"`
}

type SendMessagePayload struct {
	RoomID  protocol.RoomID      `json:"roomId"`
	Message protocol.ChatMessage `json:"message"`
}

type AddMessagePayload struct {
	Message protocol.ChatMessage `json:"message"`
}

// GetMessagesPayload is both the outbound backfill request (room only) and
// the inbound history response (messages only).
type GetMessagesPayload struct {
	RoomID   protocol.RoomID        `json:"roomId,omitempty"`
	Messages []protocol.ChatMessage `json:"messages,omitempty"`
}
