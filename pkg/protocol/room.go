package protocol

import "time"

type RoomID = string

// ChatMessage is a single room chat entry. Timestamp is unix milliseconds,
// assigned by the sending side.
type ChatMessage struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Author    string `json:"author"`
}

func NewChatMessage(content, author string) ChatMessage {
	return ChatMessage{
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
		Author:    author,
	}
}
