package models

import "time"

// MessageStatus moves forward only: sent, delivered, read.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return 0
}

func (s MessageStatus) Valid() bool {
	return s.rank() > 0
}

// CanAdvanceTo reports whether next is a forward transition from s.
func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return s.Valid() && next.Valid() && next.rank() > s.rank()
}

// Message is one entry of a discussion timeline.
type Message struct {
	ID           int64         `json:"id"`
	DiscussionID int64         `json:"discussion_id"`
	Content      string        `json:"content"`
	SenderType   Role          `json:"sender_type"`
	SenderID     int64         `json:"sender_id"`
	Status       MessageStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

func (m *Message) SenderRef() Ref {
	return Ref{Role: m.SenderType, ID: m.SenderID}
}

// MessagePreview is the shape of the latest message shown in a discussion list.
type MessagePreview struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	SenderType Role      `json:"sender_type"`
}

// SenderInfo is the identity embedded in a listed message.
type SenderInfo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// ThreadMessage is a message with its sender resolved; Sender is nil when the
// sender no longer exists in the directory.
type ThreadMessage struct {
	Message
	Sender *SenderInfo `json:"sender"`
}
