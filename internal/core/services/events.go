// Package services contains core business logic
// Following Hexagonal Architecture: Services orchestrate domain logic using ports
package services

import (
	"time"

	"incentive-hub/internal/core/domain"
)

// Outbound event names. These are wire-level strings the frontend matches on,
// do not rename.
const (
	EventNewMessage         = "new_message"
	EventUserJoined         = "user_joined"
	EventUserLeft           = "user_left"
	EventUserTyping         = "user_typing"
	EventMessagesMarkedRead = "messages_marked_read"
	EventTokenExpired       = "token_expired"
	EventError              = "error"
	EventAdminNotification  = "admin_message_notification"
)

// Event is a named payload fanned out to room members
type Event struct {
	Name    string      `json:"event"`
	Payload interface{} `json:"data"`
}

// EventSink is the delivery side of a connection. Push must not block:
// implementations buffer and report false when the buffer is full, in which
// case the event is dropped for that connection (at-most-once delivery).
type EventSink interface {
	Push(ev Event) bool
}

// PresencePayload announces a participant joining or leaving a room
type PresencePayload struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingPayload carries a typing indicator
type TypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// MarkedReadPayload carries the IDs affected by a read receipt
type MarkedReadPayload struct {
	ConversationID string  `json:"conversationId"`
	MessageIDs     []int64 `json:"messageIds"`
}

// AdminNotificationPayload mirrors a message to the admin monitoring channel
type AdminNotificationPayload struct {
	ConversationID string                   `json:"conversationId"`
	Message        domain.MessageWithSender `json:"message"`
	Timestamp      time.Time                `json:"timestamp"`
}

// ErrorPayload is emitted to the originating connection only
type ErrorPayload struct {
	Message string `json:"message"`
}
