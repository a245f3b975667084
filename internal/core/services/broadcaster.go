// Package services contains core business logic
package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/ports"
)

// RoomBroadcaster maintains the per-conversation subscriber sets and fans
// events out to them, plus a global admin monitoring channel that observes
// all message traffic regardless of room membership.
//
// One mutex guards membership and fan-out together: enumeration for a
// broadcast never interleaves with a membership mutation, so events on the
// same room reach every subscriber in submission order. Pushes are
// non-blocking (drop-if-full), so holding the lock across fan-out is cheap.
type RoomBroadcaster struct {
	conversations ports.ConversationRepository

	mu     sync.Mutex
	rooms  map[string]map[string]*Connection // conversationID -> connID -> conn
	joined map[string]map[string]struct{}    // connID -> conversationIDs
	admins map[string]*Connection            // admin monitoring channel
}

// NewRoomBroadcaster creates a broadcaster backed by the conversation store
// for room authorization checks
func NewRoomBroadcaster(conversations ports.ConversationRepository) *RoomBroadcaster {
	return &RoomBroadcaster{
		conversations: conversations,
		rooms:         make(map[string]map[string]*Connection),
		joined:        make(map[string]map[string]struct{}),
		admins:        make(map[string]*Connection),
	}
}

// Join subscribes the connection to a conversation room after checking that
// its principal may view the conversation. Existing members (not the joiner)
// receive user_joined.
func (b *RoomBroadcaster) Join(ctx context.Context, conn *Connection, conversationID string) error {
	conv, err := b.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.AccessibleBy(conn.Principal) {
		return domain.ErrForbidden
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[conversationID]
	if !ok {
		room = make(map[string]*Connection)
		b.rooms[conversationID] = room
	}
	if _, already := room[conn.ID]; already {
		return nil
	}

	joined := Event{Name: EventUserJoined, Payload: PresencePayload{
		UserID:    conn.Principal.ID,
		UserName:  conn.Principal.FullName,
		Timestamp: time.Now(),
	}}
	for _, member := range room {
		member.Push(joined)
	}

	room[conn.ID] = conn
	set, ok := b.joined[conn.ID]
	if !ok {
		set = make(map[string]struct{})
		b.joined[conn.ID] = set
	}
	set[conversationID] = struct{}{}

	slog.Debug("Connection joined room",
		"connection_id", conn.ID,
		"principal_id", conn.Principal.ID,
		"conversation_id", conversationID,
		"members", len(room),
	)

	return nil
}

// Leave removes the membership and notifies remaining members. Calling it
// for a connection not in the room is a no-op: no error, no duplicate
// user_left.
func (b *RoomBroadcaster) Leave(conn *Connection, conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(conn, conversationID)
}

// LeaveAll evicts the connection from every room it had joined and from the
// admin channel. Called on disconnect.
func (b *RoomBroadcaster) LeaveAll(conn *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for conversationID := range b.joined[conn.ID] {
		b.leaveLocked(conn, conversationID)
	}
	delete(b.admins, conn.ID)
}

func (b *RoomBroadcaster) leaveLocked(conn *Connection, conversationID string) {
	room, ok := b.rooms[conversationID]
	if !ok {
		return
	}
	if _, member := room[conn.ID]; !member {
		return
	}

	delete(room, conn.ID)
	if set, ok := b.joined[conn.ID]; ok {
		delete(set, conversationID)
		if len(set) == 0 {
			delete(b.joined, conn.ID)
		}
	}
	if len(room) == 0 {
		delete(b.rooms, conversationID)
	}

	left := Event{Name: EventUserLeft, Payload: PresencePayload{
		UserID:    conn.Principal.ID,
		UserName:  conn.Principal.FullName,
		Timestamp: time.Now(),
	}}
	for _, member := range room {
		member.Push(left)
	}
}

// EnrollAdmin adds a connection to the admin monitoring channel. The channel
// is distinct from room membership: admins see all message, typing and
// read-receipt traffic without joining any room.
func (b *RoomBroadcaster) EnrollAdmin(conn *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.admins[conn.ID] = conn
}

// Broadcast delivers the event to every current member of the room, in
// submission order relative to other broadcasts on the same room, then
// mirrors it to the admin channel.
func (b *RoomBroadcaster) Broadcast(conversationID string, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcastLocked(conversationID, ev, nil)
}

// BroadcastExcept is Broadcast minus one connection. Used for typing
// indicators, which go to everyone but the typist.
func (b *RoomBroadcaster) BroadcastExcept(conversationID string, exclude *Connection, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcastLocked(conversationID, ev, exclude)
}

func (b *RoomBroadcaster) broadcastLocked(conversationID string, ev Event, exclude *Connection) {
	for _, member := range b.rooms[conversationID] {
		if exclude != nil && member.ID == exclude.ID {
			continue
		}
		if !member.Push(ev) {
			slog.Warn("Event dropped for slow connection",
				"connection_id", member.ID,
				"conversation_id", conversationID,
				"event", ev.Name,
			)
		}
	}
	b.mirrorLocked(conversationID, ev)
}

// mirrorLocked forwards message, typing and read-receipt events to every
// admin connection. New messages are wrapped as admin_message_notification;
// the rest go through unchanged. Presence events are not mirrored.
func (b *RoomBroadcaster) mirrorLocked(conversationID string, ev Event) {
	var mirrored Event
	switch ev.Name {
	case EventNewMessage:
		payload, ok := ev.Payload.(domain.MessageWithSender)
		if !ok {
			return
		}
		mirrored = Event{Name: EventAdminNotification, Payload: AdminNotificationPayload{
			ConversationID: conversationID,
			Message:        payload,
			Timestamp:      time.Now(),
		}}
	case EventUserTyping, EventMessagesMarkedRead:
		mirrored = ev
	default:
		return
	}

	for _, admin := range b.admins {
		admin.Push(mirrored)
	}
}

// Members returns the principals currently present in a room. Used by the
// dashboard's online-user listing.
func (b *RoomBroadcaster) Members(conversationID string) []domain.SenderInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.rooms[conversationID]
	members := make([]domain.SenderInfo, 0, len(room))
	for _, conn := range room {
		members = append(members, domain.SenderInfo{
			ID:       conn.Principal.ID,
			FullName: conn.Principal.FullName,
			Role:     conn.Principal.Role,
		})
	}
	return members
}

// RoomCount returns the number of rooms with at least one subscriber
func (b *RoomBroadcaster) RoomCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}
