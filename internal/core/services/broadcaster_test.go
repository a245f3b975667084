package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"incentive-hub/internal/core/domain"
)

// createTestBroadcaster creates a broadcaster whose conversation store knows
// conv-1 (company-1 / consultant-1) and conv-2 (company-2, unassigned)
func createTestBroadcaster() (*RoomBroadcaster, *MockConversationRepository) {
	conversationRepo := new(MockConversationRepository)

	convA := testConversation("conv-1")
	convB := testConversation("conv-2")
	convB.CompanyID = "company-2"
	convB.ConsultantID = nil

	conversationRepo.On("GetByID", mock.Anything, "conv-1").Return(convA, nil)
	conversationRepo.On("GetByID", mock.Anything, "conv-2").Return(convB, nil)

	return NewRoomBroadcaster(conversationRepo), conversationRepo
}

// TestJoin_ForbiddenForOutsiders tests the room authorization rule
func TestJoin_ForbiddenForOutsiders(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	stranger, _ := testConnection(testPrincipal("company-2", domain.RoleCompany))
	otherConsultant, _ := testConnection(testPrincipal("consultant-9", domain.RoleConsultant))
	admin, _ := testConnection(testPrincipal("admin-1", domain.RoleAdmin))

	assert.ErrorIs(t, rooms.Join(ctx, stranger, "conv-1"), domain.ErrForbidden)
	assert.ErrorIs(t, rooms.Join(ctx, otherConsultant, "conv-1"), domain.ErrForbidden)
	assert.NoError(t, rooms.Join(ctx, admin, "conv-1"))
}

// TestJoin_NotifiesExistingMembersOnly tests that user_joined goes to members
// already present, never to the joiner
func TestJoin_NotifiesExistingMembersOnly(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	companyConn, companySink := testConnection(testPrincipal("company-1", domain.RoleCompany))
	consultantConn, consultantSink := testConnection(testPrincipal("consultant-1", domain.RoleConsultant))

	assert.NoError(t, rooms.Join(ctx, companyConn, "conv-1"))
	assert.Equal(t, 0, companySink.count()) // empty room, nobody to notify

	assert.NoError(t, rooms.Join(ctx, consultantConn, "conv-1"))

	joined := companySink.byName(EventUserJoined)
	assert.Len(t, joined, 1)
	assert.Equal(t, "consultant-1", joined[0].Payload.(PresencePayload).UserID)
	assert.Equal(t, 0, consultantSink.count())
}

// TestJoin_Idempotent tests that re-joining produces no duplicate presence
func TestJoin_Idempotent(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	companyConn, companySink := testConnection(testPrincipal("company-1", domain.RoleCompany))
	consultantConn, _ := testConnection(testPrincipal("consultant-1", domain.RoleConsultant))

	assert.NoError(t, rooms.Join(ctx, companyConn, "conv-1"))
	assert.NoError(t, rooms.Join(ctx, consultantConn, "conv-1"))
	assert.NoError(t, rooms.Join(ctx, consultantConn, "conv-1"))

	assert.Len(t, companySink.byName(EventUserJoined), 1)
	assert.Len(t, rooms.Members("conv-1"), 2)
}

// TestBroadcast_ExactMembership tests that events reach current members and
// nobody else
func TestBroadcast_ExactMembership(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	companyConn, companySink := testConnection(testPrincipal("company-1", domain.RoleCompany))
	consultantConn, consultantSink := testConnection(testPrincipal("consultant-1", domain.RoleConsultant))
	outsiderConn, outsiderSink := testConnection(testPrincipal("company-2", domain.RoleCompany))

	assert.NoError(t, rooms.Join(ctx, companyConn, "conv-1"))
	assert.NoError(t, rooms.Join(ctx, consultantConn, "conv-1"))
	assert.NoError(t, rooms.Join(ctx, outsiderConn, "conv-2"))

	ev := Event{Name: EventUserTyping, Payload: TypingPayload{UserID: "company-1", IsTyping: true}}
	rooms.Broadcast("conv-1", ev)

	assert.Len(t, companySink.byName(EventUserTyping), 1)
	assert.Len(t, consultantSink.byName(EventUserTyping), 1)
	assert.Empty(t, outsiderSink.byName(EventUserTyping))
}

// TestBroadcastExcept_SkipsSender tests the typing-indicator exclusion
func TestBroadcastExcept_SkipsSender(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	companyConn, companySink := testConnection(testPrincipal("company-1", domain.RoleCompany))
	consultantConn, consultantSink := testConnection(testPrincipal("consultant-1", domain.RoleConsultant))

	assert.NoError(t, rooms.Join(ctx, companyConn, "conv-1"))
	assert.NoError(t, rooms.Join(ctx, consultantConn, "conv-1"))

	ev := Event{Name: EventUserTyping, Payload: TypingPayload{UserID: "company-1", IsTyping: true}}
	rooms.BroadcastExcept("conv-1", companyConn, ev)

	assert.Empty(t, companySink.byName(EventUserTyping))
	assert.Len(t, consultantSink.byName(EventUserTyping), 1)
}

// TestLeave_NotifiesRemaining tests user_left delivery and idempotence
func TestLeave_NotifiesRemaining(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	companyConn, companySink := testConnection(testPrincipal("company-1", domain.RoleCompany))
	consultantConn, _ := testConnection(testPrincipal("consultant-1", domain.RoleConsultant))

	assert.NoError(t, rooms.Join(ctx, companyConn, "conv-1"))
	assert.NoError(t, rooms.Join(ctx, consultantConn, "conv-1"))

	rooms.Leave(consultantConn, "conv-1")
	rooms.Leave(consultantConn, "conv-1") // second leave is a no-op

	left := companySink.byName(EventUserLeft)
	assert.Len(t, left, 1)
	assert.Equal(t, "consultant-1", left[0].Payload.(PresencePayload).UserID)

	// A broadcast after the leave no longer reaches the departed member.
	sentBefore := rooms.Members("conv-1")
	assert.Len(t, sentBefore, 1)
}

// TestLeaveAll_EmptiesEveryRoom tests disconnect cleanup across rooms
func TestLeaveAll_EmptiesEveryRoom(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	admin, _ := testConnection(testPrincipal("admin-1", domain.RoleAdmin))
	assert.NoError(t, rooms.Join(ctx, admin, "conv-1"))
	assert.NoError(t, rooms.Join(ctx, admin, "conv-2"))
	assert.Equal(t, 2, rooms.RoomCount())

	rooms.LeaveAll(admin)

	assert.Equal(t, 0, rooms.RoomCount())
}

// TestAdminMirror_MessageTraffic tests which events reach the monitoring
// channel and in what shape
func TestAdminMirror_MessageTraffic(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	companyConn, _ := testConnection(testPrincipal("company-1", domain.RoleCompany))
	assert.NoError(t, rooms.Join(ctx, companyConn, "conv-1"))

	adminConn, adminSink := testConnection(testPrincipal("admin-1", domain.RoleAdmin))
	rooms.EnrollAdmin(adminConn)

	// New messages arrive wrapped as admin notifications.
	msg := domain.MessageWithSender{
		Message: domain.Message{ID: 11, ConversationID: "conv-1", Content: "hi"},
		Sender:  domain.SenderInfo{ID: "company-1", Role: domain.RoleCompany},
	}
	rooms.Broadcast("conv-1", Event{Name: EventNewMessage, Payload: msg})

	// Typing and read receipts pass through unchanged.
	rooms.Broadcast("conv-1", Event{Name: EventUserTyping, Payload: TypingPayload{UserID: "company-1", IsTyping: true}})
	rooms.Broadcast("conv-1", Event{Name: EventMessagesMarkedRead, Payload: MarkedReadPayload{ConversationID: "conv-1", MessageIDs: []int64{11}}})

	// Presence is room-internal and never mirrored.
	consultantConn, _ := testConnection(testPrincipal("consultant-1", domain.RoleConsultant))
	assert.NoError(t, rooms.Join(ctx, consultantConn, "conv-1"))

	notifications := adminSink.byName(EventAdminNotification)
	assert.Len(t, notifications, 1)
	assert.Equal(t, "conv-1", notifications[0].Payload.(AdminNotificationPayload).ConversationID)
	assert.Equal(t, int64(11), notifications[0].Payload.(AdminNotificationPayload).Message.ID)

	assert.Len(t, adminSink.byName(EventUserTyping), 1)
	assert.Len(t, adminSink.byName(EventMessagesMarkedRead), 1)
	assert.Empty(t, adminSink.byName(EventUserJoined))
	assert.Empty(t, adminSink.byName(EventNewMessage))
}

// TestBroadcast_SubmissionOrderPreserved tests that a sequence of broadcasts
// on one room reaches every subscriber, and the admin mirror, in submission
// order
func TestBroadcast_SubmissionOrderPreserved(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	companyConn, companySink := testConnection(testPrincipal("company-1", domain.RoleCompany))
	consultantConn, consultantSink := testConnection(testPrincipal("consultant-1", domain.RoleConsultant))
	assert.NoError(t, rooms.Join(ctx, companyConn, "conv-1"))
	assert.NoError(t, rooms.Join(ctx, consultantConn, "conv-1"))

	adminConn, adminSink := testConnection(testPrincipal("admin-1", domain.RoleAdmin))
	rooms.EnrollAdmin(adminConn)

	for i := int64(1); i <= 4; i++ {
		rooms.Broadcast("conv-1", Event{Name: EventNewMessage, Payload: domain.MessageWithSender{
			Message: domain.Message{ID: i, ConversationID: "conv-1"},
		}})
	}

	messageIDs := func(events []Event) []int64 {
		var ids []int64
		for _, ev := range events {
			switch payload := ev.Payload.(type) {
			case domain.MessageWithSender:
				ids = append(ids, payload.ID)
			case AdminNotificationPayload:
				ids = append(ids, payload.Message.ID)
			}
		}
		return ids
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, messageIDs(companySink.byName(EventNewMessage)))
	assert.Equal(t, []int64{1, 2, 3, 4}, messageIDs(consultantSink.byName(EventNewMessage)))
	assert.Equal(t, []int64{1, 2, 3, 4}, messageIDs(adminSink.byName(EventAdminNotification)))
}

// TestBroadcast_SlowConnectionDropsEvent tests at-most-once delivery: a full
// client buffer loses the event without stalling the room
func TestBroadcast_SlowConnectionDropsEvent(t *testing.T) {
	rooms, _ := createTestBroadcaster()
	ctx := context.Background()

	companyConn, companySink := testConnection(testPrincipal("company-1", domain.RoleCompany))
	consultantConn, consultantSink := testConnection(testPrincipal("consultant-1", domain.RoleConsultant))

	assert.NoError(t, rooms.Join(ctx, companyConn, "conv-1"))
	assert.NoError(t, rooms.Join(ctx, consultantConn, "conv-1"))

	consultantSink.full = true
	rooms.Broadcast("conv-1", Event{Name: EventUserTyping, Payload: TypingPayload{UserID: "company-1", IsTyping: true}})

	assert.Len(t, companySink.byName(EventUserTyping), 1)
	assert.Equal(t, 0, consultantSink.count())
	assert.Len(t, rooms.Members("conv-1"), 2) // still a member, only the event was lost
}
