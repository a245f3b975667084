// Package services contains core business logic
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/ports"
)

const (
	// credentialExpiryWindow is the lookahead for the pre-send freshness
	// check: a credential expiring inside this window is treated as stale
	// and the client must refresh before retrying
	credentialExpiryWindow = 5 * time.Minute

	unreadCacheTTL  = 30 * time.Second
	defaultPageSize = 50
	maxPageSize     = 200
)

// MessagePipeline validates and persists incoming messages, then hands them
// to the room broadcaster. Also serves the pull-based history query, read
// receipts and unread counts.
type MessagePipeline struct {
	messages      ports.MessageRepository
	conversations ports.ConversationRepository
	rooms         *RoomBroadcaster
	unread        ports.UnreadCache
}

// NewMessagePipeline creates a pipeline with dependencies injected
func NewMessagePipeline(
	messages ports.MessageRepository,
	conversations ports.ConversationRepository,
	rooms *RoomBroadcaster,
	unread ports.UnreadCache,
) *MessagePipeline {
	return &MessagePipeline{
		messages:      messages,
		conversations: conversations,
		rooms:         rooms,
		unread:        unread,
	}
}

// HistoryPage is one page of a conversation's message history
type HistoryPage struct {
	Messages   []*domain.MessageWithSender `json:"messages"`
	TotalCount int                         `json:"totalCount"`
	Page       int                         `json:"currentPage"`
	TotalPages int                         `json:"totalPages"`
}

// Send validates, persists and broadcasts a message. The credential is
// re-checked with a five-minute lookahead before anything else: a stale
// credential aborts the send with ErrCredentialExpiring and no side effect.
// If persistence fails nothing is broadcast.
func (p *MessagePipeline) Send(
	ctx context.Context,
	conversationID string,
	sender *domain.Principal,
	cred *domain.Credential,
	content string,
	msgType domain.MessageType,
) (*domain.MessageWithSender, error) {
	if cred.ExpiresWithin(credentialExpiryWindow) {
		return nil, domain.ErrCredentialExpiring
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is empty", domain.ErrValidation)
	}
	switch msgType {
	case "":
		msgType = domain.MessageTypeText
	case domain.MessageTypeText, domain.MessageTypeFile, domain.MessageTypeSystem:
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, msgType)
	}

	conv, err := p.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.AccessibleBy(sender) {
		return nil, domain.ErrForbidden
	}

	msg := &domain.Message{
		ConversationID: conversationID,
		SenderID:       sender.ID,
		SenderType:     domain.SenderTypeForRole(sender.Role),
		Content:        content,
		Type:           msgType,
	}
	if err := p.messages.Save(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	if err := p.conversations.TouchLastMessage(ctx, conversationID, msg.CreatedAt); err != nil {
		slog.Warn("Failed to touch conversation last activity",
			"error", err,
			"conversation_id", conversationID,
		)
	}
	p.invalidateUnread(ctx, conv, sender.ID)

	payload := &domain.MessageWithSender{
		Message: *msg,
		Sender: domain.SenderInfo{
			ID:       sender.ID,
			FullName: sender.FullName,
			Role:     sender.Role,
		},
	}
	p.rooms.Broadcast(conversationID, Event{Name: EventNewMessage, Payload: *payload})

	slog.Info("Message sent",
		"message_id", msg.ID,
		"conversation_id", conversationID,
		"sender_id", sender.ID,
		"sender_type", msg.SenderType,
	)

	return payload, nil
}

// MarkRead marks every unread message in the conversation not authored by
// the reader as read and returns the count. A second identical call returns
// zero. The affected IDs are broadcast as a read receipt.
func (p *MessagePipeline) MarkRead(ctx context.Context, conversationID string, reader *domain.Principal) (int, error) {
	conv, err := p.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.AccessibleBy(reader) {
		return 0, domain.ErrForbidden
	}

	ids, err := p.messages.MarkConversationRead(ctx, conversationID, reader.ID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	p.invalidateUnread(ctx, conv, "")
	p.rooms.Broadcast(conversationID, Event{Name: EventMessagesMarkedRead, Payload: MarkedReadPayload{
		ConversationID: conversationID,
		MessageIDs:     ids,
	}})

	return len(ids), nil
}

// MarkReadByIDs marks the given messages as read on behalf of the reader,
// skipping any the reader authored and any outside the reader's own
// conversations. Returns the IDs actually affected. Used by the socket's
// mark_read event, which carries explicit message IDs.
func (p *MessagePipeline) MarkReadByIDs(ctx context.Context, messageIDs []int64, reader *domain.Principal) ([]int64, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	ids, err := p.messages.MarkRead(ctx, messageIDs, reader, time.Now())
	if err != nil {
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	if len(ids) > 0 {
		if err := p.unread.Invalidate(ctx, reader.ID); err != nil {
			slog.Warn("Failed to invalidate unread cache", "error", err, "principal_id", reader.ID)
		}
	}
	return ids, nil
}

// History returns one page of a conversation's messages. Pages are
// latest-first (page 1 holds the most recent messages) while each page is
// ordered oldest-first, letting clients render newest content immediately
// and paginate backward.
func (p *MessagePipeline) History(ctx context.Context, conversationID string, reader *domain.Principal, page, pageSize int) (*HistoryPage, error) {
	conv, err := p.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.AccessibleBy(reader) {
		return nil, domain.ErrForbidden
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	total, err := p.messages.Count(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	msgs, err := p.messages.LoadPage(ctx, conversationID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	// The store returns newest-first; flip so the page reads oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return &HistoryPage{
		Messages:   msgs,
		TotalCount: total,
		Page:       page,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// UnreadCount returns the principal's unread message total, served from the
// cache when fresh
func (p *MessagePipeline) UnreadCount(ctx context.Context, principal *domain.Principal) (int, error) {
	if count, ok, err := p.unread.Get(ctx, principal.ID); err == nil && ok {
		return count, nil
	} else if err != nil {
		slog.Warn("Unread cache read failed", "error", err, "principal_id", principal.ID)
	}

	count, err := p.messages.CountUnreadFor(ctx, principal)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}

	if err := p.unread.Set(ctx, principal.ID, count, unreadCacheTTL); err != nil {
		slog.Warn("Unread cache write failed", "error", err, "principal_id", principal.ID)
	}
	return count, nil
}

// invalidateUnread drops cached unread counts for the conversation's
// participants, minus the principal named in except
func (p *MessagePipeline) invalidateUnread(ctx context.Context, conv *domain.Conversation, except string) {
	ids := make([]string, 0, 2)
	if conv.CompanyID != except {
		ids = append(ids, conv.CompanyID)
	}
	if conv.ConsultantID != nil && *conv.ConsultantID != except {
		ids = append(ids, *conv.ConsultantID)
	}
	if len(ids) == 0 {
		return
	}
	if err := p.unread.Invalidate(ctx, ids...); err != nil {
		slog.Warn("Failed to invalidate unread cache", "error", err)
	}
}
