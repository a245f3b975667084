// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"incentive-hub/internal/core/domain"
)

// CredentialVerifier resolves a raw access token to a decoded credential.
// The core only verifies credentials; issuing them is the auth layer's job.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (*domain.Credential, error)
}

// PrincipalDirectory resolves identities from the external user store
type PrincipalDirectory interface {
	// GetPrincipal returns the principal by ID, or domain.ErrNotFound
	GetPrincipal(ctx context.Context, id string) (*domain.Principal, error)

	// FindActiveConsultants returns active consultants whose sector affinity
	// equals sectorID, or whose affinity is unset when sectorID is nil
	// (the general pool). Ordered by registration time, oldest first.
	FindActiveConsultants(ctx context.Context, sectorID *int64) ([]*domain.Principal, error)

	// ListActiveConsultants returns every active consultant regardless of
	// sector. Used by the admin workload overview.
	ListActiveConsultants(ctx context.Context) ([]*domain.Principal, error)
}

// ConversationRepository handles conversation persistence
type ConversationRepository interface {
	// GetByID returns the conversation, or domain.ErrNotFound
	GetByID(ctx context.Context, id string) (*domain.Conversation, error)

	// GetByApplication returns the conversation bound to an application,
	// or domain.ErrNotFound when none has been created yet
	GetByApplication(ctx context.Context, applicationID string) (*domain.Conversation, error)

	// Create persists a new conversation
	Create(ctx context.Context, conv *domain.Conversation) error

	// SetAssignedConsultant writes the chosen consultant onto the
	// conversation. Last-write-wins is the store's native conflict rule.
	SetAssignedConsultant(ctx context.Context, conversationID, consultantID string) error

	// TouchLastMessage updates the conversation's last-activity timestamp
	TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error

	// CountActiveFor returns the number of active conversations currently
	// assigned to a consultant. Feeds the assignment engine's load balancing.
	CountActiveFor(ctx context.Context, consultantID string) (int, error)

	// ListFor returns the conversations visible to a principal, most
	// recently active first
	ListFor(ctx context.Context, p *domain.Principal) ([]*domain.Conversation, error)
}

// MessageRepository handles message persistence
type MessageRepository interface {
	// Save persists a message and fills in its ID and creation time
	Save(ctx context.Context, msg *domain.Message) error

	// LoadPage returns up to limit messages of a conversation joined with
	// sender identities, newest first, skipping offset rows. Ties on
	// creation time break by insertion ID.
	LoadPage(ctx context.Context, conversationID string, limit, offset int) ([]*domain.MessageWithSender, error)

	// Count returns the total number of messages in a conversation
	Count(ctx context.Context, conversationID string) (int, error)

	// MarkConversationRead marks every unread message in the conversation
	// not authored by readerID as read, stamping at. Returns affected IDs.
	MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]int64, error)

	// MarkRead marks the given messages as read on behalf of the reader,
	// skipping any the reader authored and any in conversations the reader
	// does not participate in. Returns the IDs actually affected.
	MarkRead(ctx context.Context, messageIDs []int64, reader *domain.Principal, at time.Time) ([]int64, error)

	// CountUnreadFor returns the number of unread messages addressed to a
	// principal across all of their conversations
	CountUnreadFor(ctx context.Context, p *domain.Principal) (int, error)
}

// ApplicationRepository exposes the minimal application reads/writes the
// chat core needs
type ApplicationRepository interface {
	// GetApplication returns the application, or domain.ErrNotFound
	GetApplication(ctx context.Context, id string) (*domain.Application, error)

	// GetIncentiveSectors returns the sector references of the application's
	// incentives, preserving the application's incentive order
	GetIncentiveSectors(ctx context.Context, applicationID string) ([]domain.IncentiveSectors, error)

	// AssignConsultant writes the chosen consultant onto the application
	AssignConsultant(ctx context.Context, applicationID, consultantID string) error
}

// UnreadCache caches unread-message counts with a TTL so the badge endpoint
// does not hit the database on every poll
type UnreadCache interface {
	// Get returns the cached count and whether it was present
	Get(ctx context.Context, principalID string) (int, bool, error)

	// Set stores the count with a TTL
	Set(ctx context.Context, principalID string, count int, ttl time.Duration) error

	// Invalidate drops the cached counts for the given principals
	Invalidate(ctx context.Context, principalIDs ...string) error
}
