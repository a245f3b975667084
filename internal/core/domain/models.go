// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"time"
)

// Role is the authenticated identity's role in the platform
type Role string

const (
	RoleCompany    Role = "company"
	RoleConsultant Role = "consultant"
	RoleAdmin      Role = "admin"
)

// Principal is an authenticated identity. Owned by the external user store;
// this subsystem only reads it.
type Principal struct {
	ID        string    `json:"id" db:"id"`
	FullName  string    `json:"fullName" db:"full_name"`
	Email     string    `json:"email" db:"email"`
	Role      Role      `json:"role" db:"role"`
	SectorID  *int64    `json:"sectorId,omitempty" db:"sector_id"` // only meaningful for consultant/company
	IsActive  bool      `json:"isActive" db:"is_active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Credential is the decoded result of verifying an access token.
type Credential struct {
	PrincipalID string
	Role        Role
	ExpiresAt   time.Time
}

// ExpiresWithin reports whether the credential expires before now+window.
// Used for the pre-send freshness check on long-lived connections.
func (c *Credential) ExpiresWithin(window time.Duration) bool {
	return time.Until(c.ExpiresAt) < window
}

// ConversationType distinguishes what a conversation is bound to
type ConversationType string

const (
	ConversationTypeApplication ConversationType = "application"
	ConversationTypeTicket      ConversationType = "ticket"
)

// ConversationStatus lifecycle constants
type ConversationStatus string

const (
	ConversationStatusActive ConversationStatus = "active"
	ConversationStatusPaused ConversationStatus = "paused"
	ConversationStatusClosed ConversationStatus = "closed"
)

// Conversation is the logical message thread bound 1:1 to an application or
// support ticket. Created lazily on first access; never deleted here.
type Conversation struct {
	ID            string             `json:"id" db:"id"`
	Type          ConversationType   `json:"type" db:"conversation_type"`
	ApplicationID string             `json:"applicationId" db:"application_id"`
	CompanyID     string             `json:"companyId" db:"company_id"`
	ConsultantID  *string            `json:"consultantId,omitempty" db:"consultant_id"`
	Status        ConversationStatus `json:"status" db:"status"`
	Title         string             `json:"title" db:"title"`
	LastMessageAt time.Time          `json:"lastMessageAt" db:"last_message_at"`
	CreatedAt     time.Time          `json:"createdAt" db:"created_at"`
}

// AccessibleBy is the single room-authorization rule: admins always, the
// company participant, or the currently assigned consultant.
func (c *Conversation) AccessibleBy(p *Principal) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleCompany:
		return c.CompanyID == p.ID
	case RoleConsultant:
		return c.ConsultantID != nil && *c.ConsultantID == p.ID
	}
	return false
}

// SenderType is the closed set of sender-role tags on a message
type SenderType string

const (
	SenderTypeUser       SenderType = "user"
	SenderTypeConsultant SenderType = "consultant"
	SenderTypeSystem     SenderType = "system"
)

// SenderTypeForRole maps a principal role onto the message sender tag
func SenderTypeForRole(r Role) SenderType {
	switch r {
	case RoleConsultant:
		return SenderTypeConsultant
	case RoleAdmin:
		return SenderTypeSystem
	default:
		return SenderTypeUser
	}
}

// MessageType constants
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// Message belongs to exactly one conversation. Immutable after creation
// except for the read flag.
type Message struct {
	ID             int64       `json:"id" db:"id"`
	ConversationID string      `json:"conversationId" db:"conversation_id"`
	SenderID       string      `json:"senderId" db:"sender_id"`
	SenderType     SenderType  `json:"senderType" db:"sender_type"`
	Content        string      `json:"content" db:"content"`
	Type           MessageType `json:"messageType" db:"message_type"`
	IsRead         bool        `json:"isRead" db:"is_read"`
	ReadAt         *time.Time  `json:"readAt,omitempty" db:"read_at"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
}

// SenderInfo is the minimal sender identity attached to broadcast messages
type SenderInfo struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Role     Role   `json:"role"`
}

// MessageWithSender is a message joined with its sender's identity, the shape
// delivered to clients over both the socket and the history endpoint
type MessageWithSender struct {
	Message
	Sender SenderInfo `json:"sender"`
}

// Application is the incentive application a conversation is opened for.
// Only the fields the chat core needs; the rest lives with the CRUD layer.
type Application struct {
	ID           string  `json:"id" db:"id"`
	CompanyID    string  `json:"companyId" db:"company_id"`
	ConsultantID *string `json:"consultantId,omitempty" db:"consultant_id"`
	Title        string  `json:"title" db:"title"`
}

// IncentiveSectors carries the sector references of one incentive attached to
// an application: the incentive type's sector and the sector recorded
// directly on the incentive (legacy field).
type IncentiveSectors struct {
	TypeSectorID *int64
	OwnSectorID  *int64
}

// AssignmentReason explains why a consultant was chosen
type AssignmentReason string

const (
	// ReasonSectorMatch: chosen sector came from the application's incentives
	ReasonSectorMatch AssignmentReason = "sector-match"
	// ReasonLoadBalanceFallback: no incentive-sector specialist available,
	// fell back to the company's own sector
	ReasonLoadBalanceFallback AssignmentReason = "load-balance-fallback"
	// ReasonGeneralPool: assigned from the sector-agnostic pool
	ReasonGeneralPool AssignmentReason = "general-pool"
)

// AssignmentDecision is the engine's output. Not persisted as its own entity;
// consumers may log it for audit.
type AssignmentDecision struct {
	Consultant *Principal       `json:"consultant"`
	SectorID   *int64           `json:"sectorId,omitempty"`
	Reason     AssignmentReason `json:"reason"`
}
