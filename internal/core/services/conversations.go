// Package services contains core business logic
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/ports"
)

// ConversationService owns the lazy conversation lifecycle: a conversation
// is created on first access to an application's chat, invoking the
// assignment engine when no consultant is attached yet.
type ConversationService struct {
	conversations ports.ConversationRepository
	applications  ports.ApplicationRepository
	directory     ports.PrincipalDirectory
	engine        *AssignmentEngine
}

// NewConversationService creates the service with dependencies injected
func NewConversationService(
	conversations ports.ConversationRepository,
	applications ports.ApplicationRepository,
	directory ports.PrincipalDirectory,
	engine *AssignmentEngine,
) *ConversationService {
	return &ConversationService{
		conversations: conversations,
		applications:  applications,
		directory:     directory,
		engine:        engine,
	}
}

// ConversationResult is a conversation plus what assignment, if any, took
// place while opening it
type ConversationResult struct {
	Conversation *domain.Conversation       `json:"conversation"`
	Assignment   *domain.AssignmentDecision `json:"assignment,omitempty"`
	// Unassigned reports that assignment ran but found no consultant; the
	// conversation exists and stays visibly unassigned
	Unassigned bool `json:"unassigned,omitempty"`
}

// GetOrCreateForApplication returns the application's conversation, creating
// it on first access. When a company opens a chat with no consultant
// assigned, the assignment engine is invoked once before the room exists.
func (s *ConversationService) GetOrCreateForApplication(ctx context.Context, applicationID string, requester *domain.Principal) (*ConversationResult, error) {
	conv, err := s.conversations.GetByApplication(ctx, applicationID)
	if err == nil {
		if !conv.AccessibleBy(requester) {
			return nil, domain.ErrForbidden
		}
		return &ConversationResult{Conversation: conv}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	app, err := s.applications.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if requester.Role == domain.RoleCompany && app.CompanyID != requester.ID {
		return nil, domain.ErrForbidden
	}

	result := &ConversationResult{}
	var consultantID *string
	switch {
	case requester.Role == domain.RoleConsultant:
		id := requester.ID
		consultantID = &id
	case app.ConsultantID != nil:
		consultantID = app.ConsultantID
	case requester.Role == domain.RoleCompany:
		decision, err := s.engine.Assign(ctx, applicationID)
		switch {
		case err == nil:
			id := decision.Consultant.ID
			consultantID = &id
			result.Assignment = decision
		case errors.Is(err, domain.ErrNoConsultantAvailable):
			// The conversation is still created; the company sees it
			// unassigned instead of getting a hard failure.
			result.Unassigned = true
			slog.Warn("No consultant available for application",
				"application_id", applicationID,
				"company_id", app.CompanyID,
			)
		default:
			return nil, err
		}
	}

	company, err := s.directory.GetPrincipal(ctx, app.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("resolve company: %w", err)
	}

	conv = &domain.Conversation{
		ID:            uuid.NewString(),
		Type:          domain.ConversationTypeApplication,
		ApplicationID: applicationID,
		CompanyID:     app.CompanyID,
		ConsultantID:  consultantID,
		Status:        domain.ConversationStatusActive,
		Title:         fmt.Sprintf("%s - Incentive Application", company.FullName),
		LastMessageAt: time.Now(),
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	slog.Info("Conversation created",
		"conversation_id", conv.ID,
		"application_id", applicationID,
		"consultant_assigned", consultantID != nil,
	)

	result.Conversation = conv
	return result, nil
}

// ListFor returns the conversations visible to the principal, most recently
// active first. Admins see everything.
func (s *ConversationService) ListFor(ctx context.Context, p *domain.Principal) ([]*domain.Conversation, error) {
	return s.conversations.ListFor(ctx, p)
}
