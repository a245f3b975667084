package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"incentive-hub/internal/core/domain"
)

// ============================================================================
// Mock Repositories
// ============================================================================

// MockCredentialVerifier mocks CredentialVerifier interface
type MockCredentialVerifier struct {
	mock.Mock
}

func (m *MockCredentialVerifier) Verify(ctx context.Context, token string) (*domain.Credential, error) {
	args := m.Called(ctx, token)
	if result := args.Get(0); result != nil {
		return result.(*domain.Credential), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPrincipalDirectory mocks PrincipalDirectory interface
type MockPrincipalDirectory struct {
	mock.Mock
}

func (m *MockPrincipalDirectory) GetPrincipal(ctx context.Context, id string) (*domain.Principal, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.Principal), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPrincipalDirectory) FindActiveConsultants(ctx context.Context, sectorID *int64) ([]*domain.Principal, error) {
	args := m.Called(ctx, sectorID)
	if result := args.Get(0); result != nil {
		return result.([]*domain.Principal), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPrincipalDirectory) ListActiveConsultants(ctx context.Context) ([]*domain.Principal, error) {
	args := m.Called(ctx)
	if result := args.Get(0); result != nil {
		return result.([]*domain.Principal), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockConversationRepository mocks ConversationRepository interface
type MockConversationRepository struct {
	mock.Mock
}

func (m *MockConversationRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) GetByApplication(ctx context.Context, applicationID string) (*domain.Conversation, error) {
	args := m.Called(ctx, applicationID)
	if result := args.Get(0); result != nil {
		return result.(*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockConversationRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	args := m.Called(ctx, conv)
	return args.Error(0)
}

func (m *MockConversationRepository) SetAssignedConsultant(ctx context.Context, conversationID, consultantID string) error {
	args := m.Called(ctx, conversationID, consultantID)
	return args.Error(0)
}

func (m *MockConversationRepository) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	args := m.Called(ctx, conversationID, at)
	return args.Error(0)
}

func (m *MockConversationRepository) CountActiveFor(ctx context.Context, consultantID string) (int, error) {
	args := m.Called(ctx, consultantID)
	return args.Int(0), args.Error(1)
}

func (m *MockConversationRepository) ListFor(ctx context.Context, p *domain.Principal) ([]*domain.Conversation, error) {
	args := m.Called(ctx, p)
	if result := args.Get(0); result != nil {
		return result.([]*domain.Conversation), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMessageRepository mocks MessageRepository interface
type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) LoadPage(ctx context.Context, conversationID string, limit, offset int) ([]*domain.MessageWithSender, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if result := args.Get(0); result != nil {
		return result.([]*domain.MessageWithSender), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) Count(ctx context.Context, conversationID string) (int, error) {
	args := m.Called(ctx, conversationID)
	return args.Int(0), args.Error(1)
}

func (m *MockMessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]int64, error) {
	args := m.Called(ctx, conversationID, readerID, at)
	if result := args.Get(0); result != nil {
		return result.([]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) MarkRead(ctx context.Context, messageIDs []int64, reader *domain.Principal, at time.Time) ([]int64, error) {
	args := m.Called(ctx, messageIDs, reader, at)
	if result := args.Get(0); result != nil {
		return result.([]int64), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockMessageRepository) CountUnreadFor(ctx context.Context, p *domain.Principal) (int, error) {
	args := m.Called(ctx, p)
	return args.Int(0), args.Error(1)
}

// MockApplicationRepository mocks ApplicationRepository interface
type MockApplicationRepository struct {
	mock.Mock
}

func (m *MockApplicationRepository) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	args := m.Called(ctx, id)
	if result := args.Get(0); result != nil {
		return result.(*domain.Application), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockApplicationRepository) GetIncentiveSectors(ctx context.Context, applicationID string) ([]domain.IncentiveSectors, error) {
	args := m.Called(ctx, applicationID)
	if result := args.Get(0); result != nil {
		return result.([]domain.IncentiveSectors), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockApplicationRepository) AssignConsultant(ctx context.Context, applicationID, consultantID string) error {
	args := m.Called(ctx, applicationID, consultantID)
	return args.Error(0)
}

// MockUnreadCache mocks UnreadCache interface
type MockUnreadCache struct {
	mock.Mock
}

func (m *MockUnreadCache) Get(ctx context.Context, principalID string) (int, bool, error) {
	args := m.Called(ctx, principalID)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *MockUnreadCache) Set(ctx context.Context, principalID string, count int, ttl time.Duration) error {
	args := m.Called(ctx, principalID, count, ttl)
	return args.Error(0)
}

func (m *MockUnreadCache) Invalidate(ctx context.Context, principalIDs ...string) error {
	args := m.Called(ctx, principalIDs)
	return args.Error(0)
}

// ============================================================================
// Test Helper Functions
// ============================================================================

// recordingSink captures every pushed event, in order. Setting full simulates
// a saturated client buffer.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	full   bool
}

func (s *recordingSink) Push(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

// byName returns the captured events carrying the given name
func (s *recordingSink) byName(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// count returns the total number of captured events
func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func int64Ptr(v int64) *int64 {
	return &v
}

func strPtr(v string) *string {
	return &v
}

// testPrincipal builds an active principal with the given role
func testPrincipal(id string, role domain.Role) *domain.Principal {
	return &domain.Principal{
		ID:       id,
		FullName: "Test " + id,
		Email:    id + "@example.com",
		Role:     role,
		IsActive: true,
	}
}

// testConnection builds an in-memory connection with a recording sink and a
// credential valid for one hour
func testConnection(p *domain.Principal) (*Connection, *recordingSink) {
	sink := &recordingSink{}
	conn := &Connection{
		ID:        uuid.NewString(),
		Principal: p,
		Credential: &domain.Credential{
			PrincipalID: p.ID,
			Role:        p.Role,
			ExpiresAt:   time.Now().Add(time.Hour),
		},
		sink: sink,
	}
	return conn, sink
}

// testConversation builds an active application conversation between
// company-1 and consultant-1
func testConversation(id string) *domain.Conversation {
	return &domain.Conversation{
		ID:            id,
		Type:          domain.ConversationTypeApplication,
		ApplicationID: "app-1",
		CompanyID:     "company-1",
		ConsultantID:  strPtr("consultant-1"),
		Status:        domain.ConversationStatusActive,
		Title:         "Test Company - Incentive Application",
		LastMessageAt: time.Now(),
		CreatedAt:     time.Now(),
	}
}
