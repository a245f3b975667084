// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/ports"
)

// Ensure MariaDBRepository implements the required interfaces
var (
	_ ports.PrincipalDirectory     = (*MariaDBRepository)(nil)
	_ ports.ConversationRepository = (*MariaDBRepository)(nil)
	_ ports.MessageRepository      = (*MariaDBRepository)(nil)
	_ ports.ApplicationRepository  = (*MariaDBRepository)(nil)
)

// MariaDBRepository implements persistence over the platform's MariaDB
// schema: users, conversations, messages, applications and the incentive
// join tables.
type MariaDBRepository struct {
	db *sql.DB
}

// NewMariaDBRepository creates a new MariaDB repository instance
func NewMariaDBRepository(db *sql.DB) *MariaDBRepository {
	return &MariaDBRepository{
		db: db,
	}
}

// ============================================================================
// PrincipalDirectory Implementation
// ============================================================================

const principalColumns = `id, full_name, email, role, sector_id, is_active, created_at`

func scanPrincipal(row interface{ Scan(...interface{}) error }) (*domain.Principal, error) {
	var p domain.Principal
	err := row.Scan(
		&p.ID,
		&p.FullName,
		&p.Email,
		&p.Role,
		&p.SectorID,
		&p.IsActive,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPrincipal returns the principal by ID
func (r *MariaDBRepository) GetPrincipal(ctx context.Context, id string) (*domain.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM users WHERE id = ?`

	p, err := scanPrincipal(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		slog.Error("Failed to get principal", "error", err, "principal_id", id)
		return nil, fmt.Errorf("get principal: %w", err)
	}
	return p, nil
}

// FindActiveConsultants returns active consultants in a sector, or the
// general pool when sectorID is nil. Ordered oldest registration first so
// the assignment engine's tie-break falls out of the ordering.
func (r *MariaDBRepository) FindActiveConsultants(ctx context.Context, sectorID *int64) ([]*domain.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM users
		WHERE role = 'consultant' AND is_active = TRUE AND sector_id `
	var args []interface{}
	if sectorID == nil {
		query += `IS NULL`
	} else {
		query += `= ?`
		args = append(args, *sectorID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("Failed to query consultants", "error", err)
		return nil, fmt.Errorf("query consultants: %w", err)
	}
	defer rows.Close()

	var consultants []*domain.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			slog.Error("Failed to scan consultant row", "error", err)
			continue
		}
		consultants = append(consultants, p)
	}
	return consultants, rows.Err()
}

// ListActiveConsultants returns every active consultant regardless of sector
func (r *MariaDBRepository) ListActiveConsultants(ctx context.Context) ([]*domain.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM users
		WHERE role = 'consultant' AND is_active = TRUE
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("Failed to list consultants", "error", err)
		return nil, fmt.Errorf("list consultants: %w", err)
	}
	defer rows.Close()

	var consultants []*domain.Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			slog.Error("Failed to scan consultant row", "error", err)
			continue
		}
		consultants = append(consultants, p)
	}
	return consultants, rows.Err()
}

// ============================================================================
// ConversationRepository Implementation
// ============================================================================

const conversationColumns = `id, conversation_type, application_id, company_id, consultant_id, status, title, last_message_at, created_at`

func scanConversation(row interface{ Scan(...interface{}) error }) (*domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(
		&c.ID,
		&c.Type,
		&c.ApplicationID,
		&c.CompanyID,
		&c.ConsultantID,
		&c.Status,
		&c.Title,
		&c.LastMessageAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetByID returns the conversation by ID
func (r *MariaDBRepository) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	c, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		slog.Error("Failed to get conversation", "error", err, "conversation_id", id)
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// GetByApplication returns the conversation bound to an application
func (r *MariaDBRepository) GetByApplication(ctx context.Context, applicationID string) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE application_id = ? LIMIT 1`

	c, err := scanConversation(r.db.QueryRowContext(ctx, query, applicationID))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		slog.Error("Failed to get conversation by application", "error", err, "application_id", applicationID)
		return nil, fmt.Errorf("get conversation by application: %w", err)
	}
	return c, nil
}

// Create persists a new conversation
func (r *MariaDBRepository) Create(ctx context.Context, conv *domain.Conversation) error {
	query := `
		INSERT INTO conversations (
			id, conversation_type, application_id, company_id,
			consultant_id, status, title, last_message_at, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		conv.ID,
		conv.Type,
		conv.ApplicationID,
		conv.CompanyID,
		conv.ConsultantID,
		conv.Status,
		conv.Title,
		conv.LastMessageAt,
	)
	if err != nil {
		slog.Error("Failed to create conversation",
			"error", err,
			"application_id", conv.ApplicationID,
		)
		return fmt.Errorf("create conversation: %w", err)
	}

	slog.Info("New conversation created",
		"conversation_id", conv.ID,
		"application_id", conv.ApplicationID,
	)
	return nil
}

// SetAssignedConsultant writes the chosen consultant onto the conversation.
// Last write wins; the store carries no assignment history.
func (r *MariaDBRepository) SetAssignedConsultant(ctx context.Context, conversationID, consultantID string) error {
	query := `UPDATE conversations SET consultant_id = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, consultantID, conversationID)
	if err != nil {
		slog.Error("Failed to set assigned consultant",
			"error", err,
			"conversation_id", conversationID,
		)
		return fmt.Errorf("set assigned consultant: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// TouchLastMessage updates the conversation's last-activity timestamp
func (r *MariaDBRepository) TouchLastMessage(ctx context.Context, conversationID string, at time.Time) error {
	query := `UPDATE conversations SET last_message_at = ? WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, at, conversationID); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// CountActiveFor returns the number of active conversations assigned to the
// consultant. Feeds the assignment engine's load balancing.
func (r *MariaDBRepository) CountActiveFor(ctx context.Context, consultantID string) (int, error) {
	query := `SELECT COUNT(*) FROM conversations WHERE consultant_id = ? AND status = 'active'`

	var count int
	if err := r.db.QueryRowContext(ctx, query, consultantID).Scan(&count); err != nil {
		slog.Error("Failed to count active conversations", "error", err, "consultant_id", consultantID)
		return 0, fmt.Errorf("count active conversations: %w", err)
	}
	return count, nil
}

// ListFor returns the conversations visible to a principal, most recently
// active first. Admins see every conversation.
func (r *MariaDBRepository) ListFor(ctx context.Context, p *domain.Principal) ([]*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations`
	var args []interface{}

	switch p.Role {
	case domain.RoleCompany:
		query += ` WHERE company_id = ?`
		args = append(args, p.ID)
	case domain.RoleConsultant:
		query += ` WHERE consultant_id = ?`
		args = append(args, p.ID)
	}
	query += ` ORDER BY last_message_at DESC LIMIT 200`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("Failed to list conversations", "error", err, "principal_id", p.ID)
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			slog.Error("Failed to scan conversation row", "error", err)
			continue
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// ============================================================================
// MessageRepository Implementation
// ============================================================================

// Save persists a message and fills in its ID and creation time
func (r *MariaDBRepository) Save(ctx context.Context, msg *domain.Message) error {
	query := `
		INSERT INTO messages (
			conversation_id, sender_id, sender_type, content,
			message_type, is_read, created_at
		)
		VALUES (?, ?, ?, ?, ?, FALSE, ?)
	`

	msg.CreatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderType,
		msg.Content,
		msg.Type,
		msg.CreatedAt,
	)
	if err != nil {
		slog.Error("Failed to save message",
			"error", err,
			"conversation_id", msg.ConversationID,
		)
		return fmt.Errorf("save message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	msg.ID = id

	slog.Debug("Message saved",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_type", msg.SenderType,
	)
	return nil
}

// LoadPage returns messages with sender identities, newest first. Ties on
// created_at break by the auto-increment ID, preserving insertion order.
func (r *MariaDBRepository) LoadPage(ctx context.Context, conversationID string, limit, offset int) ([]*domain.MessageWithSender, error) {
	query := `
		SELECT
			m.id, m.conversation_id, m.sender_id, m.sender_type, m.content,
			m.message_type, m.is_read, m.read_at, m.created_at,
			u.id, u.full_name, u.role
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		slog.Error("Failed to load messages", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.MessageWithSender
	for rows.Next() {
		var m domain.MessageWithSender
		err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.SenderID,
			&m.SenderType,
			&m.Content,
			&m.Type,
			&m.IsRead,
			&m.ReadAt,
			&m.CreatedAt,
			&m.Sender.ID,
			&m.Sender.FullName,
			&m.Sender.Role,
		)
		if err != nil {
			slog.Error("Failed to scan message row", "error", err)
			continue
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// Count returns the total number of messages in a conversation
func (r *MariaDBRepository) Count(ctx context.Context, conversationID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, conversationID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// MarkConversationRead marks every unread message not authored by the
// reader as read and returns the affected IDs
func (r *MariaDBRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]int64, error) {
	selectQuery := `
		SELECT id FROM messages
		WHERE conversation_id = ? AND sender_id != ? AND is_read = FALSE
		ORDER BY id ASC
	`
	ids, err := r.collectIDs(ctx, selectQuery, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("select unread messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	updateQuery := `
		UPDATE messages SET is_read = TRUE, read_at = ?
		WHERE id IN (` + placeholders(len(ids)) + `)
	`
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := r.db.ExecContext(ctx, updateQuery, args...); err != nil {
		slog.Error("Failed to mark messages read", "error", err, "conversation_id", conversationID)
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	return ids, nil
}

// MarkRead marks the given messages as read, skipping any authored by the
// reader and any in conversations the reader is not a participant of, and
// returns the IDs actually affected
func (r *MariaDBRepository) MarkRead(ctx context.Context, messageIDs []int64, reader *domain.Principal, at time.Time) ([]int64, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	args := make([]interface{}, 0, len(messageIDs)+2)
	for _, id := range messageIDs {
		args = append(args, id)
	}
	args = append(args, reader.ID)

	selectQuery := `
		SELECT m.id FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id IN (` + placeholders(len(messageIDs)) + `) AND m.sender_id != ? AND m.is_read = FALSE
	`
	switch reader.Role {
	case domain.RoleCompany:
		selectQuery += ` AND c.company_id = ?`
		args = append(args, reader.ID)
	case domain.RoleConsultant:
		selectQuery += ` AND c.consultant_id = ?`
		args = append(args, reader.ID)
	}
	selectQuery += ` ORDER BY m.id ASC`
	ids, err := r.collectIDs(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	updateArgs := make([]interface{}, 0, len(ids)+1)
	updateArgs = append(updateArgs, at)
	for _, id := range ids {
		updateArgs = append(updateArgs, id)
	}
	updateQuery := `
		UPDATE messages SET is_read = TRUE, read_at = ?
		WHERE id IN (` + placeholders(len(ids)) + `)
	`
	if _, err := r.db.ExecContext(ctx, updateQuery, updateArgs...); err != nil {
		slog.Error("Failed to mark messages read", "error", err)
		return nil, fmt.Errorf("mark messages read: %w", err)
	}
	return ids, nil
}

// CountUnreadFor returns the number of unread messages addressed to the
// principal across their conversations
func (r *MariaDBRepository) CountUnreadFor(ctx context.Context, p *domain.Principal) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.is_read = FALSE AND m.sender_id != ?
	`
	args := []interface{}{p.ID}

	switch p.Role {
	case domain.RoleCompany:
		query += ` AND c.company_id = ?`
		args = append(args, p.ID)
	case domain.RoleConsultant:
		query += ` AND c.consultant_id = ?`
		args = append(args, p.ID)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		slog.Error("Failed to count unread messages", "error", err, "principal_id", p.ID)
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// ============================================================================
// ApplicationRepository Implementation
// ============================================================================

// GetApplication returns the minimal application record the chat core needs
func (r *MariaDBRepository) GetApplication(ctx context.Context, id string) (*domain.Application, error) {
	query := `SELECT id, company_id, consultant_id, title FROM applications WHERE id = ?`

	var app domain.Application
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&app.ID,
		&app.CompanyID,
		&app.ConsultantID,
		&app.Title,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		slog.Error("Failed to get application", "error", err, "application_id", id)
		return nil, fmt.Errorf("get application: %w", err)
	}
	return &app, nil
}

// GetIncentiveSectors returns the sector references of the application's
// incentives in declaration order: the incentive type's sector plus the
// legacy sector recorded on the incentive itself
func (r *MariaDBRepository) GetIncentiveSectors(ctx context.Context, applicationID string) ([]domain.IncentiveSectors, error) {
	query := `
		SELECT it.sector_id, i.sector_id
		FROM application_incentives ai
		JOIN incentives i ON i.id = ai.incentive_id
		LEFT JOIN incentive_types it ON it.id = i.incentive_type_id
		WHERE ai.application_id = ?
		ORDER BY ai.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, applicationID)
	if err != nil {
		slog.Error("Failed to load incentive sectors", "error", err, "application_id", applicationID)
		return nil, fmt.Errorf("load incentive sectors: %w", err)
	}
	defer rows.Close()

	var sectors []domain.IncentiveSectors
	for rows.Next() {
		var s domain.IncentiveSectors
		if err := rows.Scan(&s.TypeSectorID, &s.OwnSectorID); err != nil {
			slog.Error("Failed to scan incentive sector row", "error", err)
			continue
		}
		sectors = append(sectors, s)
	}
	return sectors, rows.Err()
}

// AssignConsultant writes the chosen consultant onto the application
func (r *MariaDBRepository) AssignConsultant(ctx context.Context, applicationID, consultantID string) error {
	query := `UPDATE applications SET consultant_id = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, consultantID, applicationID)
	if err != nil {
		slog.Error("Failed to assign consultant to application",
			"error", err,
			"application_id", applicationID,
		)
		return fmt.Errorf("assign consultant: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func (r *MariaDBRepository) collectIDs(ctx context.Context, query string, args ...interface{}) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
