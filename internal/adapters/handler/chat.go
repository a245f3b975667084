// Package handler implements HTTP request handlers
// Following Hexagonal Architecture: Adapters translate HTTP to domain logic
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"incentive-hub/internal/core/domain"
	"incentive-hub/internal/core/services"
)

// ChatHandler serves the non-streaming REST surface of the conversation
// subsystem: fetch-or-create, history, send, read receipts, unread count.
type ChatHandler struct {
	conversations *services.ConversationService
	pipeline      *services.MessagePipeline
}

// NewChatHandler creates a new chat handler
func NewChatHandler(conversations *services.ConversationService, pipeline *services.MessagePipeline) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		pipeline:      pipeline,
	}
}

// HandleGetByApplication fetches the conversation for an application,
// creating it (and running consultant assignment) on first access
// GET /api/chats/application/{applicationId}
func (h *ChatHandler) HandleGetByApplication(w http.ResponseWriter, r *http.Request) {
	applicationID := r.PathValue("applicationId")
	principal := PrincipalFrom(r.Context())

	result, err := h.conversations.GetOrCreateForApplication(r.Context(), applicationID, principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, result)
}

// HandleListChats returns the conversations visible to the caller
// GET /api/chats
func (h *ChatHandler) HandleListChats(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFrom(r.Context())

	chats, err := h.conversations.ListFor(r.Context(), principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, chats)
}

// HandleGetMessages returns one page of history. Page 1 holds the newest
// messages; each page reads oldest-first.
// GET /api/chats/{chatId}/messages?page=1&limit=50
func (h *ChatHandler) HandleGetMessages(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	principal := PrincipalFrom(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.pipeline.History(r.Context(), chatID, principal, page, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, history)
}

type sendMessageRequest struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// HandleSendMessage persists and broadcasts a message
// POST /api/chats/{chatId}/messages
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	principal := PrincipalFrom(r.Context())
	cred := CredentialFrom(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Malformed request body")
		return
	}

	msg, err := h.pipeline.Send(r.Context(), chatID, principal, cred, req.Content, domain.MessageType(req.Type))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, "Success", msg)
}

// HandleMarkRead marks every unread message not authored by the caller as
// read and returns the count
// POST /api/chats/{chatId}/read
func (h *ChatHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	principal := PrincipalFrom(r.Context())

	count, err := h.pipeline.MarkRead(r.Context(), chatID, principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, map[string]int{"markedCount": count})
}

// HandleUnreadCount returns the caller's unread message total
// GET /api/chats/unread-count
func (h *ChatHandler) HandleUnreadCount(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFrom(r.Context())

	count, err := h.pipeline.UnreadCount(r.Context(), principal)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, map[string]int{"unreadCount": count})
}

// writeDomainError maps the core error taxonomy onto HTTP status codes
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrForbidden):
		WriteError(w, http.StatusForbidden, "You do not have access to this conversation")
	case errors.Is(err, domain.ErrValidation):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCredentialExpiring):
		WriteError(w, http.StatusUnauthorized, "Token expired, please refresh")
	case errors.Is(err, domain.ErrAuth):
		WriteError(w, http.StatusUnauthorized, "Authentication failed")
	case errors.Is(err, domain.ErrNoConsultantAvailable):
		WriteError(w, http.StatusConflict, "No consultant available")
	default:
		slog.Error("Request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
