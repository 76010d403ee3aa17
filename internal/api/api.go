package api

// Package api is the REST fallback surface mirroring the WebSocket text
// pipeline, plus message/conversation management.

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aichat/relay/internal/auth"
	"github.com/aichat/relay/internal/logger"
	"github.com/aichat/relay/internal/pipeline"
	"github.com/aichat/relay/internal/store"
)

// Handler serves the chat REST routes.
type Handler struct {
	verifier auth.Verifier
	store    store.Store
	pipeline *pipeline.Pipeline
}

// New creates the REST handler with explicitly passed dependencies.
func New(verifier auth.Verifier, st store.Store, p *pipeline.Pipeline) *Handler {
	return &Handler{verifier: verifier, store: st, pipeline: p}
}

// Register attaches all chat routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.authed(h.sendMessage))
	mux.HandleFunc("GET /api/chat/messages", h.authed(h.listMessages))
	mux.HandleFunc("GET /api/chat/conversations", h.authed(h.listConversations))
	mux.HandleFunc("DELETE /api/chat/conversations", h.authed(h.deleteAllConversations))
	mux.HandleFunc("DELETE /api/chat/message/{message_id}", h.authed(h.deleteMessage))
	mux.HandleFunc("PUT /api/chat/message/{message_id}", h.authed(h.updateMessage))
	mux.HandleFunc("DELETE /api/chat/conversation/{conversation_ref}", h.authed(h.deleteConversation))
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims auth.Claims)

// authed verifies the bearer token before the route handler runs.
func (h *Handler) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := h.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r, claims)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": message})
}

// writeStoreError maps store sentinels to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, "not owner")
	case errors.Is(err, store.ErrNotEditable):
		writeError(w, http.StatusBadRequest, "only user messages can be edited")
	default:
		logger.L.Error("store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	var body struct {
		Message         string `json:"message"`
		ConversationRef string `json:"conversation_ref,omitempty"`
		Language        string `json:"language,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := h.pipeline.ProcessText(r.Context(), claims.SubjectID, body.Message, body.ConversationRef, body.Language)
	if err != nil && !errors.Is(err, pipeline.ErrAssistantNotPersisted) {
		writeStoreError(w, err)
		return
	}
	if err != nil {
		// The reply was generated; report the result anyway.
		logger.L.Warn("assistant message not persisted", "user", claims.SubjectID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_ref": res.ConversationRef,
		"user_message":     res.UserMessage,
		"ai_message":       res.AIMessage,
	})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(q.Get("offset"))

	msgs, err := h.store.Messages(r.Context(), claims.SubjectID, q.Get("conversation_ref"), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	convs, err := h.store.Conversations(r.Context(), claims.SubjectID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (h *Handler) deleteMessage(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	if err := h.store.DeleteMessage(r.Context(), r.PathValue("message_id"), claims.SubjectID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "message deleted"})
}

func (h *Handler) updateMessage(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := h.store.UpdateMessage(r.Context(), r.PathValue("message_id"), claims.SubjectID, body.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) deleteConversation(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	if err := h.store.DeleteConversation(r.Context(), r.PathValue("conversation_ref"), claims.SubjectID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "conversation deleted"})
}

func (h *Handler) deleteAllConversations(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
	if err := h.store.DeleteAllConversations(r.Context(), claims.SubjectID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "all conversations deleted"})
}
