package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aichat/relay/internal/auth"
	"github.com/aichat/relay/internal/config"
	"github.com/aichat/relay/internal/llm"
	"github.com/aichat/relay/internal/pipeline"
	"github.com/aichat/relay/internal/store"
)

type apiHarness struct {
	mux      *http.ServeMux
	store    store.Store
	verifier *auth.JWTVerifier
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	verifier := auth.NewJWTVerifier(config.AuthConfig{JWTSecret: "test-secret"})
	h := New(verifier, st, pipeline.New(st, llm.NewGenerator(nil, "gpt-3.5-turbo")))
	mux := http.NewServeMux()
	h.Register(mux)
	return &apiHarness{mux: mux, store: st, verifier: verifier}
}

func (h *apiHarness) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := h.verifier.Sign(auth.Claims{SubjectID: userID, DisplayName: userID, Role: auth.RoleUser}, time.Hour)
	require.NoError(t, err)
	return token
}

func (h *apiHarness) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	return resp.Data
}

func TestSendMessage_RequiresAuth(t *testing.T) {
	h := newAPIHarness(t)
	rec := h.do(t, http.MethodPost, "/api/chat", "", `{"message":"hello"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/chat", "not-a-token", `{"message":"hello"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendMessage_PersistsBothSides(t *testing.T) {
	h := newAPIHarness(t)
	token := h.token(t, "user-1")

	rec := h.do(t, http.MethodPost, "/api/chat", token, `{"message":"hello there"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeData(t, rec)
	ref, ok := data["conversation_ref"].(string)
	require.True(t, ok)
	require.NotEmpty(t, ref)

	msgs, err := h.store.Messages(t.Context(), "user-1", ref, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, store.SenderUser, msgs[0].Sender)
	require.Equal(t, "hello there", msgs[0].Content)
	require.Equal(t, store.SenderAI, msgs[1].Sender)
	require.NotEmpty(t, msgs[1].Content)
}

func TestSendMessage_EmptyRejected(t *testing.T) {
	h := newAPIHarness(t)
	token := h.token(t, "user-1")

	rec := h.do(t, http.MethodPost, "/api/chat", token, `{"message":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/chat", token, `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_ContinuesConversation(t *testing.T) {
	h := newAPIHarness(t)
	token := h.token(t, "user-1")

	rec := h.do(t, http.MethodPost, "/api/chat", token, `{"message":"hello"}`)
	ref := decodeData(t, rec)["conversation_ref"].(string)

	rec = h.do(t, http.MethodPost, "/api/chat", token, `{"message":"help me","conversation_ref":"`+ref+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ref, decodeData(t, rec)["conversation_ref"])

	msgs, err := h.store.Messages(t.Context(), "user-1", ref, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
}

func TestListMessages_ScopedToOwner(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.token(t, "alice")
	bob := h.token(t, "bob")

	h.do(t, http.MethodPost, "/api/chat", alice, `{"message":"hello from alice"}`)

	rec := h.do(t, http.MethodGet, "/api/chat/messages", bob, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Empty(t, data["messages"])

	rec = h.do(t, http.MethodGet, "/api/chat/messages", alice, "")
	data = decodeData(t, rec)
	require.Len(t, data["messages"], 2)
}

func TestListConversations(t *testing.T) {
	h := newAPIHarness(t)
	token := h.token(t, "user-1")

	h.do(t, http.MethodPost, "/api/chat", token, `{"message":"first"}`)
	h.do(t, http.MethodPost, "/api/chat", token, `{"message":"second"}`)

	rec := h.do(t, http.MethodGet, "/api/chat/conversations", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData(t, rec)
	require.Len(t, data["conversations"], 2)
}

func TestDeleteMessage_OwnershipEnforced(t *testing.T) {
	h := newAPIHarness(t)
	alice := h.token(t, "alice")
	bob := h.token(t, "bob")

	rec := h.do(t, http.MethodPost, "/api/chat", alice, `{"message":"hello"}`)
	ref := decodeData(t, rec)["conversation_ref"].(string)
	msgs, err := h.store.Messages(t.Context(), "alice", ref, 10, 0)
	require.NoError(t, err)

	rec = h.do(t, http.MethodDelete, "/api/chat/message/"+msgs[0].ID, bob, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/chat/message/"+msgs[0].ID, alice, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/chat/message/"+msgs[0].ID, alice, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateMessage_OnlyUserMessages(t *testing.T) {
	h := newAPIHarness(t)
	token := h.token(t, "user-1")

	rec := h.do(t, http.MethodPost, "/api/chat", token, `{"message":"original"}`)
	ref := decodeData(t, rec)["conversation_ref"].(string)
	msgs, err := h.store.Messages(t.Context(), "user-1", ref, 10, 0)
	require.NoError(t, err)

	rec = h.do(t, http.MethodPut, "/api/chat/message/"+msgs[0].ID, token, `{"content":"edited"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPut, "/api/chat/message/"+msgs[1].ID, token, `{"content":"nope"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	updated, err := h.store.Messages(t.Context(), "user-1", ref, 10, 0)
	require.NoError(t, err)
	require.Equal(t, "edited", updated[0].Content)
}

func TestDeleteConversation(t *testing.T) {
	h := newAPIHarness(t)
	token := h.token(t, "user-1")

	rec := h.do(t, http.MethodPost, "/api/chat", token, `{"message":"hello"}`)
	ref := decodeData(t, rec)["conversation_ref"].(string)

	rec = h.do(t, http.MethodDelete, "/api/chat/conversation/"+ref, token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/chat/conversation/"+ref, token, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAllConversations(t *testing.T) {
	h := newAPIHarness(t)
	token := h.token(t, "user-1")

	h.do(t, http.MethodPost, "/api/chat", token, `{"message":"one"}`)
	h.do(t, http.MethodPost, "/api/chat", token, `{"message":"two"}`)

	rec := h.do(t, http.MethodDelete, "/api/chat/conversations", token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/chat/conversations", token, "")
	require.Empty(t, decodeData(t, rec)["conversations"])
}
