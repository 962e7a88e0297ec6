package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	middlewarePkg "github.com/worldchat/backend/internal/middleware"
	model "github.com/worldchat/backend/internal/model/presence"
	"github.com/worldchat/backend/internal/service/session"
	presencestore "github.com/worldchat/backend/internal/store/presence"
)

func setupRouter() (*chi.Mux, *session.Service, *presencestore.Store) {
	sessions := session.NewService()
	states := presencestore.NewStore()
	handler := New(sessions, states)

	r := chi.NewRouter()
	handler.RegisterPublicRoutes(r)
	r.Group(func(private chi.Router) {
		private.Use(middlewarePkg.Authenticate(sessions))
		handler.RegisterRoutes(private)
	})
	return r, sessions, states
}

func TestLoginIssuesSession(t *testing.T) {
	r, _, _ := setupRouter()

	payload, _ := json.Marshal(map[string]string{"username": "alice"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(payload))
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var sess session.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.Token == "" || sess.UserID == "" {
		t.Fatalf("incomplete session %+v", sess)
	}
	if sess.Username != "alice" {
		t.Fatalf("unexpected username %q", sess.Username)
	}
}

func TestLoginRejectsBlankUsername(t *testing.T) {
	r, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"  "}`))
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestLogoutInvalidatesTokenAndEvictsPresence(t *testing.T) {
	r, sessions, states := setupRouter()

	sess, err := sessions.Login("alice")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	states.Upsert(sess.UserID, model.Rotation{}, model.Position{X: 1})

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if _, ok := sessions.Resolve(sess.Token); ok {
		t.Fatal("token must be invalid after logout")
	}
	if _, ok := states.Get(sess.UserID); ok {
		t.Fatal("presence record must be evicted on logout")
	}
}

func TestLogoutRequiresSession(t *testing.T) {
	r, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	resp := httptest.NewRecorder()

	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
