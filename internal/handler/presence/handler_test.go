package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	middlewarePkg "github.com/worldchat/backend/internal/middleware"
	model "github.com/worldchat/backend/internal/model/presence"
	"github.com/worldchat/backend/internal/service/session"
	presencestore "github.com/worldchat/backend/internal/store/presence"
)

type testEnv struct {
	server   *httptest.Server
	store    *presencestore.Store
	sessions *session.Service
	cancel   context.CancelFunc
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := presencestore.NewStore()
	hub := NewHub(store)
	sessions := session.NewService()

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := chi.NewRouter()
	r.Group(func(private chi.Router) {
		private.Use(middlewarePkg.Authenticate(sessions))
		New(store, hub).RegisterRoutes(private)
	})

	srv := httptest.NewServer(r)
	env := &testEnv{server: srv, store: store, sessions: sessions, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return env
}

func (e *testEnv) login(t *testing.T, username string) session.Session {
	t.Helper()
	sess, err := e.sessions.Login(username)
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	return sess
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/presence/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) outgoingMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg outgoingMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read frame err: %v", err)
	}
	return msg
}

func TestUpdateAndSnapshotOverREST(t *testing.T) {
	env := newTestEnv(t)
	sess := env.login(t, "alice")

	payload, _ := json.Marshal(stateUpdate{
		Rotation: model.Rotation{X: 0.1, Y: 0.2},
		Position: model.Position{X: 1, Y: 2, Z: 3},
	})
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/presence/state", bytes.NewReader(payload))
	req.Header.Set("Authorization", "Bearer "+sess.Token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post state err: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, env.server.URL+"/presence/states", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get states err: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		States []model.State `json:"states"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode states err: %v", err)
	}
	if len(body.States) != 1 || body.States[0].UserID != sess.UserID {
		t.Fatalf("unexpected states %+v", body.States)
	}
	if body.States[0].Position.Z != 3 {
		t.Fatalf("position not round-tripped: %+v", body.States[0])
	}
	if body.States[0].LastUpdate.IsZero() {
		t.Fatal("server must stamp LastUpdate")
	}
}

func TestUpdateStateUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.server.URL+"/presence/state", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post err: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/presence/ws?token=nope"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail without a valid token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", resp)
	}
}

func TestWebSocketSnapshotFirst(t *testing.T) {
	env := newTestEnv(t)
	env.store.Upsert("existing-user", model.Rotation{}, model.Position{X: 5})

	sess := env.login(t, "alice")
	conn := env.dial(t, sess.Token)

	frame := readFrame(t, conn)
	if frame.Type != "snapshot" {
		t.Fatalf("first frame must be a snapshot, got %q", frame.Type)
	}
	if len(frame.States) != 1 || frame.States[0].UserID != "existing-user" {
		t.Fatalf("snapshot missing preexisting state: %+v", frame.States)
	}
}

func TestWebSocketBroadcastsStateDiffs(t *testing.T) {
	env := newTestEnv(t)

	watcher := env.login(t, "watcher")
	mover := env.login(t, "mover")

	watchConn := env.dial(t, watcher.Token)
	if frame := readFrame(t, watchConn); frame.Type != "snapshot" {
		t.Fatalf("first frame must be a snapshot, got %q", frame.Type)
	}

	moveConn := env.dial(t, mover.Token)
	if frame := readFrame(t, moveConn); frame.Type != "snapshot" {
		t.Fatalf("first frame must be a snapshot, got %q", frame.Type)
	}

	update, _ := json.Marshal(stateUpdate{
		Position: model.Position{X: 10, Y: 0, Z: -4},
	})
	if err := moveConn.WriteJSON(inboundMessage{Type: "state", Data: update}); err != nil {
		t.Fatalf("write state err: %v", err)
	}

	frame := readFrame(t, watchConn)
	if frame.Type != "state" || frame.State == nil {
		t.Fatalf("expected a state diff, got %+v", frame)
	}
	if frame.State.UserID != mover.UserID || frame.State.Position.X != 10 {
		t.Fatalf("unexpected state diff %+v", frame.State)
	}
}

func TestWebSocketDisconnectRemovesState(t *testing.T) {
	env := newTestEnv(t)

	mover := env.login(t, "mover")
	moveConn := env.dial(t, mover.Token)
	if frame := readFrame(t, moveConn); frame.Type != "snapshot" {
		t.Fatalf("first frame must be a snapshot, got %q", frame.Type)
	}

	update, _ := json.Marshal(stateUpdate{Position: model.Position{X: 1}})
	if err := moveConn.WriteJSON(inboundMessage{Type: "state", Data: update}); err != nil {
		t.Fatalf("write state err: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := env.store.Get(mover.UserID); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("state never landed in the store")
		}
		time.Sleep(5 * time.Millisecond)
	}

	moveConn.Close()

	for {
		if _, ok := env.store.Get(mover.UserID); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("state not removed after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
