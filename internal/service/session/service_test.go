package session_test

import (
	"errors"
	"testing"

	"github.com/worldchat/backend/internal/service/session"
)

func TestLoginRequiresUsername(t *testing.T) {
	svc := session.NewService()

	if _, err := svc.Login("   "); !errors.Is(err, session.ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}
}

func TestLoginKeepsStableUserID(t *testing.T) {
	svc := session.NewService()

	first, err := svc.Login("alice")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}
	second, err := svc.Login("alice")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}

	if first.UserID != second.UserID {
		t.Fatalf("user id changed across logins: %s vs %s", first.UserID, second.UserID)
	}
	if first.Token == second.Token {
		t.Fatal("tokens must be unique per login")
	}
}

func TestResolveAndLogout(t *testing.T) {
	svc := session.NewService()

	sess, err := svc.Login("bob")
	if err != nil {
		t.Fatalf("Login err: %v", err)
	}

	got, ok := svc.Resolve(sess.Token)
	if !ok || got.UserID != sess.UserID {
		t.Fatalf("Resolve failed: ok=%v got=%+v", ok, got)
	}

	if _, ok := svc.Logout(sess.Token); !ok {
		t.Fatal("Logout should report the removed session")
	}
	if _, ok := svc.Resolve(sess.Token); ok {
		t.Fatal("token must be invalid after logout")
	}
}
