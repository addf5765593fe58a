package session

import (
	"context"
	"errors"
	"testing"
)

func TestUserID(t *testing.T) {
	ctx := WithUserID(context.Background(), " user-1 ")
	id, err := UserID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != "user-1" {
		t.Errorf("UserID = %q, want user-1", id)
	}
}

func TestUserID_NoSession(t *testing.T) {
	if _, err := UserID(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession, got %v", err)
	}
	ctx := WithUserID(context.Background(), "   ")
	if _, err := UserID(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("blank id: expected ErrNoSession, got %v", err)
	}
}
