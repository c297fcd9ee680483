package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("test-secret", time.Hour)

	token, err := m.Generate("u1")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != "u1" {
		t.Errorf("UserID = %q, want u1", claims.UserID)
	}

	t.Run("wrong secret", func(t *testing.T) {
		other := NewJWTManager("other-secret", time.Hour)
		if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewJWTManager("test-secret", time.Hour)
		expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		if _, err := expired.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := m.Validate("not.a.token"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("empty uid", func(t *testing.T) {
		if _, err := m.Generate(""); err == nil {
			t.Error("expected error for empty uid")
		}
	})
}

func TestTokenProvider(t *testing.T) {
	ctx := context.Background()
	jwtManager := NewJWTManager("test-secret", time.Hour)
	p := NewTokenProvider(jwtManager, slog.New(slog.DiscardHandler))

	var (
		mu      sync.Mutex
		changes []string
	)
	cancel := p.OnAuthChange(func(uid string) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, uid)
	})

	if p.CurrentUserID() != "" {
		t.Fatalf("expected signed out provider")
	}

	if _, err := p.SignIn(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Errorf("SignIn(\"\") error = %v, want ErrMissingToken", err)
	}
	if _, err := p.SignIn(ctx, "bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("SignIn(bogus) error = %v, want ErrInvalidToken", err)
	}

	token, _ := jwtManager.Generate("u1")
	uid, err := p.SignIn(ctx, token)
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if uid != "u1" || p.CurrentUserID() != "u1" {
		t.Errorf("signed in as %q, current %q", uid, p.CurrentUserID())
	}

	// Same user again does not notify.
	if _, err := p.SignIn(ctx, token); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if err := p.SignOut(ctx); err != nil {
		t.Fatalf("second SignOut failed: %v", err)
	}

	cancel()
	if _, err := p.SignIn(ctx, token); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"u1", ""}
	if len(changes) != len(want) {
		t.Fatalf("changes = %q, want %q", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %q, want %q", i, changes[i], want[i])
		}
	}
}
