// Package auth identifies the signed-in traveler.
//
// The sync core only needs the current user id and a stream of changes to it;
// Provider is that capability. TokenProvider implements it on top of signed
// session tokens issued by the identity service.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNotAuthenticated is returned by operations that need a signed-in user
// when there is none.
var ErrNotAuthenticated = errors.New("not authenticated")

// Provider reports who is signed in.
type Provider interface {
	// CurrentUserID returns the signed-in user id, or "" when signed out.
	CurrentUserID() string

	// OnAuthChange registers fn to be called with the new user id ("" on
	// sign-out) after every change. The returned func unregisters it.
	OnAuthChange(fn func(uid string)) (cancel func())

	// SignOut ends the session.
	SignOut(ctx context.Context) error
}

// Ensure TokenProvider implements Provider
var _ Provider = (*TokenProvider)(nil)

// TokenProvider is a Provider whose session is opened by presenting a token.
type TokenProvider struct {
	jwt    *JWTManager
	logger *slog.Logger

	mu        sync.Mutex
	uid       string
	nextID    int
	listeners map[int]func(string)
}

// NewTokenProvider creates a signed-out provider.
func NewTokenProvider(jwt *JWTManager, logger *slog.Logger) *TokenProvider {
	return &TokenProvider{
		jwt:       jwt,
		logger:    logger.With("component", "auth"),
		listeners: make(map[int]func(string)),
	}
}

// SignIn validates token and makes its subject the current user. Signing in
// again as the same user is a no-op; signing in as someone else replaces the
// session.
func (p *TokenProvider) SignIn(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	claims, err := p.jwt.Validate(token)
	if err != nil {
		return "", err
	}
	p.set(claims.UserID)
	return claims.UserID, nil
}

// SignOut clears the session. It is a no-op when signed out.
func (p *TokenProvider) SignOut(ctx context.Context) error {
	p.set("")
	return nil
}

// CurrentUserID returns the signed-in user id, or "".
func (p *TokenProvider) CurrentUserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uid
}

// OnAuthChange registers fn. Listeners run on the goroutine that changed the
// session, after the provider's lock is released.
func (p *TokenProvider) OnAuthChange(fn func(uid string)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *TokenProvider) set(uid string) {
	p.mu.Lock()
	if p.uid == uid {
		p.mu.Unlock()
		return
	}
	p.uid = uid
	fns := make([]func(string), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	if uid == "" {
		p.logger.Info("Signed out")
	} else {
		p.logger.Info("Signed in", "user_id", uid)
	}
	for _, fn := range fns {
		fn(uid)
	}
}
