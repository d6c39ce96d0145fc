package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/stayhub/stayhub-core/internal/domain/booking"
	"github.com/stayhub/stayhub-core/internal/pkg/apiclient"
	"github.com/stayhub/stayhub-core/internal/pkg/jwt"
	"github.com/stayhub/stayhub-core/internal/pkg/session"
)

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
	User        struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
}

// signIn reuses a stored unexpired token or asks the backend for one.
func signIn(ctx context.Context, client *apiclient.Client, store session.Store, email, name string) (*tokenAuth, error) {
	auth := &tokenAuth{store: store, user: &booking.User{Name: name, Email: email}}

	if token, err := store.Token(ctx); err == nil && auth.IsTokenValid(token) {
		if info, err := jwt.Inspect(token, time.Now()); err == nil {
			auth.user.ID = info.Subject
		}
		return auth, nil
	}

	var resp tokenResponse
	if _, err := client.Post(ctx, "/auth/token", map[string]string{"email": email, "name": name}, &resp); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	if err := store.SetToken(ctx, resp.AccessToken); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	auth.user.ID = resp.User.ID
	return auth, nil
}

// tokenAuth reports the signed-in user while the stored token is usable.
type tokenAuth struct {
	store session.Store

	mu   sync.Mutex
	user *booking.User
}

func (a *tokenAuth) User() *booking.User {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Token() == "" {
		return nil
	}
	return a.user
}

func (a *tokenAuth) Token() string {
	token, err := a.store.Token(context.Background())
	if err != nil {
		return ""
	}
	return token
}

func (a *tokenAuth) IsTokenValid(token string) bool {
	if token == "" {
		return false
	}
	_, err := jwt.Inspect(token, time.Now())
	return err == nil
}

type consoleNotifier struct{ out io.Writer }

func (n consoleNotifier) Notify(message string, kind booking.NotificationKind) {
	fmt.Fprintf(n.out, "[%s] %s\n", kind, message)
}
