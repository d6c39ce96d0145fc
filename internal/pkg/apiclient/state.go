package apiclient

import (
	"sync"
	"time"
)

// State holds the credentials cache shared by every request of one client:
// the last CSRF token the server issued and the last token-validity verdict.
// Pass the same State to several clients to share it.
type State struct {
	mu sync.Mutex

	csrfToken string

	checkedToken string
	tokenExpiry  time.Time // zero: token has no exp claim
	tokenValid   bool
}

func NewState() *State {
	return &State{}
}

// CSRFToken returns the last-known CSRF token.
func (s *State) CSRFToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csrfToken
}

// SetCSRFToken overwrites the cached token; the server is authoritative so
// the last writer wins.
func (s *State) SetCSRFToken(token string) {
	s.mu.Lock()
	s.csrfToken = token
	s.mu.Unlock()
}

// cachedValidity reports a previous verdict for token, if one still holds.
func (s *State) cachedValidity(token string, now time.Time) (valid, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || token != s.checkedToken {
		return false, false
	}
	if s.tokenValid && !s.tokenExpiry.IsZero() && !now.Before(s.tokenExpiry) {
		return false, true
	}
	return s.tokenValid, true
}

func (s *State) rememberValidity(token string, expiry time.Time, valid bool) {
	s.mu.Lock()
	s.checkedToken = token
	s.tokenExpiry = expiry
	s.tokenValid = valid
	s.mu.Unlock()
}

// ForgetCredentials drops the cached token verdict and CSRF token.
func (s *State) ForgetCredentials() {
	s.mu.Lock()
	s.checkedToken = ""
	s.tokenExpiry = time.Time{}
	s.tokenValid = false
	s.csrfToken = ""
	s.mu.Unlock()
}
