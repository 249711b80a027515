package remote

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// State tracks where the session sits in the refresh cycle. The only
// transition out of Refreshing is to Authenticated (refresh succeeded) or
// Unauthenticated (terminal failure, logout fired).
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Refreshing
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

// TokenPair is the access/refresh credential pair issued by the backend.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Session holds the current token pair and the auth state machine. The
// logout hook fires exactly once per transition into Unauthenticated, which
// is how the app clears cached credentials and local user data.
type Session struct {
	mu       sync.Mutex
	state    State
	tokens   TokenPair
	onLogout func()
}

func NewSession() *Session {
	return &Session{state: Unauthenticated}
}

// SetOnLogout registers the global logout side effect.
func (s *Session) SetOnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = fn
}

// SetTokens installs a fresh pair, e.g. after login or register.
func (s *Session) SetTokens(p TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = p
	if p.AccessToken != "" {
		s.state = Authenticated
	}
}

func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.AccessToken
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// beginRefresh moves the session into Refreshing and hands out the refresh
// token. It reports false when there is no refresh token to exchange, in
// which case the caller must treat the failure as terminal.
func (s *Session) beginRefresh() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens.RefreshToken == "" {
		return "", false
	}
	s.state = Refreshing
	return s.tokens.RefreshToken, true
}

// completeRefresh installs the new pair and returns to Authenticated.
func (s *Session) completeRefresh(p TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = p
	s.state = Authenticated
}

// Logout clears credentials and fires the logout hook. Firing happens only
// on the transition into Unauthenticated, so repeated calls are safe.
func (s *Session) Logout() {
	s.mu.Lock()
	wasAuthed := s.state != Unauthenticated
	s.state = Unauthenticated
	s.tokens = TokenPair{}
	hook := s.onLogout
	s.mu.Unlock()

	if wasAuthed && hook != nil {
		hook()
	}
}

// ExpiresWithin reports whether the access token's exp claim falls within
// the next d. The claim is read without signature verification; the client
// holds no signing key and the check only schedules proactive refreshes.
// Tokens without a readable exp claim report false and rely on the reactive
// 401 path.
func (s *Session) ExpiresWithin(d time.Duration) bool {
	token := s.AccessToken()
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < d
}
