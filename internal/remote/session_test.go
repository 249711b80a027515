package remote

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSessionStateTransitions(t *testing.T) {
	s := NewSession()
	if s.State() != Unauthenticated {
		t.Fatalf("new session: got %v, want unauthenticated", s.State())
	}

	s.SetTokens(TokenPair{AccessToken: "a", RefreshToken: "r"})
	if s.State() != Authenticated {
		t.Fatalf("after SetTokens: got %v", s.State())
	}

	rt, ok := s.beginRefresh()
	if !ok || rt != "r" {
		t.Fatalf("beginRefresh: got %q ok=%v", rt, ok)
	}
	if s.State() != Refreshing {
		t.Fatalf("during refresh: got %v", s.State())
	}

	s.completeRefresh(TokenPair{AccessToken: "a2", RefreshToken: "r2"})
	if s.State() != Authenticated || s.AccessToken() != "a2" {
		t.Fatalf("after completeRefresh: state=%v token=%q", s.State(), s.AccessToken())
	}
}

func TestSessionBeginRefreshWithoutToken(t *testing.T) {
	s := NewSession()
	s.SetTokens(TokenPair{AccessToken: "a"})
	if _, ok := s.beginRefresh(); ok {
		t.Fatal("beginRefresh should fail without a refresh token")
	}
}

func TestSessionLogoutFiresOncePerTransition(t *testing.T) {
	s := NewSession()
	var fired int
	s.SetOnLogout(func() { fired++ })

	s.SetTokens(TokenPair{AccessToken: "a", RefreshToken: "r"})
	s.Logout()
	s.Logout() // already unauthenticated, must not fire again

	if fired != 1 {
		t.Fatalf("logout hook fired %d times, want 1", fired)
	}
	if s.AccessToken() != "" {
		t.Error("tokens should be cleared on logout")
	}

	// A later session can still trigger a second logout.
	s.SetTokens(TokenPair{AccessToken: "a2", RefreshToken: "r2"})
	s.Logout()
	if fired != 2 {
		t.Fatalf("logout hook fired %d times after re-auth, want 2", fired)
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestSessionExpiresWithin(t *testing.T) {
	s := NewSession()

	if s.ExpiresWithin(time.Minute) {
		t.Error("empty session should not report expiring")
	}

	s.SetTokens(TokenPair{AccessToken: signedToken(t, time.Now().Add(10*time.Second))})
	if !s.ExpiresWithin(time.Minute) {
		t.Error("token expiring in 10s should report expiring within 1m")
	}
	if s.ExpiresWithin(time.Second) {
		t.Error("token expiring in 10s should not report expiring within 1s")
	}

	s.SetTokens(TokenPair{AccessToken: signedToken(t, time.Now().Add(time.Hour))})
	if s.ExpiresWithin(time.Minute) {
		t.Error("fresh token should not report expiring")
	}

	// Opaque tokens fall back to the reactive 401 path.
	s.SetTokens(TokenPair{AccessToken: "not-a-jwt"})
	if s.ExpiresWithin(time.Minute) {
		t.Error("unparseable token should report false")
	}
}
