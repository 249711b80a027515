package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"billkeep/internal/core"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *Session) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	session := NewSession()
	return NewClient(srv.URL, 5*time.Second, session), session
}

func authedSession(s *Session) {
	s.SetTokens(TokenPair{AccessToken: "stale-access", RefreshToken: "refresh-1"})
}

func TestBearerHeaderAttached(t *testing.T) {
	var gotAuth string
	client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]categoryPayload{})
	}))
	authedSession(session)

	if _, err := client.ListCategories(context.Background()); err != nil {
		t.Fatalf("list categories: %v", err)
	}
	if gotAuth != "Bearer stale-access" {
		t.Errorf("authorization header: got %q", gotAuth)
	}
}

func TestRefreshAndRetryOnce(t *testing.T) {
	var billCalls, refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/bills", func(w http.ResponseWriter, r *http.Request) {
		if billCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer fresh-access" {
			t.Errorf("retry should carry new token, got %q", got)
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken != "refresh-1" {
			t.Errorf("unexpected refresh request: %+v err=%v", req, err)
		}
		json.NewEncoder(w).Encode(authResponse{AccessToken: "fresh-access", RefreshToken: "refresh-2"})
	})

	client, session := newTestClient(t, mux)
	authedSession(session)

	bill := core.Bill{
		ID: "b-1", UserID: "u-1", Type: core.Expense,
		Amount: core.Money{Cents: 3500}, Category: "餐饮",
		Time: time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC),
	}
	if err := client.CreateBill(context.Background(), bill); err != nil {
		t.Fatalf("create bill after refresh should succeed: %v", err)
	}

	if got := billCalls.Load(); got != 2 {
		t.Errorf("original call retried %d times, want exactly one retry (2 calls)", got)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("refresh called %d times, want 1", got)
	}
	if session.State() != Authenticated {
		t.Errorf("session state: got %v, want authenticated", session.State())
	}
}

func TestRefreshFailureIsTerminal(t *testing.T) {
	var logouts atomic.Int32
	var billCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/bills", func(w http.ResponseWriter, r *http.Request) {
		billCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	client, session := newTestClient(t, mux)
	authedSession(session)
	session.SetOnLogout(func() { logouts.Add(1) })

	bill := core.Bill{
		ID: "b-1", UserID: "u-1", Type: core.Expense,
		Amount: core.Money{Cents: 100}, Category: "餐饮", Time: time.Now(),
	}
	err := client.CreateBill(context.Background(), bill)
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}

	if got := billCalls.Load(); got != 1 {
		t.Errorf("original call issued %d times, want 1 (no retry after failed refresh)", got)
	}
	if got := logouts.Load(); got != 1 {
		t.Errorf("logout fired %d times, want exactly 1", got)
	}
	if session.State() != Unauthenticated {
		t.Errorf("session state: got %v, want unauthenticated", session.State())
	}
	if session.AccessToken() != "" {
		t.Error("credentials should be cleared after terminal auth failure")
	}
}

func TestMissingRefreshTokenLogsOutWithoutNetworkCall(t *testing.T) {
	var refreshCalls atomic.Int32
	var logouts atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/bills/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	})

	client, session := newTestClient(t, mux)
	session.SetTokens(TokenPair{AccessToken: "stale-access"}) // no refresh token
	session.SetOnLogout(func() { logouts.Add(1) })

	err := client.DeleteBill(context.Background(), "b-1")
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if refreshCalls.Load() != 0 {
		t.Error("refresh endpoint should not be called without a refresh token")
	}
	if logouts.Load() != 1 {
		t.Errorf("logout fired %d times, want 1", logouts.Load())
	}
}

func TestNon2xxSurfacesAPIError(t *testing.T) {
	client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "amount required"})
	}))
	authedSession(session)

	err := client.DeleteBill(context.Background(), "b-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("status: got %d, want 422", apiErr.Status)
	}
	if apiErr.Message != "amount required" {
		t.Errorf("message: got %q", apiErr.Message)
	}
}

func TestLoginStoresTokenPair(t *testing.T) {
	client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/auth/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req credentialsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Email != "me@example.com" || req.Password != "secret123" {
			t.Errorf("unexpected credentials: %+v", req)
		}
		json.NewEncoder(w).Encode(authResponse{
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			User:         userPayload{ID: "u-1", Email: req.Email, Name: "Me"},
		})
	}))

	user, err := client.Login(context.Background(), "me@example.com", "secret123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != "u-1" {
		t.Errorf("user id: got %q", user.ID)
	}
	if session.AccessToken() != "access-1" {
		t.Errorf("access token not stored, got %q", session.AccessToken())
	}
	if session.State() != Authenticated {
		t.Errorf("state: got %v, want authenticated", session.State())
	}
}

func TestListBillsRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC)
	client, session := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("page: got %q", got)
		}
		json.NewEncoder(w).Encode(billsPage{
			Bills: []billPayload{{
				ID: "b-1", UserID: "u-1", Type: "expense", Amount: 35.00,
				Category: "餐饮", Time: ts,
			}},
			Total: 41, Page: 2, Limit: 20,
		})
	}))
	authedSession(session)

	bills, total, err := client.ListBills(context.Background(), 2, 20)
	if err != nil {
		t.Fatalf("list bills: %v", err)
	}
	if total != 41 || len(bills) != 1 {
		t.Fatalf("got total=%d len=%d", total, len(bills))
	}
	b := bills[0]
	if b.Amount.Cents != 3500 {
		t.Errorf("amount: got %d cents, want 3500", b.Amount.Cents)
	}
	if !b.Synced {
		t.Error("server bills should come back marked synced")
	}
	if !b.Time.Equal(ts) {
		t.Errorf("time: got %v, want %v", b.Time, ts)
	}
}

func TestEnsureFreshRefreshesExpiringToken(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		json.NewEncoder(w).Encode(authResponse{AccessToken: "fresh-access", RefreshToken: "refresh-2"})
	})

	client, session := newTestClient(t, mux)
	session.SetTokens(TokenPair{
		AccessToken:  signedToken(t, time.Now().Add(30*time.Second)),
		RefreshToken: "refresh-1",
	})

	if err := client.EnsureFresh(context.Background(), 5*time.Minute); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("refresh called %d times, want 1", refreshCalls.Load())
	}
	if session.AccessToken() != "fresh-access" {
		t.Errorf("token not rotated, got %q", session.AccessToken())
	}
}

func TestEnsureFreshNoopOnFreshToken(t *testing.T) {
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	})

	client, session := newTestClient(t, mux)
	session.SetTokens(TokenPair{
		AccessToken:  signedToken(t, time.Now().Add(time.Hour)),
		RefreshToken: "refresh-1",
	})

	if err := client.EnsureFresh(context.Background(), 5*time.Minute); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if refreshCalls.Load() != 0 {
		t.Error("fresh token should not trigger a refresh")
	}
}
