package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"billkeep/internal/core"
	"billkeep/internal/parse"
	"billkeep/internal/remote"
	"billkeep/internal/services"
	"billkeep/internal/storage"
)

type testEnv struct {
	api     *httptest.Server
	store   *storage.Store
	session *remote.Session
	backend *httptest.Server
}

// newTestEnv wires the full facade against a fake backend.
func newTestEnv(t *testing.T, backend http.Handler) *testEnv {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "billkeep.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if backend == nil {
		backend = http.NotFoundHandler()
	}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	session := remote.NewSession()
	client := remote.NewClient(backendSrv.URL, 5*time.Second, session)

	bills := services.NewBillService(store, nil, client)
	syncer := services.NewSyncProcessor(store, client, services.DefaultSyncProcessorConfig())

	srv := NewServer(":0", store, bills, client, session, syncer, parse.NewKeywordParser())
	apiSrv := httptest.NewServer(srv.Handler)
	t.Cleanup(apiSrv.Close)

	return &testEnv{api: apiSrv, store: store, session: session, backend: backendSrv}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) (*http.Response, Envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.api.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, env
}

func dataMap(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	m, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is not an object: %#v", env.Data)
	}
	return m
}

func TestCreateAndListBills(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, created := env.request(t, http.MethodPost, "/api/bills", map[string]any{
		"type":     "expense",
		"amount":   "35.00",
		"category": "餐饮",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %+v", resp.StatusCode, created)
	}
	bill := dataMap(t, created)
	if bill["amount_cents"] != float64(3500) {
		t.Errorf("amount_cents = %v, want 3500", bill["amount_cents"])
	}
	if bill["synced"] != false {
		t.Error("new bill should report synced=false")
	}
	if bill["id"] == "" {
		t.Error("bill should get a generated id")
	}

	resp, listed := env.request(t, http.MethodGet, "/api/bills", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	bills := dataMap(t, listed)["bills"].([]any)
	if len(bills) != 1 {
		t.Fatalf("expected 1 bill, got %d", len(bills))
	}
}

func TestCreateBillRejectsBadAmount(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.request(t, http.MethodPost, "/api/bills", map[string]any{
		"type":     "expense",
		"amount":   "-5",
		"category": "餐饮",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestGetBillNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.request(t, http.MethodGet, "/api/bills/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeleteAbsentBillSucceeds(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.request(t, http.MethodDelete, "/api/bills/missing", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestParseEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, env2 := env.request(t, http.MethodPost, "/api/bills/parse", map[string]any{
		"text": "午餐 35.00",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	drafts := dataMap(t, env2)["drafts"].([]any)
	if len(drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(drafts))
	}
	draft := drafts[0].(map[string]any)
	if draft["category"] != "餐饮" || draft["amount_cents"] != float64(3500) {
		t.Errorf("draft = %v", draft)
	}
}

func TestMonthlySummary(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	seed := []core.Bill{
		{
			ID: "b-exp", UserID: "u-1", Type: core.Expense,
			Amount: core.Money{Cents: 3500}, Category: "餐饮",
			Time:      time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		},
		{
			ID: "b-inc", UserID: "u-1", Type: core.Income,
			Amount: core.Money{Cents: 800000}, Category: "工资",
			Time:      time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		},
	}
	for _, b := range seed {
		if err := env.store.SaveBill(ctx, b); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	resp, got := env.request(t, http.MethodGet, "/api/stats/summary?year=2024&month=1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data := dataMap(t, got)
	if data["income_cents"] != float64(800000) {
		t.Errorf("income = %v, want 800000", data["income_cents"])
	}
	if data["expense_cents"] != float64(3500) {
		t.Errorf("expense = %v, want 3500", data["expense_cents"])
	}
	if data["balance_cents"] != float64(796500) {
		t.Errorf("balance = %v, want 796500", data["balance_cents"])
	}
	categories := data["categories"].([]any)
	if len(categories) != 1 {
		t.Fatalf("expected 1 expense category, got %d", len(categories))
	}
	share := categories[0].(map[string]any)
	if share["name"] != "餐饮" || share["percentage"] != float64(100) {
		t.Errorf("share = %v", share)
	}
}

func TestSummaryRejectsBadPeriod(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, _ := env.request(t, http.MethodGet, "/api/stats/summary?period=decade", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTrendEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, got := env.request(t, http.MethodGet, "/api/stats/trend?days=7", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	points := dataMap(t, got)["points"].([]any)
	if len(points) != 7 {
		t.Errorf("expected 7 trend points, got %d", len(points))
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, got := env.request(t, http.MethodGet, "/api/categories", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	categories, ok := got.Data.([]any)
	if !ok || len(categories) != 10 {
		t.Errorf("expected the 10 seeded categories, got %#v", got.Data)
	}
}

func TestLoginProxiesBackendAndCachesUser(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"user": {"id": "u-1", "email": "me@example.com", "name": "Me"}
		}`)
	})
	env := newTestEnv(t, mux)

	resp, got := env.request(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "me@example.com",
		"password": "secret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %+v", resp.StatusCode, got)
	}
	if env.session.State() != remote.Authenticated {
		t.Error("session should be authenticated after login")
	}

	user, err := env.store.GetUser(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("cached user: %v", err)
	}
	if user.Email != "me@example.com" {
		t.Errorf("cached email = %q", user.Email)
	}
}

func TestLoginSurfacesBackendStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "wrong password"}`)
	})
	env := newTestEnv(t, mux)

	resp, got := env.request(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "me@example.com",
		"password": "nope",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if got.Message != "wrong password" {
		t.Errorf("message = %q", got.Message)
	}
}

func TestSyncEndpointsAgainstBackend(t *testing.T) {
	var pushed int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/bills", func(w http.ResponseWriter, r *http.Request) {
		pushed++
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{}`)
	})
	env := newTestEnv(t, mux)
	env.session.SetTokens(remote.TokenPair{AccessToken: "at", RefreshToken: "rt"})

	if _, created := env.request(t, http.MethodPost, "/api/bills", map[string]any{
		"type": "expense", "amount": "12.00", "category": "餐饮",
	}); created.Code != http.StatusCreated {
		t.Fatalf("create failed: %+v", created)
	}

	_, got := env.request(t, http.MethodGet, "/api/sync", nil)
	if dataMap(t, got)["pending"] != float64(1) {
		t.Fatalf("pending = %v, want 1", dataMap(t, got)["pending"])
	}

	resp, result := env.request(t, http.MethodPost, "/api/sync", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, body %+v", resp.StatusCode, result)
	}
	if dataMap(t, result)["pushed"] != float64(1) {
		t.Errorf("pushed = %v, want 1", dataMap(t, result)["pushed"])
	}
	if pushed != 1 {
		t.Errorf("backend saw %d pushes, want 1", pushed)
	}

	_, after := env.request(t, http.MethodGet, "/api/sync", nil)
	if dataMap(t, after)["pending"] != float64(0) {
		t.Errorf("pending after sync = %v, want 0", dataMap(t, after)["pending"])
	}
}

func TestSyncWithExpiredSessionReturns401(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/bills", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "token expired"}`)
	})
	env := newTestEnv(t, mux)
	// Access token only: the 401 cannot be refreshed away.
	env.session.SetTokens(remote.TokenPair{AccessToken: "stale"})

	if _, created := env.request(t, http.MethodPost, "/api/bills", map[string]any{
		"type": "expense", "amount": "1.00", "category": "餐饮",
	}); created.Code != http.StatusCreated {
		t.Fatalf("create failed: %+v", created)
	}

	resp, _ := env.request(t, http.MethodPost, "/api/sync", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if env.session.State() != remote.Unauthenticated {
		t.Error("session should be logged out after terminal auth failure")
	}
}

func TestLogoutClearsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.session.SetTokens(remote.TokenPair{AccessToken: "at", RefreshToken: "rt"})

	resp, _ := env.request(t, http.MethodPost, "/api/auth/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if env.session.State() != remote.Unauthenticated {
		t.Error("session should be unauthenticated after logout")
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.api.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestProfilePassthrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/user/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "u-1", "email": "me@example.com", "name": "Me"}`)
	})
	mux.HandleFunc("PUT /api/v1/user/profile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "u-1", "email": "me@example.com", "name": "New Name"}`)
	})
	env := newTestEnv(t, mux)
	env.session.SetTokens(remote.TokenPair{AccessToken: "at", RefreshToken: "rt"})

	resp, got := env.request(t, http.MethodGet, "/api/profile", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get profile status = %d", resp.StatusCode)
	}
	if dataMap(t, got)["email"] != "me@example.com" {
		t.Errorf("profile = %v", got.Data)
	}

	resp, got = env.request(t, http.MethodPut, "/api/profile", map[string]any{"name": "New Name"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update profile status = %d", resp.StatusCode)
	}
	if dataMap(t, got)["name"] != "New Name" {
		t.Errorf("updated profile = %v", got.Data)
	}
}
