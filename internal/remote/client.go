// Package remote translates domain operations into authenticated HTTP calls
// against the backend, transparently recovering from expired access tokens
// with a refresh-once-then-fail policy.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"billkeep/internal/core"
)

// ErrAuthExpired is the terminal authentication failure: the access token
// was rejected and the refresh procedure could not produce a new one. The
// global logout hook has already fired by the time a caller sees this.
var ErrAuthExpired = errors.New("authentication expired")

// Client is the gateway to the backend HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
	session *Session
}

func NewClient(baseURL string, timeout time.Duration, session *Session) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		session: session,
	}
}

// Session exposes the auth state machine the client drives.
func (c *Client) Session() *Session {
	return c.session
}

// Login exchanges credentials for a token pair and the user profile.
func (c *Client) Login(ctx context.Context, email, password string) (core.User, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login",
		credentialsRequest{Email: email, Password: password}, &resp, false)
	if err != nil {
		return core.User{}, err
	}
	c.session.SetTokens(TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	return resp.User.toDomain(), nil
}

// Register creates an account and signs the session in.
func (c *Client) Register(ctx context.Context, email, password, name string) (core.User, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/register",
		credentialsRequest{Email: email, Password: password, Name: name}, &resp, false)
	if err != nil {
		return core.User{}, err
	}
	c.session.SetTokens(TokenPair{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	return resp.User.toDomain(), nil
}

// CreateBill pushes a bill to the backend. The id is client-generated, so
// the server treats it as the idempotency key for repeated pushes.
func (c *Client) CreateBill(ctx context.Context, b core.Bill) error {
	return c.do(ctx, http.MethodPost, "/api/v1/bills", billToPayload(b), nil, true)
}

// UpdateBill replaces the server copy of a bill.
func (c *Client) UpdateBill(ctx context.Context, b core.Bill) error {
	return c.do(ctx, http.MethodPut, "/api/v1/bills/"+url.PathEscape(b.ID), billToPayload(b), nil, true)
}

// DeleteBill removes the server copy of a bill.
func (c *Client) DeleteBill(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/bills/"+url.PathEscape(id), nil, nil, true)
}

// ListBills fetches one page of bills, newest first, plus the server total.
func (c *Client) ListBills(ctx context.Context, page, limit int) ([]core.Bill, int, error) {
	var resp billsPage
	path := fmt.Sprintf("/api/v1/bills?page=%s&limit=%s",
		strconv.Itoa(page), strconv.Itoa(limit))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, 0, err
	}
	bills := make([]core.Bill, len(resp.Bills))
	for i, p := range resp.Bills {
		bills[i] = p.toDomain()
	}
	return bills, resp.Total, nil
}

// ListCategories fetches the server category set.
func (c *Client) ListCategories(ctx context.Context) ([]core.Category, error) {
	var payload []categoryPayload
	if err := c.do(ctx, http.MethodGet, "/api/v1/categories", nil, &payload, true); err != nil {
		return nil, err
	}
	categories := make([]core.Category, len(payload))
	for i, p := range payload {
		categories[i] = core.Category{ID: p.ID, Name: p.Name, Icon: p.Icon, Color: p.Color}
	}
	return categories, nil
}

// GetProfile fetches the current user's profile.
func (c *Client) GetProfile(ctx context.Context) (core.User, error) {
	var payload userPayload
	if err := c.do(ctx, http.MethodGet, "/api/v1/user/profile", nil, &payload, true); err != nil {
		return core.User{}, err
	}
	return payload.toDomain(), nil
}

// UpdateProfile updates the current user's display name.
func (c *Client) UpdateProfile(ctx context.Context, name string) (core.User, error) {
	var payload userPayload
	err := c.do(ctx, http.MethodPut, "/api/v1/user/profile",
		profileUpdateRequest{Name: name}, &payload, true)
	if err != nil {
		return core.User{}, err
	}
	return payload.toDomain(), nil
}

// EnsureFresh refreshes the token pair proactively when the access token
// expires within the given window, sparing the next call a guaranteed 401
// round trip. It is a no-op outside the Authenticated state.
func (c *Client) EnsureFresh(ctx context.Context, window time.Duration) error {
	if c.session.State() != Authenticated || !c.session.ExpiresWithin(window) {
		return nil
	}
	slog.InfoContext(ctx, "Access token expiring soon, refreshing proactively")
	return c.refresh(ctx)
}

// do issues one API call. Authenticated calls attach the bearer token when
// present; a 401 on the first attempt triggers the refresh procedure and
// exactly one retry. Refresh failure is terminal: the session logs out and
// the caller gets ErrAuthExpired.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if authed {
			if token := c.session.AccessToken(); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && authed && attempt == 0 {
			drain(resp)
			if err := c.refresh(ctx); err != nil {
				return err
			}
			slog.DebugContext(ctx, "Access token refreshed, retrying request",
				"method", method, "path", path)
			continue
		}

		return decodeResponse(resp, out)
	}
}

// refresh exchanges the refresh token for a new pair. Any failure, including
// a missing refresh token, forces a global logout.
func (c *Client) refresh(ctx context.Context) error {
	refreshToken, ok := c.session.beginRefresh()
	if !ok {
		slog.WarnContext(ctx, "No refresh token available, logging out")
		c.session.Logout()
		return ErrAuthExpired
	}

	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		c.session.Logout()
		return fmt.Errorf("marshal refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/auth/refresh", bytes.NewReader(payload))
	if err != nil {
		c.session.Logout()
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.session.Logout()
		return fmt.Errorf("%w: refresh call failed: %v", ErrAuthExpired, err)
	}

	var pair authResponse
	if err := decodeResponse(resp, &pair); err != nil {
		slog.WarnContext(ctx, "Token refresh rejected, logging out", "error", err)
		c.session.Logout()
		return ErrAuthExpired
	}

	c.session.completeRefresh(TokenPair{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
	return nil
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil {
		drain(resp)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
