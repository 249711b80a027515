package remote

import (
	"fmt"
	"math"
	"time"

	"billkeep/internal/core"
)

// APIError carries a non-2xx status from the backend. The single handled 401
// never surfaces as an APIError; it becomes either a successful retry or
// ErrAuthExpired.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         userPayload `json:"user"`
}

type userPayload struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u userPayload) toDomain() core.User {
	return core.User{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type billPayload struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Type        string    `json:"type"`
	Amount      float64   `json:"amount"`
	Category    string    `json:"category"`
	Channel     string    `json:"channel,omitempty"`
	Merchant    string    `json:"merchant,omitempty"`
	Description string    `json:"description,omitempty"`
	Time        time.Time `json:"time"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type billsPage struct {
	Bills []billPayload `json:"bills"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

type categoryPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

type profileUpdateRequest struct {
	Name string `json:"name"`
}

func billToPayload(b core.Bill) billPayload {
	return billPayload{
		ID:          b.ID,
		UserID:      b.UserID,
		Type:        string(b.Type),
		Amount:      b.Amount.Units(),
		Category:    b.Category,
		Channel:     b.Channel,
		Merchant:    b.Merchant,
		Description: b.Description,
		Time:        b.Time,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func (p billPayload) toDomain() core.Bill {
	return core.Bill{
		ID:          p.ID,
		UserID:      p.UserID,
		Type:        core.BillType(p.Type),
		Amount:      core.Money{Cents: int64(math.Round(p.Amount * 100))},
		Category:    p.Category,
		Channel:     p.Channel,
		Merchant:    p.Merchant,
		Description: p.Description,
		Time:        p.Time,
		Synced:      true, // server copies are confirmed by definition
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
