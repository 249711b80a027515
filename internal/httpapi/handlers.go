package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"billkeep/internal/core"
	"billkeep/internal/remote"
	"billkeep/internal/storage"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxParseBytes    = 64 << 10
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type billRequest struct {
	Type        string     `json:"type"`
	Amount      string     `json:"amount"`
	Category    string     `json:"category"`
	Channel     string     `json:"channel"`
	Merchant    string     `json:"merchant"`
	Description string     `json:"description"`
	Time        *time.Time `json:"time"`
}

type parseRequest struct {
	Text string `json:"text"`
}

type billDTO struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Type        string    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	Amount      string    `json:"amount"`
	Category    string    `json:"category"`
	Channel     string    `json:"channel,omitempty"`
	Merchant    string    `json:"merchant,omitempty"`
	Description string    `json:"description,omitempty"`
	Time        time.Time `json:"time"`
	Synced      bool      `json:"synced"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type userDTO struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type categoryDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

type draftDTO struct {
	Type        string    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	Amount      string    `json:"amount"`
	Category    string    `json:"category"`
	Merchant    string    `json:"merchant,omitempty"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
}

type categoryShareDTO struct {
	Name        string  `json:"name"`
	AmountCents int64   `json:"amount_cents"`
	Percentage  float64 `json:"percentage"`
}

type summaryDTO struct {
	From         time.Time          `json:"from"`
	To           time.Time          `json:"to"`
	IncomeCents  int64              `json:"income_cents"`
	ExpenseCents int64              `json:"expense_cents"`
	BalanceCents int64              `json:"balance_cents"`
	Categories   []categoryShareDTO `json:"categories"`
}

type trendPointDTO struct {
	Date         string `json:"date"`
	IncomeCents  int64  `json:"income_cents"`
	ExpenseCents int64  `json:"expense_cents"`
}

func billToDTO(b core.Bill) billDTO {
	return billDTO{
		ID:          b.ID,
		UserID:      b.UserID,
		Type:        string(b.Type),
		AmountCents: b.Amount.Cents,
		Amount:      b.Amount.String(),
		Category:    b.Category,
		Channel:     b.Channel,
		Merchant:    b.Merchant,
		Description: b.Description,
		Time:        b.Time,
		Synced:      b.Synced,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func billsToDTO(bills []core.Bill) []billDTO {
	out := make([]billDTO, 0, len(bills))
	for _, b := range bills {
		out = append(out, billToDTO(b))
	}
	return out
}

func userToDTO(u core.User) userDTO {
	return userDTO{ID: u.ID, Email: u.Email, Name: u.Name}
}

// decodeBody parses a JSON body into dst with a conservative size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxParseBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeDomainError maps the error taxonomy onto HTTP statuses: expired
// sessions to 401, backend rejections to their own status, missing rows to
// 404, validation to 422, everything else to 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *remote.APIError
	switch {
	case errors.Is(err, remote.ErrAuthExpired):
		writeError(w, http.StatusUnauthorized, "session expired, please log in again")
	case errors.As(err, &apiErr):
		writeError(w, apiErr.Status, apiErr.Message)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method, "url", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		core.ErrInvalidType,
		core.ErrInvalidAmount,
		core.ErrEmptyCategory,
		core.ErrZeroTime,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := s.store.SaveUser(r.Context(), user); err != nil {
		slog.WarnContext(r.Context(), "Failed to cache user locally",
			"user_id", user.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, "logged in", userToDTO(user))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := s.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	if err := s.store.SaveUser(r.Context(), user); err != nil {
		slog.WarnContext(r.Context(), "Failed to cache user locally",
			"user_id", user.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, "registered", userToDTO(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.session.Logout()
	writeJSON(w, http.StatusOK, "logged out", nil)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.GetProfile(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "ok", userToDTO(user))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	user, err := s.auth.UpdateProfile(r.Context(), req.Name)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := s.store.SaveUser(r.Context(), user); err != nil {
		slog.WarnContext(r.Context(), "Failed to refresh cached user",
			"user_id", user.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, "profile updated", userToDTO(user))
}

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultPageLimit)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}

	bills, err := s.store.GetBills(r.Context(), limit, (page-1)*limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, "ok", map[string]any{
		"bills": billsToDTO(bills),
		"page":  page,
		"limit": limit,
	})
}

func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := s.store.GetBill(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "ok", billToDTO(bill))
}

func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var req billRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bill, err := billFromRequest(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	created, err := s.bills.CreateBill(r.Context(), bill)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, "bill created", billToDTO(created))
}

func (s *Server) handleUpdateBill(w http.ResponseWriter, r *http.Request) {
	var req billRequest
	if !decodeBody(w, r, &req) {
		return
	}

	bill, err := billFromRequest(req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	bill.ID = r.PathValue("id")

	updated, err := s.bills.UpdateBill(r.Context(), bill)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "bill updated", billToDTO(updated))
}

func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := s.bills.DeleteBill(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "bill deleted", nil)
}

func billFromRequest(req billRequest) (core.Bill, error) {
	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return core.Bill{}, err
	}
	bill := core.Bill{
		Type:        core.BillType(req.Type),
		Amount:      core.Money{Cents: cents},
		Category:    strings.TrimSpace(req.Category),
		Channel:     strings.TrimSpace(req.Channel),
		Merchant:    strings.TrimSpace(req.Merchant),
		Description: strings.TrimSpace(req.Description),
	}
	if req.Time != nil {
		bill.Time = req.Time.UTC()
	}
	return bill, nil
}

func (s *Server) handleParseBills(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	drafts, err := s.parser.Parse(r.Context(), req.Text)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]draftDTO, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, draftDTO{
			Type:        string(d.Type),
			AmountCents: d.Amount.Cents,
			Amount:      d.Amount.String(),
			Category:    d.Category,
			Merchant:    d.Merchant,
			Description: d.Description,
			Time:        d.Time,
		})
	}
	writeJSON(w, http.StatusOK, "ok", map[string]any{"drafts": out})
}

// handleSummary reports totals for a period: month (default), week, or year.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	var from, to time.Time

	switch period := r.URL.Query().Get("period"); period {
	case "", "month":
		year := queryInt(r, "year", now.Year())
		month := queryInt(r, "month", int(now.Month()))
		if month < 1 || month > 12 {
			writeError(w, http.StatusBadRequest, "month must be between 1 and 12")
			return
		}
		from, to = core.MonthRange(year, time.Month(month), time.UTC)
	case "week":
		from, to = core.WeekRange(now)
	case "year":
		from, to = core.YearRange(queryInt(r, "year", now.Year()), time.UTC)
	default:
		writeError(w, http.StatusBadRequest, "period must be month, week or year")
		return
	}

	bills, err := s.store.GetBillsInRange(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	summary := core.Summarize(bills, from, to)
	dto := summaryDTO{
		From:         summary.From,
		To:           summary.To,
		IncomeCents:  summary.Income.Cents,
		ExpenseCents: summary.Expense.Cents,
		BalanceCents: summary.Balance.Cents,
		Categories:   make([]categoryShareDTO, 0, len(summary.Categories)),
	}
	for _, c := range summary.Categories {
		dto.Categories = append(dto.Categories, categoryShareDTO{
			Name:        c.Name,
			AmountCents: c.Amount.Cents,
			Percentage:  c.Percentage,
		})
	}
	writeJSON(w, http.StatusOK, "ok", dto)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	if days < 1 || days > 366 {
		writeError(w, http.StatusBadRequest, "days must be between 1 and 366")
		return
	}

	now := time.Now().UTC()
	from := core.DayStart(now.AddDate(0, 0, 1-days))
	to := core.DayEnd(now)

	bills, err := s.store.GetBillsInRange(r.Context(), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	points := core.Trend(bills, days, now)
	out := make([]trendPointDTO, 0, len(points))
	for _, p := range points {
		out = append(out, trendPointDTO{
			Date:         p.Date.Format("2006-01-02"),
			IncomeCents:  p.Income.Cents,
			ExpenseCents: p.Expense.Cents,
		})
	}
	writeJSON(w, http.StatusOK, "ok", map[string]any{"points": out})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.GetCategories(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	out := make([]categoryDTO, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryDTO{ID: c.ID, Name: c.Name, Icon: c.Icon, Color: c.Color})
	}
	writeJSON(w, http.StatusOK, "ok", out)
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncer.PushUnsynced(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "sync completed", map[string]any{
		"pushed": result.Pushed,
		"failed": result.Failed,
	})
}

func (s *Server) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.PendingCount(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "ok", map[string]any{"pending": pending})
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
