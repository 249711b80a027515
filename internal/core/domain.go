package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  BillType = "income"
	Expense BillType = "expense"
)

type (
	// BillType discriminates the two transaction directions.
	BillType string

	Money struct {
		Cents int64
	}

	// Bill is a single financial transaction. Time is the business timestamp
	// of the transaction, distinct from the record lifecycle timestamps.
	// Synced reports whether the local copy has a confirmed server
	// counterpart.
	Bill struct {
		ID          string
		UserID      string
		Type        BillType
		Amount      Money
		Category    string
		Channel     string
		Merchant    string
		Description string
		Time        time.Time
		Synced      bool
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// Category is a classification shown in pickers. A fixed seed set is
	// installed by the storage migrations.
	Category struct {
		ID    string
		Name  string
		Icon  string
		Color string
	}

	// User is the locally cached identity record. The authoritative copy
	// lives server-side.
	User struct {
		ID        string
		Email     string
		Name      string
		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

var (
	ErrInvalidType   = errors.New("invalid bill type")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrEmptyID       = errors.New("empty bill id")
	ErrEmptyCategory = errors.New("empty category")
	ErrZeroTime      = errors.New("bill time cannot be zero")
)

func (t BillType) Valid() bool {
	return t == Income || t == Expense
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (b Bill) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrEmptyID
	}
	if !b.Type.Valid() {
		return ErrInvalidType
	}
	if err := b.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(b.Category) == "" {
		return ErrEmptyCategory
	}
	if len(b.Description) > 500 {
		return errors.New("description too long (max 500 characters)")
	}
	if b.Time.IsZero() {
		return ErrZeroTime
	}
	return nil
}
