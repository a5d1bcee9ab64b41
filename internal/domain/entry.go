package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a BudgetEntry as income or expense.
type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
)

func (t EntryType) String() string { return string(t) }

func (t EntryType) IsValid() bool {
	switch t {
	case EntryDeposit, EntryWithdrawal:
		return true
	}
	return false
}

// EntryStatus is the lifecycle stage of a BudgetEntry.
type EntryStatus string

const (
	EntryDraft    EntryStatus = "draft"
	EntryRevision EntryStatus = "revision"
	EntryDone     EntryStatus = "done"
)

func (s EntryStatus) String() string { return string(s) }

func (s EntryStatus) IsValid() bool {
	switch s {
	case EntryDraft, EntryRevision, EntryDone:
		return true
	}
	return false
}

// IsOpen reports whether the entry is still being edited.
func (s EntryStatus) IsOpen() bool {
	switch s {
	case EntryDraft, EntryRevision:
		return true
	case EntryDone:
		return false
	}
	return false
}

// BudgetEntry is a single income or expense record. At most one open entry
// exists per (user, type).
type BudgetEntry struct {
	ID           string
	UserID       string
	Type         EntryType
	Status       EntryStatus
	CategoryID   string
	CategoryName string
	Description  string
	Value        decimal.Decimal
	Date         time.Time
	UpdatedAt    time.Time
}

// Reset returns the entry to draft, keeping type and category.
func (e *BudgetEntry) Reset() {
	e.Status = EntryDraft
	e.Description = ""
	e.Value = decimal.Zero
	e.Date = time.Time{}
}
