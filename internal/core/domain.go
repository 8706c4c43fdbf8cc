package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	TypeFixed    ExpenseType = "fixed"
	TypeVariable ExpenseType = "variable"
)

// dateLayout is the wire and storage format for all calendar dates.
const dateLayout = "2006-01-02"

type (
	ExpenseType string

	// Date is a calendar date pinned to UTC midnight. All interval
	// comparisons in this package are half-open [start, end).
	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// BillingPeriod is a user-defined "month": the interval
	// [StartDate, EndDate) that groups expenses. Periods may overlap or
	// leave gaps; this package tolerates both.
	BillingPeriod struct {
		ID        int64
		Name      string
		StartDate Date
		EndDate   Date
	}

	// Expense is a single spending record. A fixed expense with a non-nil
	// FixedTemplateID is a materialized instance of that template for the
	// one period whose interval contains PurchaseDate; ownership is always
	// re-derived from the date, never stored.
	Expense struct {
		ID              int64
		Description     string
		Amount          Money
		PurchaseDate    Date
		CategoryID      int64
		SubcategoryID   *int64
		Type            ExpenseType
		FixedTemplateID *int64
		DisplayOrder    int64
		CreatedAt       time.Time
	}

	// FixedExpenseTemplate is the recurring rule behind a fixed expense
	// series. StartDate is both the first applicable date and the source
	// of the desired day-of-month for projection. Retiring a rule means
	// IsActive=false plus a concrete EndDate; templates are never deleted.
	FixedExpenseTemplate struct {
		ID            int64
		Description   string
		Amount        Money
		CategoryID    int64
		SubcategoryID *int64
		StartDate     Date
		EndDate       *Date
		IsActive      bool
	}

	// FixedExpenseExclusion suppresses materialization of one template
	// into one specific period. Unique per (TemplateID, BillingPeriodID).
	FixedExpenseExclusion struct {
		ID              int64
		TemplateID      int64
		BillingPeriodID int64
	}

	// CategoryGoal is the default spending-limit percentage for a
	// category, one per (UserID, CategoryID).
	CategoryGoal struct {
		ID         int64
		UserID     int64
		CategoryID int64
		Percent    int64
	}

	// CategoryGoalOverride shadows the category default for one period.
	CategoryGoalOverride struct {
		ID              int64
		UserID          int64
		CategoryID      int64
		BillingPeriodID int64
		Percent         int64
	}
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrEmptyName          = errors.New("empty name")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrInvalidType        = errors.New("invalid expense type")
	ErrInvalidInterval    = errors.New("start date must precede end date")
	ErrInvalidPercent     = errors.New("percent must be between 0 and 100")
	ErrInvalidDate        = errors.New("invalid date")
	ErrMissingPeriod      = errors.New("missing billing period")
)

// NewDate creates a Date from year, month, day. Out-of-range values are
// normalized the way time.Date normalizes them.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the calendar month.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

// AddDays returns the date shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

// Before reports whether d falls before other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// After reports whether d falls after other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

// Equal reports whether two dates name the same calendar day.
func (d Date) Equal(other Date) bool {
	return d.Time.Equal(other.Time)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return fmt.Errorf("%w: zero date", ErrInvalidDate)
	}
	return nil
}

// MarshalJSON encodes the date as a quoted YYYY-MM-DD string.
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

// UnmarshalJSON decodes a quoted YYYY-MM-DD string.
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (t ExpenseType) Valid() bool {
	return t == TypeFixed || t == TypeVariable
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Contains reports whether the date falls inside the half-open interval
// [StartDate, EndDate).
func (p BillingPeriod) Contains(d Date) bool {
	return !d.Time.Before(p.StartDate.Time) && d.Time.Before(p.EndDate.Time)
}

func (p BillingPeriod) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if err := p.StartDate.Validate(); err != nil {
		return fmt.Errorf("start date: %w", err)
	}
	if err := p.EndDate.Validate(); err != nil {
		return fmt.Errorf("end date: %w", err)
	}
	if !p.StartDate.Before(p.EndDate) {
		return ErrInvalidInterval
	}
	return nil
}

// IsMaterialized reports whether the expense is a concrete instance of a
// fixed-expense template. Only materialized instances participate in
// scoped (current/future) mutations.
func (e Expense) IsMaterialized() bool {
	return e.Type == TypeFixed && e.FixedTemplateID != nil
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return ErrDescriptionTooLong
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if err := e.PurchaseDate.Validate(); err != nil {
		return fmt.Errorf("purchase date: %w", err)
	}
	if e.CategoryID <= 0 {
		return ErrInvalidCategory
	}
	if !e.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

func (t FixedExpenseTemplate) Validate() error {
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return ErrDescriptionTooLong
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if err := t.StartDate.Validate(); err != nil {
		return fmt.Errorf("start date: %w", err)
	}
	if t.EndDate != nil {
		if err := t.EndDate.Validate(); err != nil {
			return fmt.Errorf("end date: %w", err)
		}
		if t.EndDate.Before(t.StartDate) {
			return ErrInvalidInterval
		}
	}
	if t.CategoryID <= 0 {
		return ErrInvalidCategory
	}
	return nil
}

func (g CategoryGoal) Validate() error {
	if g.CategoryID <= 0 {
		return ErrInvalidCategory
	}
	if g.Percent < 0 || g.Percent > 100 {
		return ErrInvalidPercent
	}
	return nil
}

func (o CategoryGoalOverride) Validate() error {
	if o.CategoryID <= 0 {
		return ErrInvalidCategory
	}
	if o.BillingPeriodID <= 0 {
		return ErrMissingPeriod
	}
	if o.Percent < 0 || o.Percent > 100 {
		return ErrInvalidPercent
	}
	return nil
}
