package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDateRoundTrip(t *testing.T) {
	cases := []struct {
		in  string
		ok  bool
		out string
	}{
		{"2026-01-15", true, "2026-01-15"},
		{" 2026-02-06 ", true, "2026-02-06"},
		{"2026-2-6", false, ""},
		{"15/01/2026", false, ""},
		{"", false, ""},
	}
	for i, tc := range cases {
		d, err := ParseDate(tc.in)
		if tc.ok && (err != nil || d.String() != tc.out) {
			t.Fatalf("case %d: got %q err=%v, want %q", i, d.String(), err, tc.out)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d: expected error for %q", i, tc.in)
		}
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2026, 3, 6)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"2026-03-06"` {
		t.Fatalf("marshal = %s, want %q", b, "2026-03-06")
	}

	var back Date
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(d) {
		t.Fatalf("round trip = %s, want %s", back, d)
	}
}

func TestPeriodContains(t *testing.T) {
	p := BillingPeriod{
		ID:        1,
		Name:      "Gennaio",
		StartDate: NewDate(2026, 1, 6),
		EndDate:   NewDate(2026, 2, 6),
	}
	cases := []struct {
		d    Date
		want bool
	}{
		{NewDate(2026, 1, 6), true},   // start inclusive
		{NewDate(2026, 1, 20), true},  // interior
		{NewDate(2026, 2, 5), true},   // last day
		{NewDate(2026, 2, 6), false},  // end exclusive
		{NewDate(2026, 1, 5), false},  // before start
		{NewDate(2026, 3, 1), false},  // after end
	}
	for i, tc := range cases {
		if got := p.Contains(tc.d); got != tc.want {
			t.Fatalf("case %d: Contains(%s) = %v, want %v", i, tc.d, got, tc.want)
		}
	}
}

func TestPeriodValidate(t *testing.T) {
	good := BillingPeriod{Name: "Gennaio", StartDate: NewDate(2026, 1, 6), EndDate: NewDate(2026, 2, 6)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []BillingPeriod{
		{Name: "", StartDate: NewDate(2026, 1, 6), EndDate: NewDate(2026, 2, 6)},
		{Name: "x", StartDate: NewDate(2026, 2, 6), EndDate: NewDate(2026, 1, 6)},  // reversed
		{Name: "x", StartDate: NewDate(2026, 1, 6), EndDate: NewDate(2026, 1, 6)},  // empty interval
		{Name: "x", StartDate: Date{Time: time.Time{}}, EndDate: NewDate(2026, 2, 6)}, // zero start
	}
	for i, p := range bads {
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestExpenseValidate(t *testing.T) {
	tmpl := int64(3)
	good := Expense{
		Description:     "Affitto",
		Amount:          Money{Cents: 80000},
		PurchaseDate:    NewDate(2026, 1, 15),
		CategoryID:      2,
		Type:            TypeFixed,
		FixedTemplateID: &tmpl,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	bads := []Expense{
		{Description: "", Amount: Money{Cents: 1}, PurchaseDate: NewDate(2026, 1, 1), CategoryID: 1, Type: TypeVariable},
		{Description: "a", Amount: Money{Cents: 0}, PurchaseDate: NewDate(2026, 1, 1), CategoryID: 1, Type: TypeVariable},
		{Description: "a", Amount: Money{Cents: 1}, PurchaseDate: Date{}, CategoryID: 1, Type: TypeVariable},
		{Description: "a", Amount: Money{Cents: 1}, PurchaseDate: NewDate(2026, 1, 1), CategoryID: 0, Type: TypeVariable},
		{Description: "a", Amount: Money{Cents: 1}, PurchaseDate: NewDate(2026, 1, 1), CategoryID: 1, Type: "weekly"},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestExpenseIsMaterialized(t *testing.T) {
	tmpl := int64(7)
	cases := []struct {
		e    Expense
		want bool
	}{
		{Expense{Type: TypeFixed, FixedTemplateID: &tmpl}, true},
		{Expense{Type: TypeFixed, FixedTemplateID: nil}, false},  // standalone fixed record
		{Expense{Type: TypeVariable, FixedTemplateID: &tmpl}, false},
		{Expense{Type: TypeVariable}, false},
	}
	for i, tc := range cases {
		if got := tc.e.IsMaterialized(); got != tc.want {
			t.Fatalf("case %d: got %v, want %v", i, got, tc.want)
		}
	}
}

func TestTemplateValidate(t *testing.T) {
	end := NewDate(2026, 6, 1)
	good := FixedExpenseTemplate{
		Description: "Affitto",
		Amount:      Money{Cents: 80000},
		CategoryID:  2,
		StartDate:   NewDate(2026, 1, 15),
		EndDate:     &end,
		IsActive:    true,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	before := NewDate(2026, 1, 1)
	bads := []FixedExpenseTemplate{
		{Description: "", Amount: Money{Cents: 1}, CategoryID: 1, StartDate: NewDate(2026, 1, 15)},
		{Description: "a", Amount: Money{Cents: 0}, CategoryID: 1, StartDate: NewDate(2026, 1, 15)},
		{Description: "a", Amount: Money{Cents: 1}, CategoryID: 0, StartDate: NewDate(2026, 1, 15)},
		{Description: "a", Amount: Money{Cents: 1}, CategoryID: 1, StartDate: Date{}},
		{Description: "a", Amount: Money{Cents: 1}, CategoryID: 1, StartDate: NewDate(2026, 1, 15), EndDate: &before},
	}
	for i, tmplCase := range bads {
		if err := tmplCase.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestGoalValidate(t *testing.T) {
	if err := (CategoryGoal{UserID: 1, CategoryID: 1, Percent: 0}).Validate(); err != nil {
		t.Fatalf("zero percent must be valid, got %v", err)
	}
	if err := (CategoryGoal{UserID: 1, CategoryID: 1, Percent: 100}).Validate(); err != nil {
		t.Fatalf("100 percent must be valid, got %v", err)
	}
	if err := (CategoryGoal{UserID: 1, CategoryID: 1, Percent: 101}).Validate(); err == nil {
		t.Fatalf("expected error above 100")
	}
	if err := (CategoryGoal{UserID: 1, CategoryID: 0, Percent: 10}).Validate(); err == nil {
		t.Fatalf("expected error for missing category")
	}
	if err := (CategoryGoalOverride{UserID: 1, CategoryID: 1, BillingPeriodID: 0, Percent: 10}).Validate(); err == nil {
		t.Fatalf("expected error for missing period")
	}
}
