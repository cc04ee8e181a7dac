package validator

import (
	"testing"

	"github.com/shopspring/decimal"

	"metoffice-climate/internal/metoffice"
	"metoffice-climate/internal/models"
)

func tempParam() *models.Parameter {
	return &models.Parameter{
		Code:     "Tmax",
		Unit:     "degC",
		MinValid: decimal.NewFromInt(-50),
		MaxValid: decimal.NewFromInt(50),
	}
}

func monthCandidate(year, month int, value string) metoffice.Candidate {
	c := metoffice.Candidate{Kind: metoffice.CandidateMonth, Year: year, Month: month}
	if value != "" {
		c.Value = decimal.NullDecimal{Decimal: decimal.RequireFromString(value), Valid: true}
	}
	return c
}

func TestCheckMonthRange(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		wantReason string
	}{
		{"in range", "21.4", ""},
		{"lower bound", "-50", ""},
		{"upper bound", "50", ""},
		{"too cold", "-50.1", ReasonOutOfRange},
		{"too hot", "51", ReasonOutOfRange},
		{"missing value passes", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBatch(tempParam())
			rej := b.CheckMonth(monthCandidate(2021, 6, tt.value))

			if tt.wantReason == "" {
				if rej != nil {
					t.Fatalf("unexpected rejection: %v", rej)
				}
				return
			}
			if rej == nil {
				t.Fatal("expected rejection, got nil")
			}
			if rej.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", rej.Reason, tt.wantReason)
			}
		})
	}
}

func TestCheckMonthDuplicate(t *testing.T) {
	b := NewBatch(tempParam())

	if rej := b.CheckMonth(monthCandidate(2021, 3, "9.9")); rej != nil {
		t.Fatalf("first candidate rejected: %v", rej)
	}
	rej := b.CheckMonth(monthCandidate(2021, 3, "10.1"))
	if rej == nil || rej.Reason != ReasonDuplicate {
		t.Fatalf("duplicate not rejected: %v", rej)
	}

	// Different month in the same year is fine.
	if rej := b.CheckMonth(monthCandidate(2021, 4, "10.1")); rej != nil {
		t.Errorf("distinct month rejected: %v", rej)
	}
	// Same month in a different year is fine.
	if rej := b.CheckMonth(monthCandidate(2022, 3, "10.1")); rej != nil {
		t.Errorf("distinct year rejected: %v", rej)
	}
}

// A rejected candidate must not claim its (year, month) slot; the next
// occurrence of that pair is still eligible.
func TestRejectedCandidateDoesNotReserveKey(t *testing.T) {
	b := NewBatch(tempParam())

	if rej := b.CheckMonth(monthCandidate(2021, 3, "99")); rej == nil {
		t.Fatal("out-of-range candidate accepted")
	}
	if rej := b.CheckMonth(monthCandidate(2021, 3, "9.9")); rej != nil {
		t.Errorf("valid candidate rejected after earlier rejection: %v", rej)
	}
}

func TestCheckMonthUnknownMonth(t *testing.T) {
	b := NewBatch(tempParam())
	rej := b.CheckMonth(monthCandidate(2021, 13, "5.0"))
	if rej == nil || rej.Reason != ReasonUnknownMonth {
		t.Fatalf("unknown month not rejected: %v", rej)
	}
}

func TestCheckSeasonRange(t *testing.T) {
	rain := &models.Parameter{
		Code:     "Rainfall",
		Unit:     "mm",
		MinValid: decimal.Zero,
		MaxValid: decimal.NewFromInt(1000),
	}
	b := NewBatch(rain)

	ok := metoffice.Candidate{
		Kind:   metoffice.CandidateSeason,
		Year:   2021,
		Season: models.SeasonWinter,
		Value:  decimal.NullDecimal{Decimal: decimal.NewFromInt(310), Valid: true},
	}
	if rej := b.CheckSeason(ok); rej != nil {
		t.Fatalf("valid season rejected: %v", rej)
	}

	negative := ok
	negative.Value = decimal.NullDecimal{Decimal: decimal.NewFromInt(-3), Valid: true}
	rej := b.CheckSeason(negative)
	if rej == nil || rej.Reason != ReasonOutOfRange {
		t.Fatalf("negative rainfall not rejected: %v", rej)
	}
}

// Same candidate, same batch state, same verdict.
func TestValidatorDeterministic(t *testing.T) {
	c := monthCandidate(2021, 8, "999")
	for i := 0; i < 3; i++ {
		b := NewBatch(tempParam())
		rej := b.CheckMonth(c)
		if rej == nil || rej.Reason != ReasonOutOfRange {
			t.Fatalf("run %d: verdict changed: %v", i, rej)
		}
	}
}
