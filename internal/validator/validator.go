// Package validator checks parsed candidates against the owning parameter's
// valid range and rejects intra-batch duplicates. Verdicts are pure: the
// same candidate against the same batch state always yields the same
// result, and a rejection never aborts the batch.
package validator

import (
	"fmt"

	"metoffice-climate/internal/metoffice"
	"metoffice-climate/internal/models"
)

// Rejection reason codes.
const (
	ReasonOutOfRange   = "out_of_range"
	ReasonDuplicate    = "duplicate"
	ReasonUnknownMonth = "unknown_month"
)

// Rejection describes why a candidate was not accepted.
type Rejection struct {
	Year   int
	Month  int
	Reason string
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%d-%02d rejected (%s): %s", r.Year, r.Month, r.Reason, r.Detail)
}

type monthKey struct {
	year, month int
}

// Batch validates the candidates of one ingestion run. The duplicate check
// is scoped to the batch; cross-run duplicates are handled by the
// persistence upsert key.
type Batch struct {
	param *models.Parameter
	seen  map[monthKey]struct{}
}

// NewBatch creates a validation batch for one parameter's candidates.
func NewBatch(param *models.Parameter) *Batch {
	return &Batch{
		param: param,
		seen:  make(map[monthKey]struct{}),
	}
}

// CheckMonth validates a monthly candidate. A nil return means accepted;
// accepted candidates are recorded for the duplicate check.
func (b *Batch) CheckMonth(c metoffice.Candidate) *Rejection {
	if c.Month < 1 || c.Month > 12 {
		return &Rejection{
			Year:   c.Year,
			Month:  c.Month,
			Reason: ReasonUnknownMonth,
			Detail: fmt.Sprintf("month %d outside [1,12]", c.Month),
		}
	}

	key := monthKey{c.Year, c.Month}
	if _, dup := b.seen[key]; dup {
		return &Rejection{
			Year:   c.Year,
			Month:  c.Month,
			Reason: ReasonDuplicate,
			Detail: fmt.Sprintf("duplicate (year, month) pair %d-%02d in batch", c.Year, c.Month),
		}
	}

	// A missing value carries no number to range-check; the row's presence
	// is still meaningful and is accepted.
	if c.Value.Valid {
		if c.Value.Decimal.LessThan(b.param.MinValid) || c.Value.Decimal.GreaterThan(b.param.MaxValid) {
			return &Rejection{
				Year:   c.Year,
				Month:  c.Month,
				Reason: ReasonOutOfRange,
				Detail: fmt.Sprintf("value %s outside [%s, %s] %s",
					c.Value.Decimal, b.param.MinValid, b.param.MaxValid, b.param.Unit),
			}
		}
	}

	b.seen[key] = struct{}{}
	return nil
}

// CheckSeason validates a season summary candidate against the parameter
// range. Season candidates have no duplicate key within a batch beyond
// (year, season), which the source format cannot repeat per row; only the
// range is checked.
func (b *Batch) CheckSeason(c metoffice.Candidate) *Rejection {
	if !c.Value.Valid {
		return nil
	}
	if c.Value.Decimal.LessThan(b.param.MinValid) || c.Value.Decimal.GreaterThan(b.param.MaxValid) {
		return &Rejection{
			Year:   c.Year,
			Reason: ReasonOutOfRange,
			Detail: fmt.Sprintf("season %s value %s outside [%s, %s] %s",
				c.Season, c.Value.Decimal, b.param.MinValid, b.param.MaxValid, b.param.Unit),
		}
	}
	return nil
}
