package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Region is a UK region served by the MetOffice regional series.
// Seeded once at startup; never mutated afterwards.
type Region struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Code      string    `json:"code" db:"code"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Parameter is a weather parameter (Tmax, Rainfall, ...) with its unit and
// the physically plausible range used by the validator. Seed data.
type Parameter struct {
	ID          int64           `json:"id" db:"id"`
	Code        string          `json:"code" db:"code"`
	DisplayName string          `json:"display_name" db:"display_name"`
	Unit        string          `json:"unit" db:"unit"`
	MinValid    decimal.Decimal `json:"min_valid" db:"min_valid"`
	MaxValid    decimal.Decimal `json:"max_valid" db:"max_valid"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// WeatherRecord is one monthly observation for a (region, parameter) pair.
// A row with a null Value records that the source published a missing-value
// token for that month, which is distinct from the month never having been
// ingested (no row at all).
type WeatherRecord struct {
	ID          int64               `json:"id" db:"id"`
	RegionID    int64               `json:"region_id" db:"region_id"`
	ParameterID int64               `json:"parameter_id" db:"parameter_id"`
	Year        int                 `json:"year" db:"year"`
	Month       int                 `json:"month" db:"month"`
	Value       decimal.NullDecimal `json:"value" db:"value"`
	SourceURL   string              `json:"source_url" db:"source_url"`
	FetchedAt   time.Time           `json:"fetched_at" db:"fetched_at"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at" db:"updated_at"`
}

// SeasonalSummary is a season value published by the source file itself
// (the win/spr/sum/aut/ann columns). Absence for a given year is a valid
// terminal state, not an error.
type SeasonalSummary struct {
	ID          int64           `json:"id" db:"id"`
	RegionID    int64           `json:"region_id" db:"region_id"`
	ParameterID int64           `json:"parameter_id" db:"parameter_id"`
	Year        int             `json:"year" db:"year"`
	Season      Season          `json:"season" db:"season"`
	Value       decimal.Decimal `json:"value" db:"value"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// AggregateType is the time granularity of a derived statistic.
type AggregateType string

const (
	AggregateMonthly  AggregateType = "monthly"
	AggregateYearly   AggregateType = "yearly"
	AggregateSeasonal AggregateType = "seasonal"
	AggregateDecadal  AggregateType = "decadal"
)

// AggregateTypes lists every supported granularity.
var AggregateTypes = []AggregateType{
	AggregateMonthly,
	AggregateYearly,
	AggregateSeasonal,
	AggregateDecadal,
}

// Valid reports whether t is a known granularity.
func (t AggregateType) Valid() bool {
	switch t {
	case AggregateMonthly, AggregateYearly, AggregateSeasonal, AggregateDecadal:
		return true
	}
	return false
}

// Aggregate is a derived statistic for one period key. Recomputation
// replaces the whole row for the same (region, parameter, type, period_key);
// rows are never patched field by field.
type Aggregate struct {
	ID          int64               `json:"id" db:"id"`
	RegionID    int64               `json:"region_id" db:"region_id"`
	ParameterID int64               `json:"parameter_id" db:"parameter_id"`
	Type        AggregateType       `json:"aggregate_type" db:"aggregate_type"`
	PeriodKey   string              `json:"period_key" db:"period_key"`
	MeanValue   decimal.NullDecimal `json:"mean_value" db:"mean_value"`
	MinValue    decimal.NullDecimal `json:"min_value" db:"min_value"`
	MaxValue    decimal.NullDecimal `json:"max_value" db:"max_value"`
	RecordCount int                 `json:"record_count" db:"record_count"`
	Complete    bool                `json:"complete" db:"complete"`
	Derived     bool                `json:"derived" db:"derived"`
	ComputedAt  time.Time           `json:"computed_at" db:"computed_at"`
}

// IngestionStatus is the lifecycle state of one ingestion run.
type IngestionStatus string

const (
	IngestionPending   IngestionStatus = "pending"
	IngestionRunning   IngestionStatus = "running"
	IngestionCompleted IngestionStatus = "completed"
	IngestionFailed    IngestionStatus = "failed"
	IngestionPartial   IngestionStatus = "partial"
)

// Valid reports whether s is a known lifecycle state.
func (s IngestionStatus) Valid() bool {
	switch s {
	case IngestionPending, IngestionRunning, IngestionCompleted, IngestionFailed, IngestionPartial:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s IngestionStatus) Terminal() bool {
	switch s {
	case IngestionCompleted, IngestionFailed, IngestionPartial:
		return true
	}
	return false
}

// IngestionLog tracks one fetch-parse-validate-persist run for a
// (region, parameter) pair. Written only by the orchestrator; immutable
// once the status is terminal.
type IngestionLog struct {
	ID               int64           `json:"id" db:"id"`
	RegionID         int64           `json:"region_id" db:"region_id"`
	ParameterID      int64           `json:"parameter_id" db:"parameter_id"`
	Status           IngestionStatus `json:"status" db:"status"`
	RecordsProcessed int             `json:"records_processed" db:"records_processed"`
	RecordsCreated   int             `json:"records_created" db:"records_created"`
	RecordsUpdated   int             `json:"records_updated" db:"records_updated"`
	RecordsUnchanged int             `json:"records_unchanged" db:"records_unchanged"`
	RecordsRejected  int             `json:"records_rejected" db:"records_rejected"`
	MalformedRows    int             `json:"malformed_rows" db:"malformed_rows"`
	ErrorDetail      string          `json:"error_detail" db:"error_detail"`
	SourceURL        string          `json:"source_url" db:"source_url"`
	StartedAt        time.Time       `json:"started_at" db:"started_at"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}
