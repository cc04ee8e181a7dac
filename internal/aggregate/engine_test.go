package aggregate

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metoffice-climate/internal/models"
	"metoffice-climate/internal/repository"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

var testCollector = metrics.NewCollector("aggregate_test")

type fakeRecords struct {
	records []*models.WeatherRecord
}

func (f *fakeRecords) Upsert(ctx context.Context, record *models.WeatherRecord) (repository.UpsertOutcome, error) {
	f.records = append(f.records, record)
	return repository.OutcomeCreated, nil
}

func (f *fakeRecords) List(ctx context.Context, filter repository.RecordFilter) ([]*models.WeatherRecord, int, error) {
	return f.records, len(f.records), nil
}

func (f *fakeRecords) ListRange(ctx context.Context, regionID, parameterID int64, fromYear, toYear int) ([]*models.WeatherRecord, error) {
	var out []*models.WeatherRecord
	for _, r := range f.records {
		if r.RegionID == regionID && r.ParameterID == parameterID && r.Year >= fromYear && r.Year <= toYear {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSummaries struct {
	summaries []*models.SeasonalSummary
}

func (f *fakeSummaries) Upsert(ctx context.Context, s *models.SeasonalSummary) (repository.UpsertOutcome, error) {
	f.summaries = append(f.summaries, s)
	return repository.OutcomeCreated, nil
}

func (f *fakeSummaries) ListRange(ctx context.Context, regionID, parameterID int64, fromYear, toYear int) ([]*models.SeasonalSummary, error) {
	var out []*models.SeasonalSummary
	for _, s := range f.summaries {
		if s.RegionID == regionID && s.ParameterID == parameterID && s.Year >= fromYear && s.Year <= toYear {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeAggregates struct {
	byKey    map[string]*models.Aggregate
	replaces int
}

func newFakeAggregates() *fakeAggregates {
	return &fakeAggregates{byKey: make(map[string]*models.Aggregate)}
}

func (f *fakeAggregates) key(agg *models.Aggregate) string {
	return string(agg.Type) + ":" + agg.PeriodKey
}

func (f *fakeAggregates) Replace(ctx context.Context, agg *models.Aggregate) error {
	f.replaces++
	copied := *agg
	f.byKey[f.key(agg)] = &copied
	return nil
}

func (f *fakeAggregates) Delete(ctx context.Context, regionID, parameterID int64, aggType models.AggregateType, periodKey string) error {
	delete(f.byKey, string(aggType)+":"+periodKey)
	return nil
}

func (f *fakeAggregates) List(ctx context.Context, filter repository.AggregateFilter) ([]*models.Aggregate, int, error) {
	var out []*models.Aggregate
	for _, a := range f.byKey {
		out = append(out, a)
	}
	return out, len(out), nil
}

func (f *fakeAggregates) has(aggType models.AggregateType, periodKey string) bool {
	_, ok := f.byKey[string(aggType)+":"+periodKey]
	return ok
}

func (f *fakeAggregates) get(t *testing.T, aggType models.AggregateType, periodKey string) *models.Aggregate {
	t.Helper()
	agg, ok := f.byKey[string(aggType)+":"+periodKey]
	require.True(t, ok, "no %s aggregate for %s", aggType, periodKey)
	return agg
}

func testRegion() *models.Region {
	return &models.Region{ID: 1, Name: "England", Code: "England", IsActive: true}
}

func testParam() *models.Parameter {
	return &models.Parameter{
		ID:       7,
		Code:     "Tmax",
		Unit:     "degC",
		MinValid: decimal.NewFromInt(-50),
		MaxValid: decimal.NewFromInt(50),
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "decimal = %s, want %s", got, want)
}

func record(year, month int, value string) *models.WeatherRecord {
	rec := &models.WeatherRecord{RegionID: 1, ParameterID: 7, Year: year, Month: month}
	if value != "" {
		rec.Value = decimal.NullDecimal{Decimal: decimal.RequireFromString(value), Valid: true}
	}
	return rec
}

func newTestEngine(records *fakeRecords, summaries *fakeSummaries, aggregates *fakeAggregates) *Engine {
	logger := logging.NewStructuredLogger("aggregate-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewEngine(records, summaries, aggregates, nil, logger, testCollector, clock, 12, 6)
}

func TestRecomputeMonthlyPassThrough(t *testing.T) {
	records := &fakeRecords{records: []*models.WeatherRecord{
		record(2021, 1, "5.5"),
		record(2021, 2, ""),
	}}
	aggs := newFakeAggregates()
	engine := newTestEngine(records, &fakeSummaries{}, aggs)

	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2021}))

	jan := aggs.get(t, models.AggregateMonthly, "2021-01")
	assert.True(t, jan.MeanValue.Valid)
	assertDecimal(t, "5.5", jan.MeanValue.Decimal)
	assert.Equal(t, 1, jan.RecordCount)
	assert.True(t, jan.Complete)

	feb := aggs.get(t, models.AggregateMonthly, "2021-02")
	assert.False(t, feb.MeanValue.Valid)
	assert.Equal(t, 0, feb.RecordCount)
	assert.False(t, feb.Complete)
}

func TestRecomputeYearlyPartial(t *testing.T) {
	records := &fakeRecords{}
	for m := 1; m <= 11; m++ {
		records.records = append(records.records, record(2021, m, "10"))
	}
	aggs := newFakeAggregates()
	engine := newTestEngine(records, &fakeSummaries{}, aggs)

	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2021}))

	yearly := aggs.get(t, models.AggregateYearly, "2021")
	assert.Equal(t, 11, yearly.RecordCount)
	assert.False(t, yearly.Complete, "11 of 12 months must not count as complete")
	assertDecimal(t, "10", yearly.MeanValue.Decimal)
}

func TestRecomputeWinterCrossesYearBoundary(t *testing.T) {
	records := &fakeRecords{records: []*models.WeatherRecord{
		record(2020, 12, "4.0"),
		record(2021, 1, "2.0"),
		record(2021, 2, "3.0"),
	}}
	aggs := newFakeAggregates()
	engine := newTestEngine(records, &fakeSummaries{}, aggs)

	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2020, 2021}))

	winter := aggs.get(t, models.AggregateSeasonal, "2021-winter")
	assertDecimal(t, "3", winter.MeanValue.Decimal)
	assert.Equal(t, 3, winter.RecordCount)
	assert.True(t, winter.Complete)
	assert.True(t, winter.Derived)
}

func TestRecomputePrefersPublishedSeasonalValue(t *testing.T) {
	records := &fakeRecords{records: []*models.WeatherRecord{
		record(2020, 12, "4.0"),
		record(2021, 1, "2.0"),
		record(2021, 2, "3.0"),
	}}
	summaries := &fakeSummaries{summaries: []*models.SeasonalSummary{{
		RegionID:    1,
		ParameterID: 7,
		Year:        2021,
		Season:      models.SeasonWinter,
		Value:       decimal.RequireFromString("3.2"),
	}}}
	aggs := newFakeAggregates()
	engine := newTestEngine(records, summaries, aggs)

	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2020, 2021}))

	winter := aggs.get(t, models.AggregateSeasonal, "2021-winter")
	assertDecimal(t, "3.2", winter.MeanValue.Decimal)
	assert.False(t, winter.Derived)
	// Min and max still come from the underlying monthly records.
	assertDecimal(t, "2.0", winter.MinValue.Decimal)
	assertDecimal(t, "4.0", winter.MaxValue.Decimal)
}

func TestRecomputeDecadalCompleteness(t *testing.T) {
	tests := []struct {
		name         string
		years        int
		wantComplete bool
	}{
		{"seven full years", 7, true},
		{"four full years", 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := &fakeRecords{}
			for y := 2010; y < 2010+tt.years; y++ {
				for m := 1; m <= 12; m++ {
					records.records = append(records.records, record(y, m, "8.0"))
				}
			}
			aggs := newFakeAggregates()
			engine := newTestEngine(records, &fakeSummaries{}, aggs)

			require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2012}))

			decadal := aggs.get(t, models.AggregateDecadal, "2010s")
			assert.Equal(t, tt.years, decadal.RecordCount)
			assert.Equal(t, tt.wantComplete, decadal.Complete)
		})
	}
}

// Partial years never feed the decadal mean.
func TestRecomputeDecadalIgnoresPartialYears(t *testing.T) {
	records := &fakeRecords{}
	for m := 1; m <= 12; m++ {
		records.records = append(records.records, record(2010, m, "8.0"))
	}
	for m := 1; m <= 3; m++ {
		records.records = append(records.records, record(2011, m, "100"))
	}
	aggs := newFakeAggregates()
	engine := newTestEngine(records, &fakeSummaries{}, aggs)

	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2010, 2011}))

	decadal := aggs.get(t, models.AggregateDecadal, "2010s")
	assert.Equal(t, 1, decadal.RecordCount)
	assertDecimal(t, "8", decadal.MeanValue.Decimal)
}

func TestRecomputeOverwritesPriorAggregates(t *testing.T) {
	records := &fakeRecords{records: []*models.WeatherRecord{
		record(2021, 1, "5.0"),
		record(2021, 2, "7.0"),
	}}
	aggs := newFakeAggregates()
	engine := newTestEngine(records, &fakeSummaries{}, aggs)

	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2021}))
	firstCount := len(aggs.byKey)

	// A corrected February value replaces the old yearly figure instead
	// of merging with it.
	records.records[1] = record(2021, 2, "9.0")
	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2021}))

	assert.Equal(t, firstCount, len(aggs.byKey))
	yearly := aggs.get(t, models.AggregateYearly, "2021")
	assertDecimal(t, "7", yearly.MeanValue.Decimal)
	assert.Equal(t, 2, yearly.RecordCount)
}

// A revision that blanks out every month of a year must also remove the
// derived rows, not leave the old figures standing.
func TestRecomputeDropsEmptiedPeriods(t *testing.T) {
	records := &fakeRecords{}
	for m := 1; m <= 12; m++ {
		records.records = append(records.records, record(2021, m, "10"))
	}
	aggs := newFakeAggregates()
	engine := newTestEngine(records, &fakeSummaries{}, aggs)

	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2021}))
	yearly := aggs.get(t, models.AggregateYearly, "2021")
	assertDecimal(t, "10", yearly.MeanValue.Decimal)
	assert.Equal(t, 12, yearly.RecordCount)
	require.True(t, aggs.has(models.AggregateSeasonal, "2021-summer"))
	require.True(t, aggs.has(models.AggregateDecadal, "2020s"))

	for m := 0; m < 12; m++ {
		records.records[m] = record(2021, m+1, "")
	}
	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), []int{2021}))

	assert.False(t, aggs.has(models.AggregateYearly, "2021"), "yearly row survived a recompute with no values")
	assert.False(t, aggs.has(models.AggregateSeasonal, "2021-summer"))
	assert.False(t, aggs.has(models.AggregateDecadal, "2020s"))

	// Monthly rows track the stored records themselves, so they stay,
	// now carrying the missing markers.
	jan := aggs.get(t, models.AggregateMonthly, "2021-01")
	assert.False(t, jan.MeanValue.Valid)
	assert.Equal(t, 0, jan.RecordCount)
}

func TestRecomputeNoYearsIsNoOp(t *testing.T) {
	aggs := newFakeAggregates()
	engine := newTestEngine(&fakeRecords{}, &fakeSummaries{}, aggs)

	require.NoError(t, engine.Recompute(context.Background(), testRegion(), testParam(), nil))
	assert.Zero(t, aggs.replaces)
}
