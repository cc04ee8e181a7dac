// Package aggregate recomputes the precomputed monthly, yearly, seasonal
// and decadal statistics from stored weather records. Recomputation is a
// total overwrite per period so repeating it is always safe.
package aggregate

import (
	"context"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"metoffice-climate/internal/models"
	"metoffice-climate/internal/repository"
	"metoffice-climate/pkg/cache"
	"metoffice-climate/pkg/logging"
	"metoffice-climate/pkg/metrics"
)

// meanScale is the decimal precision of computed means, matching the one
// decimal place the MetOffice publishes plus one guard digit.
const meanScale = 2

// Engine recomputes aggregates for one (region, parameter) pair at a time.
type Engine struct {
	records    repository.WeatherRecordRepository
	summaries  repository.SeasonalSummaryRepository
	aggregates repository.AggregateRepository
	cache      cache.Cache
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
	clock      clockwork.Clock

	minMonthsComplete int
	minDecadeYears    int
}

// NewEngine creates a new aggregation engine. The cache may be nil when no
// cache layer is configured.
func NewEngine(
	records repository.WeatherRecordRepository,
	summaries repository.SeasonalSummaryRepository,
	aggregates repository.AggregateRepository,
	cacheLayer cache.Cache,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	clock clockwork.Clock,
	minMonthsComplete, minDecadeYears int,
) *Engine {
	return &Engine{
		records:           records,
		summaries:         summaries,
		aggregates:        aggregates,
		cache:             cacheLayer,
		logger:            logger,
		metrics:           metricsCollector,
		clock:             clock,
		minMonthsComplete: minMonthsComplete,
		minDecadeYears:    minDecadeYears,
	}
}

type monthKey struct {
	year  int
	month int
}

// Recompute rebuilds every aggregate touched by the given years for one
// region and parameter. The loaded record range is widened to whole decades
// plus the December before the earliest winter so seasonal and decadal
// figures never read stale inputs.
func (e *Engine) Recompute(ctx context.Context, region *models.Region, param *models.Parameter, years []int) error {
	if len(years) == 0 {
		return nil
	}

	changed := uniqueSorted(years)
	minYear := changed[0]
	maxYear := changed[len(changed)-1]

	fromYear := models.DecadeStart(minYear) - 1
	toYear := models.DecadeStart(maxYear) + 9
	if maxYear+1 > toYear {
		toYear = maxYear + 1
	}

	records, err := e.records.ListRange(ctx, region.ID, param.ID, fromYear, toYear)
	if err != nil {
		return fmt.Errorf("failed to load records for aggregation: %w", err)
	}

	values := make(map[monthKey]decimal.Decimal, len(records))
	for _, rec := range records {
		if rec.Value.Valid {
			values[monthKey{rec.Year, rec.Month}] = rec.Value.Decimal
		}
	}

	if err := e.recomputeMonthly(ctx, region, param, changed, records); err != nil {
		return err
	}
	if err := e.recomputeYearly(ctx, region, param, changed, values); err != nil {
		return err
	}

	labelYears := seasonalLabelYears(changed)
	if err := e.recomputeSeasonal(ctx, region, param, labelYears, values); err != nil {
		return err
	}
	if err := e.recomputeDecadal(ctx, region, param, changed, values); err != nil {
		return err
	}

	e.invalidate(ctx, region, param, changed, labelYears)

	e.logger.Info(ctx, "[AGG_RECOMPUTE] Aggregates recomputed", logging.Fields{
		"region":    region.Code,
		"parameter": param.Code,
		"years":     len(changed),
	})

	return nil
}

func (e *Engine) recomputeMonthly(ctx context.Context, region *models.Region, param *models.Parameter, changed []int, records []*models.WeatherRecord) error {
	timer := e.metrics.NewTimer(e.metrics.AggregationDuration.WithLabelValues(string(models.AggregateMonthly)))
	defer timer.ObserveDuration()

	changedSet := make(map[int]struct{}, len(changed))
	for _, y := range changed {
		changedSet[y] = struct{}{}
	}

	for _, rec := range records {
		if _, ok := changedSet[rec.Year]; !ok {
			continue
		}

		count := 0
		if rec.Value.Valid {
			count = 1
		}
		agg := &models.Aggregate{
			RegionID:    region.ID,
			ParameterID: param.ID,
			Type:        models.AggregateMonthly,
			PeriodKey:   models.MonthlyPeriodKey(rec.Year, rec.Month),
			MeanValue:   rec.Value,
			MinValue:    rec.Value,
			MaxValue:    rec.Value,
			RecordCount: count,
			Complete:    rec.Value.Valid,
			ComputedAt:  e.clock.Now().UTC(),
		}
		if err := e.writeAggregate(ctx, agg); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) recomputeYearly(ctx context.Context, region *models.Region, param *models.Parameter, changed []int, values map[monthKey]decimal.Decimal) error {
	timer := e.metrics.NewTimer(e.metrics.AggregationDuration.WithLabelValues(string(models.AggregateYearly)))
	defer timer.ObserveDuration()

	for _, year := range changed {
		vals := monthValues(values, year, 1, 12)
		if len(vals) == 0 {
			// A revision can blank out every month of a year. The prior
			// yearly row must not survive it.
			if err := e.dropAggregate(ctx, region, param, models.AggregateYearly, models.YearlyPeriodKey(year)); err != nil {
				return err
			}
			continue
		}

		mean, min, max := stats(vals)
		agg := &models.Aggregate{
			RegionID:    region.ID,
			ParameterID: param.ID,
			Type:        models.AggregateYearly,
			PeriodKey:   models.YearlyPeriodKey(year),
			MeanValue:   decimal.NullDecimal{Decimal: mean, Valid: true},
			MinValue:    decimal.NullDecimal{Decimal: min, Valid: true},
			MaxValue:    decimal.NullDecimal{Decimal: max, Valid: true},
			RecordCount: len(vals),
			Complete:    len(vals) >= e.minMonthsComplete,
			ComputedAt:  e.clock.Now().UTC(),
		}
		if err := e.writeAggregate(ctx, agg); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) recomputeSeasonal(ctx context.Context, region *models.Region, param *models.Parameter, labelYears []int, values map[monthKey]decimal.Decimal) error {
	timer := e.metrics.NewTimer(e.metrics.AggregationDuration.WithLabelValues(string(models.AggregateSeasonal)))
	defer timer.ObserveDuration()

	published, err := e.loadSummaries(ctx, region, param, labelYears)
	if err != nil {
		return err
	}

	for _, labelYear := range labelYears {
		for _, season := range models.Seasons {
			months := models.SeasonMonths(season, labelYear)

			var vals []decimal.Decimal
			for _, ym := range months {
				if v, ok := values[monthKey{ym[0], ym[1]}]; ok {
					vals = append(vals, v)
				}
			}

			storedValue, stored := published[summaryKey{labelYear, season}]
			if !stored && len(vals) == 0 {
				if err := e.dropAggregate(ctx, region, param, models.AggregateSeasonal, models.SeasonalPeriodKey(labelYear, season)); err != nil {
					return err
				}
				continue
			}

			agg := &models.Aggregate{
				RegionID:    region.ID,
				ParameterID: param.ID,
				Type:        models.AggregateSeasonal,
				PeriodKey:   models.SeasonalPeriodKey(labelYear, season),
				RecordCount: len(vals),
				Complete:    len(vals) == len(months),
				ComputedAt:  e.clock.Now().UTC(),
			}

			if len(vals) > 0 {
				mean, min, max := stats(vals)
				agg.MeanValue = decimal.NullDecimal{Decimal: mean, Valid: true}
				agg.MinValue = decimal.NullDecimal{Decimal: min, Valid: true}
				agg.MaxValue = decimal.NullDecimal{Decimal: max, Valid: true}
			}

			// A value published by the MetOffice supersedes the mean
			// we derive from monthly records.
			if stored {
				agg.MeanValue = decimal.NullDecimal{Decimal: storedValue, Valid: true}
			} else {
				agg.Derived = true
			}

			if err := e.writeAggregate(ctx, agg); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) recomputeDecadal(ctx context.Context, region *models.Region, param *models.Parameter, changed []int, values map[monthKey]decimal.Decimal) error {
	timer := e.metrics.NewTimer(e.metrics.AggregationDuration.WithLabelValues(string(models.AggregateDecadal)))
	defer timer.ObserveDuration()

	decades := make(map[int]struct{})
	for _, y := range changed {
		decades[models.DecadeStart(y)] = struct{}{}
	}

	for decade := range decades {
		// Only years with a complete month run contribute; a decade mean
		// over fragments of years would skew toward whichever seasons
		// happen to be present.
		var yearlyMeans []decimal.Decimal
		for year := decade; year < decade+10; year++ {
			vals := monthValues(values, year, 1, 12)
			if len(vals) < e.minMonthsComplete {
				continue
			}
			mean, _, _ := stats(vals)
			yearlyMeans = append(yearlyMeans, mean)
		}

		if len(yearlyMeans) == 0 {
			if err := e.dropAggregate(ctx, region, param, models.AggregateDecadal, models.DecadalPeriodKey(decade)); err != nil {
				return err
			}
			continue
		}

		mean, min, max := stats(yearlyMeans)
		agg := &models.Aggregate{
			RegionID:    region.ID,
			ParameterID: param.ID,
			Type:        models.AggregateDecadal,
			PeriodKey:   models.DecadalPeriodKey(decade),
			MeanValue:   decimal.NullDecimal{Decimal: mean, Valid: true},
			MinValue:    decimal.NullDecimal{Decimal: min, Valid: true},
			MaxValue:    decimal.NullDecimal{Decimal: max, Valid: true},
			RecordCount: len(yearlyMeans),
			Complete:    len(yearlyMeans) >= e.minDecadeYears,
			ComputedAt:  e.clock.Now().UTC(),
		}
		if err := e.writeAggregate(ctx, agg); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) dropAggregate(ctx context.Context, region *models.Region, param *models.Parameter, aggType models.AggregateType, periodKey string) error {
	if err := e.aggregates.Delete(ctx, region.ID, param.ID, aggType, periodKey); err != nil {
		return fmt.Errorf("failed to drop %s aggregate %s: %w", aggType, periodKey, err)
	}
	return nil
}

func (e *Engine) writeAggregate(ctx context.Context, agg *models.Aggregate) error {
	if err := e.aggregates.Replace(ctx, agg); err != nil {
		return fmt.Errorf("failed to write %s aggregate %s: %w", agg.Type, agg.PeriodKey, err)
	}
	e.metrics.AggregatesWrittenTotal.WithLabelValues(string(agg.Type)).Inc()
	return nil
}

type summaryKey struct {
	year   int
	season models.Season
}

func (e *Engine) loadSummaries(ctx context.Context, region *models.Region, param *models.Parameter, labelYears []int) (map[summaryKey]decimal.Decimal, error) {
	published := make(map[summaryKey]decimal.Decimal)
	if len(labelYears) == 0 {
		return published, nil
	}

	summaries, err := e.summaries.ListRange(ctx, region.ID, param.ID, labelYears[0], labelYears[len(labelYears)-1])
	if err != nil {
		return nil, fmt.Errorf("failed to load seasonal summaries: %w", err)
	}

	for _, s := range summaries {
		published[summaryKey{s.Year, s.Season}] = s.Value
	}

	return published, nil
}

func (e *Engine) invalidate(ctx context.Context, region *models.Region, param *models.Parameter, changed, labelYears []int) {
	if e.cache == nil {
		return
	}

	prefixes := make(map[string]struct{})
	for _, year := range changed {
		prefixes[cache.AggregatesYearPrefix(models.AggregateMonthly, region.Code, param.Code, year)] = struct{}{}
		prefixes[cache.AggregatesYearPrefix(models.AggregateYearly, region.Code, param.Code, year)] = struct{}{}
		prefixes[cache.AggregatesDecadePrefix(region.Code, param.Code, year)] = struct{}{}
	}
	for _, year := range labelYears {
		prefixes[cache.AggregatesYearPrefix(models.AggregateSeasonal, region.Code, param.Code, year)] = struct{}{}
	}
	prefixes[cache.StatusKey()] = struct{}{}

	for prefix := range prefixes {
		if _, err := e.cache.Invalidate(ctx, prefix); err != nil {
			e.logger.Warn(ctx, "[AGG_CACHE_INVALIDATE] Cache invalidation failed", logging.Fields{
				"prefix": prefix,
				"error":  err.Error(),
			})
		}
	}
}

func monthValues(values map[monthKey]decimal.Decimal, year, fromMonth, toMonth int) []decimal.Decimal {
	var vals []decimal.Decimal
	for m := fromMonth; m <= toMonth; m++ {
		if v, ok := values[monthKey{year, m}]; ok {
			vals = append(vals, v)
		}
	}
	return vals
}

func stats(vals []decimal.Decimal) (mean, min, max decimal.Decimal) {
	min = vals[0]
	max = vals[0]
	sum := decimal.Zero
	for _, v := range vals {
		sum = sum.Add(v)
		if v.LessThan(min) {
			min = v
		}
		if v.GreaterThan(max) {
			max = v
		}
	}
	mean = sum.DivRound(decimal.NewFromInt(int64(len(vals))), meanScale)
	return mean, min, max
}

// seasonalLabelYears widens changed years by one because a changed December
// feeds the winter labeled with the following year.
func seasonalLabelYears(changed []int) []int {
	set := make(map[int]struct{}, len(changed)*2)
	for _, y := range changed {
		set[y] = struct{}{}
		set[y+1] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for y := range set {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

func uniqueSorted(years []int) []int {
	set := make(map[int]struct{}, len(years))
	for _, y := range years {
		set[y] = struct{}{}
	}
	out := make([]int, 0, len(set))
	for y := range set {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}
