package cache

import (
	"fmt"
	"strings"

	"metoffice-climate/internal/models"
)

// Key shapes. The encoding is query-shape first, then filter values from
// coarse to fine, so invalidation can target any level with a prefix:
//
//	records:england:tmax:2021:p1:l100     one cached records page
//	records:england:tmax:2021             -> prefix for year 2021
//	agg:yearly:england:tmax:2021          one cached aggregate slice
//	agg:yearly:england:tmax               -> prefix for all years
const (
	recordsShape    = "records"
	aggregatesShape = "agg"
	statusShape     = "status"
)

func canon(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RecordsPageKey is the cache key for one page of a fully-filtered records
// listing.
func RecordsPageKey(region, parameter string, year, page, limit int) string {
	return fmt.Sprintf("%s:p%d:l%d", RecordsYearPrefix(region, parameter, year), page, limit)
}

// RecordsYearPrefix covers every cached records slice for one
// (region, parameter, year).
func RecordsYearPrefix(region, parameter string, year int) string {
	return fmt.Sprintf("%s:%s:%s:%d", recordsShape, canon(region), canon(parameter), year)
}

// AggregatesKey is the cache key for a fully-filtered aggregate listing.
func AggregatesKey(aggType models.AggregateType, region, parameter, periodKey string) string {
	return fmt.Sprintf("%s:%s", AggregatesTypePrefix(aggType, region, parameter), canon(periodKey))
}

// AggregatesTypePrefix covers every cached aggregate slice of one
// granularity for a (region, parameter) pair.
func AggregatesTypePrefix(aggType models.AggregateType, region, parameter string) string {
	return fmt.Sprintf("%s:%s:%s:%s", aggregatesShape, aggType, canon(region), canon(parameter))
}

// AggregatesYearPrefix covers cached aggregate slices of one granularity
// whose period keys start with the given year. Monthly ("2021-03"), yearly
// ("2021") and seasonal ("2021-winter") period keys all share the year as
// their leading component, so a single prefix per year suffices.
func AggregatesYearPrefix(aggType models.AggregateType, region, parameter string, year int) string {
	return fmt.Sprintf("%s:%04d", AggregatesTypePrefix(aggType, region, parameter), year)
}

// AggregatesDecadePrefix covers the cached decadal slice containing year.
func AggregatesDecadePrefix(region, parameter string, year int) string {
	return fmt.Sprintf("%s:%s", AggregatesTypePrefix(models.AggregateDecadal, region, parameter), models.DecadalPeriodKey(year))
}

// StatusKey is the cache key for the service status payload.
func StatusKey() string {
	return statusShape
}

// InvalidationPrefixes returns every prefix affected by an ingestion that
// created or updated records in the given years for (region, parameter).
// Winter aggregates of year+1 include December of the changed year, so the
// following year's seasonal slice is always covered too.
func InvalidationPrefixes(region, parameter string, years []int) []string {
	seen := make(map[string]struct{})
	var prefixes []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			prefixes = append(prefixes, p)
		}
	}

	for _, year := range years {
		add(RecordsYearPrefix(region, parameter, year))
		add(AggregatesYearPrefix(models.AggregateMonthly, region, parameter, year))
		add(AggregatesYearPrefix(models.AggregateYearly, region, parameter, year))
		add(AggregatesYearPrefix(models.AggregateSeasonal, region, parameter, year))
		add(AggregatesYearPrefix(models.AggregateSeasonal, region, parameter, year+1))
		add(AggregatesDecadePrefix(region, parameter, year))
	}
	add(StatusKey())

	return prefixes
}
