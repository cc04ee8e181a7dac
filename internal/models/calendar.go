package models

import "fmt"

// Season is a meteorological season, plus the full-year "annual" row the
// source publishes alongside the four seasons.
type Season string

const (
	SeasonWinter Season = "winter"
	SeasonSpring Season = "spring"
	SeasonSummer Season = "summer"
	SeasonAutumn Season = "autumn"
	SeasonAnnual Season = "annual"
)

// Seasons lists the seasonal columns in source file order.
var Seasons = []Season{SeasonWinter, SeasonSpring, SeasonSummer, SeasonAutumn, SeasonAnnual}

// Valid reports whether s is a known season.
func (s Season) Valid() bool {
	switch s {
	case SeasonWinter, SeasonSpring, SeasonSummer, SeasonAutumn, SeasonAnnual:
		return true
	}
	return false
}

// SeasonForMonth returns the meteorological season containing the month.
func SeasonForMonth(month int) Season {
	switch month {
	case 12, 1, 2:
		return SeasonWinter
	case 3, 4, 5:
		return SeasonSpring
	case 6, 7, 8:
		return SeasonSummer
	case 9, 10, 11:
		return SeasonAutumn
	}
	return ""
}

// SeasonLabelYear returns the year a month's season is labeled under.
// December belongs to the following year's winter: the winter labeled 1991
// is Dec 1990 + Jan 1991 + Feb 1991.
func SeasonLabelYear(year, month int) int {
	if month == 12 {
		return year + 1
	}
	return year
}

// SeasonMonths returns the (year, month) pairs making up the season labeled
// labelYear. Winter reaches back into the previous calendar year; annual
// covers all twelve months of labelYear.
func SeasonMonths(season Season, labelYear int) [][2]int {
	switch season {
	case SeasonWinter:
		return [][2]int{{labelYear - 1, 12}, {labelYear, 1}, {labelYear, 2}}
	case SeasonSpring:
		return [][2]int{{labelYear, 3}, {labelYear, 4}, {labelYear, 5}}
	case SeasonSummer:
		return [][2]int{{labelYear, 6}, {labelYear, 7}, {labelYear, 8}}
	case SeasonAutumn:
		return [][2]int{{labelYear, 9}, {labelYear, 10}, {labelYear, 11}}
	case SeasonAnnual:
		months := make([][2]int, 0, 12)
		for m := 1; m <= 12; m++ {
			months = append(months, [2]int{labelYear, m})
		}
		return months
	}
	return nil
}

// DecadeStart returns the first year of the decade containing year
// (1997 -> 1990).
func DecadeStart(year int) int {
	return year - year%10
}

// MonthlyPeriodKey formats a monthly aggregate key, e.g. "2021-03".
func MonthlyPeriodKey(year, month int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// YearlyPeriodKey formats a yearly aggregate key, e.g. "2021".
func YearlyPeriodKey(year int) string {
	return fmt.Sprintf("%04d", year)
}

// SeasonalPeriodKey formats a seasonal aggregate key, e.g. "2021-winter".
func SeasonalPeriodKey(year int, season Season) string {
	return fmt.Sprintf("%04d-%s", year, season)
}

// DecadalPeriodKey formats a decadal aggregate key, e.g. "1990s".
func DecadalPeriodKey(year int) string {
	return fmt.Sprintf("%04ds", DecadeStart(year))
}
