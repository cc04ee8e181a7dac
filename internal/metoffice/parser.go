package metoffice

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"metoffice-climate/internal/models"
)

// Source file layout, after a free-form preamble:
//
//	year jan feb mar apr may jun jul aug sep oct nov dec  win spr sum aut ann
//	1884  4.8 5.8 8.6 ...                                 4.9 9.6 ...
//
// A complete data row has 18 columns (year + 12 months + 5 season values)
// or 13 (no season block). The most recent year may be partial: year plus a
// contiguous run of leading months, fewer than 12. Any other column count is
// structurally malformed and skipped as a per-row error.
const (
	columnsFull       = 18
	columnsNoSeasons  = 13
	earliestValidYear = 1650
	latestValidYear   = 2200
)

// ParseConfig configures the parser for one parameter's file format.
// Sentinel tokens for missing data differ between parameters, so they are
// configuration, not constants.
type ParseConfig struct {
	MissingTokens []string
}

// DefaultParseConfig covers the sentinels seen across the MetOffice files.
func DefaultParseConfig() ParseConfig {
	return ParseConfig{MissingTokens: []string{"---", "N/A"}}
}

func (c ParseConfig) isMissing(token string) bool {
	if strings.TrimSpace(token) == "" {
		return true
	}
	for _, t := range c.MissingTokens {
		if token == t {
			return true
		}
	}
	return false
}

// CandidateKind distinguishes monthly values from season summary values.
type CandidateKind int

const (
	CandidateMonth CandidateKind = iota
	CandidateSeason
)

// Candidate is one value yielded by the scanner, in source file order.
// Ordering is not guaranteed sorted; consumers must not assume it.
type Candidate struct {
	Kind   CandidateKind
	Year   int
	Month  int           // 1..12 when Kind == CandidateMonth
	Season models.Season // set when Kind == CandidateSeason
	Value  decimal.NullDecimal
	// YearIncomplete marks candidates from a partial-year row.
	YearIncomplete bool
}

// RowError records a structurally malformed row that was skipped. The rest
// of the file continues to be processed.
type RowError struct {
	Line    int
	Columns int
	Text    string
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: malformed row (%d columns)", e.Line, e.Columns)
}

// Scanner lazily yields candidates from one source file. Restart by
// constructing a new Scanner over the same text.
type Scanner struct {
	scanner *bufio.Scanner
	cfg     ParseConfig

	pending  []Candidate
	current  Candidate
	rowErrs  []RowError
	dataRows int
	line     int
	err      error
}

// NewScanner creates a Scanner over raw source text.
func NewScanner(r io.Reader, cfg ParseConfig) *Scanner {
	return &Scanner{
		scanner: bufio.NewScanner(r),
		cfg:     cfg,
	}
}

// Scan advances to the next candidate. It returns false at end of input or
// on a read error; malformed rows do not stop the scan.
func (s *Scanner) Scan() bool {
	for {
		if len(s.pending) > 0 {
			s.current = s.pending[0]
			s.pending = s.pending[1:]
			return true
		}

		if !s.scanner.Scan() {
			s.err = s.scanner.Err()
			return false
		}
		s.line++

		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		year, ok := parseYear(parts[0])
		if !ok {
			// Preamble or column-header line.
			continue
		}

		s.dataRows++
		s.parseRow(year, parts, line)
	}
}

// Candidate returns the candidate produced by the last successful Scan.
func (s *Scanner) Candidate() Candidate { return s.current }

// RowErrors returns the malformed rows encountered so far.
func (s *Scanner) RowErrors() []RowError { return s.rowErrs }

// DataRows returns the number of data rows seen so far, malformed included.
func (s *Scanner) DataRows() int { return s.dataRows }

// Err returns the first read error, if any.
func (s *Scanner) Err() error { return s.err }

func (s *Scanner) parseRow(year int, parts []string, raw string) {
	n := len(parts)

	var months int
	var seasons, incomplete bool

	switch {
	case n == columnsFull:
		months, seasons = 12, true
	case n == columnsNoSeasons:
		months = 12
	case n >= 2 && n < columnsNoSeasons:
		months, incomplete = n-1, true
	default:
		// The month block and the season block cannot be told apart.
		s.rowErrs = append(s.rowErrs, RowError{Line: s.line, Columns: n, Text: raw})
		return
	}

	for m := 1; m <= months; m++ {
		s.pending = append(s.pending, Candidate{
			Kind:           CandidateMonth,
			Year:           year,
			Month:          m,
			Value:          s.parseValue(parts[m]),
			YearIncomplete: incomplete,
		})
	}

	if !seasons {
		return
	}
	for i, season := range models.Seasons {
		value := s.parseValue(parts[columnsNoSeasons+i])
		if !value.Valid {
			// A missing season summary is a valid terminal state.
			continue
		}
		s.pending = append(s.pending, Candidate{
			Kind:   CandidateSeason,
			Year:   year,
			Season: season,
			Value:  value,
		})
	}
}

// parseValue maps a token to a value. Sentinels and unparseable tokens both
// become missing values; only a malformed row shape is a hard error.
func (s *Scanner) parseValue(token string) decimal.NullDecimal {
	if s.cfg.isMissing(token) {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(token)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func parseYear(token string) (int, bool) {
	year, err := strconv.Atoi(token)
	if err != nil || year < earliestValidYear || year > latestValidYear {
		return 0, false
	}
	return year, true
}
