package metoffice

import (
	"strings"
	"testing"

	"metoffice-climate/internal/models"
)

const sampleFile = `Mean daily maximum temperature (Degrees C)
Areal series, starting from 1884
Allowances have been made for topographic and coastal effects
# comment line

year    jan    feb    mar    apr    may    jun    jul    aug    sep    oct    nov    dec     win    spr    sum    aut     ann
2020    7.4    8.1   10.2   14.8   17.5   19.6   20.1   21.3   17.9   13.1    9.8    7.6     6.9   14.2   20.3   13.6    13.9
2021    5.9    7.2    9.9   11.4   14.7   19.8   21.9   19.6   18.4   13.8   10.1    8.3     7.0   12.0   20.4   14.1    13.4
`

func collect(t *testing.T, text string, cfg ParseConfig) ([]Candidate, *Scanner) {
	t.Helper()
	s := NewScanner(strings.NewReader(text), cfg)
	var out []Candidate
	for s.Scan() {
		out = append(out, s.Candidate())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("scan error: %v", err)
	}
	return out, s
}

func TestScannerFullFile(t *testing.T) {
	candidates, s := collect(t, sampleFile, DefaultParseConfig())

	if s.DataRows() != 2 {
		t.Fatalf("data rows = %d, want 2", s.DataRows())
	}
	if len(s.RowErrors()) != 0 {
		t.Fatalf("row errors = %v, want none", s.RowErrors())
	}

	// 12 months + 5 seasons per complete row.
	if len(candidates) != 2*(12+5) {
		t.Fatalf("candidates = %d, want 34", len(candidates))
	}

	first := candidates[0]
	if first.Kind != CandidateMonth || first.Year != 2020 || first.Month != 1 {
		t.Errorf("first candidate = %+v", first)
	}
	if !first.Value.Valid || first.Value.Decimal.String() != "7.4" {
		t.Errorf("first value = %+v, want 7.4", first.Value)
	}
	if first.YearIncomplete {
		t.Error("complete year tagged incomplete")
	}

	// Season candidates follow the 12 months of their row.
	winter := candidates[12]
	if winter.Kind != CandidateSeason || winter.Season != models.SeasonWinter || winter.Year != 2020 {
		t.Errorf("winter candidate = %+v", winter)
	}
	annual := candidates[16]
	if annual.Season != models.SeasonAnnual || annual.Value.Decimal.String() != "13.9" {
		t.Errorf("annual candidate = %+v", annual)
	}
}

func TestScannerPartialYear(t *testing.T) {
	text := `year jan feb mar
2025 6.1 6.8 9.4 11.2 13.9 17.8 20.2
`
	candidates, s := collect(t, text, DefaultParseConfig())

	if len(candidates) != 7 {
		t.Fatalf("candidates = %d, want 7", len(candidates))
	}
	for i, c := range candidates {
		if c.Kind != CandidateMonth {
			t.Fatalf("candidate %d kind = %v, want month", i, c.Kind)
		}
		if !c.YearIncomplete {
			t.Errorf("candidate %d not tagged incomplete", i)
		}
		if c.Month != i+1 {
			t.Errorf("candidate %d month = %d, want %d", i, c.Month, i+1)
		}
	}
	if len(s.RowErrors()) != 0 {
		t.Errorf("row errors = %v, want none", s.RowErrors())
	}
}

func TestScannerMissingTokensBecomeMissingValues(t *testing.T) {
	text := "1995 ---  4.2 bogus 9.1 12.0 15.5 17.1 16.8 14.2 10.9 7.3 5.1\n"
	candidates, _ := collect(t, text, DefaultParseConfig())

	if len(candidates) != 12 {
		t.Fatalf("candidates = %d, want 12", len(candidates))
	}
	if candidates[0].Value.Valid {
		t.Error("sentinel token should be missing")
	}
	// Numeric coercion failure is a missing value, not a row error.
	if candidates[2].Value.Valid {
		t.Error("unparseable token should be missing")
	}
	if !candidates[1].Value.Valid {
		t.Error("valid token should not be missing")
	}
}

func TestScannerMalformedRowSkippedOthersContinue(t *testing.T) {
	text := `2019 5.0 6.0 8.0 11.0 14.0 17.0 19.0 19.5 16.0 12.0 8.0 6.0
2020 5.0 6.0 8.0 11.0 14.0 17.0 19.0 19.5 16.0 12.0 8.0 6.0 1.0 2.0
2021 5.5 6.5 8.5 11.5 14.5 17.5 19.5 20.0 16.5 12.5 8.5 6.5
`
	candidates, s := collect(t, text, DefaultParseConfig())

	// Rows 1 and 3 parse (12 months each); row 2 has 15 columns and is a
	// hard per-row error.
	if len(candidates) != 24 {
		t.Fatalf("candidates = %d, want 24", len(candidates))
	}
	if len(s.RowErrors()) != 1 {
		t.Fatalf("row errors = %d, want 1", len(s.RowErrors()))
	}
	if s.RowErrors()[0].Columns != 15 {
		t.Errorf("malformed row columns = %d, want 15", s.RowErrors()[0].Columns)
	}
	if s.DataRows() != 3 {
		t.Errorf("data rows = %d, want 3", s.DataRows())
	}

	years := map[int]bool{}
	for _, c := range candidates {
		years[c.Year] = true
	}
	if !years[2019] || !years[2021] || years[2020] {
		t.Errorf("parsed years = %v", years)
	}
}

func TestScannerSeasonAbsenceIsNotAnError(t *testing.T) {
	text := "2003 5.0 6.0 8.0 11.0 14.0 17.0 19.0 19.5 16.0 12.0 8.0 6.0 --- 11.0 18.5 12.0 ---\n"
	candidates, s := collect(t, text, DefaultParseConfig())

	if len(s.RowErrors()) != 0 {
		t.Fatalf("row errors = %v, want none", s.RowErrors())
	}

	var seasons []models.Season
	for _, c := range candidates {
		if c.Kind == CandidateSeason {
			seasons = append(seasons, c.Season)
		}
	}
	want := []models.Season{models.SeasonSpring, models.SeasonSummer, models.SeasonAutumn}
	if len(seasons) != len(want) {
		t.Fatalf("seasons = %v, want %v", seasons, want)
	}
	for i := range want {
		if seasons[i] != want[i] {
			t.Errorf("season %d = %s, want %s", i, seasons[i], want[i])
		}
	}
}

func TestScannerRestartable(t *testing.T) {
	first, _ := collect(t, sampleFile, DefaultParseConfig())
	second, _ := collect(t, sampleFile, DefaultParseConfig())

	if len(first) != len(second) {
		t.Fatalf("restarted scan yielded %d candidates, first %d", len(second), len(first))
	}
	for i := range first {
		if first[i].Year != second[i].Year || first[i].Month != second[i].Month || first[i].Kind != second[i].Kind {
			t.Errorf("candidate %d differs between scans", i)
		}
	}
}
