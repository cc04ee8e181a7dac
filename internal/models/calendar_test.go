package models

import "testing"

func TestSeasonForMonth(t *testing.T) {
	tests := []struct {
		month int
		want  Season
	}{
		{1, SeasonWinter},
		{2, SeasonWinter},
		{3, SeasonSpring},
		{5, SeasonSpring},
		{6, SeasonSummer},
		{8, SeasonSummer},
		{9, SeasonAutumn},
		{11, SeasonAutumn},
		{12, SeasonWinter},
		{0, ""},
		{13, ""},
	}

	for _, tt := range tests {
		if got := SeasonForMonth(tt.month); got != tt.want {
			t.Errorf("SeasonForMonth(%d) = %q, want %q", tt.month, got, tt.want)
		}
	}
}

// December's winter is labeled under the following year; every other month
// keeps its calendar year.
func TestSeasonLabelYear(t *testing.T) {
	tests := []struct {
		year, month int
		want        int
	}{
		{1990, 12, 1991},
		{1991, 1, 1991},
		{1991, 2, 1991},
		{1991, 3, 1991},
		{2020, 12, 2021},
		{2020, 6, 2020},
	}

	for _, tt := range tests {
		if got := SeasonLabelYear(tt.year, tt.month); got != tt.want {
			t.Errorf("SeasonLabelYear(%d, %d) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}
}

func TestSeasonMonths(t *testing.T) {
	winter := SeasonMonths(SeasonWinter, 2021)
	want := [][2]int{{2020, 12}, {2021, 1}, {2021, 2}}
	if len(winter) != 3 {
		t.Fatalf("winter months = %d, want 3", len(winter))
	}
	for i := range want {
		if winter[i] != want[i] {
			t.Errorf("winter[%d] = %v, want %v", i, winter[i], want[i])
		}
	}

	if got := SeasonMonths(SeasonSummer, 2021); got[0] != [2]int{2021, 6} || got[2] != [2]int{2021, 8} {
		t.Errorf("summer months = %v", got)
	}

	annual := SeasonMonths(SeasonAnnual, 1999)
	if len(annual) != 12 || annual[0] != [2]int{1999, 1} || annual[11] != [2]int{1999, 12} {
		t.Errorf("annual months = %v", annual)
	}
}

func TestPeriodKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"monthly", MonthlyPeriodKey(2021, 3), "2021-03"},
		{"yearly", YearlyPeriodKey(875), "0875"},
		{"seasonal", SeasonalPeriodKey(2021, SeasonWinter), "2021-winter"},
		{"decadal mid-decade", DecadalPeriodKey(1997), "1990s"},
		{"decadal on boundary", DecadalPeriodKey(2000), "2000s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestIngestionStatusTerminal(t *testing.T) {
	terminal := []IngestionStatus{IngestionCompleted, IngestionFailed, IngestionPartial}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []IngestionStatus{IngestionPending, IngestionRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestAggregateTypeValid(t *testing.T) {
	for _, at := range AggregateTypes {
		if !at.Valid() {
			t.Errorf("%s should be valid", at)
		}
	}
	if AggregateType("weekly").Valid() {
		t.Error("weekly should not be valid")
	}
}
