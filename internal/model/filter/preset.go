package filter

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// DatePreset is a named start/end shortcut.
type DatePreset struct {
	Label     string `json:"label"`
	Start     string `json:"start"`
	End       string `json:"end"`
	IsDefault bool   `json:"isDefault,omitempty"`
}

// Presets returns the date shortcuts relative to now. The default preset
// spans the full options range, ending today when the range is unknown.
// Dates are calendar days in UTC.
func Presets(now time.Time, opts Options) []DatePreset {
	now = now.UTC()
	today := now.Format(dateLayout)
	daysAgo := func(days int) string {
		return now.AddDate(0, 0, -days).Format(dateLayout)
	}

	end := opts.DateRange[1]
	if end == "" {
		end = today
	}

	return []DatePreset{
		{Label: "General (All Data)", Start: opts.DateRange[0], End: end, IsDefault: true},
		{Label: "Last 7 Days", Start: daysAgo(7), End: today},
		{Label: "Last 30 Days", Start: daysAgo(30), End: today},
		{Label: "Quarter to Date", Start: daysAgo(90), End: today},
		{Label: "Last 6 Months", Start: daysAgo(180), End: today},
		{Label: "YTD", Start: fmt.Sprintf("%d-01-01", now.Year()), End: today},
	}
}

// FindPreset looks up a preset by label.
func FindPreset(now time.Time, opts Options, label string) (DatePreset, bool) {
	for _, p := range Presets(now, opts) {
		if p.Label == label {
			return p, true
		}
	}
	return DatePreset{}, false
}
