package models

import (
	"time"

	"github.com/google/uuid"
)

// Control kinds for filter dimensions.
const (
	ControlDateRange    = "date_range"
	ControlSingleSelect = "single_select"
	ControlMultiSelect  = "multi_select"
	ControlFreeText     = "free_text"
)

// DateFormat is the wire format for the defaulted date-range filters.
const DateFormat = "2006-01-02"

// Default filter keys guaranteed present after normalization.
const (
	FilterStartDate = "start_date"
	FilterEndDate   = "end_date"
)

// defaultWindowDays is the trailing window applied when the caller omits the
// date-range filters.
const defaultWindowDays = 30

// FilterDimension describes one selectable filter axis: the label the
// dashboard shows, the :param it binds in templates, the control kind, and
// an optional SQL statement whose first column enumerates legal values.
type FilterDimension struct {
	ID         uuid.UUID `json:"id"`
	Label      string    `json:"label"`
	Param      string    `json:"param"`
	Control    string    `json:"control"`
	OptionsSQL *string   `json:"options_sql,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// IsValidControl reports whether c is a known filter control kind.
func IsValidControl(c string) bool {
	switch c {
	case ControlDateRange, ControlSingleSelect, ControlMultiSelect, ControlFreeText:
		return true
	}
	return false
}

// Selectable reports whether the dimension's legal values can be enumerated
// for option caching.
func (d *FilterDimension) Selectable() bool {
	return (d.Control == ControlSingleSelect || d.Control == ControlMultiSelect) &&
		d.OptionsSQL != nil && *d.OptionsSQL != ""
}

// FilterParams maps parameter names to filter values. A value is a scalar, a
// comma-joined multi-select, or empty (treated as unset). The map is
// unordered; cache keys are derived from a canonical encoding, never from
// iteration order.
type FilterParams map[string]string

// Normalize returns a copy with the date-range defaults applied: a trailing
// 30-day window ending at now, in YYYY-MM-DD form. The receiver is not
// modified.
func (f FilterParams) Normalize(now time.Time) FilterParams {
	out := make(FilterParams, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	if out[FilterStartDate] == "" {
		out[FilterStartDate] = now.AddDate(0, 0, -defaultWindowDays).Format(DateFormat)
	}
	if out[FilterEndDate] == "" {
		out[FilterEndDate] = now.Format(DateFormat)
	}
	return out
}

// Get returns the value for name and whether it is set to something
// non-empty.
func (f FilterParams) Get(name string) (string, bool) {
	v, ok := f[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
