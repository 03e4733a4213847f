// Package schedule resolves forecast hour lists from per-cycle schedule tables.
//
// A schedule table describes, per model cycle, which forecast hours the upstream
// service publishes. GFS 0.25 publishes hourly output through f120 and 3-hourly
// output from f123 through f384; the table captures that as stride ranges.
package schedule

import (
	"fmt"
	"sort"

	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/logger"
)

const moduleName = "schedule"

// Fallback strides used when a model has no schedule table.
// Short lead times get hourly output, long lead times 3-hourly.
const (
	fallbackHourlyLimit = 120
	fallbackShortStride = 1
	fallbackLongStride  = 3
)

// ForecastRange describes a contiguous run of published forecast hours.
// Start and End are inclusive; Stride is the hour step within the range.
type ForecastRange struct {
	Start  int
	End    int
	Stride int
}

// UnmarshalYAML decodes a ForecastRange from a [start, end, stride] triplet.
// Anything other than a three-integer sequence is a schedule configuration error.
func (r *ForecastRange) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var triplet []int
	if err := unmarshal(&triplet); err != nil {
		return exception.NewScheduleConfigError(moduleName, "forecast range must be a [start, end, stride] sequence", err)
	}
	if len(triplet) != 3 {
		return exception.NewScheduleConfigError(moduleName,
			fmt.Sprintf("forecast range must have exactly 3 elements, got %d", len(triplet)), nil)
	}
	r.Start = triplet[0]
	r.End = triplet[1]
	r.Stride = triplet[2]
	return nil
}

// validate reports a ScheduleConfigError for malformed range triplets.
func (r ForecastRange) validate() error {
	if r.Stride <= 0 {
		return exception.NewScheduleConfigError(moduleName,
			fmt.Sprintf("forecast range [%d, %d, %d] has non-positive stride", r.Start, r.End, r.Stride), nil)
	}
	if r.End < r.Start {
		return exception.NewScheduleConfigError(moduleName,
			fmt.Sprintf("forecast range [%d, %d, %d] ends before it starts", r.Start, r.End, r.Stride), nil)
	}
	if r.Start < 0 {
		return exception.NewScheduleConfigError(moduleName,
			fmt.Sprintf("forecast range [%d, %d, %d] has a negative start hour", r.Start, r.End, r.Stride), nil)
	}
	return nil
}

// hours expands the range into its individual forecast hours. End is inclusive.
func (r ForecastRange) hours() []int {
	out := make([]int, 0, (r.End-r.Start)/r.Stride+1)
	for h := r.Start; h <= r.End; h += r.Stride {
		out = append(out, h)
	}
	return out
}

// Table maps a cycle name (e.g. "00") to its published forecast ranges.
type Table map[string][]ForecastRange

// RangesFor returns the schedule ranges for a cycle, or nil when the cycle
// has no table entry.
func (t Table) RangesFor(cycle string) []ForecastRange {
	if t == nil {
		return nil
	}
	return t[cycle]
}

// UnionHours expands every cycle's ranges into a single deduplicated set.
// It is used by parameter validation, where a forecast hour is acceptable if
// any configured cycle publishes it.
func (t Table) UnionHours() (map[int]bool, error) {
	union := make(map[int]bool)
	for cycle, ranges := range t {
		for _, r := range ranges {
			if err := r.validate(); err != nil {
				return nil, exception.NewScheduleConfigError(moduleName,
					fmt.Sprintf("invalid range in schedule for cycle '%s'", cycle), err)
			}
			for _, h := range r.hours() {
				union[h] = true
			}
		}
	}
	return union, nil
}

// ResolveRange expands a forecast hour request [start, end] against a schedule table.
//
// When start equals end the single requested hour is returned unconditionally,
// without consulting the table. This is the escape hatch for re-fetching one
// specific lead time regardless of the published schedule.
//
// Otherwise hours are taken from the table ranges and filtered to [start, end].
// A model with no table falls back to a fixed stride: hourly for requests
// ending at or before f120, 3-hourly beyond.
//
// Parameters:
//
//	start: The first requested forecast hour (inclusive).
//	end: The last requested forecast hour (inclusive).
//	ranges: The schedule ranges for the cycle being planned, nil when absent.
//
// Returns:
//
//	A sorted, deduplicated ascending list of forecast hours, and an error for
//	invalid requests or malformed schedule entries.
func ResolveRange(start, end int, ranges []ForecastRange) ([]int, error) {
	if start == end {
		// Single-hour escape hatch: no bounds or table consultation.
		return []int{start}, nil
	}
	if start < 0 || end < 0 {
		return nil, exception.NewScheduleConfigError(moduleName,
			fmt.Sprintf("negative forecast hours in request [%d, %d]", start, end), nil)
	}
	if end < start {
		return nil, exception.NewScheduleConfigError(moduleName,
			fmt.Sprintf("forecast hour request [%d, %d] ends before it starts", start, end), nil)
	}

	if len(ranges) == 0 {
		return fallbackHours(start, end), nil
	}

	seen := make(map[int]bool)
	var hours []int
	for _, r := range ranges {
		if err := r.validate(); err != nil {
			return nil, err
		}
		for _, h := range r.hours() {
			if h < start || h > end || seen[h] {
				continue
			}
			seen[h] = true
			hours = append(hours, h)
		}
	}
	sort.Ints(hours)
	return hours, nil
}

// ResolveDays expands a lead time expressed in days against a schedule table.
//
// The request covers all published forecast hours up to floor(days * 24).
// A request of zero days resolves to analysis time only.
//
// Parameters:
//
//	days: The requested lead time in days; fractional values are allowed.
//	ranges: The schedule ranges for the cycle being planned, nil when absent.
//
// Returns:
//
//	A sorted, deduplicated ascending list of forecast hours, and an error for
//	invalid requests or malformed schedule entries.
func ResolveDays(days float64, ranges []ForecastRange) ([]int, error) {
	if days < 0 {
		return nil, exception.NewScheduleConfigError(moduleName,
			fmt.Sprintf("negative lead time: %g days", days), nil)
	}
	if days == 0 {
		return []int{0}, nil
	}

	maxHour := int(days * 24)
	if len(ranges) == 0 {
		logger.Debugf("No schedule table for request of %g days; falling back to fixed stride.", days)
		return fallbackHours(0, maxHour), nil
	}

	seen := make(map[int]bool)
	var hours []int
	for _, r := range ranges {
		if err := r.validate(); err != nil {
			return nil, err
		}
		for _, h := range r.hours() {
			if h > maxHour || seen[h] {
				continue
			}
			seen[h] = true
			hours = append(hours, h)
		}
	}
	sort.Ints(hours)
	return hours, nil
}

// fallbackHours generates the fixed-stride expansion used when no schedule
// table is configured. Kept separate from the table-driven path so the two
// sources of hours stay independently testable.
func fallbackHours(start, end int) []int {
	stride := fallbackShortStride
	if end > fallbackHourlyLimit {
		stride = fallbackLongStride
	}
	out := make([]int, 0, (end-start)/stride+1)
	for h := start; h <= end; h += stride {
		out = append(out, h)
	}
	return out
}
