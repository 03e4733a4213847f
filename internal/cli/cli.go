// Package cli parses the command line into pipeline commands and executes
// them against the configured model.
package cli

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/planner"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/provider"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
)

const moduleName = "cli"

const dateLayout = "20060102"

// cycleLagHours is how long after its nominal hour a cycle becomes available
// on the upstream server.
const cycleLagHours = 4

// Action names a pipeline command.
type Action string

const (
	ActionDownload   Action = "download"
	ActionProcess    Action = "process"
	ActionClean      Action = "clean"
	ActionStatus     Action = "status"
	ActionListModels Action = "list-models"
)

// Command is one parsed invocation.
type Command struct {
	Action Action
	// Model is the model name the command targets.
	Model string
	// Request is the expanded download request (download only).
	Request planner.Request
	// Dates and Cycles select runs for process and clean.
	Dates  []string
	Cycles []string
}

// Parse interprets args (without the program name) as a subcommand and its
// flags. now supplies the current time for latest-run resolution.
func Parse(args []string, cfg *config.Config, now func() time.Time) (*Command, error) {
	if len(args) == 0 {
		return nil, exception.NewInvalidParameterError(moduleName,
			"no command given (expected download, process, clean, status, or list-models)", nil)
	}
	if now == nil {
		now = time.Now
	}

	switch Action(args[0]) {
	case ActionDownload:
		return parseDownload(args[1:], cfg, now)
	case ActionProcess:
		return parseRunSelection(ActionProcess, args[1:], cfg)
	case ActionClean:
		return parseRunSelection(ActionClean, args[1:], cfg)
	case ActionStatus:
		return parseStatus(args[1:], cfg)
	case ActionListModels:
		return &Command{Action: ActionListModels}, nil
	default:
		return nil, exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("unknown command '%s'", args[0]), nil)
	}
}

func parseDownload(args []string, cfg *config.Config, now func() time.Time) (*Command, error) {
	fs := flag.NewFlagSet(string(ActionDownload), flag.ContinueOnError)
	model := fs.String("model", "", "model name (defaults to the configured default model)")
	date := fs.String("date", "", "run date yyyymmdd, a comma list, or an inclusive range start-end")
	cycle := fs.String("cycle", "", "comma list of cycles (e.g., 00,12); defaults to all published cycles")
	startHour := fs.Int("start-hour", -1, "first forecast hour")
	endHour := fs.Int("end-hour", -1, "last forecast hour (inclusive)")
	days := fs.Float64("days", -1, "forecast length in days (mutually exclusive with the hour range)")
	vars := fs.String("vars", "", "comma list of parameter codes overriding the model defaults")
	levels := fs.String("levels", "", "comma list of level names overriding the model defaults")
	bounds := fs.String("bounds", "", "spatial window leftlon,rightlon,toplat,bottomlat")
	clean := fs.Bool("clean", false, "remove stale artifacts of the planned runs first")
	latest := fs.Bool("latest", false, "target the most recent available run")
	outputDir := fs.String("output-dir", "", "artifact directory overriding the configured one")
	skipConvert := fs.Bool("skip-convert", false, "stop after downloading the raw files")
	skipInterpolate := fs.Bool("skip-interpolate", false, "convert without the hourly interpolated output")
	if err := fs.Parse(args); err != nil {
		return nil, exception.NewInvalidParameterError(moduleName, err.Error(), err)
	}

	mc, modelName, ok := cfg.Model(*model)
	if !ok {
		return nil, exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("unknown model '%s'", *model), nil)
	}
	if *outputDir != "" {
		cfg.Nwpfetch.Download.OutputDir = *outputDir
	}

	req := planner.Request{
		Clean:           *clean,
		SkipConvert:     *skipConvert,
		SkipInterpolate: *skipInterpolate,
	}

	if *latest {
		if *date != "" || *cycle != "" {
			return nil, exception.NewInvalidParameterError(moduleName,
				"-latest cannot be combined with -date or -cycle", nil)
		}
		runDate, runCycle := LatestAvailableRun(now().UTC(), mc.Cycles)
		req.Dates = []string{runDate}
		req.Cycles = []string{runCycle}
	} else {
		dates, err := expandDates(*date)
		if err != nil {
			return nil, err
		}
		req.Dates = dates
		req.Cycles = splitList(*cycle)
	}

	if *startHour >= 0 {
		v := *startHour
		req.StartHour = &v
	}
	if *endHour >= 0 {
		v := *endHour
		req.EndHour = &v
	}
	if *days >= 0 {
		v := *days
		req.Days = &v
	}
	req.Variables = splitList(*vars)
	req.Levels = splitList(*levels)

	if *bounds != "" {
		b, err := parseBounds(*bounds)
		if err != nil {
			return nil, err
		}
		req.Bounds = b
	}

	return &Command{Action: ActionDownload, Model: modelName, Request: req}, nil
}

func parseRunSelection(action Action, args []string, cfg *config.Config) (*Command, error) {
	fs := flag.NewFlagSet(string(action), flag.ContinueOnError)
	model := fs.String("model", "", "model name")
	date := fs.String("date", "", "run date yyyymmdd, a comma list, or an inclusive range start-end")
	cycle := fs.String("cycle", "", "comma list of cycles; defaults to all published cycles")
	if err := fs.Parse(args); err != nil {
		return nil, exception.NewInvalidParameterError(moduleName, err.Error(), err)
	}

	mc, modelName, ok := cfg.Model(*model)
	if !ok {
		return nil, exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("unknown model '%s'", *model), nil)
	}
	dates, err := expandDates(*date)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("%s requires -date", action), nil)
	}
	cycles := splitList(*cycle)
	if len(cycles) == 0 {
		cycles = mc.Cycles
	}
	return &Command{Action: action, Model: modelName, Dates: dates, Cycles: cycles}, nil
}

func parseStatus(args []string, cfg *config.Config) (*Command, error) {
	fs := flag.NewFlagSet(string(ActionStatus), flag.ContinueOnError)
	model := fs.String("model", "", "model name")
	if err := fs.Parse(args); err != nil {
		return nil, exception.NewInvalidParameterError(moduleName, err.Error(), err)
	}
	_, modelName, ok := cfg.Model(*model)
	if !ok {
		return nil, exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("unknown model '%s'", *model), nil)
	}
	return &Command{Action: ActionStatus, Model: modelName}, nil
}

// LatestAvailableRun picks the most recent cycle that should be published by
// now. A cycle becomes available cycleLagHours after its nominal hour; when
// none of today's cycles is available yet, the last cycle of the previous
// day is used.
func LatestAvailableRun(now time.Time, cycles []string) (string, string) {
	best := ""
	for _, c := range cycles {
		h, err := strconv.Atoi(c)
		if err != nil {
			continue
		}
		if now.Hour() >= (h+cycleLagHours)%24 {
			if best == "" || c > best {
				best = c
			}
		}
	}
	if best != "" {
		return now.Format(dateLayout), best
	}
	// Fall back to yesterday's last cycle.
	last := ""
	for _, c := range cycles {
		if c > last {
			last = c
		}
	}
	return now.AddDate(0, 0, -1).Format(dateLayout), last
}

// expandDates turns a date flag value into concrete run dates. An empty
// value yields nil; a range "start-end" is inclusive on both ends.
func expandDates(value string) ([]string, error) {
	if value == "" {
		return nil, nil
	}
	var dates []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			expanded, err := expandDateRange(part)
			if err != nil {
				return nil, err
			}
			dates = append(dates, expanded...)
			continue
		}
		if _, err := time.Parse(dateLayout, part); err != nil {
			return nil, exception.NewInvalidParameterError(moduleName,
				fmt.Sprintf("invalid date '%s': expected yyyymmdd", part), err)
		}
		dates = append(dates, part)
	}
	return dates, nil
}

func expandDateRange(value string) ([]string, error) {
	ends := strings.SplitN(value, "-", 2)
	start, err := time.Parse(dateLayout, strings.TrimSpace(ends[0]))
	if err != nil {
		return nil, exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("invalid range start '%s': expected yyyymmdd", ends[0]), err)
	}
	end, err := time.Parse(dateLayout, strings.TrimSpace(ends[1]))
	if err != nil {
		return nil, exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("invalid range end '%s': expected yyyymmdd", ends[1]), err)
	}
	if end.Before(start) {
		return nil, exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("date range '%s' ends before it starts", value), nil)
	}
	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(dateLayout))
	}
	return dates, nil
}

func parseBounds(value string) (*provider.Bounds, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return nil, exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("invalid bounds '%s': expected leftlon,rightlon,toplat,bottomlat", value), nil)
	}
	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, exception.NewInvalidParameterError(moduleName,
				fmt.Sprintf("invalid bounds component '%s'", p), err)
		}
		vals[i] = v
	}
	return &provider.Bounds{
		LeftLon:   vals[0],
		RightLon:  vals[1],
		TopLat:    vals[2],
		BottomLat: vals[3],
	}, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
