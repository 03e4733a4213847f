package provider

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/config"
	"github.com/tigerroll/nwpfetch/pkg/nwp/core/schedule"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
)

const moduleName = "provider"

// defaultFrequencyHours is the availability stride assumed when no forecast
// hour schedule is configured for the model.
const defaultFrequencyHours = 3

// GFSProvider requests GFS 0.25 degree files through the NOMADS GRIB filter
// endpoint. The filter extracts the requested variables, levels, and
// bounding box server-side, so only the needed slice of each file crosses
// the wire.
type GFSProvider struct {
	name     string
	cfg      config.ModelConfig
	schedule schedule.Table
}

// NewGFSProvider creates a provider for the given model configuration.
// table may be nil when no forecast hour schedule is configured; availability
// then falls back to the model's frequency.
func NewGFSProvider(name string, cfg config.ModelConfig, table schedule.Table) *GFSProvider {
	return &GFSProvider{name: name, cfg: cfg, schedule: table}
}

// Name returns the model name.
func (p *GFSProvider) Name() string {
	return p.name
}

// Cycles returns the model's configured run cycles.
func (p *GFSProvider) Cycles() []string {
	return p.cfg.Cycles
}

// FileName returns the remote file name, e.g. "gfs.t00z.pgrb2.0p25.f003".
// The name carries no run date; the remote directory does.
func (p *GFSProvider) FileName(cycle string, forecastHour int) string {
	return fmt.Sprintf("%s.t%sz.pgrb2.%s.f%03d", p.name, cycle, p.cfg.Resolution, forecastHour)
}

// Validate checks the request's date, cycle, and forecast hour against the
// model configuration.
func (p *GFSProvider) Validate(req Request) error {
	if len(req.Date) != 8 {
		return exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("date '%s' must be 8 digits (yyyymmdd)", req.Date), nil)
	}
	if _, err := time.Parse("20060102", req.Date); err != nil {
		return exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("date '%s' is not a valid yyyymmdd date", req.Date), err)
	}

	if !contains(p.cfg.Cycles, req.Cycle) {
		return exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("cycle '%s' is not one of %v", req.Cycle, p.cfg.Cycles), nil)
	}

	if req.ForecastHour < 0 || req.ForecastHour > p.cfg.MaxForecastHours {
		return exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("forecast hour %d is outside [0, %d]", req.ForecastHour, p.cfg.MaxForecastHours), nil)
	}

	available, err := p.availableHours()
	if err != nil {
		return err
	}
	if available != nil {
		if !available[req.ForecastHour] {
			return exception.NewInvalidParameterError(moduleName,
				fmt.Sprintf("forecast hour %d is not published for model '%s'", req.ForecastHour, p.name), nil)
		}
		return nil
	}

	freq := p.cfg.FrequencyHours
	if freq <= 0 {
		freq = defaultFrequencyHours
	}
	if req.ForecastHour%freq != 0 {
		return exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("forecast hour %d is not a multiple of the %dh output frequency", req.ForecastHour, freq), nil)
	}
	return nil
}

// availableHours returns the union of all cycles' published forecast hours,
// or nil when no schedule is configured.
func (p *GFSProvider) availableHours() (map[int]bool, error) {
	if len(p.schedule) == 0 {
		return nil, nil
	}
	hours, err := p.schedule.UnionHours()
	if err != nil {
		return nil, err
	}
	return hours, nil
}

// BuildURL validates the request and assembles the GRIB filter URL.
func (p *GFSProvider) BuildURL(req Request) (string, error) {
	if err := p.Validate(req); err != nil {
		return "", err
	}

	vars := req.Variables
	if len(vars) == 0 {
		vars = p.cfg.Variables
	}
	levels := req.Levels
	if len(levels) == 0 {
		levels = p.cfg.Levels
	}
	bounds := p.effectiveBounds(req.Bounds)

	q := url.Values{}
	q.Set("file", p.FileName(req.Cycle, req.ForecastHour))
	q.Set("dir", fmt.Sprintf("/gfs.%s/%s/atmos", req.Date, req.Cycle))
	q.Set("leftlon", formatCoord(normalizeLon(bounds.LeftLon)))
	q.Set("rightlon", formatCoord(normalizeLon(bounds.RightLon)))
	q.Set("toplat", formatCoord(bounds.TopLat))
	q.Set("bottomlat", formatCoord(bounds.BottomLat))
	for _, v := range vars {
		q.Set("var_"+v, "on")
	}
	for _, lev := range levels {
		q.Set("lev_"+lev, "on")
	}

	return p.cfg.BaseURL + "?" + q.Encode(), nil
}

// effectiveBounds resolves the request bounds against configured and global
// defaults.
func (p *GFSProvider) effectiveBounds(b *Bounds) Bounds {
	if b != nil {
		return *b
	}
	cb := p.cfg.Bounds
	if cb.LeftLon == 0 && cb.RightLon == 0 && cb.TopLat == 0 && cb.BottomLat == 0 {
		return Bounds{LeftLon: 0, RightLon: 360, TopLat: 90, BottomLat: -90}
	}
	return Bounds{LeftLon: cb.LeftLon, RightLon: cb.RightLon, TopLat: cb.TopLat, BottomLat: cb.BottomLat}
}

// normalizeLon maps a longitude in [-180, 180] convention onto the model's
// [0, 360] grid.
func normalizeLon(lon float64) float64 {
	if lon < 0 {
		return lon + 360
	}
	return lon
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Verify interfaces
var _ Provider = (*GFSProvider)(nil)
