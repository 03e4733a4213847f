// Package provider builds and validates download requests against a concrete
// NWP data source. Each provider knows the URL scheme, file naming, and
// forecast hour availability of one model endpoint.
package provider

// Bounds is a geographic subset request in degrees. Longitudes may be given
// in [-180, 180] or [0, 360] convention; providers normalize as their grid
// requires.
type Bounds struct {
	LeftLon   float64
	RightLon  float64
	TopLat    float64
	BottomLat float64
}

// Request identifies a single file to download.
type Request struct {
	// Date is the model run date in yyyymmdd form.
	Date string
	// Cycle is the model run cycle (e.g., "00", "06", "12", "18").
	Cycle string
	// ForecastHour is the lead time in hours.
	ForecastHour int
	// Variables restricts the request to these GRIB codes. Empty means the
	// provider's configured defaults.
	Variables []string
	// Levels restricts the request to these level selectors. Empty means the
	// provider's configured defaults.
	Levels []string
	// Bounds restricts the request spatially. Nil means the provider's
	// configured defaults.
	Bounds *Bounds
}

// Provider describes one model data source.
type Provider interface {
	// Name returns the model name (e.g., "gfs").
	Name() string
	// FileName returns the remote file name for a cycle and forecast hour.
	FileName(cycle string, forecastHour int) string
	// BuildURL validates the request and returns the full download URL.
	BuildURL(req Request) (string, error)
	// Validate checks a request without building a URL.
	Validate(req Request) error
	// Cycles returns the model's run cycles.
	Cycles() []string
}
