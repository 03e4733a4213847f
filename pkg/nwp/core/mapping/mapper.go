// Package mapping translates between GRIB parameter codes, the short names
// found in decoded datasets, and the standardized names written to output files.
// The tables are loaded from an embedded YAML document so that new variables and
// models can be added without code changes.
package mapping

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tigerroll/nwpfetch/pkg/nwp/core/schedule"
	"github.com/tigerroll/nwpfetch/pkg/nwp/support/util/exception"
)

const moduleName = "mapping"

// mapperDocument is the YAML shape of the mapping tables.
type mapperDocument struct {
	// StandardVariables maps a decoded dataset name to its standardized output name.
	StandardVariables map[string]string `yaml:"standard_variables"`
	// GRIBVariables maps an upstream GRIB parameter code to the dataset names it
	// may decode to, in preference order.
	GRIBVariables map[string][]string `yaml:"grib_variables"`
	// ModelKeys maps a model name to its directory key (e.g. "gfs" -> "gfs.0p25").
	ModelKeys map[string]string `yaml:"model_keys"`
	// Schedules holds the per-model, per-cycle forecast hour tables.
	Schedules map[string]schedule.Table `yaml:"schedules"`
}

// VariableMapper answers name translation and schedule lookup questions for
// the planner and the conversion engine.
type VariableMapper struct {
	doc mapperDocument
}

// NewVariableMapper parses the mapping tables from YAML.
//
// Parameters:
//
//	data: The raw YAML document, typically embedded in the binary.
//
// Returns:
//
//	A VariableMapper and an error when the document cannot be parsed.
func NewVariableMapper(data []byte) (*VariableMapper, error) {
	var doc mapperDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to unmarshal variable mapping tables", err, false, false)
	}
	if doc.StandardVariables == nil {
		doc.StandardVariables = map[string]string{}
	}
	if doc.GRIBVariables == nil {
		doc.GRIBVariables = map[string][]string{}
	}
	if doc.ModelKeys == nil {
		doc.ModelKeys = map[string]string{}
	}
	return &VariableMapper{doc: doc}, nil
}

// StandardName returns the standardized output name for a decoded dataset
// variable. Unknown variables keep their decoded name.
func (m *VariableMapper) StandardName(datasetVar string) string {
	if std, ok := m.doc.StandardVariables[datasetVar]; ok {
		return std
	}
	return datasetVar
}

// CandidatesFor returns the dataset names a GRIB parameter code may decode to,
// ordered from generic to specific. The most specific candidate present in a
// dataset wins.
func (m *VariableMapper) CandidatesFor(gribCode string) []string {
	return m.doc.GRIBVariables[gribCode]
}

// GRIBCodes returns all configured upstream parameter codes.
func (m *VariableMapper) GRIBCodes() []string {
	codes := make([]string, 0, len(m.doc.GRIBVariables))
	for code := range m.doc.GRIBVariables {
		codes = append(codes, code)
	}
	return codes
}

// ModelKey returns the directory key for a model (e.g. "gfs" -> "gfs.0p25").
//
// Returns: The key, and an error when the model is not configured.
func (m *VariableMapper) ModelKey(model string) (string, error) {
	key, ok := m.doc.ModelKeys[model]
	if !ok {
		return "", exception.NewInvalidParameterError(moduleName,
			fmt.Sprintf("unknown model '%s'", model), nil)
	}
	return key, nil
}

// ScheduleFor returns the forecast hour table for a model, or nil when the
// model has no table configured.
func (m *VariableMapper) ScheduleFor(model string) schedule.Table {
	if m.doc.Schedules == nil {
		return nil
	}
	return m.doc.Schedules[model]
}

// RangesFor returns the schedule ranges for a specific model cycle, or nil
// when no table entry exists.
func (m *VariableMapper) RangesFor(model, cycle string) []schedule.ForecastRange {
	return m.ScheduleFor(model).RangesFor(cycle)
}

// Models returns the names of all configured models.
func (m *VariableMapper) Models() []string {
	models := make([]string, 0, len(m.doc.ModelKeys))
	for name := range m.doc.ModelKeys {
		models = append(models, name)
	}
	return models
}
