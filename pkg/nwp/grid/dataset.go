// Package grid provides the in-memory model for gridded forecast data.
//
// A Dataset is a set of named variables sharing named dimensions, with
// coordinate values attached per dimension and a dedicated time axis. It is
// the unit of work passed between the loader, the conversion engine, and the
// temporal interpolator.
package grid

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Attrs carries descriptive metadata for a variable.
type Attrs struct {
	// Units is the physical unit of the values (e.g., "K", "m s-1").
	Units string
	// LongName is a human readable description.
	LongName string
	// GRIBName is the upstream parameter code the variable decoded from.
	GRIBName string
	// Level is the vertical level type (e.g., "surface", "heightAboveGround").
	Level string
	// LevelValue is the numeric level (e.g., 2 for 2 m above ground).
	LevelValue float64
}

// Variable is a single gridded field. Data is stored row-major over Dims.
type Variable struct {
	// Dims names the dimensions of the field in storage order.
	Dims []string
	// Data holds the values, row-major over Dims.
	Data []float64
	// Attrs carries descriptive metadata.
	Attrs Attrs
}

// HasDim reports whether the variable depends on the named dimension.
func (v *Variable) HasDim(name string) bool {
	for _, d := range v.Dims {
		if d == name {
			return true
		}
	}
	return false
}

// Dataset is a collection of variables over shared named dimensions.
//
// The time axis is held separately from numeric coordinates: Times carries the
// values and TimeDim the current name of the time dimension ("valid_time" as
// decoded, "time" after standardization). RefTime holds the initialization
// time coordinate until it is dropped during standardization.
type Dataset struct {
	// Dims maps dimension name to length.
	Dims map[string]int
	// Coords maps dimension name to its numeric coordinate values.
	Coords map[string][]float64
	// Times holds the values of the time dimension.
	Times []time.Time
	// TimeDim is the current name of the time dimension, empty when the
	// dataset has no time axis.
	TimeDim string
	// RefTime is the model initialization time, nil once dropped.
	RefTime *time.Time
	// Vars maps variable name to its field.
	Vars map[string]*Variable
}

// NewDataset creates an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{
		Dims:   make(map[string]int),
		Coords: make(map[string][]float64),
		Vars:   make(map[string]*Variable),
	}
}

// Shape returns the dimension lengths of a variable in storage order.
func (d *Dataset) Shape(v *Variable) []int {
	shape := make([]int, len(v.Dims))
	for i, dim := range v.Dims {
		shape[i] = d.Dims[dim]
	}
	return shape
}

// VarNames returns the variable names in sorted order.
func (d *Dataset) VarNames() []string {
	names := make([]string, 0, len(d.Vars))
	for name := range d.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasDim reports whether the dataset defines the named dimension.
func (d *Dataset) HasDim(name string) bool {
	_, ok := d.Dims[name]
	return ok
}

// TimeSteps returns the length of the time axis.
func (d *Dataset) TimeSteps() int {
	return len(d.Times)
}

// HasNaN reports whether any variable contains a NaN value.
func (d *Dataset) HasNaN() bool {
	for _, v := range d.Vars {
		for _, x := range v.Data {
			if math.IsNaN(x) {
				return true
			}
		}
	}
	return false
}

// RenameDim renames a dimension across the dataset: the dimension table, the
// coordinate table, the time axis name, and every variable referencing it.
// Renaming a missing dimension is a no-op.
func (d *Dataset) RenameDim(old, new string) error {
	if old == new {
		return nil
	}
	size, ok := d.Dims[old]
	if !ok {
		return nil
	}
	if _, exists := d.Dims[new]; exists {
		return fmt.Errorf("cannot rename dimension '%s' to '%s': target already exists", old, new)
	}
	delete(d.Dims, old)
	d.Dims[new] = size
	if coords, ok := d.Coords[old]; ok {
		delete(d.Coords, old)
		d.Coords[new] = coords
	}
	if d.TimeDim == old {
		d.TimeDim = new
	}
	for _, v := range d.Vars {
		for i, dim := range v.Dims {
			if dim == old {
				v.Dims[i] = new
			}
		}
	}
	return nil
}

// RenameVar renames a variable. Renaming a missing variable is a no-op.
func (d *Dataset) RenameVar(old, new string) {
	if old == new {
		return
	}
	v, ok := d.Vars[old]
	if !ok {
		return
	}
	delete(d.Vars, old)
	d.Vars[new] = v
}

// DropRefTime discards the initialization time coordinate.
func (d *Dataset) DropRefTime() {
	d.RefTime = nil
}

// SetVar adds or replaces a variable, registering any dimensions it depends
// on. Dimension length conflicts are an error.
func (d *Dataset) SetVar(name string, v *Variable, dimSizes map[string]int) error {
	expected := 1
	for _, dim := range v.Dims {
		size, ok := dimSizes[dim]
		if !ok {
			return fmt.Errorf("variable '%s': no length given for dimension '%s'", name, dim)
		}
		if have, exists := d.Dims[dim]; exists && have != size {
			return fmt.Errorf("variable '%s': dimension '%s' length %d conflicts with existing length %d", name, dim, size, have)
		}
		d.Dims[dim] = size
		expected *= size
	}
	if len(v.Data) != expected {
		return fmt.Errorf("variable '%s': data length %d does not match shape product %d", name, len(v.Data), expected)
	}
	d.Vars[name] = v
	return nil
}

// Merge copies variables from other into d. When override is true, colliding
// variable names are replaced by the incoming field; otherwise the existing
// field is kept. Coordinates and dimensions missing from d are adopted from
// other; conflicting dimension lengths are an error.
func (d *Dataset) Merge(other *Dataset, override bool) error {
	for dim, size := range other.Dims {
		if have, ok := d.Dims[dim]; ok {
			if have != size {
				return fmt.Errorf("merge: dimension '%s' length %d conflicts with %d", dim, size, have)
			}
			continue
		}
		d.Dims[dim] = size
		if coords, ok := other.Coords[dim]; ok {
			d.Coords[dim] = coords
		}
	}
	if d.TimeDim == "" && other.TimeDim != "" {
		d.TimeDim = other.TimeDim
		d.Times = other.Times
	}
	if d.RefTime == nil && other.RefTime != nil {
		d.RefTime = other.RefTime
	}
	for name, v := range other.Vars {
		if _, exists := d.Vars[name]; exists && !override {
			continue
		}
		d.Vars[name] = v
	}
	return nil
}

// ConcatTime concatenates datasets along their time dimension, in the order
// given. Every part must use the same time dimension name and agree on
// non-time dimensions; time must be the leading dimension of every
// time-dependent variable. Variables without a time dimension are taken from
// the first part defining them. The result is not sorted; see SortByTime.
func ConcatTime(parts []*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("concat: no datasets given")
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	first := parts[0]
	if first.TimeDim == "" {
		return nil, fmt.Errorf("concat: dataset has no time dimension")
	}
	out := NewDataset()
	out.TimeDim = first.TimeDim
	out.RefTime = first.RefTime

	for dim, size := range first.Dims {
		if dim == first.TimeDim {
			continue
		}
		out.Dims[dim] = size
		if coords, ok := first.Coords[dim]; ok {
			out.Coords[dim] = coords
		}
	}

	for _, part := range parts {
		if part.TimeDim != first.TimeDim {
			return nil, fmt.Errorf("concat: time dimension name mismatch: '%s' vs '%s'", part.TimeDim, first.TimeDim)
		}
		for dim, size := range part.Dims {
			if dim == part.TimeDim {
				continue
			}
			if have, ok := out.Dims[dim]; ok && have != size {
				return nil, fmt.Errorf("concat: dimension '%s' length %d conflicts with %d", dim, size, have)
			}
		}
		out.Times = append(out.Times, part.Times...)
	}
	out.Dims[out.TimeDim] = len(out.Times)

	for name, v := range first.Vars {
		if !v.HasDim(first.TimeDim) {
			out.Vars[name] = v
			continue
		}
		if v.Dims[0] != first.TimeDim {
			return nil, fmt.Errorf("concat: variable '%s' does not have time as its leading dimension", name)
		}
		merged := &Variable{Dims: append([]string(nil), v.Dims...), Attrs: v.Attrs}
		for _, part := range parts {
			pv, ok := part.Vars[name]
			if !ok {
				return nil, fmt.Errorf("concat: variable '%s' missing from a dataset", name)
			}
			merged.Data = append(merged.Data, pv.Data...)
		}
		out.Vars[name] = merged
	}
	return out, nil
}

// SortByTime reorders the time axis ascending, carrying every time-dependent
// variable along. Time must be the leading dimension of each such variable.
func (d *Dataset) SortByTime() error {
	n := len(d.Times)
	if n < 2 {
		return nil
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return d.Times[order[a]].Before(d.Times[order[b]])
	})

	sortedTimes := make([]time.Time, n)
	for i, src := range order {
		sortedTimes[i] = d.Times[src]
	}
	d.Times = sortedTimes

	for name, v := range d.Vars {
		if !v.HasDim(d.TimeDim) {
			continue
		}
		if v.Dims[0] != d.TimeDim {
			return fmt.Errorf("sort: variable '%s' does not have time as its leading dimension", name)
		}
		block := len(v.Data) / n
		sorted := make([]float64, len(v.Data))
		for i, src := range order {
			copy(sorted[i*block:(i+1)*block], v.Data[src*block:(src+1)*block])
		}
		v.Data = sorted
	}
	return nil
}

// Transpose reorders the dimensions of every variable so that the dimensions
// named in priority come first, in that order, followed by any remaining
// dimensions in their original relative order.
func (d *Dataset) Transpose(priority ...string) error {
	for _, v := range d.Vars {
		if err := d.transposeVar(v, priority); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) transposeVar(v *Variable, priority []string) error {
	newDims := make([]string, 0, len(v.Dims))
	for _, p := range priority {
		if v.HasDim(p) {
			newDims = append(newDims, p)
		}
	}
	for _, dim := range v.Dims {
		found := false
		for _, nd := range newDims {
			if nd == dim {
				found = true
				break
			}
		}
		if !found {
			newDims = append(newDims, dim)
		}
	}

	same := true
	for i := range newDims {
		if newDims[i] != v.Dims[i] {
			same = false
			break
		}
	}
	if same {
		return nil
	}

	// perm[i] is the old axis that becomes new axis i.
	perm := make([]int, len(newDims))
	for i, nd := range newDims {
		for j, od := range v.Dims {
			if od == nd {
				perm[i] = j
				break
			}
		}
	}

	oldShape := d.Shape(v)
	newShape := make([]int, len(newDims))
	for i := range newDims {
		newShape[i] = oldShape[perm[i]]
	}
	oldStrides := rowMajorStrides(oldShape)
	newData := make([]float64, len(v.Data))
	idx := make([]int, len(newShape))
	for linear := range newData {
		// Decompose linear into the new multi-index, then map to the old layout.
		rem := linear
		for i := len(newShape) - 1; i >= 0; i-- {
			idx[i] = rem % newShape[i]
			rem /= newShape[i]
		}
		src := 0
		for i, p := range perm {
			src += idx[i] * oldStrides[p]
		}
		newData[linear] = v.Data[src]
	}
	v.Dims = newDims
	v.Data = newData
	return nil
}

// SelectIndices returns a new dataset restricted to the given positions along
// one dimension. Variables that do not depend on the dimension are carried
// over unchanged.
func (d *Dataset) SelectIndices(dim string, idx []int) (*Dataset, error) {
	size, ok := d.Dims[dim]
	if !ok {
		return nil, fmt.Errorf("select: unknown dimension '%s'", dim)
	}
	for _, i := range idx {
		if i < 0 || i >= size {
			return nil, fmt.Errorf("select: index %d out of range for dimension '%s' (length %d)", i, dim, size)
		}
	}

	out := NewDataset()
	out.TimeDim = d.TimeDim
	out.RefTime = d.RefTime
	for name, length := range d.Dims {
		if name == dim {
			out.Dims[name] = len(idx)
		} else {
			out.Dims[name] = length
		}
	}
	for name, coords := range d.Coords {
		if name == dim {
			selected := make([]float64, len(idx))
			for i, j := range idx {
				selected[i] = coords[j]
			}
			out.Coords[name] = selected
		} else {
			out.Coords[name] = coords
		}
	}
	if d.TimeDim == dim {
		selected := make([]time.Time, len(idx))
		for i, j := range idx {
			selected[i] = d.Times[j]
		}
		out.Times = selected
	} else {
		out.Times = d.Times
	}

	for name, v := range d.Vars {
		if !v.HasDim(dim) {
			out.Vars[name] = v
			continue
		}
		nv, err := d.selectVar(v, dim, idx)
		if err != nil {
			return nil, fmt.Errorf("select: variable '%s': %w", name, err)
		}
		out.Vars[name] = nv
	}
	return out, nil
}

func (d *Dataset) selectVar(v *Variable, dim string, idx []int) (*Variable, error) {
	oldShape := d.Shape(v)
	axis := -1
	for i, name := range v.Dims {
		if name == dim {
			axis = i
			break
		}
	}
	newShape := append([]int(nil), oldShape...)
	newShape[axis] = len(idx)
	oldStrides := rowMajorStrides(oldShape)

	total := 1
	for _, s := range newShape {
		total *= s
	}
	newData := make([]float64, total)
	midx := make([]int, len(newShape))
	for linear := range newData {
		rem := linear
		for i := len(newShape) - 1; i >= 0; i-- {
			midx[i] = rem % newShape[i]
			rem /= newShape[i]
		}
		src := 0
		for i := range midx {
			j := midx[i]
			if i == axis {
				j = idx[j]
			}
			src += j * oldStrides[i]
		}
		newData[linear] = v.Data[src]
	}
	return &Variable{Dims: append([]string(nil), v.Dims...), Data: newData, Attrs: v.Attrs}, nil
}

// ValueAt returns the value of a variable at the given per-dimension indices.
// Intended for tests and spot checks.
func (d *Dataset) ValueAt(name string, at map[string]int) (float64, error) {
	v, ok := d.Vars[name]
	if !ok {
		return 0, fmt.Errorf("unknown variable '%s'", name)
	}
	shape := d.Shape(v)
	strides := rowMajorStrides(shape)
	linear := 0
	for i, dim := range v.Dims {
		j, ok := at[dim]
		if !ok {
			return 0, fmt.Errorf("missing index for dimension '%s'", dim)
		}
		if j < 0 || j >= shape[i] {
			return 0, fmt.Errorf("index %d out of range for dimension '%s'", j, dim)
		}
		linear += j * strides[i]
	}
	return v.Data[linear], nil
}

// rowMajorStrides returns the element strides of a row-major layout.
func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}
