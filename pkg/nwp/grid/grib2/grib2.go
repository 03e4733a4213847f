// Package grib2 decodes GRIB edition 2 messages as published by the NOMADS
// GRIB filter endpoint.
//
// The decoder covers the subset of the format that GFS 0.25 surface products
// use: grid definition template 3.0 (regular latitude/longitude), product
// definition template 4.0 (analysis or forecast at a horizontal level), data
// representation template 5.0 (simple packing), and an optional bitmap.
package grib2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"
)

// Level type codes from WMO code table 4.5.
const (
	LevelSurface          uint8 = 1
	LevelHeightAboveGround uint8 = 103
)

// LevelFilter selects messages on a vertical level. A zero Value matches any
// level value of the given type when AnyValue is set.
type LevelFilter struct {
	// Type is the WMO level type code.
	Type uint8
	// Value is the numeric level (e.g., 2 for 2 m above ground).
	Value float64
	// AnyValue matches all level values of the given type.
	AnyValue bool
}

// SurfaceFilter matches surface-level products.
func SurfaceFilter() LevelFilter {
	return LevelFilter{Type: LevelSurface, AnyValue: true}
}

// HeightAboveGroundFilter matches fixed-height products at the given height in meters.
func HeightAboveGroundFilter(meters float64) LevelFilter {
	return LevelFilter{Type: LevelHeightAboveGround, Value: meters}
}

// Message is one decoded GRIB2 field.
type Message struct {
	// RefTime is the model initialization time.
	RefTime time.Time
	// ValidTime is the time the field is valid for (RefTime plus lead time).
	ValidTime time.Time
	// ShortName is the conventional dataset name of the parameter (t2m, u10, ...).
	ShortName string
	// Units is the physical unit of the values.
	Units string
	// Discipline, Category, and Number identify the parameter.
	Discipline uint8
	Category   uint8
	Number     uint8
	// LevelType is the WMO level type code of the first fixed surface.
	LevelType uint8
	// LevelValue is the numeric level of the first fixed surface.
	LevelValue float64
	// Ni and Nj are the grid sizes along longitude and latitude.
	Ni, Nj int
	// Lats and Lons are the grid coordinates in degrees, in scan order.
	Lats, Lons []float64
	// Values holds the decoded field in scan order (Nj rows of Ni points);
	// points masked by the bitmap are NaN.
	Values []float64
}

// MatchesLevel reports whether the message sits on the filtered level.
func (m *Message) MatchesLevel(f LevelFilter) bool {
	if m.LevelType != f.Type {
		return false
	}
	if f.AnyValue {
		return true
	}
	return m.LevelValue == f.Value
}

// LevelName returns the conventional name of the message's level type.
func (m *Message) LevelName() string {
	switch m.LevelType {
	case LevelSurface:
		return "surface"
	case LevelHeightAboveGround:
		return "heightAboveGround"
	default:
		return fmt.Sprintf("level_%d", m.LevelType)
	}
}

// DecodeFile decodes every GRIB2 message in a file.
func DecodeFile(path string) ([]*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("grib2: failed to read '%s': %w", path, err)
	}
	msgs, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("grib2: '%s': %w", path, err)
	}
	return msgs, nil
}

// Decode decodes every GRIB2 message in a byte stream. Bytes between messages
// are skipped.
func Decode(data []byte) ([]*Message, error) {
	var msgs []*Message
	offset := 0
	for {
		start := bytes.Index(data[offset:], []byte("GRIB"))
		if start < 0 {
			break
		}
		offset += start
		if len(data)-offset < 16 {
			return nil, fmt.Errorf("truncated indicator section at offset %d", offset)
		}
		edition := data[offset+7]
		if edition != 2 {
			return nil, fmt.Errorf("unsupported GRIB edition %d", edition)
		}
		totalLen := int(binary.BigEndian.Uint64(data[offset+8 : offset+16]))
		if offset+totalLen > len(data) {
			return nil, fmt.Errorf("message at offset %d claims %d bytes beyond end of input", offset, totalLen)
		}
		msg, err := decodeMessage(data[offset : offset+totalLen])
		if err != nil {
			return nil, fmt.Errorf("message at offset %d: %w", offset, err)
		}
		msgs = append(msgs, msg)
		offset += totalLen
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("no GRIB2 messages found")
	}
	return msgs, nil
}

// decodeMessage decodes a single message, indicator section through "7777".
func decodeMessage(msg []byte) (*Message, error) {
	out := &Message{Discipline: msg[6]}

	// Walk the numbered sections between the indicator and the end marker.
	var sec1, sec3, sec4, sec5, sec6, sec7 []byte
	pos := 16
	for pos < len(msg) {
		if len(msg)-pos >= 4 && string(msg[pos:pos+4]) == "7777" {
			break
		}
		if len(msg)-pos < 5 {
			return nil, fmt.Errorf("truncated section header")
		}
		secLen := int(binary.BigEndian.Uint32(msg[pos : pos+4]))
		secNum := msg[pos+4]
		if secLen < 5 || pos+secLen > len(msg) {
			return nil, fmt.Errorf("section %d has invalid length %d", secNum, secLen)
		}
		body := msg[pos : pos+secLen]
		switch secNum {
		case 1:
			sec1 = body
		case 2:
			// Local use section, ignored.
		case 3:
			sec3 = body
		case 4:
			sec4 = body
		case 5:
			sec5 = body
		case 6:
			sec6 = body
		case 7:
			sec7 = body
		default:
			return nil, fmt.Errorf("unexpected section number %d", secNum)
		}
		pos += secLen
	}
	if sec1 == nil || sec3 == nil || sec4 == nil || sec5 == nil || sec7 == nil {
		return nil, fmt.Errorf("message missing required sections")
	}

	if err := decodeIdentification(sec1, out); err != nil {
		return nil, err
	}
	if err := decodeGrid(sec3, out); err != nil {
		return nil, err
	}
	if err := decodeProduct(sec4, out); err != nil {
		return nil, err
	}
	bitmap, err := decodeBitmap(sec6, out.Ni*out.Nj)
	if err != nil {
		return nil, err
	}
	if err := decodeData(sec5, sec7, bitmap, out); err != nil {
		return nil, err
	}

	out.ShortName, out.Units = parameterName(out.Discipline, out.Category, out.Number, out.LevelType, out.LevelValue)
	return out, nil
}

// decodeIdentification extracts the reference time from section 1.
func decodeIdentification(sec []byte, out *Message) error {
	if len(sec) < 21 {
		return fmt.Errorf("identification section too short")
	}
	year := int(binary.BigEndian.Uint16(sec[12:14]))
	month := time.Month(sec[14])
	day := int(sec[15])
	hour := int(sec[16])
	minute := int(sec[17])
	second := int(sec[18])
	out.RefTime = time.Date(year, month, day, hour, minute, second, 0, time.UTC)
	return nil
}

// decodeGrid extracts a regular latitude/longitude grid from template 3.0.
func decodeGrid(sec []byte, out *Message) error {
	if len(sec) < 72 {
		return fmt.Errorf("grid definition section too short")
	}
	template := binary.BigEndian.Uint16(sec[12:14])
	if template != 0 {
		return fmt.Errorf("unsupported grid definition template %d", template)
	}
	ni := int(binary.BigEndian.Uint32(sec[30:34]))
	nj := int(binary.BigEndian.Uint32(sec[34:38]))
	la1 := signMagnitude32(binary.BigEndian.Uint32(sec[46:50]))
	lo1 := signMagnitude32(binary.BigEndian.Uint32(sec[50:54]))
	di := int64(binary.BigEndian.Uint32(sec[63:67]))
	dj := int64(binary.BigEndian.Uint32(sec[67:71]))
	scan := sec[71]

	if ni <= 0 || nj <= 0 {
		return fmt.Errorf("invalid grid size %dx%d", ni, nj)
	}
	out.Ni, out.Nj = ni, nj

	const micro = 1e-6
	out.Lons = make([]float64, ni)
	lonStep := di
	if scan&0x80 != 0 {
		lonStep = -di
	}
	for i := 0; i < ni; i++ {
		out.Lons[i] = float64(lo1+int64(i)*lonStep) * micro
	}

	out.Lats = make([]float64, nj)
	latStep := -dj // scan mode 0: rows run north to south
	if scan&0x40 != 0 {
		latStep = dj
	}
	for j := 0; j < nj; j++ {
		out.Lats[j] = float64(la1+int64(j)*latStep) * micro
	}
	return nil
}

// decodeProduct extracts parameter, lead time, and level from template 4.0.
func decodeProduct(sec []byte, out *Message) error {
	if len(sec) < 34 {
		return fmt.Errorf("product definition section too short")
	}
	template := binary.BigEndian.Uint16(sec[7:9])
	if template != 0 {
		return fmt.Errorf("unsupported product definition template %d", template)
	}
	out.Category = sec[9]
	out.Number = sec[10]

	timeUnit := sec[17]
	forecastTime := int64(binary.BigEndian.Uint32(sec[18:22]))
	var lead time.Duration
	switch timeUnit {
	case 0:
		lead = time.Duration(forecastTime) * time.Minute
	case 1:
		lead = time.Duration(forecastTime) * time.Hour
	case 2:
		lead = time.Duration(forecastTime) * 24 * time.Hour
	default:
		return fmt.Errorf("unsupported forecast time unit %d", timeUnit)
	}
	out.ValidTime = out.RefTime.Add(lead)

	out.LevelType = sec[22]
	scale := signMagnitude8(sec[23])
	scaled := signMagnitude32(binary.BigEndian.Uint32(sec[24:28]))
	out.LevelValue = float64(scaled) / math.Pow10(int(scale))
	return nil
}

// decodeBitmap returns a presence mask for the data points, or nil when all
// points are present.
func decodeBitmap(sec []byte, points int) ([]bool, error) {
	if sec == nil {
		return nil, nil
	}
	if len(sec) < 6 {
		return nil, fmt.Errorf("bitmap section too short")
	}
	switch sec[5] {
	case 255:
		return nil, nil
	case 0:
		need := (points + 7) / 8
		if len(sec)-6 < need {
			return nil, fmt.Errorf("bitmap shorter than %d data points", points)
		}
		mask := make([]bool, points)
		for i := 0; i < points; i++ {
			mask[i] = sec[6+i/8]&(0x80>>uint(i%8)) != 0
		}
		return mask, nil
	default:
		return nil, fmt.Errorf("unsupported bitmap indicator %d", sec[5])
	}
}

// decodeData unpacks simple-packed values from sections 5 and 7.
// Each present point decodes as (R + X * 2^E) / 10^D.
func decodeData(sec5, sec7 []byte, bitmap []bool, out *Message) error {
	if len(sec5) < 21 {
		return fmt.Errorf("data representation section too short")
	}
	template := binary.BigEndian.Uint16(sec5[9:11])
	if template != 0 {
		return fmt.Errorf("unsupported data representation template %d", template)
	}
	packed := int(binary.BigEndian.Uint32(sec5[5:9]))
	refValue := float64(math.Float32frombits(binary.BigEndian.Uint32(sec5[11:15])))
	binScale := signMagnitude16(binary.BigEndian.Uint16(sec5[15:17]))
	decScale := signMagnitude16(binary.BigEndian.Uint16(sec5[17:19]))
	bits := int(sec5[19])

	points := out.Ni * out.Nj
	binFactor := math.Pow(2, float64(binScale))
	decFactor := math.Pow10(int(decScale))

	out.Values = make([]float64, points)
	reader := bitReader{data: sec7[5:]}
	decoded := 0
	for i := 0; i < points; i++ {
		if bitmap != nil && !bitmap[i] {
			out.Values[i] = math.NaN()
			continue
		}
		var x uint64
		if bits > 0 {
			var err error
			x, err = reader.read(bits)
			if err != nil {
				return fmt.Errorf("packed data exhausted after %d of %d points", decoded, packed)
			}
		}
		out.Values[i] = (refValue + float64(x)*binFactor) / decFactor
		decoded++
	}
	return nil
}

// parameterName maps a parameter identity to its conventional dataset short
// name and unit. Unknown parameters get a synthetic name so they survive the
// pipeline without being silently dropped.
func parameterName(discipline, category, number, levelType uint8, levelValue float64) (string, string) {
	at := func(t uint8, v float64) bool {
		return levelType == t && levelValue == v
	}
	switch {
	case discipline == 0 && category == 0 && number == 0:
		if at(LevelHeightAboveGround, 2) {
			return "t2m", "K"
		}
		return "t", "K"
	case discipline == 0 && category == 1 && number == 1:
		if at(LevelHeightAboveGround, 2) {
			return "r2", "%"
		}
		return "r", "%"
	case discipline == 0 && category == 2 && number == 2:
		if at(LevelHeightAboveGround, 10) {
			return "u10", "m s-1"
		}
		return "u", "m s-1"
	case discipline == 0 && category == 2 && number == 3:
		if at(LevelHeightAboveGround, 10) {
			return "v10", "m s-1"
		}
		return "v", "m s-1"
	case discipline == 0 && category == 3 && number == 5:
		if levelType == LevelSurface {
			return "orog", "gpm"
		}
		return "gh", "gpm"
	default:
		return fmt.Sprintf("p%d_%d_%d", discipline, category, number), ""
	}
}

// bitReader reads big-endian bit fields from a byte slice.
type bitReader struct {
	data   []byte
	bitPos int
}

func (r *bitReader) read(bits int) (uint64, error) {
	var out uint64
	for i := 0; i < bits; i++ {
		byteIdx := r.bitPos / 8
		if byteIdx >= len(r.data) {
			return 0, fmt.Errorf("bit stream exhausted")
		}
		bit := (r.data[byteIdx] >> uint(7-r.bitPos%8)) & 1
		out = out<<1 | uint64(bit)
		r.bitPos++
	}
	return out, nil
}

// Sign-and-magnitude integer decoding used throughout the GRIB2 format.

func signMagnitude8(v uint8) int8 {
	if v&0x80 != 0 {
		return -int8(v & 0x7f)
	}
	return int8(v)
}

func signMagnitude16(v uint16) int16 {
	if v&0x8000 != 0 {
		return -int16(v & 0x7fff)
	}
	return int16(v)
}

func signMagnitude32(v uint32) int64 {
	if v&0x80000000 != 0 {
		return -int64(v & 0x7fffffff)
	}
	return int64(v)
}
