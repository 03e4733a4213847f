package grib2

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// messageSpec describes one synthetic GRIB2 message assembled byte by byte.
type messageSpec struct {
	discipline uint8
	category   uint8
	number     uint8

	refTime       time.Time
	forecastHours uint32

	levelType  uint8
	levelScale int8
	levelValue int32

	ni, nj     int
	la1, lo1   int32 // microdegrees
	di, dj     uint32
	scanMode   uint8

	refValue float32
	binScale int16
	decScale int16
	bits     uint8
	packed   []uint8 // one octet per present point; only valid for bits == 8
	bitmap   []bool  // nil means no bitmap
}

func put16(buf *bytes.Buffer, v uint16) { _ = binary.Write(buf, binary.BigEndian, v) }
func put32(buf *bytes.Buffer, v uint32) { _ = binary.Write(buf, binary.BigEndian, v) }

func signMag16(v int16) uint16 {
	if v < 0 {
		return 0x8000 | uint16(-v)
	}
	return uint16(v)
}

func signMag32(v int32) uint32 {
	if v < 0 {
		return 0x80000000 | uint32(-v)
	}
	return uint32(v)
}

func buildMessage(t *testing.T, spec messageSpec) []byte {
	t.Helper()

	var body bytes.Buffer

	// Section 1: identification.
	var sec1 bytes.Buffer
	put32(&sec1, 21)
	sec1.WriteByte(1)
	put16(&sec1, 7) // NCEP
	put16(&sec1, 0)
	sec1.Write([]byte{2, 1, 1}) // table versions, reference time significance
	put16(&sec1, uint16(spec.refTime.Year()))
	sec1.Write([]byte{
		byte(spec.refTime.Month()), byte(spec.refTime.Day()),
		byte(spec.refTime.Hour()), byte(spec.refTime.Minute()), byte(spec.refTime.Second()),
		0, 1,
	})
	body.Write(sec1.Bytes())

	// Section 3: grid definition template 3.0.
	var sec3 bytes.Buffer
	put32(&sec3, 72)
	sec3.WriteByte(3)
	sec3.WriteByte(0)
	put32(&sec3, uint32(spec.ni*spec.nj))
	sec3.Write([]byte{0, 0})
	put16(&sec3, 0) // template 3.0
	sec3.Write([]byte{6, 0})
	put32(&sec3, 0)
	sec3.WriteByte(0)
	put32(&sec3, 0)
	sec3.WriteByte(0)
	put32(&sec3, 0)
	put32(&sec3, uint32(spec.ni))
	put32(&sec3, uint32(spec.nj))
	put32(&sec3, 0)
	put32(&sec3, 0)
	put32(&sec3, signMag32(spec.la1))
	put32(&sec3, signMag32(spec.lo1))
	sec3.WriteByte(0x30)
	put32(&sec3, signMag32(spec.la1-int32(spec.nj-1)*int32(spec.dj)))
	put32(&sec3, signMag32(spec.lo1+int32(spec.ni-1)*int32(spec.di)))
	put32(&sec3, spec.di)
	put32(&sec3, spec.dj)
	sec3.WriteByte(spec.scanMode)
	require.Equal(t, 72, sec3.Len())
	body.Write(sec3.Bytes())

	// Section 4: product definition template 4.0.
	var sec4 bytes.Buffer
	put32(&sec4, 34)
	sec4.WriteByte(4)
	put16(&sec4, 0)
	put16(&sec4, 0) // template 4.0
	sec4.Write([]byte{spec.category, spec.number, 2, 0, 0, 0})
	put16(&sec4, 0)
	sec4.WriteByte(1) // forecast time in hours
	put32(&sec4, spec.forecastHours)
	sec4.WriteByte(spec.levelType)
	if spec.levelScale < 0 {
		sec4.WriteByte(0x80 | uint8(-spec.levelScale))
	} else {
		sec4.WriteByte(uint8(spec.levelScale))
	}
	put32(&sec4, signMag32(spec.levelValue))
	sec4.Write([]byte{255, 0x80, 0, 0, 0, 0}) // second fixed surface missing
	require.Equal(t, 34, sec4.Len())
	body.Write(sec4.Bytes())

	// Section 5: data representation template 5.0.
	var sec5 bytes.Buffer
	put32(&sec5, 21)
	sec5.WriteByte(5)
	put32(&sec5, uint32(len(spec.packed)))
	put16(&sec5, 0) // template 5.0
	put32(&sec5, math.Float32bits(spec.refValue))
	put16(&sec5, signMag16(spec.binScale))
	put16(&sec5, signMag16(spec.decScale))
	sec5.WriteByte(spec.bits)
	sec5.WriteByte(0)
	require.Equal(t, 21, sec5.Len())
	body.Write(sec5.Bytes())

	// Section 6: bitmap.
	var sec6 bytes.Buffer
	if spec.bitmap == nil {
		put32(&sec6, 6)
		sec6.WriteByte(6)
		sec6.WriteByte(255)
	} else {
		packed := make([]byte, (len(spec.bitmap)+7)/8)
		for i, present := range spec.bitmap {
			if present {
				packed[i/8] |= 0x80 >> uint(i%8)
			}
		}
		put32(&sec6, uint32(6+len(packed)))
		sec6.WriteByte(6)
		sec6.WriteByte(0)
		sec6.Write(packed)
	}
	body.Write(sec6.Bytes())

	// Section 7: data.
	var sec7 bytes.Buffer
	put32(&sec7, uint32(5+len(spec.packed)))
	sec7.WriteByte(7)
	sec7.Write(spec.packed)
	body.Write(sec7.Bytes())

	// Indicator section and end marker wrap the body.
	var msg bytes.Buffer
	msg.WriteString("GRIB")
	msg.Write([]byte{0, 0, spec.discipline, 2})
	_ = binary.Write(&msg, binary.BigEndian, uint64(16+body.Len()+4))
	msg.Write(body.Bytes())
	msg.WriteString("7777")
	return msg.Bytes()
}

func gfsRefTime() time.Time {
	return time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
}

func temperatureSpec() messageSpec {
	return messageSpec{
		discipline:    0,
		category:      0,
		number:        0,
		refTime:       gfsRefTime(),
		forecastHours: 3,
		levelType:     LevelHeightAboveGround,
		levelValue:    2,
		ni:            2, nj: 2,
		la1: 50_000_000, lo1: 10_000_000,
		di: 250_000, dj: 250_000,
		bits:   8,
		packed: []uint8{10, 11, 12, 13},
	}
}

func TestDecodeTwoMessages(t *testing.T) {
	orogSpec := temperatureSpec()
	orogSpec.category = 3
	orogSpec.number = 5
	orogSpec.levelType = LevelSurface
	orogSpec.levelValue = 0
	orogSpec.forecastHours = 0
	orogSpec.packed = []uint8{100, 101, 102, 103}

	data := append(buildMessage(t, temperatureSpec()), buildMessage(t, orogSpec)...)
	msgs, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	tm := msgs[0]
	assert.Equal(t, "t2m", tm.ShortName)
	assert.Equal(t, "K", tm.Units)
	assert.Equal(t, gfsRefTime(), tm.RefTime)
	assert.Equal(t, gfsRefTime().Add(3*time.Hour), tm.ValidTime)
	assert.Equal(t, "heightAboveGround", tm.LevelName())
	assert.Equal(t, 2.0, tm.LevelValue)
	assert.Equal(t, []float64{50, 49.75}, tm.Lats)
	assert.Equal(t, []float64{10, 10.25}, tm.Lons)
	assert.Equal(t, []float64{10, 11, 12, 13}, tm.Values)

	orog := msgs[1]
	assert.Equal(t, "orog", orog.ShortName)
	assert.Equal(t, "surface", orog.LevelName())
	assert.Equal(t, gfsRefTime(), orog.ValidTime)
	assert.Equal(t, []float64{100, 101, 102, 103}, orog.Values)
}

func TestDecodeScalingAppliesBinaryAndDecimalFactors(t *testing.T) {
	spec := temperatureSpec()
	spec.refValue = 100
	spec.binScale = 1
	spec.decScale = 1
	spec.packed = []uint8{5, 5, 5, 5}

	msgs, err := Decode(buildMessage(t, spec))
	require.NoError(t, err)
	// (100 + 5*2) / 10
	assert.InDelta(t, 11.0, msgs[0].Values[0], 1e-9)
}

func TestDecodeConstantFieldWithZeroBits(t *testing.T) {
	spec := temperatureSpec()
	spec.refValue = 273.15
	spec.bits = 0
	spec.packed = nil

	msgs, err := Decode(buildMessage(t, spec))
	require.NoError(t, err)
	require.Len(t, msgs[0].Values, 4)
	for _, v := range msgs[0].Values {
		assert.InDelta(t, 273.15, v, 1e-4)
	}
}

func TestDecodeBitmapMasksMissingPoints(t *testing.T) {
	spec := temperatureSpec()
	spec.bitmap = []bool{true, false, true, true}
	spec.packed = []uint8{10, 12, 13}

	msgs, err := Decode(buildMessage(t, spec))
	require.NoError(t, err)
	vals := msgs[0].Values
	assert.Equal(t, 10.0, vals[0])
	assert.True(t, math.IsNaN(vals[1]))
	assert.Equal(t, 12.0, vals[2])
	assert.Equal(t, 13.0, vals[3])
}

func TestDecodeNegativeFirstLatitude(t *testing.T) {
	spec := temperatureSpec()
	spec.la1 = -10_000_000
	spec.lo1 = 300_000_000

	msgs, err := Decode(buildMessage(t, spec))
	require.NoError(t, err)
	assert.Equal(t, []float64{-10, -10.25}, msgs[0].Lats)
	assert.Equal(t, []float64{300, 300.25}, msgs[0].Lons)
}

func TestMatchesLevel(t *testing.T) {
	msgs, err := Decode(buildMessage(t, temperatureSpec()))
	require.NoError(t, err)
	m := msgs[0]

	assert.True(t, m.MatchesLevel(HeightAboveGroundFilter(2)))
	assert.False(t, m.MatchesLevel(HeightAboveGroundFilter(10)))
	assert.False(t, m.MatchesLevel(SurfaceFilter()))
	assert.True(t, m.MatchesLevel(LevelFilter{Type: LevelHeightAboveGround, AnyValue: true}))
}

func TestDecodeRejectsOtherEditions(t *testing.T) {
	msg := buildMessage(t, temperatureSpec())
	msg[7] = 1
	_, err := Decode(msg)
	assert.Error(t, err)
}

func TestDecodeEmptyInput(t *testing.T) {
	_, err := Decode([]byte("not a grib file"))
	assert.Error(t, err)
}
