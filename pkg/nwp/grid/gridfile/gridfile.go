// Package gridfile implements the on-disk format for processed and
// interpolated datasets.
//
// A grid file is a small JSON header describing dimensions, coordinates, and
// variables, followed by one compressed chunk per variable slab. Values are
// byte-shuffled before DEFLATE compression so that the exponent and mantissa
// bytes of neighboring floats line up, which compresses smoothly varying
// meteorological fields far better than compressing the raw stream. Each
// chunk carries a CRC32 of its uncompressed bytes.
package gridfile

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/tigerroll/nwpfetch/pkg/nwp/grid"
)

const (
	magic   = "NWPG"
	version = 1

	// DefaultCompressionLevel matches flate level 6.
	DefaultCompressionLevel = 6
	// DefaultTimeChunk caps the number of time steps per chunk.
	DefaultTimeChunk = 24
)

// Options controls how a dataset is encoded.
type Options struct {
	// CompressionLevel is the DEFLATE level (1-9). Zero means DefaultCompressionLevel.
	CompressionLevel int
	// TimeChunk is the maximum number of time steps per chunk. Zero means DefaultTimeChunk.
	TimeChunk int
}

func (o Options) normalized() Options {
	if o.CompressionLevel == 0 {
		o.CompressionLevel = DefaultCompressionLevel
	}
	if o.TimeChunk <= 0 {
		o.TimeChunk = DefaultTimeChunk
	}
	return o
}

type header struct {
	Dims    map[string]int       `json:"dims"`
	Coords  map[string][]float64 `json:"coords"`
	Times   []time.Time          `json:"times,omitempty"`
	TimeDim string               `json:"time_dim,omitempty"`
	RefTime *time.Time           `json:"ref_time,omitempty"`
	Vars    []varHeader          `json:"vars"`
}

type varHeader struct {
	Name   string        `json:"name"`
	Dims   []string      `json:"dims"`
	Attrs  grid.Attrs    `json:"attrs"`
	Chunks []chunkHeader `json:"chunks"`
}

type chunkHeader struct {
	TimeStart     int    `json:"time_start"`
	TimeCount     int    `json:"time_count"`
	RawLen        int    `json:"raw_len"`
	CompressedLen int    `json:"compressed_len"`
	Checksum      uint32 `json:"crc32"`
}

// WriteFile encodes the dataset to path, creating parent directories as
// needed. It returns the number of bytes written.
func WriteFile(path string, ds *grid.Dataset, opts Options) (int64, error) {
	data, err := Encode(ds, opts)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("gridfile: failed to create directory for '%s': %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("gridfile: failed to write '%s': %w", path, err)
	}
	return int64(len(data)), nil
}

// ReadFile decodes a dataset from path.
func ReadFile(path string) (*grid.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gridfile: failed to read '%s': %w", path, err)
	}
	ds, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("gridfile: '%s': %w", path, err)
	}
	return ds, nil
}

// Encode serializes the dataset.
func Encode(ds *grid.Dataset, opts Options) ([]byte, error) {
	opts = opts.normalized()

	hdr := header{
		Dims:    ds.Dims,
		Coords:  ds.Coords,
		Times:   ds.Times,
		TimeDim: ds.TimeDim,
		RefTime: ds.RefTime,
	}

	names := ds.VarNames()
	sort.Strings(names)

	var blobs bytes.Buffer
	for _, name := range names {
		v := ds.Vars[name]
		vh := varHeader{Name: name, Dims: v.Dims, Attrs: v.Attrs}
		for _, slab := range splitChunks(ds, v, opts.TimeChunk) {
			ch, compressed, err := encodeChunk(slab.values, opts.CompressionLevel)
			if err != nil {
				return nil, fmt.Errorf("gridfile: failed to encode chunk of '%s': %w", name, err)
			}
			ch.TimeStart = slab.timeStart
			ch.TimeCount = slab.timeCount
			vh.Chunks = append(vh.Chunks, ch)
			blobs.Write(compressed)
		}
		hdr.Vars = append(hdr.Vars, vh)
	}

	headerJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("gridfile: failed to marshal header: %w", err)
	}

	var out bytes.Buffer
	out.WriteString(magic)
	out.WriteByte(version)
	_ = binary.Write(&out, binary.BigEndian, uint32(len(headerJSON)))
	out.Write(headerJSON)
	out.Write(blobs.Bytes())
	return out.Bytes(), nil
}

// Decode deserializes a dataset.
func Decode(data []byte) (*grid.Dataset, error) {
	if len(data) < len(magic)+5 || string(data[:4]) != magic {
		return nil, fmt.Errorf("not a grid file")
	}
	if data[4] != version {
		return nil, fmt.Errorf("unsupported grid file version %d", data[4])
	}
	headerLen := int(binary.BigEndian.Uint32(data[5:9]))
	if 9+headerLen > len(data) {
		return nil, fmt.Errorf("truncated header")
	}
	var hdr header
	if err := json.Unmarshal(data[9:9+headerLen], &hdr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}

	ds := grid.NewDataset()
	ds.TimeDim = hdr.TimeDim
	ds.Times = hdr.Times
	ds.RefTime = hdr.RefTime
	for dim, size := range hdr.Dims {
		ds.Dims[dim] = size
	}
	for name, vals := range hdr.Coords {
		ds.Coords[name] = vals
	}

	pos := 9 + headerLen
	for _, vh := range hdr.Vars {
		size := 1
		for _, d := range vh.Dims {
			n, ok := hdr.Dims[d]
			if !ok {
				return nil, fmt.Errorf("variable '%s' references unknown dimension '%s'", vh.Name, d)
			}
			size *= n
		}
		values := make([]float64, 0, size)
		for i, ch := range vh.Chunks {
			if pos+ch.CompressedLen > len(data) {
				return nil, fmt.Errorf("truncated chunk %d of '%s'", i, vh.Name)
			}
			chunkVals, err := decodeChunk(data[pos:pos+ch.CompressedLen], ch)
			if err != nil {
				return nil, fmt.Errorf("chunk %d of '%s': %w", i, vh.Name, err)
			}
			values = append(values, chunkVals...)
			pos += ch.CompressedLen
		}
		if len(values) != size {
			return nil, fmt.Errorf("variable '%s' decoded %d values, expected %d", vh.Name, len(values), size)
		}
		ds.Vars[vh.Name] = &grid.Variable{Dims: vh.Dims, Data: values, Attrs: vh.Attrs}
	}
	return ds, nil
}

type slab struct {
	values    []float64
	timeStart int
	timeCount int
}

// splitChunks slices a variable along its leading time dimension into slabs
// of at most timeChunk steps. Variables without a time dimension form a
// single slab.
func splitChunks(ds *grid.Dataset, v *grid.Variable, timeChunk int) []slab {
	if ds.TimeDim == "" || len(v.Dims) == 0 || v.Dims[0] != ds.TimeDim {
		return []slab{{values: v.Data}}
	}
	steps := ds.Dims[ds.TimeDim]
	if steps == 0 {
		return []slab{{values: v.Data}}
	}
	stride := len(v.Data) / steps
	var slabs []slab
	for start := 0; start < steps; start += timeChunk {
		count := timeChunk
		if start+count > steps {
			count = steps - start
		}
		slabs = append(slabs, slab{
			values:    v.Data[start*stride : (start+count)*stride],
			timeStart: start,
			timeCount: count,
		})
	}
	return slabs
}

func encodeChunk(values []float64, level int) (chunkHeader, []byte, error) {
	raw := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	shuffled := shuffle(raw)

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return chunkHeader{}, nil, err
	}
	if _, err := w.Write(shuffled); err != nil {
		return chunkHeader{}, nil, err
	}
	if err := w.Close(); err != nil {
		return chunkHeader{}, nil, err
	}

	return chunkHeader{
		RawLen:        len(raw),
		CompressedLen: buf.Len(),
		Checksum:      crc32.ChecksumIEEE(shuffled),
	}, buf.Bytes(), nil
}

func decodeChunk(compressed []byte, ch chunkHeader) ([]float64, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	shuffled, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	if len(shuffled) != ch.RawLen {
		return nil, fmt.Errorf("decompressed %d bytes, expected %d", len(shuffled), ch.RawLen)
	}
	if sum := crc32.ChecksumIEEE(shuffled); sum != ch.Checksum {
		return nil, fmt.Errorf("checksum mismatch: got %08x, want %08x", sum, ch.Checksum)
	}
	raw := unshuffle(shuffled)
	values := make([]float64, len(raw)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return values, nil
}

// shuffle groups the i-th byte of every float together so similar bytes sit
// next to each other in the compressor's window.
func shuffle(raw []byte) []byte {
	n := len(raw) / 8
	out := make([]byte, len(raw))
	for i := 0; i < n; i++ {
		for b := 0; b < 8; b++ {
			out[b*n+i] = raw[i*8+b]
		}
	}
	return out
}

func unshuffle(shuffled []byte) []byte {
	n := len(shuffled) / 8
	out := make([]byte, len(shuffled))
	for i := 0; i < n; i++ {
		for b := 0; b < 8; b++ {
			out[i*8+b] = shuffled[b*n+i]
		}
	}
	return out
}
