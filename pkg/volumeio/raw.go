// Package volumeio reads and writes the volumes the pipeline runs on.
//
// A raw volume is a small YAML header next to a payload file of little-endian
// samples in row-major order (x fastest). The payload may be stored plain,
// gzip- or zstd-compressed. A directory of numbered 2D images is also
// accepted and stacked into a volume, one image per z plane.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"tubulargeodesics/internal/models"
)

// Sample types of the payload.
const (
	Uint8   = "uint8"
	Uint16  = "uint16"
	Float32 = "float32"
)

// Payload encodings.
const (
	Raw  = "raw"
	Gzip = "gzip"
	Zstd = "zstd"
)

// ErrUnsupportedFormat is returned for an unknown sample type, encoding or
// input kind.
var ErrUnsupportedFormat = errors.New("unsupported volume format")

// Header describes a raw volume payload.
type Header struct {
	Dims       models.Dims    `yaml:"dims"`
	Spacing    models.Spacing `yaml:"spacing"`
	SampleType string         `yaml:"sampleType"`
	Encoding   string         `yaml:"encoding"`

	// Data is the payload file, relative to the header's directory
	Data string `yaml:"data"`
}

func sampleSize(t string) (int, error) {
	switch t {
	case Uint8:
		return 1, nil
	case Uint16:
		return 2, nil
	case Float32:
		return 4, nil
	}
	return 0, fmt.Errorf("%w: sample type %q", ErrUnsupportedFormat, t)
}

// Validate checks that the header describes a readable payload.
func (h Header) Validate() error {
	if err := (models.Grid{Dims: h.Dims, Spacing: h.Spacing}).Validate(); err != nil {
		return err
	}
	if _, err := sampleSize(h.SampleType); err != nil {
		return err
	}
	switch h.Encoding {
	case Raw, Gzip, Zstd:
	default:
		return fmt.Errorf("%w: encoding %q", ErrUnsupportedFormat, h.Encoding)
	}
	if h.Data == "" {
		return fmt.Errorf("%w: header names no payload", ErrUnsupportedFormat)
	}
	return nil
}

// Load reads a volume from a header file or from a directory of slices.
func Load(path string) (*models.Volume, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadSliceDir(path, models.UnitSpacing)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadRaw(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// ReadHeader parses and validates a header file.
func ReadHeader(path string) (Header, error) {
	var h Header
	data, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("error reading volume header: %w", err)
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("error parsing volume header: %w", err)
	}
	if h.Encoding == "" {
		h.Encoding = Raw
	}
	if err := h.Validate(); err != nil {
		return h, err
	}
	return h, nil
}

// LoadRaw reads the volume described by a header file.
func LoadRaw(headerPath string) (*models.Volume, error) {
	h, err := ReadHeader(headerPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(filepath.Dir(headerPath), h.Data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, closeFn, err := decoder(bufio.NewReader(f), h.Encoding)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	data, err := readSamples(r, h.SampleType, h.Dims.Len())
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", h.Data, err)
	}
	return models.NewVolume(data, h.Dims, h.Spacing)
}

func decoder(r io.Reader, encoding string) (io.Reader, func(), error) {
	switch encoding {
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { zr.Close() }, nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	}
	return r, func() {}, nil
}

func readSamples(r io.Reader, sampleType string, n int) ([]float64, error) {
	size, err := sampleSize(sampleType)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		switch sampleType {
		case Uint8:
			out[i] = float64(buf[i])
		case Uint16:
			out[i] = float64(binary.LittleEndian.Uint16(buf[2*i:]))
		case Float32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:])))
		}
	}
	return out, nil
}

// SaveRaw writes vol as a header at headerPath plus a payload file next to
// it. Integer sample types are rounded and clamped to their range.
func SaveRaw(headerPath string, vol *models.Volume, sampleType, encoding string) error {
	ext := map[string]string{Raw: ".raw", Gzip: ".raw.gz", Zstd: ".raw.zst"}[encoding]
	base := strings.TrimSuffix(filepath.Base(headerPath), filepath.Ext(headerPath))
	h := Header{
		Dims:       vol.Dims,
		Spacing:    vol.Spacing,
		SampleType: sampleType,
		Encoding:   encoding,
		Data:       base + ext,
	}
	if err := h.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(headerPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating volume directory: %w", err)
	}
	if err := writePayload(filepath.Join(dir, h.Data), vol.Data, sampleType, encoding); err != nil {
		return err
	}

	data, err := yaml.Marshal(h)
	if err != nil {
		return fmt.Errorf("error marshaling volume header: %w", err)
	}
	return os.WriteFile(headerPath, data, 0644)
}

func writePayload(path string, data []float64, sampleType, encoding string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.WriteCloser
	switch encoding {
	case Gzip:
		w = gzip.NewWriter(f)
	case Zstd:
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		w = zw
	default:
		w = nopCloser{f}
	}

	bw := bufio.NewWriter(w)
	var scratch [4]byte
	for _, v := range data {
		switch sampleType {
		case Uint8:
			scratch[0] = uint8(clampRound(v, math.MaxUint8))
			_, err = bw.Write(scratch[:1])
		case Uint16:
			binary.LittleEndian.PutUint16(scratch[:], uint16(clampRound(v, math.MaxUint16)))
			_, err = bw.Write(scratch[:2])
		case Float32:
			binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(float32(v)))
			_, err = bw.Write(scratch[:4])
		}
		if err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return w.Close()
}

func clampRound(v, max float64) float64 {
	if !(v > 0) {
		return 0
	}
	return math.Min(math.Round(v), max)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
