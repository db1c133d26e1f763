package mc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Raw dumps are headerless little-endian arrays: float32x4 for geometry and
// uint32 for voxel buffers.

// EncodeVec4 writes vectors as consecutive little-endian float32 components.
func EncodeVec4(w io.Writer, vs []Vec4) error {
	bw := bufio.NewWriter(w)
	var buf [16]byte
	for _, v := range vs {
		for c := 0; c < 4; c++ {
			binary.LittleEndian.PutUint32(buf[c*4:], math.Float32bits(v[c]))
		}
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// EncodeUint32 writes values as little-endian uint32.
func EncodeUint32(w io.Writer, vs []uint32) error {
	bw := bufio.NewWriter(w)
	var buf [4]byte
	for _, v := range vs {
		binary.LittleEndian.PutUint32(buf[:], v)
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Vec4Bytes returns the raw dump encoding of vs.
func Vec4Bytes(vs []Vec4) []byte {
	out := make([]byte, len(vs)*16)
	for i, v := range vs {
		for c := 0; c < 4; c++ {
			binary.LittleEndian.PutUint32(out[i*16+c*4:], math.Float32bits(v[c]))
		}
	}
	return out
}

// Uint32Bytes returns the raw dump encoding of vs.
func Uint32Bytes(vs []uint32) []byte {
	out := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

// DecodeFloat32 parses a raw float32 dump. Trailing bytes that do not form a
// whole element are an error.
func DecodeFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("dump length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// DecodeUint32 parses a raw uint32 dump.
func DecodeUint32(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("dump length %d is not a multiple of 4", len(data))
	}
	out := make([]uint32, len(data)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return out, nil
}

// WriteVec4File dumps vectors to path.
func WriteVec4File(path string, vs []Vec4) error {
	return writeDump(path, func(w io.Writer) error { return EncodeVec4(w, vs) })
}

// WriteUint32File dumps values to path.
func WriteUint32File(path string, vs []uint32) error {
	return writeDump(path, func(w io.Writer) error { return EncodeUint32(w, vs) })
}

func writeDump(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dump: %w", err)
	}
	if err := encode(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write dump %s: %w", path, err)
	}
	return f.Close()
}

// Comparison summarizes an element-wise comparison against reference data.
type Comparison struct {
	Elements   int     `json:"elements"`
	Mismatches int     `json:"mismatches"`
	MaxDiff    float64 `json:"maxDiff"`
	Epsilon    float64 `json:"epsilon"`
	Threshold  float64 `json:"threshold"`
	Pass       bool    `json:"pass"`
}

// Compare checks got against ref element by element. An element mismatches
// when it differs by more than epsilon or is missing from either side. With a
// zero threshold every element must match; otherwise the comparison passes
// while mismatches stay below threshold times the element count.
func Compare(ref, got []float64, epsilon, threshold float64) Comparison {
	n := max(len(ref), len(got))
	c := Comparison{Elements: n, Epsilon: epsilon, Threshold: threshold}
	for i := 0; i < n; i++ {
		if i >= len(ref) || i >= len(got) {
			c.Mismatches++
			continue
		}
		d := math.Abs(ref[i] - got[i])
		if math.IsNaN(d) {
			c.Mismatches++
			continue
		}
		if d > c.MaxDiff {
			c.MaxDiff = d
		}
		if d > epsilon {
			c.Mismatches++
		}
	}
	if threshold == 0 || n == 0 {
		c.Pass = c.Mismatches == 0
	} else {
		c.Pass = float64(c.Mismatches) < float64(n)*threshold
	}
	return c
}

// Float32sToFloat64 widens a float32 slice for Compare.
func Float32sToFloat64(vs []float32) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = float64(v)
	}
	return out
}

// Uint32sToFloat64 widens a uint32 slice for Compare.
func Uint32sToFloat64(vs []uint32) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = float64(v)
	}
	return out
}
