package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/voxelview/server/internal/volume"
)

// buildNifti assembles a minimal little-endian NIfTI-1 file with
// float32 voxels in Fortran order.
func buildNifti(t *testing.T, shape [3]int, spacing [3]float32, vals []float32) []byte {
	t.Helper()

	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], headerSize)
	binary.LittleEndian.PutUint16(hdr[40:42], 3)
	for i, n := range shape {
		binary.LittleEndian.PutUint16(hdr[42+2*i:44+2*i], uint16(n))
	}
	binary.LittleEndian.PutUint16(hdr[70:72], typeFloat32)
	binary.LittleEndian.PutUint16(hdr[72:74], 32)
	for i, s := range spacing {
		binary.LittleEndian.PutUint32(hdr[80+4*i:84+4*i], math.Float32bits(s))
	}
	binary.LittleEndian.PutUint32(hdr[108:112], math.Float32bits(352))
	copy(hdr[344:348], "n+1\x00")

	var buf bytes.Buffer
	buf.Write(hdr)
	buf.Write([]byte{0, 0, 0, 0}) // extension flag pads to vox_offset
	for _, v := range vals {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func TestDecodeFloat32(t *testing.T) {
	t.Parallel()

	shape := [3]int{2, 3, 2}
	vals := make([]float32, 12)
	for i := range vals {
		vals[i] = float32(i)
	}
	raw := buildNifti(t, shape, [3]float32{1, 2, 3}, vals)

	v, err := Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Shape != shape {
		t.Fatalf("shape = %v, want %v", v.Shape, shape)
	}
	if v.Spacing != [3]float64{1, 2, 3} {
		t.Fatalf("spacing = %v", v.Spacing)
	}
	if v.Dtype != "float32" || v.Format != "nifti" {
		t.Fatalf("dtype/format = %s/%s", v.Dtype, v.Format)
	}

	// On-disk index x + nx*(y + ny*z) must land at (x, y, z).
	if got := v.At(1, 2, 1); got != float32At(vals, 1, 2, 1, shape) {
		t.Fatalf("At(1,2,1) = %v, want %v", got, float32At(vals, 1, 2, 1, shape))
	}
	if got := v.At(0, 0, 0); got != 0 {
		t.Fatalf("At(0,0,0) = %v, want 0", got)
	}
}

func float32At(vals []float32, x, y, z int, shape [3]int) float64 {
	return float64(vals[x+shape[0]*(y+shape[1]*z)])
}

func TestDecodeGzip(t *testing.T) {
	t.Parallel()

	shape := [3]int{2, 2, 2}
	vals := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	raw := buildNifti(t, shape, [3]float32{1, 1, 1}, vals)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	v, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decode gz: %v", err)
	}
	if v.Shape != shape {
		t.Fatalf("shape = %v, want %v", v.Shape, shape)
	}
	if v.Max != 7 {
		t.Fatalf("max = %v, want 7", v.Max)
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	t.Parallel()

	raw := buildNifti(t, [3]int{2, 2, 2}, [3]float32{1, 1, 1}, make([]float32, 8))
	copy(raw[344:348], "xxx\x00")
	if _, err := Decode(bytes.NewReader(raw)); !errors.Is(err, volume.ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestDecodeRejectsNonNifti(t *testing.T) {
	t.Parallel()

	raw := make([]byte, headerSize)
	if _, err := Decode(bytes.NewReader(raw)); !errors.Is(err, volume.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeRejectsUnknownDatatype(t *testing.T) {
	t.Parallel()

	raw := buildNifti(t, [3]int{2, 2, 2}, [3]float32{1, 1, 1}, make([]float32, 8))
	binary.LittleEndian.PutUint16(raw[70:72], 1024)
	if _, err := Decode(bytes.NewReader(raw)); !errors.Is(err, volume.ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	t.Parallel()

	raw := buildNifti(t, [3]int{2, 2, 2}, [3]float32{1, 1, 1}, make([]float32, 8))
	if _, err := Decode(bytes.NewReader(raw[:len(raw)-8])); !errors.Is(err, volume.ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}
