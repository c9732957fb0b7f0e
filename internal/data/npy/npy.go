// Package npy decodes NumPy .npy arrays into volumes.
package npy

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/voxelview/server/internal/volume"
)

var magic = []byte{0x93, 'N', 'U', 'M', 'P', 'Y'}

type header struct {
	descr   string
	fortran bool
	shape   []int
}

// Decode reads a .npy file holding a 3D numeric array. Fortran-order
// arrays and both byte orders are handled; the result is always the
// C-order layout the volume type uses.
func Decode(r io.Reader) (*volume.Volume, error) {
	br := bufio.NewReader(r)

	pre := make([]byte, 8)
	if _, err := io.ReadFull(br, pre); err != nil {
		return nil, fmt.Errorf("%w: short preamble: %v", volume.ErrCorrupt, err)
	}
	if string(pre[:6]) != string(magic) {
		return nil, fmt.Errorf("%w: not a .npy file", volume.ErrUnsupportedFormat)
	}
	major := pre[6]

	// Version 1 uses a 2-byte header length, 2+ widen it to 4 bytes.
	var headerLen int
	switch major {
	case 1:
		var lb [2]byte
		if _, err := io.ReadFull(br, lb[:]); err != nil {
			return nil, fmt.Errorf("%w: short header length: %v", volume.ErrCorrupt, err)
		}
		headerLen = int(binary.LittleEndian.Uint16(lb[:]))
	case 2, 3:
		var lb [4]byte
		if _, err := io.ReadFull(br, lb[:]); err != nil {
			return nil, fmt.Errorf("%w: short header length: %v", volume.ErrCorrupt, err)
		}
		headerLen = int(binary.LittleEndian.Uint32(lb[:]))
	default:
		return nil, fmt.Errorf("%w: npy version %d", volume.ErrUnsupportedFormat, major)
	}

	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", volume.ErrCorrupt, err)
	}

	hdr, err := parseHeader(string(raw))
	if err != nil {
		return nil, err
	}

	shape, err := collapse(hdr.shape)
	if err != nil {
		return nil, err
	}

	data, dtype, err := readArray(br, hdr, shape)
	if err != nil {
		return nil, err
	}
	return volume.New("npy", dtype, shape, [3]float64{1, 1, 1}, data)
}

// parseHeader picks the three fixed keys out of the Python dict literal.
func parseHeader(s string) (header, error) {
	var h header

	descr, err := strValue(s, "'descr'")
	if err != nil {
		return h, err
	}
	h.descr = descr

	switch {
	case strings.Contains(s, "'fortran_order': True"):
		h.fortran = true
	case strings.Contains(s, "'fortran_order': False"):
		h.fortran = false
	default:
		return h, fmt.Errorf("%w: missing fortran_order", volume.ErrCorrupt)
	}

	open := strings.Index(s, "'shape':")
	if open < 0 {
		return h, fmt.Errorf("%w: missing shape", volume.ErrCorrupt)
	}
	lp := strings.Index(s[open:], "(")
	rp := strings.Index(s[open:], ")")
	if lp < 0 || rp < 0 || rp < lp {
		return h, fmt.Errorf("%w: malformed shape", volume.ErrCorrupt)
	}
	for _, part := range strings.Split(s[open+lp+1:open+rp], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return h, fmt.Errorf("%w: bad shape entry %q", volume.ErrCorrupt, part)
		}
		h.shape = append(h.shape, n)
	}
	return h, nil
}

func strValue(s, key string) (string, error) {
	i := strings.Index(s, key)
	if i < 0 {
		return "", fmt.Errorf("%w: missing %s", volume.ErrCorrupt, key)
	}
	rest := s[i+len(key):]
	q1 := strings.Index(rest, "'")
	if q1 < 0 {
		return "", fmt.Errorf("%w: malformed %s", volume.ErrCorrupt, key)
	}
	q2 := strings.Index(rest[q1+1:], "'")
	if q2 < 0 {
		return "", fmt.Errorf("%w: malformed %s", volume.ErrCorrupt, key)
	}
	return rest[q1+1 : q1+1+q2], nil
}

// collapse accepts a 3D shape directly and drops trailing singleton
// dimensions of higher-rank arrays.
func collapse(shape []int) ([3]int, error) {
	for len(shape) > 3 && shape[len(shape)-1] == 1 {
		shape = shape[:len(shape)-1]
	}
	if len(shape) != 3 {
		return [3]int{}, fmt.Errorf("%w: %dD array", volume.ErrUnsupportedFormat, len(shape))
	}
	out := [3]int{shape[0], shape[1], shape[2]}
	for i, n := range out {
		if n < 1 {
			return [3]int{}, fmt.Errorf("%w: degenerate axis %d", volume.ErrCorrupt, i)
		}
	}
	return out, nil
}

func readArray(r io.Reader, h header, shape [3]int) ([]float64, string, error) {
	if len(h.descr) < 3 {
		return nil, "", fmt.Errorf("%w: descr %q", volume.ErrUnsupportedFormat, h.descr)
	}

	var order binary.ByteOrder = binary.LittleEndian
	switch h.descr[0] {
	case '<', '|', '=':
	case '>':
		order = binary.BigEndian
	default:
		return nil, "", fmt.Errorf("%w: descr %q", volume.ErrUnsupportedFormat, h.descr)
	}
	kind := h.descr[1:]

	sizes := map[string]int{
		"u1": 1, "i1": 1, "b1": 1,
		"u2": 2, "i2": 2,
		"u4": 4, "i4": 4, "f4": 4,
		"u8": 8, "i8": 8, "f8": 8,
	}
	names := map[string]string{
		"u1": "uint8", "i1": "int8", "b1": "bool",
		"u2": "uint16", "i2": "int16",
		"u4": "uint32", "i4": "int32", "f4": "float32",
		"u8": "uint64", "i8": "int64", "f8": "float64",
	}
	size, ok := sizes[kind]
	if !ok {
		return nil, "", fmt.Errorf("%w: dtype %q", volume.ErrUnsupportedFormat, h.descr)
	}

	n := shape[0] * shape[1] * shape[2]
	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, "", fmt.Errorf("%w: truncated array data: %v", volume.ErrCorrupt, err)
	}

	at := func(i int) float64 {
		off := i * size
		switch kind {
		case "u1", "b1":
			return float64(raw[off])
		case "i1":
			return float64(int8(raw[off]))
		case "u2":
			return float64(order.Uint16(raw[off:]))
		case "i2":
			return float64(int16(order.Uint16(raw[off:])))
		case "u4":
			return float64(order.Uint32(raw[off:]))
		case "i4":
			return float64(int32(order.Uint32(raw[off:])))
		case "u8":
			return float64(order.Uint64(raw[off:]))
		case "i8":
			return float64(int64(order.Uint64(raw[off:])))
		case "f4":
			return float64(math.Float32frombits(order.Uint32(raw[off:])))
		default:
			return math.Float64frombits(order.Uint64(raw[off:]))
		}
	}

	nx, ny, nz := shape[0], shape[1], shape[2]
	data := make([]float64, n)
	if h.fortran {
		i := 0
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					data[(x*ny+y)*nz+z] = at(i)
					i++
				}
			}
		}
	} else {
		// C order on disk matches the in-memory layout.
		for i := range data {
			data[i] = at(i)
		}
	}
	return data, names[kind], nil
}
