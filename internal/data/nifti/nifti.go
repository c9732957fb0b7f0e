// Package nifti decodes NIfTI-1 volumes (.nii and .nii.gz).
package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"

	"github.com/voxelview/server/internal/volume"
)

const headerSize = 348

// NIfTI-1 datatype codes.
const (
	typeUint8   = 2
	typeInt16   = 4
	typeInt32   = 8
	typeFloat32 = 16
	typeFloat64 = 64
	typeInt8    = 256
	typeUint16  = 512
	typeUint32  = 768
)

var dtypeNames = map[int16]string{
	typeUint8:   "uint8",
	typeInt16:   "int16",
	typeInt32:   "int32",
	typeFloat32: "float32",
	typeFloat64: "float64",
	typeInt8:    "int8",
	typeUint16:  "uint16",
	typeUint32:  "uint32",
}

// Decode reads a NIfTI-1 file, gzip-compressed or not, and returns the
// volume with statistics computed. 4D+ files are accepted only when the
// trailing dimensions are singletons.
func Decode(r io.Reader) (*volume.Volume, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: bad gzip stream: %v", volume.ErrCorrupt, err)
		}
		defer gz.Close()
		return decode(bufio.NewReader(gz))
	}
	return decode(br)
}

func decode(r *bufio.Reader) (*volume.Volume, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", volume.ErrCorrupt, err)
	}

	// sizeof_hdr doubles as the endianness probe.
	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(hdr[0:4]) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(hdr[0:4]) == headerSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: not a NIfTI-1 file", volume.ErrUnsupportedFormat)
	}

	if m := string(hdr[344:347]); m != "n+1" && m != "ni1" {
		return nil, fmt.Errorf("%w: bad magic %q", volume.ErrCorrupt, m)
	}

	var dim [8]int
	for i := range dim {
		dim[i] = int(int16(order.Uint16(hdr[40+2*i : 42+2*i])))
	}
	ndim := dim[0]
	if ndim < 3 || ndim > 7 {
		return nil, fmt.Errorf("%w: %dD image", volume.ErrUnsupportedFormat, ndim)
	}
	for i := 4; i <= ndim; i++ {
		if dim[i] > 1 {
			return nil, fmt.Errorf("%w: non-singleton dimension %d of extent %d", volume.ErrUnsupportedFormat, i, dim[i])
		}
	}
	shape := [3]int{dim[1], dim[2], dim[3]}
	if shape[0] < 1 || shape[1] < 1 || shape[2] < 1 {
		return nil, fmt.Errorf("%w: degenerate shape %v", volume.ErrCorrupt, shape)
	}

	datatype := int16(order.Uint16(hdr[70:72]))
	dtype, ok := dtypeNames[datatype]
	if !ok {
		return nil, fmt.Errorf("%w: datatype code %d", volume.ErrUnsupportedFormat, datatype)
	}

	var spacing [3]float64
	for i := 0; i < 3; i++ {
		s := float64(math.Float32frombits(order.Uint32(hdr[76+4*(i+1) : 80+4*(i+1)])))
		spacing[i] = math.Abs(s)
	}

	voxOffset := int(math.Float32frombits(order.Uint32(hdr[108:112])))
	if voxOffset < headerSize {
		voxOffset = headerSize
	}
	sclSlope := float64(math.Float32frombits(order.Uint32(hdr[112:116])))
	sclInter := float64(math.Float32frombits(order.Uint32(hdr[116:120])))

	if _, err := io.CopyN(io.Discard, r, int64(voxOffset-headerSize)); err != nil {
		return nil, fmt.Errorf("%w: truncated before voxel data: %v", volume.ErrCorrupt, err)
	}

	data, err := readVoxels(r, order, datatype, shape)
	if err != nil {
		return nil, err
	}
	if sclSlope != 0 && (sclSlope != 1 || sclInter != 0) {
		for i := range data {
			data[i] = data[i]*sclSlope + sclInter
		}
	}

	return volume.New("nifti", dtype, shape, spacing, data)
}

// readVoxels decodes the on-disk Fortran-order array into the C-order
// layout the volume type uses.
func readVoxels(r io.Reader, order binary.ByteOrder, datatype int16, shape [3]int) ([]float64, error) {
	nx, ny, nz := shape[0], shape[1], shape[2]
	n := nx * ny * nz

	size := 1
	switch datatype {
	case typeInt16, typeUint16:
		size = 2
	case typeInt32, typeUint32, typeFloat32:
		size = 4
	case typeFloat64:
		size = 8
	}

	raw := make([]byte, n*size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("%w: truncated voxel data: %v", volume.ErrCorrupt, err)
	}

	at := func(i int) float64 {
		off := i * size
		switch datatype {
		case typeUint8:
			return float64(raw[off])
		case typeInt8:
			return float64(int8(raw[off]))
		case typeInt16:
			return float64(int16(order.Uint16(raw[off:])))
		case typeUint16:
			return float64(order.Uint16(raw[off:]))
		case typeInt32:
			return float64(int32(order.Uint32(raw[off:])))
		case typeUint32:
			return float64(order.Uint32(raw[off:]))
		case typeFloat32:
			return float64(math.Float32frombits(order.Uint32(raw[off:])))
		default:
			return math.Float64frombits(order.Uint64(raw[off:]))
		}
	}

	data := make([]float64, n)
	i := 0
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				data[(x*ny+y)*nz+z] = at(i)
				i++
			}
		}
	}
	return data, nil
}
