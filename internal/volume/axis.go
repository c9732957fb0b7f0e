package volume

import "fmt"

// Axis identifies an anatomical axis of a volume.
type Axis int

const (
	AxisX Axis = iota // sagittal
	AxisY             // coronal
	AxisZ             // axial
)

var axisNames = [3]string{"Sagittal (X)", "Coronal (Y)", "Axial (Z)"}

// Name returns the display name of the axis.
func (a Axis) Name() string {
	if a < AxisX || a > AxisZ {
		return "unknown"
	}
	return axisNames[a]
}

// ParseAxis accepts 0/1/2 or x/y/z (case-sensitive lowercase).
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "0", "x":
		return AxisX, nil
	case "1", "y":
		return AxisY, nil
	case "2", "z":
		return AxisZ, nil
	}
	return 0, fmt.Errorf("invalid axis %q", s)
}

// Bounds returns the maximum valid index along axis, shape[axis]-1.
func (v *Volume) Bounds(axis Axis) int {
	return v.Shape[axis] - 1
}

// DefaultIndex returns the centered starting index along axis.
func (v *Volume) DefaultIndex(axis Axis) int {
	return v.Shape[axis] / 2
}

// Clamp restricts index to [0, bounds]. Total and idempotent.
func Clamp(index, bounds int) int {
	if index < 0 {
		return 0
	}
	if index > bounds {
		return bounds
	}
	return index
}
