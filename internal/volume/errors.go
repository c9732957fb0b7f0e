package volume

import "errors"

// Sentinel errors shared across the data and rendering layers. Handlers
// map these onto HTTP status codes.
var (
	// ErrUnsupportedFormat indicates a file whose format is not handled.
	ErrUnsupportedFormat = errors.New("unsupported volume format")

	// ErrCorrupt indicates a file that claims a supported format but
	// cannot be decoded.
	ErrCorrupt = errors.New("corrupt volume file")

	// ErrNotFound indicates an unknown volume id.
	ErrNotFound = errors.New("volume not found")

	// ErrIndexOutOfBounds indicates a coordinate that bypassed the
	// clamping model. Normal paths clamp instead of erroring.
	ErrIndexOutOfBounds = errors.New("index out of bounds")

	// ErrMissingDependency indicates a configured external asset that
	// is absent at render time.
	ErrMissingDependency = errors.New("missing rendering dependency")
)
