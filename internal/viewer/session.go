package viewer

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/voxelview/server/internal/volume"
)

// Control ids known to a session.
const (
	ControlSliceIndex = "slice.index"
	ControlPlaneX     = "planes.x"
	ControlPlaneY     = "planes.y"
	ControlPlaneZ     = "planes.z"
)

// SliceRenderFn renders one cross-section; the service provides it.
type SliceRenderFn func(id string, axis volume.Axis, index int, cmap string) ([]byte, error)

// Session binds a controller to a render target: the active volume,
// axis and colormap. Control input is debounced, rendered and kept as
// the displayed result; a failed render leaves the previous result in
// place, and a stale render is discarded.
type Session struct {
	mu     sync.Mutex
	ctrl   *Controller
	render SliceRenderFn

	volumeID string
	axis     volume.Axis
	cmap     string
}

// NewSession creates a session with the slice and three-plane controls
// registered.
func NewSession(window time.Duration, render SliceRenderFn) *Session {
	s := &Session{render: render, axis: volume.AxisZ}
	s.ctrl = NewController(window, s.dispatch)
	s.ctrl.Register(ControlSliceIndex, ModeSlice)
	s.ctrl.Register(ControlPlaneX, ModeThreePlane)
	s.ctrl.Register(ControlPlaneY, ModeThreePlane)
	s.ctrl.Register(ControlPlaneZ, ModeThreePlane)
	return s
}

// Configure points the session at a volume, axis and colormap.
func (s *Session) Configure(volumeID string, axis volume.Axis, cmap string) {
	s.mu.Lock()
	s.volumeID = volumeID
	s.axis = axis
	s.cmap = cmap
	s.mu.Unlock()
}

// SetMode forwards to the controller's mode machine.
func (s *Session) SetMode(m Mode, volumesLoaded int) error {
	return s.ctrl.SetMode(m, volumesLoaded)
}

// Mode returns the current viewing mode.
func (s *Session) Mode() Mode { return s.ctrl.Mode() }

// Input records a control value; the render happens after the debounce
// window.
func (s *Session) Input(control string, value int) error {
	s.mu.Lock()
	configured := s.volumeID != ""
	s.mu.Unlock()
	if !configured {
		return fmt.Errorf("session has no active volume")
	}
	return s.ctrl.Input(control, value)
}

// View returns the last successfully rendered result for a control.
func (s *Session) View(control string) (Result, bool) {
	return s.ctrl.Displayed(control)
}

func (s *Session) dispatch(control string, value int, seq uint64) {
	s.mu.Lock()
	id, axis, cmap := s.volumeID, s.axis, s.cmap
	s.mu.Unlock()
	if id == "" {
		return
	}

	switch control {
	case ControlPlaneX:
		axis = volume.AxisX
	case ControlPlaneY:
		axis = volume.AxisY
	case ControlPlaneZ:
		axis = volume.AxisZ
	}

	img, err := s.render(id, axis, value, cmap)
	if err != nil {
		// Keep whatever was displayed before.
		log.Printf("session render %s=%d: %v", control, value, err)
		return
	}
	s.ctrl.Apply(control, seq, Result{Kind: ResultImage, Data: img})
}

// ParseMode resolves a mode name as used by the HTTP layer.
func ParseMode(name string) (Mode, error) {
	switch name {
	case "slice":
		return ModeSlice, nil
	case "three-plane":
		return ModeThreePlane, nil
	case "volume-3d":
		return ModeVolume3D, nil
	case "compare-slice":
		return ModeCompareSlice, nil
	case "compare-volume-3d":
		return ModeCompareVolume3D, nil
	}
	return 0, fmt.Errorf("unknown mode %q", name)
}
