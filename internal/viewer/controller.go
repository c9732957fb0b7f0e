// Package viewer implements the interaction controller: debounced
// control input, stale-response discarding and view mode transitions.
package viewer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Mode is a viewing mode.
type Mode int

const (
	ModeSlice Mode = iota
	ModeThreePlane
	ModeVolume3D
	ModeCompareSlice
	ModeCompareVolume3D
)

func (m Mode) String() string {
	switch m {
	case ModeSlice:
		return "slice"
	case ModeThreePlane:
		return "three-plane"
	case ModeVolume3D:
		return "volume-3d"
	case ModeCompareSlice:
		return "compare-slice"
	case ModeCompareVolume3D:
		return "compare-volume-3d"
	}
	return "unknown"
}

// DefaultDebounce is the quiescence window applied to control input.
const DefaultDebounce = 120 * time.Millisecond

// Dispatch is invoked once per settled control value, outside the
// controller lock. The receiver performs the render and reports back
// through Apply with the same sequence number.
type Dispatch func(control string, value int, seq uint64)

type control struct {
	mode    Mode
	seq     *atomic.Uint64
	timer   *time.Timer
	pending int
	// last successfully applied response
	displayed    Result
	hasDisplayed bool
}

// Controller serializes interaction state behind one mutex. Timer
// callbacks re-enter through the same lock, so there is a single
// logical thread of control.
type Controller struct {
	mu       sync.Mutex
	mode     Mode
	window   time.Duration
	controls map[string]*control
	dispatch Dispatch
}

// NewController creates a controller in slice mode. A non-positive
// window falls back to the default.
func NewController(window time.Duration, dispatch Dispatch) *Controller {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Controller{
		mode:     ModeSlice,
		window:   window,
		controls: make(map[string]*control),
		dispatch: dispatch,
	}
}

// Register declares a control and the mode it belongs to. Registering
// an existing id is a no-op.
func (c *Controller) Register(id string, mode Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.controls[id]; ok {
		return
	}
	c.controls[id] = &control{mode: mode, seq: atomic.NewUint64(0)}
}

// Mode returns the current viewing mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode switches the viewing mode. Compare modes are reachable only
// from their single-volume counterpart and only with two volumes
// loaded. Pending debounced actions of controls that do not belong to
// the new mode are cancelled.
func (c *Controller) SetMode(m Mode, volumesLoaded int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m {
	case ModeCompareSlice:
		if c.mode != ModeSlice {
			return fmt.Errorf("compare-slice is only reachable from slice mode, not %s", c.mode)
		}
		if volumesLoaded < 2 {
			return fmt.Errorf("compare-slice requires two loaded volumes, have %d", volumesLoaded)
		}
	case ModeCompareVolume3D:
		if c.mode != ModeVolume3D {
			return fmt.Errorf("compare-volume-3d is only reachable from volume-3d mode, not %s", c.mode)
		}
		if volumesLoaded < 2 {
			return fmt.Errorf("compare-volume-3d requires two loaded volumes, have %d", volumesLoaded)
		}
	}

	c.mode = m
	for _, ctl := range c.controls {
		if ctl.mode != m && ctl.timer != nil {
			ctl.timer.Stop()
			ctl.timer = nil
		}
	}
	return nil
}

// Input records a new value for a control. The dispatch fires only
// after the control has been quiet for the debounce window; a burst of
// inputs coalesces into exactly one dispatch carrying the last value.
func (c *Controller) Input(id string, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctl, ok := c.controls[id]
	if !ok {
		return fmt.Errorf("unknown control %q", id)
	}
	ctl.pending = value
	if ctl.timer != nil {
		ctl.timer.Stop()
	}
	ctl.timer = time.AfterFunc(c.window, func() { c.fire(id) })
	return nil
}

func (c *Controller) fire(id string) {
	c.mu.Lock()
	ctl, ok := c.controls[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	ctl.timer = nil
	value := ctl.pending
	seq := ctl.seq.Inc()
	dispatch := c.dispatch
	c.mu.Unlock()

	if dispatch != nil {
		dispatch(id, value, seq)
	}
}

// Apply delivers a response for a dispatched request. The result is
// kept only when seq is still the latest issued for the control, so a
// slow render that is overtaken by a newer request is discarded. It
// returns whether the response was applied.
func (c *Controller) Apply(id string, seq uint64, result Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctl, ok := c.controls[id]
	if !ok || seq != ctl.seq.Load() {
		return false
	}
	ctl.displayed = result
	ctl.hasDisplayed = true
	return true
}

// Displayed returns the last applied result for a control.
func (c *Controller) Displayed(id string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctl, ok := c.controls[id]
	if !ok || !ctl.hasDisplayed {
		return Result{}, false
	}
	return ctl.displayed, true
}

// Seq returns the latest issued sequence number for a control.
func (c *Controller) Seq(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctl, ok := c.controls[id]; ok {
		return ctl.seq.Load()
	}
	return 0
}
