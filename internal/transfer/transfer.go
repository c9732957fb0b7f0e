// Package transfer provides opacity transfer functions for volume rendering.
package transfer

import (
	"math"
	"sort"
)

// DefaultName is used whenever a requested curve name is unknown.
const DefaultName = "sigmoid_3"

// Curve maps normalized intensity [0, 1] to opacity.
type Curve struct {
	name        string
	baseOpacity float64
	eval        func(t float64) float64
}

// Name returns the curve's registered name.
func (c Curve) Name() string { return c.name }

// BaseOpacity is the overall scene opacity paired with this curve.
func (c Curve) BaseOpacity() float64 { return c.baseOpacity }

// Evaluate returns the opacity for a normalized intensity t.
// t is clamped to [0, 1]; the result is monotonic non-decreasing
// with Evaluate(0) == 0.
func (c Curve) Evaluate(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t > 1 {
		t = 1
	}
	return c.eval(t)
}

// OpacityScale samples the curve into n [position, opacity] pairs
// spanning [0, 1], for use as a plotly opacityscale.
func (c Curve) OpacityScale(n int) [][2]float64 {
	if n < 2 {
		n = 2
	}
	scale := make([][2]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		scale[i] = [2]float64{t, c.Evaluate(t)}
	}
	return scale
}

// sigmoid builds a centered sigmoid curve with steepness k, shifted so
// the curve starts at exactly zero. Low steepness leaves the maximum
// well below 1, which is what makes the gentle presets translucent.
func sigmoid(k float64) func(float64) float64 {
	s := func(t float64) float64 {
		return 1 / (1 + math.Exp(-k*(t-0.5)))
	}
	s0 := s(0)
	return func(t float64) float64 {
		return s(t) - s0
	}
}

func linear(t float64) float64 { return t }

// geom rises quadratically, suppressing low intensities harder than
// linear without the plateau of a sigmoid.
func geom(t float64) float64 { return t * t }

var catalog = map[string]Curve{
	"sigmoid_1":  {name: "sigmoid_1", baseOpacity: 0.05, eval: sigmoid(1)},
	"sigmoid_2":  {name: "sigmoid_2", baseOpacity: 0.1, eval: sigmoid(2)},
	"sigmoid_3":  {name: "sigmoid_3", baseOpacity: 0.15, eval: sigmoid(3)},
	"sigmoid_5":  {name: "sigmoid_5", baseOpacity: 0.2, eval: sigmoid(5)},
	"sigmoid_10": {name: "sigmoid_10", baseOpacity: 0.3, eval: sigmoid(10)},
	"sigmoid_15": {name: "sigmoid_15", baseOpacity: 0.35, eval: sigmoid(15)},
	"sigmoid_20": {name: "sigmoid_20", baseOpacity: 0.4, eval: sigmoid(20)},
	"linear":     {name: "linear", baseOpacity: 0.2, eval: linear},
	"geom":       {name: "geom", baseOpacity: 0.2, eval: geom},
}

var aliases = map[string]string{
	"sigmoid": "sigmoid_5",
}

// Lookup resolves a curve by name. Aliases are honored and unknown
// names fall back to the default preset.
func Lookup(name string) Curve {
	if target, ok := aliases[name]; ok {
		name = target
	}
	if c, ok := catalog[name]; ok {
		return c
	}
	return catalog[DefaultName]
}

// Known reports whether name resolves to a curve without falling back.
func Known(name string) bool {
	if target, ok := aliases[name]; ok {
		name = target
	}
	_, ok := catalog[name]
	return ok
}

// Names returns all registered curve names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
