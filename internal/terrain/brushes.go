package terrain

import (
	"fmt"
	"math"
	"strings"
)

type Action int

const (
	ActionFlatten Action = iota
	ActionRaise
	ActionLower
	ActionSmooth
	ActionNoise
	ActionRevert
)

var actionNames = map[Action]string{
	ActionFlatten: "flatten",
	ActionRaise:   "raise",
	ActionLower:   "lower",
	ActionSmooth:  "smooth",
	ActionNoise:   "noise",
	ActionRevert:  "revert",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func ParseAction(s string) (Action, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for a, n := range actionNames {
		if n == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown terrain action %q", s)
}

// Paint applies action with a circular brush of radius size centred on (x, y).
// strength scales the per-call change and the effect falls off toward the rim.
func (c *Channel) Paint(a Action, x, y, size, strength float64, seed int64) error {
	for _, v := range []float64{x, y, size, strength} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("brush parameters must be finite")
		}
	}
	if size <= 0 {
		return fmt.Errorf("brush size must be positive")
	}
	x0, x1, okx := span(x-size, x+size, c.w)
	y0, y1, oky := span(y-size, y+size, c.h)
	if !okx || !oky {
		return nil
	}
	centre := c.Get(int(math.Round(clamp(x, 0, float64(c.w-1)))), int(math.Round(clamp(y, 0, float64(c.h-1)))))
	src := c.Clone()
	for py := y0; py <= y1; py++ {
		for px := x0; px <= x1; px++ {
			d := math.Hypot(float64(px)-x, float64(py)-y)
			if d > size {
				continue
			}
			w := falloff(d, size) * strength
			c.apply(src, a, px, py, w, centre, seed)
		}
	}
	return nil
}

// Flood applies action over the rectangle [x0,x1]×[y0,y1] with uniform weight.
func (c *Channel) Flood(a Action, x0, y0, x1, y1 int, strength float64, seed int64) error {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	if math.IsNaN(strength) || math.IsInf(strength, 0) {
		return fmt.Errorf("flood strength must be finite")
	}
	x0, x1, okx := span(float64(x0), float64(x1), c.w)
	y0, y1, oky := span(float64(y0), float64(y1), c.h)
	if !okx || !oky {
		return fmt.Errorf("flood area outside terrain")
	}
	src := c.Clone()
	var sum float64
	for py := y0; py <= y1; py++ {
		for px := x0; px <= x1; px++ {
			sum += c.heights[py*c.w+px]
		}
	}
	mean := sum / float64((x1-x0+1)*(y1-y0+1))
	for py := y0; py <= y1; py++ {
		for px := x0; px <= x1; px++ {
			c.apply(src, a, px, py, strength, mean, seed)
		}
	}
	return nil
}

// span clips [lo,hi] to the cells [0,n-1]; ok is false when nothing remains.
func span(lo, hi float64, n int) (first, last int, ok bool) {
	lo, hi = math.Floor(lo), math.Ceil(hi)
	if hi < 0 || lo > float64(n-1) || n <= 0 {
		return 0, 0, false
	}
	return int(clamp(lo, 0, float64(n-1))), int(clamp(hi, 0, float64(n-1))), true
}

// falloff is 1 at the brush centre and 0 at the rim, following half a cosine.
func falloff(d, size float64) float64 {
	return (math.Cos(math.Pi*d/size) + 1) / 2
}

func (c *Channel) apply(src *Channel, a Action, x, y int, w, target float64, seed int64) {
	cur := src.heights[y*c.w+x]
	switch a {
	case ActionRaise:
		c.Set(x, y, cur+w)
	case ActionLower:
		c.Set(x, y, cur-w)
	case ActionFlatten:
		c.Set(x, y, cur+(target-cur)*math.Min(1, w))
	case ActionSmooth:
		avg := src.neighbourhoodMean(x, y)
		c.Set(x, y, cur+(avg-cur)*math.Min(1, w))
	case ActionNoise:
		c.Set(x, y, cur+(valueNoise(x, y, seed)*2-1)*w)
	case ActionRevert:
		rv := src.revert[y*c.w+x]
		c.Set(x, y, cur+(rv-cur)*math.Min(1, w))
	}
}

// neighbourhoodMean averages the 3×3 block around (x, y), edge cells clamped.
func (c *Channel) neighbourhoodMean(x, y int) float64 {
	var sum float64
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			sum += c.Get(x+dx, y+dy)
		}
	}
	return sum / 9
}

// valueNoise returns a deterministic value in [0,1) for a lattice point.
func valueNoise(x, y int, seed int64) float64 {
	h := uint64(seed)*0x9E3779B97F4A7C15 ^ uint64(x)*0xBF58476D1CE4E5B9 ^ uint64(y)*0x94D049BB133111EB
	h ^= h >> 30
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 27
	h *= 0x94D049BB133111EB
	h ^= h >> 31
	return float64(h>>11) / float64(1<<53)
}
