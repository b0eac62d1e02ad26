// Package terrain holds region heightmaps and the brushes that edit them.
package terrain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	MinHeight     = 0.0
	MaxHeight     = 4096.0
	DefaultHeight = 21.0
)

var ErrSizeMismatch = errors.New("terrain size mismatch")

// Channel is a W×H heightmap with a revert copy and a taint mask of edited cells.
type Channel struct {
	w, h    int
	heights []float64
	revert  []float64
	taint   []bool
}

func NewChannel(w, h int) *Channel {
	c := &Channel{w: w, h: h, heights: make([]float64, w*h), revert: make([]float64, w*h), taint: make([]bool, w*h)}
	for i := range c.heights {
		c.heights[i] = DefaultHeight
		c.revert[i] = DefaultHeight
	}
	return c
}

func (c *Channel) Width() int  { return c.w }
func (c *Channel) Height() int { return c.h }

func (c *Channel) in(x, y int) bool { return x >= 0 && y >= 0 && x < c.w && y < c.h }

// Get returns the height at (x, y); out-of-range coordinates are clamped to the edge.
func (c *Channel) Get(x, y int) float64 {
	x = clampInt(x, 0, c.w-1)
	y = clampInt(y, 0, c.h-1)
	return c.heights[y*c.w+x]
}

func (c *Channel) Set(x, y int, v float64) {
	if !c.in(x, y) {
		return
	}
	i := y*c.w + x
	v = clamp(v, MinHeight, MaxHeight)
	if c.heights[i] != v {
		c.heights[i] = v
		c.taint[i] = true
	}
}

func (c *Channel) RevertHeight(x, y int) float64 {
	x = clampInt(x, 0, c.w-1)
	y = clampInt(y, 0, c.h-1)
	return c.revert[y*c.w+x]
}

// SaveRevert makes the current heights the revert baseline.
func (c *Channel) SaveRevert() {
	copy(c.revert, c.heights)
}

// Tainted reports whether any cell changed since the last ClearTaint.
func (c *Channel) Tainted() bool {
	for _, t := range c.taint {
		if t {
			return true
		}
	}
	return false
}

func (c *Channel) ClearTaint() {
	for i := range c.taint {
		c.taint[i] = false
	}
}

func (c *Channel) Clone() *Channel {
	cp := &Channel{w: c.w, h: c.h}
	cp.heights = append([]float64(nil), c.heights...)
	cp.revert = append([]float64(nil), c.revert...)
	cp.taint = append([]bool(nil), c.taint...)
	return cp
}

// WriteR32 writes heights as little-endian float32 rows, y-major.
func (c *Channel) WriteR32(w io.Writer) error {
	buf := make([]byte, 4*c.w)
	for y := 0; y < c.h; y++ {
		for x := 0; x < c.w; x++ {
			binary.LittleEndian.PutUint32(buf[4*x:], math.Float32bits(float32(c.heights[y*c.w+x])))
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// ReadR32 replaces the heights from an r32 stream of exactly W×H samples.
func (c *Channel) ReadR32(r io.Reader) error {
	buf := make([]byte, 4*c.w)
	next := make([]float64, len(c.heights))
	for y := 0; y < c.h; y++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%w: row %d: %v", ErrSizeMismatch, y, err)
		}
		for x := 0; x < c.w; x++ {
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*x:])))
			next[y*c.w+x] = clamp(v, MinHeight, MaxHeight)
		}
	}
	var extra [1]byte
	if n, _ := r.Read(extra[:]); n > 0 {
		return fmt.Errorf("%w: trailing data", ErrSizeMismatch)
	}
	for i, v := range next {
		if c.heights[i] != v {
			c.taint[i] = true
		}
	}
	c.heights = next
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
