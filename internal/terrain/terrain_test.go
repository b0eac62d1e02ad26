package terrain

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"
)

func TestPaint_RaiseLowerFalloff(t *testing.T) {
	c := NewChannel(16, 16)
	if err := c.Paint(ActionRaise, 8, 8, 4, 2, 0); err != nil {
		t.Fatal(err)
	}
	if got := c.Get(8, 8); math.Abs(got-(DefaultHeight+2)) > 1e-9 {
		t.Fatalf("centre: %v", got)
	}
	mid := c.Get(10, 8)
	if !(mid > DefaultHeight && mid < DefaultHeight+2) {
		t.Fatalf("falloff at d=2: %v", mid)
	}
	if c.Get(0, 0) != DefaultHeight {
		t.Fatalf("outside brush changed")
	}
	if !c.Tainted() {
		t.Fatalf("expected taint")
	}
	_ = c.Paint(ActionLower, 8, 8, 4, 2, 0)
	if got := c.Get(8, 8); math.Abs(got-DefaultHeight) > 1e-9 {
		t.Fatalf("lower back: %v", got)
	}
}

func TestPaint_Clamped(t *testing.T) {
	c := NewChannel(4, 4)
	_ = c.Paint(ActionLower, 1, 1, 2, 1000, 0)
	if c.Get(1, 1) != MinHeight {
		t.Fatalf("min clamp: %v", c.Get(1, 1))
	}
	_ = c.Paint(ActionRaise, 1, 1, 2, 10000, 0)
	if c.Get(1, 1) != MaxHeight {
		t.Fatalf("max clamp: %v", c.Get(1, 1))
	}
}

func TestPaint_OversizedBrush(t *testing.T) {
	c := NewChannel(16, 16)
	done := make(chan error, 1)
	go func() { done <- c.Paint(ActionRaise, 8, 8, 1e6, 1, 0) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("oversized brush did not finish")
	}
	if c.Get(0, 0) <= DefaultHeight || c.Get(15, 15) <= DefaultHeight {
		t.Fatalf("brush should cover the whole channel: %v %v", c.Get(0, 0), c.Get(15, 15))
	}

	if err := c.Paint(ActionRaise, 1e300, -1e300, 1e300, 1, 0); err != nil {
		t.Fatalf("far brush: %v", err)
	}
	for _, bad := range [][4]float64{
		{math.NaN(), 8, 2, 1},
		{8, 8, math.Inf(1), 1},
		{8, 8, 2, math.NaN()},
		{8, 8, 0, 1},
		{8, 8, -3, 1},
	} {
		if err := c.Paint(ActionRaise, bad[0], bad[1], bad[2], bad[3], 0); err == nil {
			t.Fatalf("accepted %v", bad)
		}
	}
}

func TestFlood_ClippedToChannel(t *testing.T) {
	c := NewChannel(8, 8)
	if err := c.Flood(ActionRaise, -1<<30, -1<<30, 1<<30, 1<<30, 1, 0); err != nil {
		t.Fatal(err)
	}
	if c.Get(0, 0) != DefaultHeight+1 || c.Get(7, 7) != DefaultHeight+1 {
		t.Fatalf("flood: %v %v", c.Get(0, 0), c.Get(7, 7))
	}
	if err := c.Flood(ActionRaise, 100, 100, 200, 200, 1, 0); err == nil {
		t.Fatalf("expected error for area outside terrain")
	}
}

func TestFlood_FlattenSmoothRevert(t *testing.T) {
	c := NewChannel(8, 8)
	c.Set(2, 2, 40)
	if err := c.Flood(ActionFlatten, 0, 0, 7, 7, 1, 0); err != nil {
		t.Fatal(err)
	}
	want := (DefaultHeight*63 + 40) / 64
	if got := c.Get(5, 5); math.Abs(got-want) > 1e-9 {
		t.Fatalf("flatten to mean: %v want %v", got, want)
	}

	c = NewChannel(8, 8)
	c.Set(4, 4, 30)
	_ = c.Flood(ActionSmooth, 4, 4, 4, 4, 1, 0)
	if got, want := c.Get(4, 4), (DefaultHeight*8+30)/9; math.Abs(got-want) > 1e-9 {
		t.Fatalf("smooth: %v want %v", got, want)
	}

	_ = c.Flood(ActionRevert, 0, 0, 7, 7, 1, 0)
	if c.Get(4, 4) != DefaultHeight {
		t.Fatalf("revert: %v", c.Get(4, 4))
	}
}

func TestNoise_Deterministic(t *testing.T) {
	a, b := NewChannel(8, 8), NewChannel(8, 8)
	_ = a.Flood(ActionNoise, 0, 0, 7, 7, 1, 42)
	_ = b.Flood(ActionNoise, 0, 0, 7, 7, 1, 42)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if a.Get(x, y) != b.Get(x, y) {
				t.Fatalf("noise differs at %d,%d", x, y)
			}
			if d := math.Abs(a.Get(x, y) - DefaultHeight); d > 1 {
				t.Fatalf("noise amplitude %v at %d,%d", d, x, y)
			}
		}
	}
}

func TestR32RoundTrip(t *testing.T) {
	c := NewChannel(4, 3)
	c.Set(1, 2, 12.5)
	var buf bytes.Buffer
	if err := c.WriteR32(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 4*4*3 {
		t.Fatalf("size %d", buf.Len())
	}
	d := NewChannel(4, 3)
	if err := d.ReadR32(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
	if d.Get(1, 2) != 12.5 {
		t.Fatalf("read back %v", d.Get(1, 2))
	}
	if err := NewChannel(5, 3).ReadR32(bytes.NewReader(buf.Bytes())); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("short read: %v", err)
	}
	if err := NewChannel(2, 3).ReadR32(bytes.NewReader(buf.Bytes())); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("trailing: %v", err)
	}
}

func TestParseAction(t *testing.T) {
	if a, err := ParseAction(" Smooth "); err != nil || a != ActionSmooth {
		t.Fatalf("%v %v", a, err)
	}
	if _, err := ParseAction("dig"); err == nil {
		t.Fatalf("expected error")
	}
}
