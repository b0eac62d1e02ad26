package grid

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func region(name string, gx, gy int) RegionData {
	return RegionData{
		ID:    uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
		Name:  name,
		LocX:  gx * RegionSize,
		LocY:  gy * RegionSize,
		SizeX: RegionSize,
		SizeY: RegionSize,
	}
}

func names(rs []RegionData) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Name)
	}
	return out
}

func newTestRegistry(t *testing.T, rs ...RegionData) *Registry {
	t.Helper()
	g := NewRegistry(NewMemoryStore(), nil, nil)
	for _, r := range rs {
		if err := g.RegisterRegion(context.Background(), r); err != nil {
			t.Fatalf("register %s: %v", r.Name, err)
		}
	}
	return g
}

func TestRegisterRegion_Rejections(t *testing.T) {
	ctx := context.Background()
	g := newTestRegistry(t, region("Center", 1000, 1000))

	overlap := region("Other", 1000, 1000)
	if err := g.RegisterRegion(ctx, overlap); !errors.Is(err, ErrRegionOverlap) {
		t.Fatalf("expected overlap, got %v", err)
	}
	dupName := region("x", 1001, 1000)
	dupName.Name = "center"
	if err := g.RegisterRegion(ctx, dupName); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected name taken, got %v", err)
	}
	bad := region("Bad", 1002, 1000)
	bad.LocX += 10
	if err := g.RegisterRegion(ctx, bad); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected invalid, got %v", err)
	}
	noID := region("NoID", 1003, 1000)
	noID.ID = uuid.Nil
	if err := g.RegisterRegion(ctx, noID); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestRegisterRegion_ReRegisterMovesRegion(t *testing.T) {
	ctx := context.Background()
	r := region("Mover", 10, 10)
	g := newTestRegistry(t, r)
	r.LocX = 11 * RegionSize
	if err := g.RegisterRegion(ctx, r); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	got, err := g.GetRegionByPosition(ctx, uuid.Nil, 11*RegionSize+5, 10*RegionSize+5)
	if err != nil || got.ID != r.ID {
		t.Fatalf("by position: %+v %v", got, err)
	}
	if !got.Online() {
		t.Fatalf("expected online flag")
	}
}

func TestGetNeighbours_EdgesAndCorners(t *testing.T) {
	ctx := context.Background()
	center := region("Center", 1000, 1000)
	big := region("Big", 1001, 1001)
	big.SizeX = 2 * RegionSize
	big.SizeY = 2 * RegionSize
	g := newTestRegistry(t,
		center,
		region("West", 999, 1000),
		region("South", 1000, 999),
		region("SouthWest", 999, 999),
		big,
		region("Far", 1003, 1000),
		region("Elsewhere", 1000, 1002),
	)

	got, err := g.GetNeighbours(ctx, uuid.Nil, center.ID)
	if err != nil {
		t.Fatalf("neighbours: %v", err)
	}
	want := []string{"SouthWest", "South", "West", "Big"}
	if len(got) != len(want) {
		t.Fatalf("neighbours=%v want %v", names(got), want)
	}
	for i := range want {
		if got[i].Name != want[i] {
			t.Fatalf("neighbours=%v want %v", names(got), want)
		}
	}
}

func TestDeregister_PersistentStaysOffline(t *testing.T) {
	ctx := context.Background()
	p := region("Keep", 5, 5)
	p.Flags = FlagPersistent
	n := region("Neighbour", 6, 5)
	g := newTestRegistry(t, p, n)

	if err := g.DeregisterRegion(ctx, p.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	got, err := g.GetRegionByID(ctx, uuid.Nil, p.ID)
	if err != nil {
		t.Fatalf("persistent region removed: %v", err)
	}
	if got.Online() {
		t.Fatalf("expected offline")
	}
	ns, _ := g.GetNeighbours(ctx, uuid.Nil, n.ID)
	if len(ns) != 0 {
		t.Fatalf("offline region listed as neighbour: %v", names(ns))
	}

	if err := g.DeregisterRegion(ctx, n.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := g.GetRegionByID(ctx, uuid.Nil, n.ID); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := g.DeregisterRegion(ctx, n.ID); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("expected not found on second deregister, got %v", err)
	}
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	a := region("Alpha", 100, 100)
	a.Flags = FlagDefaultRegion
	b := region("Beta", 110, 100)
	b.Flags = FlagFallbackRegion
	c := region("Gamma", 101, 100)
	c.Flags = FlagFallbackRegion
	scoped := region("Scoped", 100, 100)
	scoped.ScopeID = uuid.New()
	g := newTestRegistry(t, a, b, c, scoped)

	if r, err := g.GetRegionByName(ctx, uuid.Nil, "ALPHA"); err != nil || r.ID != a.ID {
		t.Fatalf("by name: %+v %v", r, err)
	}
	if _, err := g.GetRegionByID(ctx, uuid.Nil, scoped.ID); !errors.Is(err, ErrRegionNotFound) {
		t.Fatalf("scope leak: %v", err)
	}
	defs, _ := g.GetDefaultRegions(ctx, uuid.Nil)
	if len(defs) != 1 || defs[0].ID != a.ID {
		t.Fatalf("defaults: %v", names(defs))
	}
	fb, _ := g.GetFallbackRegions(ctx, uuid.Nil, 100*RegionSize, 100*RegionSize)
	if len(fb) != 2 || fb[0].Name != "Gamma" {
		t.Fatalf("fallbacks: %v", names(fb))
	}
	rng, _ := g.GetRegionRange(ctx, uuid.Nil, 100*RegionSize, 101*RegionSize, 100*RegionSize, 100*RegionSize)
	if len(rng) != 2 {
		t.Fatalf("range: %v", names(rng))
	}
}
