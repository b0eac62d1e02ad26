package grid

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"regionsim.ai/internal/persistence/journal"
)

// Service is the region registry seen by regions and connectors.
type Service interface {
	RegisterRegion(ctx context.Context, r RegionData) error
	DeregisterRegion(ctx context.Context, id uuid.UUID) error
	GetRegionByID(ctx context.Context, scope, id uuid.UUID) (RegionData, error)
	GetRegionByName(ctx context.Context, scope uuid.UUID, name string) (RegionData, error)
	GetRegionByPosition(ctx context.Context, scope uuid.UUID, x, y int) (RegionData, error)
	GetRegionRange(ctx context.Context, scope uuid.UUID, xmin, xmax, ymin, ymax int) ([]RegionData, error)
	GetNeighbours(ctx context.Context, scope, id uuid.UUID) ([]RegionData, error)
	GetDefaultRegions(ctx context.Context, scope uuid.UUID) ([]RegionData, error)
	GetFallbackRegions(ctx context.Context, scope uuid.UUID, x, y int) ([]RegionData, error)
}

// Registry implements Service over a Store.
type Registry struct {
	store   Store
	log     *log.Logger
	journal *journal.Journal

	// serializes register so overlap and name checks see a stable view
	mu sync.Mutex
}

func NewRegistry(store Store, j *journal.Journal, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{store: store, journal: j, log: logger}
}

func (g *Registry) RegisterRegion(ctx context.Context, r RegionData) error {
	r.Name = strings.TrimSpace(r.Name)
	if err := r.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	all, err := g.store.List(ctx, r.ScopeID)
	if err != nil {
		return err
	}
	for _, o := range all {
		if o.ID == r.ID {
			continue
		}
		if strings.EqualFold(o.Name, r.Name) {
			return fmt.Errorf("%w: %s", ErrNameTaken, r.Name)
		}
		if o.overlaps(r) {
			return fmt.Errorf("%w: %s at %d,%d", ErrRegionOverlap, o.Name, o.LocX, o.LocY)
		}
	}
	r.Flags |= FlagOnline
	if err := g.store.Put(ctx, r); err != nil {
		return err
	}
	g.log.Printf("registered region %s (%s) at %d,%d", r.Name, r.ID, r.GridX(), r.GridY())
	_ = g.journal.Record("region.register", map[string]any{"id": r.ID.String(), "name": r.Name, "x": r.LocX, "y": r.LocY})
	return nil
}

func (g *Registry) DeregisterRegion(ctx context.Context, id uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, err := g.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if r.Flags.Has(FlagPersistent) {
		r.Flags &^= FlagOnline
		err = g.store.Put(ctx, r)
	} else {
		err = g.store.Delete(ctx, id)
	}
	if err != nil {
		return err
	}
	g.log.Printf("deregistered region %s (%s)", r.Name, r.ID)
	_ = g.journal.Record("region.deregister", map[string]any{"id": r.ID.String(), "name": r.Name})
	return nil
}

func (g *Registry) GetRegionByID(ctx context.Context, scope, id uuid.UUID) (RegionData, error) {
	r, err := g.store.Get(ctx, id)
	if err != nil {
		return RegionData{}, err
	}
	if r.ScopeID != scope {
		return RegionData{}, ErrRegionNotFound
	}
	return r, nil
}

func (g *Registry) GetRegionByName(ctx context.Context, scope uuid.UUID, name string) (RegionData, error) {
	all, err := g.store.List(ctx, scope)
	if err != nil {
		return RegionData{}, err
	}
	name = strings.TrimSpace(name)
	for _, r := range all {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return RegionData{}, ErrRegionNotFound
}

func (g *Registry) GetRegionByPosition(ctx context.Context, scope uuid.UUID, x, y int) (RegionData, error) {
	all, err := g.store.List(ctx, scope)
	if err != nil {
		return RegionData{}, err
	}
	for _, r := range all {
		if r.Contains(x, y) {
			return r, nil
		}
	}
	return RegionData{}, ErrRegionNotFound
}

func (g *Registry) GetRegionRange(ctx context.Context, scope uuid.UUID, xmin, xmax, ymin, ymax int) ([]RegionData, error) {
	all, err := g.store.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	var out []RegionData
	for _, r := range all {
		if r.LocX+r.SizeX > xmin && r.LocX <= xmax && r.LocY+r.SizeY > ymin && r.LocY <= ymax {
			out = append(out, r)
		}
	}
	sortByLocation(out)
	return out, nil
}

func (g *Registry) GetNeighbours(ctx context.Context, scope, id uuid.UUID) ([]RegionData, error) {
	self, err := g.GetRegionByID(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	all, err := g.store.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	var out []RegionData
	for _, r := range all {
		if r.ID == self.ID || !r.Online() {
			continue
		}
		if self.touches(r) {
			out = append(out, r)
		}
	}
	sortByLocation(out)
	return out, nil
}

func (g *Registry) GetDefaultRegions(ctx context.Context, scope uuid.UUID) ([]RegionData, error) {
	return g.withFlag(ctx, scope, FlagDefaultRegion)
}

// GetFallbackRegions returns online fallback regions nearest to (x, y) first.
func (g *Registry) GetFallbackRegions(ctx context.Context, scope uuid.UUID, x, y int) ([]RegionData, error) {
	out, err := g.withFlag(ctx, scope, FlagFallbackRegion)
	if err != nil {
		return nil, err
	}
	dist := func(r RegionData) float64 {
		cx := float64(r.LocX) + float64(r.SizeX)/2
		cy := float64(r.LocY) + float64(r.SizeY)/2
		return math.Hypot(cx-float64(x), cy-float64(y))
	}
	sort.SliceStable(out, func(i, j int) bool { return dist(out[i]) < dist(out[j]) })
	return out, nil
}

func (g *Registry) withFlag(ctx context.Context, scope uuid.UUID, f RegionFlags) ([]RegionData, error) {
	all, err := g.store.List(ctx, scope)
	if err != nil {
		return nil, err
	}
	var out []RegionData
	for _, r := range all {
		if r.Flags.Has(f) && r.Online() {
			out = append(out, r)
		}
	}
	sortByLocation(out)
	return out, nil
}

func sortByLocation(rs []RegionData) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].LocY != rs[j].LocY {
			return rs[i].LocY < rs[j].LocY
		}
		return rs[i].LocX < rs[j].LocX
	})
}
