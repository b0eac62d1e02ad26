// Package worldmap renders hosted terrain into zoom level 1 map tiles and
// keeps them published while the region is up.
package worldmap

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/modules"
	"regionsim.ai/internal/terrain"
)

const Name = "worldmap"

// WaterHeight separates sea from land when shading tiles.
const WaterHeight = 20.0

const callTimeout = 10 * time.Second

// TileStore is where rendered tiles go; *maptiles.Store satisfies it.
type TileStore interface {
	AddMapTile(ctx context.Context, x, y int, data []byte, scope uuid.UUID) error
	RemoveMapTile(ctx context.Context, x, y int, scope uuid.UUID) error
}

type Module struct {
	tiles   TileStore
	log     *log.Logger
	enabled bool
	every   time.Duration

	mu     sync.Mutex
	scenes map[uuid.UUID]*scene.Scene
	dirty  map[uuid.UUID]bool
	stop   chan struct{}
	done   chan struct{}
}

var _ scene.RegionModule = (*Module)(nil)

func New(d modules.Deps, tiles TileStore) *Module {
	return &Module{
		tiles:  tiles,
		log:    d.ModuleLogger(Name),
		scenes: map[uuid.UUID]*scene.Scene{},
		dirty:  map[uuid.UUID]bool{},
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Initialise(cfg config.Config) error {
	m.enabled = cfg.ModuleEnabled(Name) && m.tiles != nil
	m.every = cfg.MapTiles.RefreshInterval
	if m.enabled && m.every > 0 {
		m.stop = make(chan struct{})
		m.done = make(chan struct{})
		go m.loop()
	}
	return nil
}

func (m *Module) AddRegion(s *scene.Scene) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	m.scenes[s.ID()] = s
	m.mu.Unlock()
	s.Events.OnTerrainModified(func(uuid.UUID, terrain.Action) {
		m.mu.Lock()
		m.dirty[s.ID()] = true
		m.mu.Unlock()
	})
}

func (m *Module) RegionLoaded(s *scene.Scene) {
	if !m.enabled {
		return
	}
	if err := m.Publish(context.Background(), s); err != nil {
		m.log.Printf("%s: publish tiles: %v", s.Name(), err)
	}
}

// RemoveRegion withdraws the tiles of a region that is going away for good.
// Persistent regions keep their last tiles on the map while offline.
func (m *Module) RemoveRegion(s *scene.Scene) {
	if !m.enabled {
		return
	}
	m.mu.Lock()
	delete(m.scenes, s.ID())
	dirty := m.dirty[s.ID()]
	delete(m.dirty, s.ID())
	m.mu.Unlock()

	if s.Region.Flags.Has(grid.FlagPersistent) {
		if dirty {
			if err := m.Publish(context.Background(), s); err != nil {
				m.log.Printf("%s: publish tiles: %v", s.Name(), err)
			}
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	forEachTile(s.Region, func(x, y, _, _ int) {
		if err := m.tiles.RemoveMapTile(ctx, x, y, s.Region.ScopeID); err != nil {
			m.log.Printf("%s: remove tile %d,%d: %v", s.Name(), x, y, err)
		}
	})
}

func (m *Module) Close() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop = nil
}

// Publish renders every tile the region covers from its current terrain.
func (m *Module) Publish(ctx context.Context, s *scene.Scene) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	heights := s.TerrainSnapshot()
	var firstErr error
	forEachTile(s.Region, func(x, y, ox, oy int) {
		if firstErr != nil {
			return
		}
		data, err := RenderTile(heights, ox, oy)
		if err == nil {
			err = m.tiles.AddMapTile(ctx, x, y, data, s.Region.ScopeID)
		}
		if err != nil {
			firstErr = err
		}
	})
	return firstErr
}

func (m *Module) loop() {
	defer close(m.done)
	t := time.NewTicker(m.every)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.refreshDirty()
		}
	}
}

func (m *Module) refreshDirty() {
	m.mu.Lock()
	var todo []*scene.Scene
	for id := range m.dirty {
		if s, ok := m.scenes[id]; ok {
			todo = append(todo, s)
		}
		delete(m.dirty, id)
	}
	m.mu.Unlock()
	for _, s := range todo {
		if err := m.Publish(context.Background(), s); err != nil {
			m.log.Printf("%s: refresh tiles: %v", s.Name(), err)
		}
	}
}

// forEachTile calls fn with the grid cell of each 256m block of r and the
// block's offset in region cells.
func forEachTile(r grid.RegionData, fn func(x, y, ox, oy int)) {
	for oy := 0; oy < r.SizeY; oy += grid.RegionSize {
		for ox := 0; ox < r.SizeX; ox += grid.RegionSize {
			fn(r.GridX()+ox/grid.RegionSize, r.GridY()+oy/grid.RegionSize, ox, oy)
		}
	}
}

// RenderTile shades the 256x256 block of c starting at (ox, oy) as a jpg,
// north up.
func RenderTile(c *terrain.Channel, ox, oy int) ([]byte, error) {
	const n = grid.RegionSize
	img := image.NewRGBA(image.Rect(0, 0, n, n))
	for py := 0; py < n; py++ {
		y := oy + n - 1 - py
		for px := 0; px < n; px++ {
			x := ox + px
			h := c.Get(x, y)
			slope := (c.Get(x+1, y) - c.Get(x-1, y) + c.Get(x, y+1) - c.Get(x, y-1)) / 4
			img.SetRGBA(px, py, shade(h, slope))
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func shade(h, slope float64) color.RGBA {
	if h < WaterHeight {
		depth := math.Min(1, (WaterHeight-h)/WaterHeight)
		return color.RGBA{R: 20, G: uint8(90 - 50*depth), B: uint8(170 - 60*depth), A: 255}
	}
	// green lowland, brown hills, white peaks
	t := math.Min(1, (h-WaterHeight)/60)
	var r, g, b float64
	if t < 0.5 {
		k := t * 2
		r, g, b = lerp(60, 130, k), lerp(130, 110, k), lerp(50, 70, k)
	} else {
		k := (t - 0.5) * 2
		r, g, b = lerp(130, 240, k), lerp(110, 240, k), lerp(70, 240, k)
	}
	light := 1 - math.Max(-0.4, math.Min(0.4, slope*0.2))
	return color.RGBA{R: byteOf(r * light), G: byteOf(g * light), B: byteOf(b * light), A: 255}
}

func lerp(a, b, k float64) float64 { return a + (b-a)*k }

func byteOf(v float64) uint8 { return uint8(math.Max(0, math.Min(255, v))) }
