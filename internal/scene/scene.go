// Package scene hosts one region: its agents, terrain and event hub.
package scene

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/terrain"
)

var ErrNoPresence = errors.New("agent not in scene")

const MaxHealth = 100.0

// Client is the connection of one agent to this host.
type Client interface {
	AgentID() uuid.UUID
	SessionID() uuid.UUID
	Name() string
	SendInstantMessage(msg InstantMessage)
	SendAlert(text string)
	SendEvent(name string, body any)
}

type Settings struct {
	AllowDamage bool
	SpawnPoint  [3]float64
	// TerrainTextures are asset ids painted on the ground, low to high.
	TerrainTextures [4]uuid.UUID
}

// ScenePresence is a snapshot of one agent in the scene.
type ScenePresence struct {
	AgentID      uuid.UUID
	SessionID    uuid.UUID
	Name         string
	IsChild      bool
	Position     [3]float64
	Health       float64
	Invulnerable bool
	Client       Client
}

type Scene struct {
	Region   grid.RegionData
	Settings Settings
	Events   *EventManager
	Terrain  *terrain.Channel

	log *log.Logger

	terrainMu sync.Mutex

	mu        sync.RWMutex
	presences map[uuid.UUID]*ScenePresence
}

func New(region grid.RegionData, settings Settings, events *EventManager, logger *log.Logger) *Scene {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if events == nil {
		events = NewEventManager(0, logger)
	}
	w, h := region.SizeX, region.SizeY
	if w <= 0 {
		w = grid.RegionSize
	}
	if h <= 0 {
		h = grid.RegionSize
	}
	return &Scene{
		Region:    region,
		Settings:  settings,
		Events:    events,
		Terrain:   terrain.NewChannel(w, h),
		log:       logger,
		presences: map[uuid.UUID]*ScenePresence{},
	}
}

func (s *Scene) ID() uuid.UUID { return s.Region.ID }
func (s *Scene) Name() string  { return s.Region.Name }

// AddClient admits c as a child agent, or as a root agent at the spawn point
// when child is false.
func (s *Scene) AddClient(c Client, child bool) ScenePresence {
	sp := &ScenePresence{
		AgentID:   c.AgentID(),
		SessionID: c.SessionID(),
		Name:      c.Name(),
		IsChild:   child,
		Position:  s.Settings.SpawnPoint,
		Health:    MaxHealth,
		Client:    c,
	}
	s.mu.Lock()
	s.presences[sp.AgentID] = sp
	snap := *sp
	s.mu.Unlock()

	s.log.Printf("%s: client %s (%s) added child=%v", s.Region.Name, snap.Name, snap.AgentID, child)
	s.Events.TriggerNewClient(c)
	if child {
		s.Events.TriggerMakeChildAgent(snap)
	} else {
		s.Events.TriggerMakeRootAgent(snap)
	}
	return snap
}

func (s *Scene) RemoveClient(agentID uuid.UUID) error {
	s.mu.Lock()
	sp, ok := s.presences[agentID]
	var snap ScenePresence
	if ok {
		snap = *sp
		delete(s.presences, agentID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrNoPresence
	}
	s.log.Printf("%s: client %s (%s) removed", s.Region.Name, snap.Name, agentID)
	s.Events.TriggerClientClosed(snap, s)
	return nil
}

func (s *Scene) MakeRootAgent(agentID uuid.UUID) error {
	snap, err := s.setChild(agentID, false)
	if err != nil {
		return err
	}
	s.Events.TriggerMakeRootAgent(snap)
	return nil
}

func (s *Scene) MakeChildAgent(agentID uuid.UUID) error {
	snap, err := s.setChild(agentID, true)
	if err != nil {
		return err
	}
	s.Events.TriggerMakeChildAgent(snap)
	return nil
}

func (s *Scene) setChild(agentID uuid.UUID, child bool) (ScenePresence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.presences[agentID]
	if !ok {
		return ScenePresence{}, ErrNoPresence
	}
	sp.IsChild = child
	return *sp, nil
}

func (s *Scene) Presence(agentID uuid.UUID) (ScenePresence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.presences[agentID]
	if !ok {
		return ScenePresence{}, false
	}
	return *sp, true
}

// Presences returns every presence ordered by name.
func (s *Scene) Presences() []ScenePresence {
	s.mu.RLock()
	out := make([]ScenePresence, 0, len(s.presences))
	for _, sp := range s.presences {
		out = append(out, *sp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scene) RootAgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sp := range s.presences {
		if !sp.IsChild {
			n++
		}
	}
	return n
}

// UpdatePresence applies fn to the live presence of agentID under the scene lock.
func (s *Scene) UpdatePresence(agentID uuid.UUID, fn func(sp *ScenePresence)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.presences[agentID]
	if !ok {
		return ErrNoPresence
	}
	fn(sp)
	return nil
}

// ApplyDamage lowers the agent's health by amount. It reports whether the
// agent died, in which case OnAvatarKilled has been triggered.
func (s *Scene) ApplyDamage(agentID uuid.UUID, amount float64, killerID uuid.UUID) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("negative damage %v", amount)
	}
	if !s.Settings.AllowDamage {
		return false, nil
	}
	var (
		dead bool
		snap ScenePresence
	)
	err := s.UpdatePresence(agentID, func(sp *ScenePresence) {
		if sp.IsChild || sp.Invulnerable {
			return
		}
		sp.Health -= amount
		if sp.Health <= 0 {
			sp.Health = 0
			dead = true
		}
		snap = *sp
	})
	if err != nil {
		return false, err
	}
	if dead {
		s.Events.TriggerAvatarKilled(snap, killerID)
	}
	return dead, nil
}

// SendInstantMessage delivers msg to a root agent of this scene. It returns
// false when the recipient is not here as a root agent.
func (s *Scene) SendInstantMessage(msg InstantMessage) bool {
	s.mu.RLock()
	sp, ok := s.presences[msg.ToAgentID]
	var c Client
	if ok && !sp.IsChild {
		c = sp.Client
	}
	s.mu.RUnlock()
	if c == nil {
		return false
	}
	c.SendInstantMessage(msg)
	return true
}

// ModifyTerrain paints action at (x, y) and triggers OnTerrainModified.
// duration scales strength the way a held mouse button does.
func (s *Scene) ModifyTerrain(agentID uuid.UUID, action terrain.Action, brushSize, x, y, strength, duration float64) error {
	if duration <= 0 {
		duration = 0.25
	}
	s.terrainMu.Lock()
	err := s.Terrain.Paint(action, x, y, brushSize, strength*duration, int64(s.Region.LocX)^int64(s.Region.LocY)<<32)
	s.terrainMu.Unlock()
	if err != nil {
		return err
	}
	s.Events.TriggerTerrainModified(agentID, action)
	return nil
}

// TerrainSnapshot returns a copy of the heightmap safe to read without locks.
func (s *Scene) TerrainSnapshot() *terrain.Channel {
	s.terrainMu.Lock()
	defer s.terrainMu.Unlock()
	return s.Terrain.Clone()
}

// EditTerrain runs fn with exclusive access to the heightmap.
func (s *Scene) EditTerrain(fn func(c *terrain.Channel) error) error {
	s.terrainMu.Lock()
	defer s.terrainMu.Unlock()
	return fn(s.Terrain)
}
