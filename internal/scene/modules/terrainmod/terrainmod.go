// Package terrainmod applies terrain edit requests to hosted scenes.
package terrainmod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/protocol/jsonrpc"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/modules"
	"regionsim.ai/internal/terrain"
	"regionsim.ai/internal/users"
)

const (
	Name = "terrain"

	MethodModify     = "terrain.modify"
	MethodSaveRevert = "terrain.save_revert"

	// GodLevel may edit terrain of regions owned by others.
	GodLevel = 200
)

var (
	ErrNotHosted  = errors.New("region not hosted here")
	ErrDenied     = errors.New("terrain edit not permitted")
	ErrBadRequest = errors.New("bad terrain request")
)

// ModifyRequest is one brush stroke. When Area is set ([west, south, east,
// north] in region cells) the action floods that rectangle instead.
// SessionID must match the agent's root presence in the region.
type ModifyRequest struct {
	RegionID  uuid.UUID `json:"region_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	SessionID uuid.UUID `json:"session_id"`
	Action    string    `json:"action"`
	BrushSize float64   `json:"brush_size"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Strength  float64   `json:"strength"`
	Duration  float64   `json:"duration"`
	Area      *[4]int   `json:"area,omitempty"`
}

func (r ModifyRequest) validate() error {
	for _, v := range []float64{r.BrushSize, r.X, r.Y, r.Strength, r.Duration} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value", ErrBadRequest)
		}
	}
	if r.Area == nil && r.BrushSize <= 0 {
		return fmt.Errorf("%w: brush size must be positive", ErrBadRequest)
	}
	return nil
}

// SaveRevertRequest names the region and the root agent asking for it.
type SaveRevertRequest struct {
	RegionID  uuid.UUID `json:"region_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	SessionID uuid.UUID `json:"session_id"`
}

type Module struct {
	users   users.Service
	rpc     *jsonrpc.Server
	log     *log.Logger
	enabled bool

	mu     sync.RWMutex
	scenes map[uuid.UUID]*scene.Scene
}

var _ scene.RegionModule = (*Module)(nil)

func New(d modules.Deps) *Module {
	return &Module{users: d.Users, rpc: d.RegionRPC, log: d.ModuleLogger(Name), scenes: map[uuid.UUID]*scene.Scene{}}
}

func (m *Module) Name() string { return Name }

func (m *Module) Initialise(cfg config.Config) error {
	m.enabled = cfg.ModuleEnabled(Name)
	if m.enabled && m.rpc != nil {
		m.rpc.Handle(MethodModify, m.handleModify)
		m.rpc.Handle(MethodSaveRevert, m.handleSaveRevert)
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
	s.Events.OnTerrainModified(func(agentID uuid.UUID, a terrain.Action) {
		for _, sp := range s.Presences() {
			if !sp.IsChild && sp.Client != nil {
				sp.Client.SendEvent("TerrainModified", map[string]any{"region_id": s.ID(), "agent_id": agentID, "action": a.String()})
			}
		}
	})
}

func (m *Module) RegionLoaded(*scene.Scene) {}

func (m *Module) RemoveRegion(s *scene.Scene) {
	m.mu.Lock()
	delete(m.scenes, s.ID())
	m.mu.Unlock()
}

func (m *Module) Close() {}

func (m *Module) scene(id uuid.UUID) (*scene.Scene, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenes[id]
	return s, ok
}

// Modify validates and applies req.
func (m *Module) Modify(ctx context.Context, req ModifyRequest) error {
	s, ok := m.scene(req.RegionID)
	if !ok {
		return ErrNotHosted
	}
	action, err := terrain.ParseAction(req.Action)
	if err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	if err := m.authorize(ctx, s, req.AgentID, req.SessionID); err != nil {
		return err
	}
	if req.Area != nil {
		a := *req.Area
		strength := req.Strength
		if req.Duration > 0 {
			strength *= req.Duration
		}
		if err := s.EditTerrain(func(c *terrain.Channel) error {
			return c.Flood(action, a[0], a[1], a[2], a[3], strength, int64(s.Region.LocX))
		}); err != nil {
			return err
		}
		s.Events.TriggerTerrainModified(req.AgentID, action)
		return nil
	}
	return s.ModifyTerrain(req.AgentID, action, req.BrushSize, req.X, req.Y, req.Strength, req.Duration)
}

func (m *Module) authorize(ctx context.Context, s *scene.Scene, agentID, sessionID uuid.UUID) error {
	sp, ok := s.Presence(agentID)
	if !ok || sp.IsChild {
		return fmt.Errorf("%w: agent is not in %s", ErrDenied, s.Name())
	}
	if sessionID == uuid.Nil || sp.SessionID != sessionID {
		return fmt.Errorf("%w: session mismatch for %s", ErrDenied, agentID)
	}
	owner := s.Region.OwnerID
	if owner == uuid.Nil || owner == agentID {
		return nil
	}
	if m.users != nil {
		if acc, err := m.users.GetUserAccount(ctx, s.Region.ScopeID, agentID); err == nil && acc != nil && acc.UserLevel >= GodLevel {
			return nil
		}
	}
	return fmt.Errorf("%w: %s is owned by another user", ErrDenied, s.Name())
}

// SaveRevert bakes the current heights of a hosted region into its revert map.
// The same agents that may edit the terrain may save it.
func (m *Module) SaveRevert(ctx context.Context, req SaveRevertRequest) error {
	s, ok := m.scene(req.RegionID)
	if !ok {
		return ErrNotHosted
	}
	if err := m.authorize(ctx, s, req.AgentID, req.SessionID); err != nil {
		return err
	}
	return s.EditTerrain(func(c *terrain.Channel) error {
		c.SaveRevert()
		return nil
	})
}

func (m *Module) handleModify(ctx context.Context, raw json.RawMessage) (any, error) {
	var req ModifyRequest
	if err := jsonrpc.Params(raw, &req); err != nil {
		return nil, err
	}
	if err := m.Modify(ctx, req); err != nil {
		if errors.Is(err, ErrDenied) {
			return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "%v", err)
		}
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "%v", err)
	}
	return true, nil
}

func (m *Module) handleSaveRevert(ctx context.Context, raw json.RawMessage) (any, error) {
	var req SaveRevertRequest
	if err := jsonrpc.Params(raw, &req); err != nil {
		return nil, err
	}
	if err := m.SaveRevert(ctx, req); err != nil {
		if errors.Is(err, ErrDenied) {
			return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "%v", err)
		}
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "%v", err)
	}
	return true, nil
}
