package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets/assetshttp"
	"regionsim.ai/internal/auth"
	"regionsim.ai/internal/caps"
	"regionsim.ai/internal/config"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/grid/neighbour"
	"regionsim.ai/internal/inventory"
	"regionsim.ai/internal/presence"
	"regionsim.ai/internal/protocol/jsonrpc"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/modules"
	"regionsim.ai/internal/terrain"
	"regionsim.ai/internal/transport/eventqueue"
)

const (
	MethodAgentEnter  = "agent.enter"
	MethodAgentLeave  = "agent.leave"
	MethodAgentIM     = "agent.instant_message"
	MethodAgentDamage = "agent.damage"
)

type runtime struct {
	cfg      config.Config
	scope    uuid.UUID
	log      *log.Logger
	host     *modules.Host
	grid     grid.Service
	presence presence.Service
	auth     *auth.Service
	caps     *caps.Registry
	events   *eventqueue.Server
	inv      *inventory.Store
	assets   *assetshttp.Resolver
}

// regionFromSpec turns one configured region into what the grid stores.
func regionFromSpec(spec config.RegionSpec, scope uuid.UUID, publicURI string) (grid.RegionData, scene.Settings, error) {
	id, err := uuid.Parse(spec.ID)
	if err != nil {
		return grid.RegionData{}, scene.Settings{}, fmt.Errorf("region %s: id: %w", spec.Name, err)
	}
	r := grid.RegionData{
		ID:        id,
		ScopeID:   scope,
		Name:      spec.Name,
		LocX:      spec.LocX,
		LocY:      spec.LocY,
		SizeX:     spec.SizeX,
		SizeY:     spec.SizeY,
		ServerURI: publicURI,
		Flags:     grid.FlagOnline,
	}
	if spec.Persistent {
		r.Flags |= grid.FlagPersistent
	}
	if spec.Default {
		r.Flags |= grid.FlagDefaultRegion
	}
	if spec.Fallback {
		r.Flags |= grid.FlagFallbackRegion
	}
	if spec.OwnerID != "" {
		if r.OwnerID, err = uuid.Parse(spec.OwnerID); err != nil {
			return grid.RegionData{}, scene.Settings{}, fmt.Errorf("region %s: owner_id: %w", spec.Name, err)
		}
	}
	st := scene.Settings{AllowDamage: spec.AllowDamage, SpawnPoint: spec.SpawnPoint}
	for i, t := range spec.TerrainTextures {
		if _, st.TerrainTextures[i], err = assetshttp.ParseRef(t); err != nil {
			return grid.RegionData{}, scene.Settings{}, fmt.Errorf("region %s: terrain texture %d: %w", spec.Name, i, err)
		}
	}
	return r, st, nil
}

// importTextures makes sure every terrain texture of spec is in the local
// asset service, copying hypergrid refs from their home server.
func (rt *runtime) importTextures(ctx context.Context, spec config.RegionSpec) {
	if rt.assets == nil {
		return
	}
	for _, ref := range spec.TerrainTextures {
		if _, err := rt.assets.Resolve(ctx, ref); err != nil {
			rt.log.Printf("%s: terrain texture %s: %v", spec.Name, ref, err)
		}
	}
}

func (rt *runtime) terrainPath(id uuid.UUID) string {
	return filepath.Join(rt.cfg.Grid.DataDir, "regions", id.String(), "terrain.r32")
}

func (rt *runtime) loadTerrain(s *scene.Scene) {
	f, err := os.Open(rt.terrainPath(s.ID()))
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		rt.log.Printf("%s: open terrain: %v", s.Name(), err)
		return
	}
	defer f.Close()
	err = s.EditTerrain(func(c *terrain.Channel) error {
		if err := c.ReadR32(f); err != nil {
			return err
		}
		c.SaveRevert()
		c.ClearTaint()
		return nil
	})
	if err != nil {
		rt.log.Printf("%s: load terrain: %v", s.Name(), err)
	}
}

func (rt *runtime) saveTerrain(s *scene.Scene) error {
	p := rt.terrainPath(s.ID())
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := s.TerrainSnapshot().WriteR32(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (rt *runtime) startRegions(ctx context.Context, notifier *neighbour.Notifier) error {
	for _, spec := range rt.cfg.Regions {
		r, st, err := regionFromSpec(spec, rt.scope, rt.cfg.Grid.PublicURI)
		if err != nil {
			return err
		}
		rt.importTextures(ctx, spec)
		if err := rt.grid.RegisterRegion(ctx, r); err != nil {
			return fmt.Errorf("register %s: %w", r.Name, err)
		}
		events := scene.NewEventManager(rt.cfg.Modules.DispatchWorkers, subLogger(rt.log, "events"))
		s := scene.New(r, st, events, subLogger(rt.log, "scene"))
		rt.loadTerrain(s)
		rt.caps.Attach(s)
		s.Events.OnClientClosed(func(sp scene.ScenePresence, _ *scene.Scene) {
			if _, _, elsewhere := rt.host.FindAgent(sp.AgentID); !elsewhere {
				rt.events.Forget(sp.AgentID)
			}
		})
		s.Events.OnRegionUp(func(n grid.RegionData) {
			for _, sp := range s.Presences() {
				if !sp.IsChild && sp.Client != nil {
					sp.Client.SendEvent("RegionUp", n)
				}
			}
		})
		if err := rt.host.AddScene(s); err != nil {
			return fmt.Errorf("attach modules to %s: %w", r.Name, err)
		}
		rt.log.Printf("region %s up at %d,%d", r.Name, r.GridX(), r.GridY())

		acked, err := notifier.InformNeighbours(ctx, r)
		if err != nil {
			rt.log.Printf("%s: inform neighbours: %v", r.Name, err)
		}
		for _, n := range acked {
			rt.log.Printf("%s: neighbour %s acknowledged", r.Name, n.Name)
		}
	}
	return nil
}

func (rt *runtime) stopRegions() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range rt.host.Scenes() {
		if err := rt.saveTerrain(s); err != nil {
			rt.log.Printf("%s: save terrain: %v", s.Name(), err)
		}
		rt.host.RemoveScene(s.ID())
		s.Events.Wait()
		if err := rt.grid.DeregisterRegion(ctx, s.ID()); err != nil && !errors.Is(err, grid.ErrRegionNotFound) {
			rt.log.Printf("%s: deregister: %v", s.Name(), err)
		}
	}
}

// regionUp is the receiving side of neighbour.hello.
func (rt *runtime) regionUp(_ context.Context, target uuid.UUID, from grid.RegionData) bool {
	s, ok := rt.host.Scene(target)
	if !ok {
		return false
	}
	s.Events.TriggerRegionUp(from)
	return true
}

type enterParams struct {
	RegionID        uuid.UUID `json:"region_id"`
	AgentID         uuid.UUID `json:"agent_id"`
	SessionID       uuid.UUID `json:"session_id"`
	SecureSessionID uuid.UUID `json:"secure_session_id"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	Child           bool      `json:"child"`
}

type enterResult struct {
	Grant    caps.Grant `json:"grant"`
	Position [3]float64 `json:"position"`
}

type leaveParams struct {
	RegionID  uuid.UUID `json:"region_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	SessionID uuid.UUID `json:"session_id"`
}

// imParams carries the sender's session; the sender is Message.FromAgentID.
type imParams struct {
	RegionID  uuid.UUID            `json:"region_id"`
	SessionID uuid.UUID            `json:"session_id"`
	Message   scene.InstantMessage `json:"message"`
}

// damageParams is damage dealt by AgentID to TargetID. Self-inflicted damage
// (falls, drowning) names no killer.
type damageParams struct {
	RegionID  uuid.UUID `json:"region_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	SessionID uuid.UUID `json:"session_id"`
	TargetID  uuid.UUID `json:"target_id"`
	Amount    float64   `json:"amount"`
}

type damageResult struct {
	Dead bool `json:"dead"`
}

func (rt *runtime) registerRPC(s *jsonrpc.Server) {
	s.Handle(MethodAgentEnter, rt.handleEnter)
	s.Handle(MethodAgentLeave, rt.handleLeave)
	s.Handle(MethodAgentIM, rt.handleIM)
	s.Handle(MethodAgentDamage, rt.handleDamage)
}

// rootPresence resolves the hosted scene and checks that agent is root there
// under session.
func (rt *runtime) rootPresence(regionID, agentID, sessionID uuid.UUID) (*scene.Scene, scene.ScenePresence, error) {
	sc, ok := rt.host.Scene(regionID)
	if !ok {
		return nil, scene.ScenePresence{}, jsonrpc.Errorf(jsonrpc.CodeServer, "region %s is not hosted here", regionID)
	}
	sp, ok := sc.Presence(agentID)
	if !ok || sp.IsChild {
		return nil, scene.ScenePresence{}, jsonrpc.Errorf(jsonrpc.CodeServer, "agent %s is not a root agent in %s", agentID, sc.Name())
	}
	if sessionID == uuid.Nil || sp.SessionID != sessionID {
		return nil, scene.ScenePresence{}, jsonrpc.Errorf(jsonrpc.CodeServer, "session mismatch for agent %s", agentID)
	}
	return sc, sp, nil
}

func (rt *runtime) handleEnter(ctx context.Context, raw json.RawMessage) (any, error) {
	var p enterParams
	if err := jsonrpc.Params(raw, &p); err != nil {
		return nil, err
	}
	if p.AgentID == uuid.Nil || p.SessionID == uuid.Nil {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "agent_id and session_id are required")
	}
	sc, ok := rt.host.Scene(p.RegionID)
	if !ok {
		return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "region %s is not hosted here", p.RegionID)
	}
	allowed, msg := rt.auth.IsAuthorizedForRegion(ctx, auth.AuthorizationRequest{
		ID:         p.AgentID.String(),
		FirstName:  p.FirstName,
		SurName:    p.LastName,
		RegionName: sc.Name(),
		RegionID:   sc.ID().String(),
	})
	if !allowed {
		return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "%s", msg)
	}
	if !p.Child {
		if err := rt.presence.LoginAgent(ctx, p.AgentID, p.SessionID, p.SecureSessionID); err != nil {
			return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "presence: %v", err)
		}
	}
	if _, err := rt.inv.CreateUserInventory(ctx, p.AgentID); err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "inventory: %v", err)
	}
	g, err := rt.caps.Register(p.AgentID, p.SessionID, sc.ID())
	if err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "caps: %v", err)
	}
	name := p.FirstName + " " + p.LastName
	sp := sc.AddClient(rt.events.NewClient(p.AgentID, p.SessionID, name), p.Child)
	return enterResult{Grant: g, Position: sp.Position}, nil
}

func (rt *runtime) handleLeave(_ context.Context, raw json.RawMessage) (any, error) {
	var p leaveParams
	if err := jsonrpc.Params(raw, &p); err != nil {
		return nil, err
	}
	sc, ok := rt.host.Scene(p.RegionID)
	if !ok {
		return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "region %s is not hosted here", p.RegionID)
	}
	sp, ok := sc.Presence(p.AgentID)
	if !ok {
		return false, nil
	}
	if p.SessionID == uuid.Nil || sp.SessionID != p.SessionID {
		return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "session mismatch for agent %s", p.AgentID)
	}
	if err := sc.RemoveClient(p.AgentID); err != nil {
		return false, nil
	}
	return true, nil
}

func (rt *runtime) handleIM(_ context.Context, raw json.RawMessage) (any, error) {
	var p imParams
	if err := jsonrpc.Params(raw, &p); err != nil {
		return nil, err
	}
	sc, sp, err := rt.rootPresence(p.RegionID, p.Message.FromAgentID, p.SessionID)
	if err != nil {
		return nil, err
	}
	p.Message.FromAgentName = sp.Name
	p.Message.RegionID = sc.ID()
	sc.Events.TriggerInstantMessage(sp.Client, p.Message)
	return true, nil
}

func (rt *runtime) handleDamage(_ context.Context, raw json.RawMessage) (any, error) {
	var p damageParams
	if err := jsonrpc.Params(raw, &p); err != nil {
		return nil, err
	}
	if math.IsNaN(p.Amount) || math.IsInf(p.Amount, 0) || p.Amount <= 0 || p.Amount > scene.MaxHealth {
		return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "amount must be in (0, %v]", scene.MaxHealth)
	}
	sc, _, err := rt.rootPresence(p.RegionID, p.AgentID, p.SessionID)
	if err != nil {
		return nil, err
	}
	killer := p.AgentID
	if p.TargetID == p.AgentID {
		killer = uuid.Nil
	}
	dead, err := sc.ApplyDamage(p.TargetID, p.Amount, killer)
	if err != nil {
		return nil, jsonrpc.Errorf(jsonrpc.CodeServer, "damage: %v", err)
	}
	return damageResult{Dead: dead}, nil
}
