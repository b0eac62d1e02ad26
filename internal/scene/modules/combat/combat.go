// Package combat reacts to avatar deaths in damage-enabled regions.
package combat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/persistence/journal"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/modules"
	"regionsim.ai/internal/users"
)

const Name = "combat"

type Module struct {
	users   users.Service
	journal *journal.Journal
	log     *log.Logger
	enabled bool
}

var _ scene.RegionModule = (*Module)(nil)

func New(d modules.Deps) *Module {
	return &Module{users: d.Users, journal: d.Journal, log: d.ModuleLogger(Name)}
}

func (m *Module) Name() string { return Name }

func (m *Module) Initialise(cfg config.Config) error {
	m.enabled = cfg.ModuleEnabled(Name)
	return nil
}

func (m *Module) AddRegion(s *scene.Scene) {
	if !m.enabled {
		return
	}
	s.Events.OnAvatarKilled(func(victim scene.ScenePresence, killerID uuid.UUID) {
		m.onAvatarKilled(s, victim, killerID)
	})
}

func (m *Module) RegionLoaded(*scene.Scene) {}
func (m *Module) RemoveRegion(*scene.Scene) {}
func (m *Module) Close()                    {}

func (m *Module) onAvatarKilled(s *scene.Scene, victim scene.ScenePresence, killerID uuid.UUID) {
	deathMsg := "You died!"
	if killerID != uuid.Nil && killerID != victim.AgentID {
		killerName := m.nameOf(s, killerID)
		deathMsg = fmt.Sprintf("You have been killed by %s", killerName)
		if k, ok := s.Presence(killerID); ok && !k.IsChild && k.Client != nil {
			k.Client.SendAlert(fmt.Sprintf("You fragged %s!", victim.Name))
		}
	}
	if victim.Client != nil {
		victim.Client.SendAlert(deathMsg)
	}

	spawn := s.Settings.SpawnPoint
	_ = s.UpdatePresence(victim.AgentID, func(sp *scene.ScenePresence) {
		sp.Health = scene.MaxHealth
		sp.Position = spawn
	})
	m.log.Printf("%s: %s killed by %s", s.Name(), victim.Name, killerID)
	_ = m.journal.Record("combat.killed", map[string]any{
		"region": s.ID().String(), "victim": victim.AgentID.String(), "killer": killerID.String(),
	})
}

// nameOf resolves a killer that may have left the scene, or may be an object owner.
func (m *Module) nameOf(s *scene.Scene, id uuid.UUID) string {
	if sp, ok := s.Presence(id); ok {
		return sp.Name
	}
	if m.users != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if acc, err := m.users.GetUserAccount(ctx, s.Region.ScopeID, id); err == nil && acc != nil {
			return acc.Name()
		}
	}
	return "an unknown attacker"
}
