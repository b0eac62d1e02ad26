// Package presencedetector keeps the presence service in step with the
// agents that are root in hosted scenes.
package presencedetector

import (
	"context"
	"log"
	"time"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/presence"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/modules"
)

const Name = "presencedetector"

const callTimeout = 10 * time.Second

type Module struct {
	presence presence.Service
	log      *log.Logger
	enabled  bool
}

var _ scene.RegionModule = (*Module)(nil)

func New(d modules.Deps) *Module {
	return &Module{presence: d.Presence, log: d.ModuleLogger(Name)}
}

func (m *Module) Name() string { return Name }

func (m *Module) Initialise(cfg config.Config) error {
	m.enabled = cfg.ModuleEnabled(Name) && m.presence != nil
	return nil
}

func (m *Module) AddRegion(s *scene.Scene) {
	if !m.enabled {
		return
	}
	s.Events.OnMakeRootAgent(func(sp scene.ScenePresence) {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := m.presence.ReportAgent(ctx, sp.SessionID, s.ID()); err != nil {
			m.log.Printf("report %s in %s: %v", sp.Name, s.Name(), err)
		}
	})
	s.Events.OnClientClosed(func(sp scene.ScenePresence, s *scene.Scene) {
		if sp.IsChild {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := m.presence.LogoutAgent(ctx, sp.SessionID); err != nil {
			m.log.Printf("logout %s from %s: %v", sp.Name, s.Name(), err)
		}
	})
}

func (m *Module) RegionLoaded(*scene.Scene) {}

func (m *Module) RemoveRegion(s *scene.Scene) {
	if !m.enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := m.presence.LogoutRegionAgents(ctx, s.ID()); err != nil {
		m.log.Printf("logout agents of %s: %v", s.Name(), err)
	}
}

func (m *Module) Close() {}
