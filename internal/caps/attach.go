package caps

import (
	"regionsim.ai/internal/scene"
)

const SeedEvent = "SeedCapability"

// Attach grants capabilities to every client joining s and revokes them when
// the client leaves.
func (r *Registry) Attach(s *scene.Scene) {
	region := s.ID()
	s.Events.OnNewClient(func(c scene.Client) {
		g, err := r.Register(c.AgentID(), c.SessionID(), region)
		if err != nil {
			r.log.Printf("grant %s: %v", c.AgentID(), err)
			return
		}
		c.SendEvent(SeedEvent, g)
	})
	s.Events.OnClientClosed(func(sp scene.ScenePresence, _ *scene.Scene) {
		r.mu.RLock()
		seed, ok := r.sessions[sp.AgentID]
		owned := ok && r.seeds[seed].region == region && r.seeds[seed].session == sp.SessionID
		r.mu.RUnlock()
		if owned {
			r.Revoke(sp.AgentID)
		}
	})
}
