package scene

import "regionsim.ai/internal/config"

// RegionModule is a feature attached to every hosted scene. The host calls
// Initialise once, then AddRegion and RegionLoaded per scene, RemoveRegion
// when a scene goes away and Close at shutdown.
type RegionModule interface {
	Name() string
	Initialise(cfg config.Config) error
	AddRegion(s *Scene)
	RegionLoaded(s *Scene)
	RemoveRegion(s *Scene)
	Close()
}
