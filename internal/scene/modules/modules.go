// Package modules instantiates region modules and attaches them to scenes.
package modules

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
	"regionsim.ai/internal/config"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/persistence/journal"
	"regionsim.ai/internal/presence"
	"regionsim.ai/internal/protocol/jsonrpc"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/users"
)

// Deps are the services a module may use. Any field may be nil.
type Deps struct {
	Logger     *log.Logger
	Grid       grid.Service
	Presence   presence.Service
	Assets     assets.Service
	Users      users.Service
	RegionRPC  *jsonrpc.Server
	HTTPClient *http.Client
	Journal    *journal.Journal
}

// ModuleLogger derives a logger prefixed with the module name.
func (d Deps) ModuleLogger(name string) *log.Logger {
	if d.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return log.New(d.Logger.Writer(), "["+name+"] ", d.Logger.Flags())
}

type Factory func(d Deps) scene.RegionModule

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory under a case-insensitive name, replacing any previous one.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(strings.TrimSpace(name))] = f
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// Host owns the loaded modules and the scenes they are attached to.
type Host struct {
	log     *log.Logger
	modules []scene.RegionModule

	mu     sync.RWMutex
	scenes map[uuid.UUID]*scene.Scene
}

// NewHost instantiates and initialises every module enabled in cfg, in the
// order listed. An enabled name with no registered factory is an error.
func NewHost(cfg config.Config, reg *Registry, deps Deps) (*Host, error) {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	h := &Host{log: logger, scenes: map[uuid.UUID]*scene.Scene{}}
	for _, name := range cfg.Modules.Enabled {
		f, ok := reg.lookup(name)
		if !ok {
			h.Close()
			return nil, fmt.Errorf("module %q is enabled but not registered", name)
		}
		m := f(deps)
		if err := m.Initialise(cfg); err != nil {
			h.Close()
			return nil, fmt.Errorf("module %s: %w", m.Name(), err)
		}
		h.modules = append(h.modules, m)
	}
	return h, nil
}

func (h *Host) Modules() []scene.RegionModule {
	return append([]scene.RegionModule(nil), h.modules...)
}

// AddScene attaches every module to s; RegionLoaded runs after all AddRegion calls.
func (h *Host) AddScene(s *scene.Scene) error {
	h.mu.Lock()
	if _, dup := h.scenes[s.ID()]; dup {
		h.mu.Unlock()
		return fmt.Errorf("scene %s already hosted", s.ID())
	}
	h.scenes[s.ID()] = s
	h.mu.Unlock()

	for _, m := range h.modules {
		m.AddRegion(s)
	}
	for _, m := range h.modules {
		m.RegionLoaded(s)
	}
	h.log.Printf("scene %s up with %d modules", s.Name(), len(h.modules))
	return nil
}

func (h *Host) RemoveScene(id uuid.UUID) {
	h.mu.Lock()
	s, ok := h.scenes[id]
	delete(h.scenes, id)
	h.mu.Unlock()
	if !ok {
		return
	}
	for _, m := range h.modules {
		m.RemoveRegion(s)
	}
}

func (h *Host) Scene(id uuid.UUID) (*scene.Scene, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.scenes[id]
	return s, ok
}

// Scenes returns the hosted scenes ordered by region name.
func (h *Host) Scenes() []*scene.Scene {
	h.mu.RLock()
	out := make([]*scene.Scene, 0, len(h.scenes))
	for _, s := range h.scenes {
		out = append(out, s)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// FindAgent returns the scene where agentID is a root agent.
func (h *Host) FindAgent(agentID uuid.UUID) (*scene.Scene, scene.ScenePresence, bool) {
	for _, s := range h.Scenes() {
		if sp, ok := s.Presence(agentID); ok && !sp.IsChild {
			return s, sp, true
		}
	}
	return nil, scene.ScenePresence{}, false
}

// Close detaches all scenes and closes modules in reverse load order.
func (h *Host) Close() {
	for _, s := range h.Scenes() {
		h.RemoveScene(s.ID())
	}
	for i := len(h.modules) - 1; i >= 0; i-- {
		h.modules[i].Close()
	}
}
