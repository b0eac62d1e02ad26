package scene

import (
	"io"
	"log"
	"sync"

	"github.com/google/uuid"

	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/terrain"
)

type (
	NewClientHandler              func(c Client)
	ClientClosedHandler           func(sp ScenePresence, s *Scene)
	PresenceHandler               func(sp ScenePresence)
	InstantMessageHandler         func(from Client, msg InstantMessage)
	IncomingInstantMessageHandler func(msg InstantMessage)
	AvatarKilledHandler           func(victim ScenePresence, killerID uuid.UUID)
	RegionUpHandler               func(r grid.RegionData)
	TerrainModifiedHandler        func(agentID uuid.UUID, action terrain.Action)
)

// EventManager fans scene events out to subscribed handlers. Every handler
// runs on its own goroutine, at most workers at a time; a panicking handler
// is logged and does not affect the others.
type EventManager struct {
	log *log.Logger
	sem chan struct{}
	wg  sync.WaitGroup

	mu              sync.RWMutex
	newClient       []NewClientHandler
	clientClosed    []ClientClosedHandler
	makeRoot        []PresenceHandler
	makeChild       []PresenceHandler
	instantMessage  []InstantMessageHandler
	incomingIM      []IncomingInstantMessageHandler
	avatarKilled    []AvatarKilledHandler
	regionUp        []RegionUpHandler
	terrainModified []TerrainModifiedHandler
}

func NewEventManager(workers int, logger *log.Logger) *EventManager {
	if workers <= 0 {
		workers = 8
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &EventManager{log: logger, sem: make(chan struct{}, workers)}
}

func (e *EventManager) dispatch(event string, fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.sem <- struct{}{}
		defer func() { <-e.sem }()
		defer func() {
			if r := recover(); r != nil {
				e.log.Printf("%s handler panic: %v", event, r)
			}
		}()
		fn()
	}()
}

// Wait blocks until every dispatched handler, including ones dispatched by
// handlers, has returned.
func (e *EventManager) Wait() { e.wg.Wait() }

func (e *EventManager) OnNewClient(h NewClientHandler) {
	e.mu.Lock()
	e.newClient = append(e.newClient, h)
	e.mu.Unlock()
}

func (e *EventManager) OnClientClosed(h ClientClosedHandler) {
	e.mu.Lock()
	e.clientClosed = append(e.clientClosed, h)
	e.mu.Unlock()
}

func (e *EventManager) OnMakeRootAgent(h PresenceHandler) {
	e.mu.Lock()
	e.makeRoot = append(e.makeRoot, h)
	e.mu.Unlock()
}

func (e *EventManager) OnMakeChildAgent(h PresenceHandler) {
	e.mu.Lock()
	e.makeChild = append(e.makeChild, h)
	e.mu.Unlock()
}

func (e *EventManager) OnInstantMessage(h InstantMessageHandler) {
	e.mu.Lock()
	e.instantMessage = append(e.instantMessage, h)
	e.mu.Unlock()
}

func (e *EventManager) OnIncomingInstantMessage(h IncomingInstantMessageHandler) {
	e.mu.Lock()
	e.incomingIM = append(e.incomingIM, h)
	e.mu.Unlock()
}

func (e *EventManager) OnAvatarKilled(h AvatarKilledHandler) {
	e.mu.Lock()
	e.avatarKilled = append(e.avatarKilled, h)
	e.mu.Unlock()
}

func (e *EventManager) OnRegionUp(h RegionUpHandler) {
	e.mu.Lock()
	e.regionUp = append(e.regionUp, h)
	e.mu.Unlock()
}

func (e *EventManager) OnTerrainModified(h TerrainModifiedHandler) {
	e.mu.Lock()
	e.terrainModified = append(e.terrainModified, h)
	e.mu.Unlock()
}

func (e *EventManager) TriggerNewClient(c Client) {
	e.mu.RLock()
	hs := e.newClient
	e.mu.RUnlock()
	for _, h := range hs {
		h := h
		e.dispatch("new_client", func() { h(c) })
	}
}

func (e *EventManager) TriggerClientClosed(sp ScenePresence, s *Scene) {
	e.mu.RLock()
	hs := e.clientClosed
	e.mu.RUnlock()
	for _, h := range hs {
		h := h
		e.dispatch("client_closed", func() { h(sp, s) })
	}
}

func (e *EventManager) TriggerMakeRootAgent(sp ScenePresence) {
	e.mu.RLock()
	hs := e.makeRoot
	e.mu.RUnlock()
	for _, h := range hs {
		h := h
		e.dispatch("make_root_agent", func() { h(sp) })
	}
}

func (e *EventManager) TriggerMakeChildAgent(sp ScenePresence) {
	e.mu.RLock()
	hs := e.makeChild
	e.mu.RUnlock()
	for _, h := range hs {
		h := h
		e.dispatch("make_child_agent", func() { h(sp) })
	}
}

func (e *EventManager) TriggerInstantMessage(from Client, msg InstantMessage) {
	e.mu.RLock()
	hs := e.instantMessage
	e.mu.RUnlock()
	for _, h := range hs {
		h := h
		e.dispatch("instant_message", func() { h(from, msg) })
	}
}

func (e *EventManager) TriggerIncomingInstantMessage(msg InstantMessage) {
	e.mu.RLock()
	hs := e.incomingIM
	e.mu.RUnlock()
	for _, h := range hs {
		h := h
		e.dispatch("incoming_instant_message", func() { h(msg) })
	}
}

func (e *EventManager) TriggerAvatarKilled(victim ScenePresence, killerID uuid.UUID) {
	e.mu.RLock()
	hs := e.avatarKilled
	e.mu.RUnlock()
	for _, h := range hs {
		h := h
		e.dispatch("avatar_killed", func() { h(victim, killerID) })
	}
}

func (e *EventManager) TriggerRegionUp(r grid.RegionData) {
	e.mu.RLock()
	hs := e.regionUp
	e.mu.RUnlock()
	for _, h := range hs {
		h := h
		e.dispatch("region_up", func() { h(r) })
	}
}

func (e *EventManager) TriggerTerrainModified(agentID uuid.UUID, a terrain.Action) {
	e.mu.RLock()
	hs := e.terrainModified
	e.mu.RUnlock()
	for _, h := range hs {
		h := h
		e.dispatch("terrain_modified", func() { h(agentID, a) })
	}
}
