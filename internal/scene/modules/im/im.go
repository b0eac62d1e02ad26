// Package im routes instant messages between agents: locally, across the
// grid to the region hosting the recipient, or into offline storage.
package im

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/persistence/journal"
	"regionsim.ai/internal/presence"
	"regionsim.ai/internal/protocol/jsonrpc"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/modules"
)

const (
	Name          = "im"
	MethodDeliver = "im.deliver"

	SavedReply         = "User is not logged in. Message saved."
	offlineLoadTimeout = 10 * time.Second
)

// OfflineStore holds messages for agents that are not logged in.
type OfflineStore interface {
	SaveOffline(ctx context.Context, msg scene.InstantMessage) error
	TakeOffline(ctx context.Context, agent uuid.UUID) ([]scene.InstantMessage, error)
}

type Outcome int

const (
	Dropped Outcome = iota
	DeliveredLocal
	DeliveredRemote
	StoredOffline
)

func (o Outcome) String() string {
	switch o {
	case DeliveredLocal:
		return "local"
	case DeliveredRemote:
		return "remote"
	case StoredOffline:
		return "offline"
	default:
		return "dropped"
	}
}

type Module struct {
	grid       grid.Service
	presence   presence.Service
	offline    OfflineStore
	rpc        *jsonrpc.Server
	httpClient *http.Client
	journal    *journal.Journal
	log        *log.Logger

	enabled bool

	mu     sync.RWMutex
	scenes map[uuid.UUID]*scene.Scene
}

var _ scene.RegionModule = (*Module)(nil)

func New(d modules.Deps, offline OfflineStore) *Module {
	httpClient := d.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Module{
		grid:       d.Grid,
		presence:   d.Presence,
		offline:    offline,
		rpc:        d.RegionRPC,
		httpClient: httpClient,
		journal:    d.Journal,
		log:        d.ModuleLogger(Name),
		scenes:     map[uuid.UUID]*scene.Scene{},
	}
}

func (m *Module) Name() string { return Name }

func (m *Module) Initialise(cfg config.Config) error {
	m.enabled = cfg.ModuleEnabled(Name)
	if !m.enabled {
		return nil
	}
	if m.rpc != nil {
		m.rpc.Handle(MethodDeliver, m.handleDeliver)
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

	s.Events.OnInstantMessage(func(from scene.Client, msg scene.InstantMessage) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if msg.RegionID == uuid.Nil {
			msg.RegionID = s.ID()
		}
		m.Route(ctx, s.Region.ScopeID, msg, from)
	})
	s.Events.OnMakeRootAgent(func(sp scene.ScenePresence) {
		ctx, cancel := context.WithTimeout(context.Background(), offlineLoadTimeout)
		defer cancel()
		m.deliverOffline(ctx, sp)
	})
}

func (m *Module) RegionLoaded(*scene.Scene) {}

func (m *Module) RemoveRegion(s *scene.Scene) {
	m.mu.Lock()
	delete(m.scenes, s.ID())
	m.mu.Unlock()
}

func (m *Module) Close() {}

func (m *Module) hosted() []*scene.Scene {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*scene.Scene, 0, len(m.scenes))
	for _, s := range m.scenes {
		out = append(out, s)
	}
	return out
}

func (m *Module) isHosted(id uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.scenes[id]
	return ok
}

// DeliverLocal hands msg to the recipient when it is a root agent in any
// hosted scene.
func (m *Module) DeliverLocal(msg scene.InstantMessage) bool {
	for _, s := range m.hosted() {
		if s.SendInstantMessage(msg) {
			s.Events.TriggerIncomingInstantMessage(msg)
			return true
		}
	}
	return false
}

// Route delivers msg locally, then through the grid, then into offline
// storage. from, when non-nil, receives the saved-message reply.
func (m *Module) Route(ctx context.Context, scope uuid.UUID, msg scene.InstantMessage, from scene.Client) Outcome {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().Unix()
	}
	out := m.route(ctx, scope, msg, from)
	_ = m.journal.Record("im.route", map[string]any{
		"from": msg.FromAgentID.String(), "to": msg.ToAgentID.String(), "dialog": msg.Dialog, "outcome": out.String(),
	})
	return out
}

func (m *Module) route(ctx context.Context, scope uuid.UUID, msg scene.InstantMessage, from scene.Client) Outcome {
	if m.DeliverLocal(msg) {
		return DeliveredLocal
	}
	if m.deliverRemote(ctx, scope, msg) {
		return DeliveredRemote
	}
	if !saveable(msg.Dialog) || m.offline == nil {
		m.log.Printf("dropping message from %s to %s: recipient unreachable", msg.FromAgentID, msg.ToAgentID)
		return Dropped
	}
	msg.Offline = true
	if err := m.offline.SaveOffline(ctx, msg); err != nil {
		m.log.Printf("save offline message for %s: %v", msg.ToAgentID, err)
		return Dropped
	}
	if from != nil && msg.Dialog == scene.DialogMessageFromAgent {
		from.SendInstantMessage(msg.Reply(SavedReply))
	}
	return StoredOffline
}

func saveable(dialog uint8) bool {
	switch dialog {
	case scene.DialogMessageFromAgent, scene.DialogMessageBox, scene.DialogGroupInvitation,
		scene.DialogInventoryOffered, scene.DialogMessageFromObject:
		return true
	}
	return false
}

func (m *Module) deliverRemote(ctx context.Context, scope uuid.UUID, msg scene.InstantMessage) bool {
	if m.presence == nil || m.grid == nil {
		return false
	}
	infos, err := m.presence.GetAgents(ctx, []uuid.UUID{msg.ToAgentID})
	if err != nil {
		m.log.Printf("presence lookup for %s: %v", msg.ToAgentID, err)
		return false
	}
	for _, p := range infos {
		if p.RegionID == uuid.Nil || m.isHosted(p.RegionID) {
			continue
		}
		r, err := m.grid.GetRegionByID(ctx, scope, p.RegionID)
		if err != nil {
			m.log.Printf("region %s of %s: %v", p.RegionID, msg.ToAgentID, err)
			continue
		}
		c := jsonrpc.NewClient(r.RPCURI(), m.httpClient, m.log)
		var delivered bool
		if c.Call(ctx, MethodDeliver, msg, &delivered) && delivered {
			return true
		}
	}
	return false
}

func (m *Module) handleDeliver(_ context.Context, raw json.RawMessage) (any, error) {
	var msg scene.InstantMessage
	if err := jsonrpc.Params(raw, &msg); err != nil {
		return nil, err
	}
	return m.DeliverLocal(msg), nil
}

func (m *Module) deliverOffline(ctx context.Context, sp scene.ScenePresence) {
	if m.offline == nil || sp.Client == nil {
		return
	}
	msgs, err := m.offline.TakeOffline(ctx, sp.AgentID)
	if err != nil {
		m.log.Printf("load offline messages for %s: %v", sp.AgentID, err)
		return
	}
	for _, msg := range msgs {
		sp.Client.SendInstantMessage(msg)
	}
	if len(msgs) > 0 {
		m.log.Printf("delivered %d offline messages to %s", len(msgs), sp.Name)
	}
}

// MemoryOfflineStore is an OfflineStore kept in process.
type MemoryOfflineStore struct {
	mu   sync.Mutex
	msgs map[uuid.UUID][]scene.InstantMessage
}

func NewMemoryOfflineStore() *MemoryOfflineStore {
	return &MemoryOfflineStore{msgs: map[uuid.UUID][]scene.InstantMessage{}}
}

func (s *MemoryOfflineStore) SaveOffline(_ context.Context, msg scene.InstantMessage) error {
	s.mu.Lock()
	s.msgs[msg.ToAgentID] = append(s.msgs[msg.ToAgentID], msg)
	s.mu.Unlock()
	return nil
}

func (s *MemoryOfflineStore) TakeOffline(_ context.Context, agent uuid.UUID) ([]scene.InstantMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.msgs[agent]
	delete(s.msgs, agent)
	return out, nil
}
