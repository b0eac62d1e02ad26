package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("presence session not found")

type PresenceInfo struct {
	UserID          uuid.UUID `json:"user_id"`
	RegionID        uuid.UUID `json:"region_id"`
	SessionID       uuid.UUID `json:"session_id"`
	SecureSessionID uuid.UUID `json:"secure_session_id"`
	LastSeen        time.Time `json:"last_seen"`
}

type Service interface {
	LoginAgent(ctx context.Context, userID, sessionID, secureSessionID uuid.UUID) error
	LogoutAgent(ctx context.Context, sessionID uuid.UUID) error
	LogoutRegionAgents(ctx context.Context, regionID uuid.UUID) error
	ReportAgent(ctx context.Context, sessionID, regionID uuid.UUID) error
	GetAgent(ctx context.Context, sessionID uuid.UUID) (PresenceInfo, error)
	GetAgents(ctx context.Context, userIDs []uuid.UUID) ([]PresenceInfo, error)
	GetAgentByUser(ctx context.Context, userID uuid.UUID) (PresenceInfo, error)
}

// Table is the in-process presence service.
type Table struct {
	now func() time.Time

	mu        sync.RWMutex
	bySession map[uuid.UUID]PresenceInfo
}

var _ Service = (*Table)(nil)

func NewTable() *Table {
	return &Table{now: time.Now, bySession: map[uuid.UUID]PresenceInfo{}}
}

func (t *Table) LoginAgent(_ context.Context, userID, sessionID, secureSessionID uuid.UUID) error {
	if userID == uuid.Nil || sessionID == uuid.Nil {
		return errors.New("login requires user and session ids")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bySession[sessionID] = PresenceInfo{
		UserID:          userID,
		SessionID:       sessionID,
		SecureSessionID: secureSessionID,
		LastSeen:        t.now().UTC(),
	}
	return nil
}

func (t *Table) LogoutAgent(_ context.Context, sessionID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.bySession[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(t.bySession, sessionID)
	return nil
}

func (t *Table) LogoutRegionAgents(_ context.Context, regionID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, p := range t.bySession {
		if p.RegionID == regionID {
			delete(t.bySession, k)
		}
	}
	return nil
}

func (t *Table) ReportAgent(_ context.Context, sessionID, regionID uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.bySession[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	p.RegionID = regionID
	p.LastSeen = t.now().UTC()
	t.bySession[sessionID] = p
	return nil
}

func (t *Table) GetAgent(_ context.Context, sessionID uuid.UUID) (PresenceInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.bySession[sessionID]
	if !ok {
		return PresenceInfo{}, ErrSessionNotFound
	}
	return p, nil
}

func (t *Table) GetAgents(_ context.Context, userIDs []uuid.UUID) ([]PresenceInfo, error) {
	want := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		want[id] = true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := []PresenceInfo{}
	for _, p := range t.bySession {
		if want[p.UserID] {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetAgentByUser returns the most recently seen session of userID that is in a region.
func (t *Table) GetAgentByUser(_ context.Context, userID uuid.UUID) (PresenceInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var best PresenceInfo
	found := false
	for _, p := range t.bySession {
		if p.UserID != userID || p.RegionID == uuid.Nil {
			continue
		}
		if !found || p.LastSeen.After(best.LastSeen) {
			best, found = p, true
		}
	}
	if !found {
		return PresenceInfo{}, ErrSessionNotFound
	}
	return best, nil
}
