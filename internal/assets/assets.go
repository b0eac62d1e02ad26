package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("asset not found")
	ErrEmptyData   = errors.New("asset has no data")
	ErrUnavailable = errors.New("asset service unavailable")
	ErrProtected   = errors.New("asset is protected")
)

// Name and description limits applied on store.
const (
	MaxNameLen        = 64
	MaxDescriptionLen = 64
)

type AssetFlags int

const (
	FlagMaptile     AssetFlags = 1
	FlagRewritable  AssetFlags = 2
	FlagCollectable AssetFlags = 4
)

type AssetMetadata struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        AssetType  `json:"type"`
	ContentType string     `json:"content_type"`
	Local       bool       `json:"local"`
	Temporary   bool       `json:"temporary"`
	CreatorID   string     `json:"creator_id,omitempty"`
	Flags       AssetFlags `json:"flags"`
	CreatedAt   time.Time  `json:"created_at"`
	SHA256      string     `json:"sha256,omitempty"`
}

type Asset struct {
	Metadata AssetMetadata
	Data     []byte
}

// Service is the asset store seen by regions, handlers and the archiver.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetMetadata(ctx context.Context, id uuid.UUID) (*AssetMetadata, error)
	GetData(ctx context.Context, id uuid.UUID) ([]byte, error)
	Store(ctx context.Context, a *Asset) (uuid.UUID, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AssetsExist(ctx context.Context, ids []uuid.UUID) ([]bool, error)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Prepare validates a and fills derived metadata before it is stored.
func Prepare(a *Asset, now time.Time) error {
	if a == nil || len(a.Data) == 0 {
		return ErrEmptyData
	}
	m := &a.Metadata
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Name = truncate(m.Name, MaxNameLen)
	m.Description = truncate(m.Description, MaxDescriptionLen)
	if m.ContentType == "" {
		m.ContentType = m.Type.ContentType()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.UTC()
	}
	sum := sha256.Sum256(a.Data)
	m.SHA256 = hex.EncodeToString(sum[:])
	return nil
}

// MemoryStore keeps assets in process.
type MemoryStore struct {
	mu     sync.RWMutex
	assets map[uuid.UUID]Asset
}

var _ Service = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assets: map[uuid.UUID]Asset{}}
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := Asset{Metadata: a.Metadata, Data: append([]byte(nil), a.Data...)}
	return &cp, nil
}

func (m *MemoryStore) GetMetadata(ctx context.Context, id uuid.UUID) (*AssetMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	md := a.Metadata
	return &md, nil
}

func (m *MemoryStore) GetData(ctx context.Context, id uuid.UUID) ([]byte, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.Data, nil
}

func (m *MemoryStore) Store(_ context.Context, a *Asset) (uuid.UUID, error) {
	if err := Prepare(a, time.Now()); err != nil {
		return uuid.Nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[a.Metadata.ID] = Asset{Metadata: a.Metadata, Data: append([]byte(nil), a.Data...)}
	return a.Metadata.ID, nil
}

func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assets[id]; !ok {
		return ErrNotFound
	}
	delete(m.assets, id)
	return nil
}

func (m *MemoryStore) AssetsExist(_ context.Context, ids []uuid.UUID) ([]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]bool, len(ids))
	for i, id := range ids {
		_, out[i] = m.assets[id]
	}
	return out, nil
}
