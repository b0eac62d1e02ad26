package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
)

var (
	ErrFolderNotFound = errors.New("inventory folder not found")
	ErrItemNotFound   = errors.New("inventory item not found")
	ErrNotOwner       = errors.New("inventory owner mismatch")
)

// FolderType marks system folders; user folders are FolderNone.
type FolderType int8

const (
	FolderNone          FolderType = -1
	FolderTexture       FolderType = 0
	FolderSound         FolderType = 1
	FolderCallingCard   FolderType = 2
	FolderLandmark      FolderType = 3
	FolderClothing      FolderType = 5
	FolderObject        FolderType = 6
	FolderNotecard      FolderType = 7
	FolderRoot          FolderType = 8
	FolderLSLText       FolderType = 10
	FolderBodypart      FolderType = 13
	FolderTrash         FolderType = 14
	FolderSnapshot      FolderType = 15
	FolderLostAndFound  FolderType = 16
	FolderAnimation     FolderType = 20
	FolderGesture       FolderType = 21
	FolderCurrentOutfit FolderType = 46
	FolderMyOutfits     FolderType = 48
)

var standardFolders = []struct {
	typ  FolderType
	name string
}{
	{FolderAnimation, "Animations"},
	{FolderBodypart, "Body Parts"},
	{FolderCallingCard, "Calling Cards"},
	{FolderClothing, "Clothing"},
	{FolderCurrentOutfit, "Current Outfit"},
	{FolderGesture, "Gestures"},
	{FolderLandmark, "Landmarks"},
	{FolderLostAndFound, "Lost And Found"},
	{FolderMyOutfits, "My Outfits"},
	{FolderNotecard, "Notecards"},
	{FolderObject, "Objects"},
	{FolderSnapshot, "Photo Album"},
	{FolderLSLText, "Scripts"},
	{FolderSound, "Sounds"},
	{FolderTexture, "Textures"},
	{FolderTrash, "Trash"},
}

type Folder struct {
	ID       uuid.UUID  `json:"folder_id"`
	ParentID uuid.UUID  `json:"parent_id"`
	OwnerID  uuid.UUID  `json:"owner_id"`
	Name     string     `json:"name"`
	Type     FolderType `json:"type_default"`
	Version  int        `json:"version"`
}

type Permissions struct {
	Base     uint32 `json:"base_mask"`
	Owner    uint32 `json:"owner_mask"`
	Group    uint32 `json:"group_mask"`
	Everyone uint32 `json:"everyone_mask"`
	Next     uint32 `json:"next_owner_mask"`
}

const PermAll uint32 = 0x7fffffff

type Item struct {
	ID          uuid.UUID        `json:"item_id"`
	AssetID     uuid.UUID        `json:"asset_id"`
	FolderID    uuid.UUID        `json:"parent_id"`
	OwnerID     uuid.UUID        `json:"owner_id"`
	CreatorID   uuid.UUID        `json:"creator_id"`
	Name        string           `json:"name"`
	Description string           `json:"desc"`
	AssetType   assets.AssetType `json:"type"`
	InvType     int8             `json:"inv_type"`
	Flags       uint32           `json:"flags"`
	CreatedAt   int64            `json:"created_at"`
	Permissions Permissions      `json:"permissions"`
}

// Content is one folder's direct children.
type Content struct {
	Folder  Folder
	Folders []Folder
	Items   []Item
}

// Store is the in-process inventory service.
type Store struct {
	now func() time.Time

	mu      sync.RWMutex
	folders map[uuid.UUID]Folder
	items   map[uuid.UUID]Item
	roots   map[uuid.UUID]uuid.UUID
}

func NewStore() *Store {
	return &Store{
		now:     time.Now,
		folders: map[uuid.UUID]Folder{},
		items:   map[uuid.UUID]Item{},
		roots:   map[uuid.UUID]uuid.UUID{},
	}
}

// CreateUserInventory creates the root and system folders for owner.
// It is a no-op returning the existing root when one exists.
func (s *Store) CreateUserInventory(_ context.Context, owner uuid.UUID) (Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rootID, ok := s.roots[owner]; ok {
		return s.folders[rootID], nil
	}
	root := Folder{ID: uuid.New(), OwnerID: owner, Name: "My Inventory", Type: FolderRoot, Version: 1}
	s.folders[root.ID] = root
	s.roots[owner] = root.ID
	for _, sf := range standardFolders {
		f := Folder{ID: uuid.New(), ParentID: root.ID, OwnerID: owner, Name: sf.name, Type: sf.typ, Version: 1}
		s.folders[f.ID] = f
	}
	return root, nil
}

func (s *Store) GetRootFolder(_ context.Context, owner uuid.UUID) (Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.roots[owner]
	if !ok {
		return Folder{}, ErrFolderNotFound
	}
	return s.folders[id], nil
}

// GetFolderForType returns owner's system folder of type t.
func (s *Store) GetFolderForType(_ context.Context, owner uuid.UUID, t FolderType) (Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rootID, ok := s.roots[owner]
	if !ok {
		return Folder{}, ErrFolderNotFound
	}
	for _, f := range s.folders {
		if f.OwnerID == owner && f.ParentID == rootID && f.Type == t {
			return f, nil
		}
	}
	return Folder{}, ErrFolderNotFound
}

func (s *Store) AddFolder(_ context.Context, f Folder) (Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.folders[f.ParentID]
	if !ok {
		return Folder{}, ErrFolderNotFound
	}
	if parent.OwnerID != f.OwnerID {
		return Folder{}, ErrNotOwner
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Version == 0 {
		f.Version = 1
	}
	s.folders[f.ID] = f
	parent.Version++
	s.folders[parent.ID] = parent
	return f, nil
}

func (s *Store) AddItem(_ context.Context, it Item) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.folders[it.FolderID]
	if !ok {
		return Item{}, ErrFolderNotFound
	}
	if folder.OwnerID != it.OwnerID {
		return Item{}, ErrNotOwner
	}
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	if it.CreatedAt == 0 {
		it.CreatedAt = s.now().Unix()
	}
	if it.Permissions == (Permissions{}) {
		it.Permissions = Permissions{Base: PermAll, Owner: PermAll, Next: PermAll}
	}
	s.items[it.ID] = it
	folder.Version++
	s.folders[folder.ID] = folder
	return it, nil
}

func (s *Store) GetItem(_ context.Context, id uuid.UUID) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

func (s *Store) GetFolder(_ context.Context, id uuid.UUID) (Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[id]
	if !ok {
		return Folder{}, ErrFolderNotFound
	}
	return f, nil
}

// GetFolderContent lists the direct children of folderID sorted by name.
func (s *Store) GetFolderContent(_ context.Context, owner, folderID uuid.UUID) (Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[folderID]
	if !ok {
		return Content{}, ErrFolderNotFound
	}
	if f.OwnerID != owner {
		return Content{}, ErrNotOwner
	}
	c := Content{Folder: f}
	for _, sub := range s.folders {
		if sub.ParentID == folderID && sub.ID != folderID {
			c.Folders = append(c.Folders, sub)
		}
	}
	for _, it := range s.items {
		if it.FolderID == folderID {
			c.Items = append(c.Items, it)
		}
	}
	sort.Slice(c.Folders, func(i, j int) bool { return c.Folders[i].Name < c.Folders[j].Name })
	sort.Slice(c.Items, func(i, j int) bool { return c.Items[i].Name < c.Items[j].Name })
	return c, nil
}
