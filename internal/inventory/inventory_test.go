package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
)

func TestStore_UserInventory(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	owner := uuid.New()

	root, err := s.CreateUserInventory(ctx, owner)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := s.CreateUserInventory(ctx, owner)
	if again.ID != root.ID {
		t.Fatalf("second create made a new root")
	}

	c, err := s.GetFolderContent(ctx, owner, root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Folders) != len(standardFolders) {
		t.Fatalf("system folders: %d", len(c.Folders))
	}

	notes, err := s.GetFolderForType(ctx, owner, FolderNotecard)
	if err != nil || notes.Name != "Notecards" {
		t.Fatalf("notecards folder: %+v %v", notes, err)
	}
	it, err := s.AddItem(ctx, Item{FolderID: notes.ID, OwnerID: owner, Name: "Readme", AssetType: assets.TypeNotecard, AssetID: uuid.New()})
	if err != nil {
		t.Fatal(err)
	}
	if it.Permissions.Owner != PermAll {
		t.Fatalf("default perms: %+v", it.Permissions)
	}
	after, _ := s.GetFolder(ctx, notes.ID)
	if after.Version != notes.Version+1 {
		t.Fatalf("version not bumped: %d -> %d", notes.Version, after.Version)
	}

	if _, err := s.AddItem(ctx, Item{FolderID: notes.ID, OwnerID: uuid.New(), Name: "x"}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign owner: %v", err)
	}
	if _, err := s.GetFolderContent(ctx, uuid.New(), notes.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign read: %v", err)
	}
	if _, err := s.AddFolder(ctx, Folder{ParentID: uuid.New(), OwnerID: owner, Name: "x"}); !errors.Is(err, ErrFolderNotFound) {
		t.Fatalf("missing parent: %v", err)
	}
}
