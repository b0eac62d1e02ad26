package griddb

import (
	"bytes"
	"context"
	"errors"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/users"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "grid.sqlite"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_MigratesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.sqlite")
	db, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	v, dirty, err := db.Version()
	if err != nil || dirty || v != 1 {
		t.Fatalf("version=%d dirty=%v err=%v", v, dirty, err)
	}
	_ = db.Close()

	db, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = db.Close()
}

func TestRegionStore(t *testing.T) {
	ctx := context.Background()
	s := openTest(t).Grid()
	r := grid.RegionData{
		ID: uuid.New(), Name: "Plaza", LocX: 256000, LocY: 256000, SizeX: 256, SizeY: 256,
		ServerURI: "http://127.0.0.1:9000", Flags: grid.FlagPersistent | grid.FlagOnline, OwnerID: uuid.New(),
	}
	if err := s.Put(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(r, got); diff != "" {
		t.Fatalf("region mismatch (-want +got):\n%s", diff)
	}
	r.Name = "Plaza Two"
	if err := s.Put(ctx, r); err != nil {
		t.Fatal(err)
	}
	list, _ := s.List(ctx, uuid.Nil)
	if len(list) != 1 || list[0].Name != "Plaza Two" {
		t.Fatalf("list: %+v", list)
	}
	if err := s.Delete(ctx, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, r.ID); !errors.Is(err, grid.ErrRegionNotFound) {
		t.Fatalf("after delete: %v", err)
	}
	if err := s.Delete(ctx, r.ID); !errors.Is(err, grid.ErrRegionNotFound) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestRegionStore_BacksRegistry(t *testing.T) {
	ctx := context.Background()
	reg := grid.NewRegistry(openTest(t).Grid(), nil, nil)
	a := grid.RegionData{ID: uuid.New(), Name: "A", LocX: 256000, LocY: 256000, SizeX: 256, SizeY: 256}
	b := grid.RegionData{ID: uuid.New(), Name: "B", LocX: 256256, LocY: 256000, SizeX: 256, SizeY: 256}
	for _, r := range []grid.RegionData{a, b} {
		if err := reg.RegisterRegion(ctx, r); err != nil {
			t.Fatalf("register %s: %v", r.Name, err)
		}
	}
	n, err := reg.GetNeighbours(ctx, uuid.Nil, a.ID)
	if err != nil || len(n) != 1 || n[0].ID != b.ID {
		t.Fatalf("neighbours: %+v %v", n, err)
	}
}

func TestUserStore(t *testing.T) {
	ctx := context.Background()
	s := openTest(t).Users()
	acc := users.UserAccount{PrincipalID: uuid.New(), FirstName: "Ada", LastName: "Lovelace", UserLevel: 200}
	if err := s.StoreUserAccount(ctx, acc); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetUserAccountByName(ctx, uuid.Nil, "ada", "LOVELACE")
	if err != nil {
		t.Fatal(err)
	}
	if got.PrincipalID != acc.PrincipalID || got.UserLevel != 200 || got.Created == 0 {
		t.Fatalf("by name: %+v", got)
	}
	if _, err := s.GetUserAccount(ctx, uuid.Nil, uuid.New()); !errors.Is(err, users.ErrNotFound) {
		t.Fatalf("missing: %v", err)
	}
	if _, err := s.GetUserAccount(ctx, uuid.New(), acc.PrincipalID); !errors.Is(err, users.ErrNotFound) {
		t.Fatalf("other scope: %v", err)
	}
}

func TestAssetStore(t *testing.T) {
	ctx := context.Background()
	s := openTest(t).Assets()
	a := &assets.Asset{
		Metadata: assets.AssetMetadata{Name: "note", Type: assets.TypeNotecard, Flags: assets.FlagRewritable},
		Data:     []byte("hello"),
	}
	id, err := s.Store(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "hello" || got.Metadata.ContentType != assets.TypeNotecard.ContentType() {
		t.Fatalf("get: %+v", got)
	}
	if !got.Metadata.CreatedAt.Equal(a.Metadata.CreatedAt) || got.Metadata.Flags != assets.FlagRewritable {
		t.Fatalf("metadata: %+v want %+v", got.Metadata, a.Metadata)
	}
	exist, err := s.AssetsExist(ctx, []uuid.UUID{uuid.New(), id})
	if err != nil || !cmp.Equal(exist, []bool{false, true}) {
		t.Fatalf("exist: %v %v", exist, err)
	}
	if ids, err := s.IDs(ctx); err != nil || !cmp.Equal(ids, []uuid.UUID{id}) {
		t.Fatalf("ids: %v %v", ids, err)
	}
	if _, err := s.Store(ctx, &assets.Asset{}); !errors.Is(err, assets.ErrEmptyData) {
		t.Fatalf("empty: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetData(ctx, id); !errors.Is(err, assets.ErrNotFound) {
		t.Fatalf("after delete: %v", err)
	}
}

func TestOfflineIMStore(t *testing.T) {
	ctx := context.Background()
	s := openTest(t).OfflineIMs()
	to := uuid.New()
	for _, text := range []string{"one", "two"} {
		if err := s.SaveOffline(ctx, scene.InstantMessage{FromAgentID: uuid.New(), ToAgentID: to, Message: text}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.TakeOffline(ctx, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Message != "one" || got[1].Message != "two" {
		t.Fatalf("take: %+v", got)
	}
	again, _ := s.TakeOffline(ctx, to)
	if len(again) != 0 {
		t.Fatalf("messages not removed: %+v", again)
	}
}

func TestOfflineIMStore_KeepsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	db, err := Open(filepath.Join(t.TempDir(), "grid.sqlite"), log.New(&logs, "", 0))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s := db.OfflineIMs()
	to := uuid.New()

	if err := s.SaveOffline(ctx, scene.InstantMessage{ToAgentID: to, Message: "good"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.db.ExecContext(ctx, `INSERT INTO offline_ims(to_agent, saved_at, payload) VALUES(?,?,?)`, to.String(), 0, "{truncated"); err != nil {
		t.Fatal(err)
	}
	got, err := s.TakeOffline(ctx, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message != "good" {
		t.Fatalf("take: %+v", got)
	}
	if !strings.Contains(logs.String(), "undecodable") {
		t.Fatalf("bad row not logged: %q", logs.String())
	}
	var left int
	if err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_ims WHERE to_agent = ?`, to.String()).Scan(&left); err != nil {
		t.Fatal(err)
	}
	if left != 1 {
		t.Fatalf("rows left: %d", left)
	}
}
