package commands

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/persistence/griddb"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRoot(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func openDB(t *testing.T, dir string) *griddb.DB {
	t.Helper()
	db, err := griddb.Open(filepath.Join(dir, "grid.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	return db
}

func TestUsersCreate(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, "--data", dir, "users", "create", "Ann", "Example", "--level", "200")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(out, "created Ann Example ") {
		t.Fatalf("output: %q", out)
	}
	if _, err := run(t, "--data", dir, "users", "create", "ann", "example"); err == nil {
		t.Fatalf("expected duplicate error")
	}

	db := openDB(t, dir)
	defer db.Close()
	acc, err := db.Users().GetUserAccountByName(context.Background(), uuid.Nil, "Ann", "Example")
	if err != nil || acc.UserLevel != 200 {
		t.Fatalf("account: %+v %v", acc, err)
	}
}

func TestRegionsList(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir)
	r := grid.RegionData{ID: uuid.New(), Name: "Plaza", LocX: 256000, LocY: 256000, SizeX: 256, SizeY: 256,
		ServerURI: "http://host:9000", Flags: grid.FlagOnline | grid.FlagDefaultRegion}
	if err := db.Grid().Put(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	db.Close()

	out, err := run(t, "--data", dir, "regions", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Plaza") || !strings.Contains(out, "1000,1000") || !strings.Contains(out, "online,default") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestAssetsSaveLoad(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	db := openDB(t, src)
	var ids []uuid.UUID
	for _, body := range []string{"first", "second"} {
		id, err := db.Assets().Store(ctx, &assets.Asset{
			Metadata: assets.AssetMetadata{Name: body, Type: assets.TypeNotecard},
			Data:     []byte(body),
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	db.Close()

	file := filepath.Join(t.TempDir(), "assets.tar.zst")
	if _, err := run(t, "--data", src, "assets", "save", file); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := run(t, "--data", src, "assets", "save", file+".one.tar", "not-an-id"); err == nil {
		t.Fatalf("expected bad id error")
	}

	dst := t.TempDir()
	out, err := run(t, "--data", dst, "assets", "load", file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.HasPrefix(out, "loaded 2 assets") {
		t.Fatalf("output: %q", out)
	}
	db = openDB(t, dst)
	defer db.Close()
	exist, err := db.Assets().AssetsExist(ctx, ids)
	if err != nil || !exist[0] || !exist[1] {
		t.Fatalf("exist: %v %v", exist, err)
	}
}
