package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/persistence/griddb"
)

func TestRun_FailureStillShutsDownRegions(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	region := uuid.New()
	cfg := fmt.Sprintf(`grid:
  addr: %q
  data_dir: %q
  public_uri: http://127.0.0.1:1
services:
  caps_secret: secret
modules:
  enabled: []
regions:
  - id: %s
    name: Harbour
    loc_x: 256000
    loc_y: 256000
    persistent: true
`, busy.Addr().String(), data, region)
	path := filepath.Join(dir, "grid.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	err = run(path, "", "", log.New(io.Discard, "", 0))
	if err == nil || !strings.Contains(err.Error(), "http server") {
		t.Fatalf("expected listen failure, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(data, "regions", region.String(), "terrain.r32")); err != nil {
		t.Fatalf("terrain not saved on the way out: %v", err)
	}
	db, err := griddb.Open(filepath.Join(data, "grid.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	r, err := db.Grid().Get(context.Background(), region)
	if err != nil {
		t.Fatal(err)
	}
	if r.Online() || !r.Flags.Has(grid.FlagPersistent) {
		t.Fatalf("region left online: %+v", r)
	}
}

func TestRun_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.yaml")
	if err := os.WriteFile(path, []byte("grid: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(path, "", "", log.New(io.Discard, "", 0)); err == nil || !strings.Contains(err.Error(), "load config") {
		t.Fatalf("expected config error, got %v", err)
	}
}
