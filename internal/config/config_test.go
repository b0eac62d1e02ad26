package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenNoPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Services.UserCacheTTL != 300*time.Second {
		t.Fatalf("user cache ttl: %v", cfg.Services.UserCacheTTL)
	}
	if !cfg.ModuleEnabled("IM") {
		t.Fatalf("expected im enabled by default")
	}
}

func TestLoad_RegionsNormalizedAndSorted(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "grid.yaml")
	raw := `
grid:
  data_dir: ` + dir + `
regions:
  - id: 8a1f0e0c-0000-4000-8000-000000000002
    name: " East "
    loc_x: 256000
    loc_y: 256000
  - id: 8a1f0e0c-0000-4000-8000-000000000001
    name: West
    loc_x: 255744
    loc_y: 256000
    size_y: 512
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Regions) != 2 {
		t.Fatalf("regions: %d", len(cfg.Regions))
	}
	if cfg.Regions[0].Name != "West" || cfg.Regions[1].Name != "East" {
		t.Fatalf("order: %+v", cfg.Regions)
	}
	if cfg.Regions[1].SizeX != 256 || cfg.Regions[1].SizeY != 256 {
		t.Fatalf("size default: %+v", cfg.Regions[1])
	}
	if cfg.Regions[0].SpawnPoint[1] != 256 {
		t.Fatalf("spawn default: %+v", cfg.Regions[0].SpawnPoint)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		missing bool
	}{
		{"no data dir", func(c *Config) { c.Grid.DataDir = "" }, true},
		{"region without id", func(c *Config) { c.Regions = []RegionSpec{{Name: "x", SizeX: 256, SizeY: 256}} }, true},
		{"unaligned region", func(c *Config) {
			c.Regions = []RegionSpec{{ID: "a", Name: "x", LocX: 100, SizeX: 256, SizeY: 256}}
		}, false},
		{"duplicate names", func(c *Config) {
			c.Regions = []RegionSpec{
				{ID: "a", Name: "x", SizeX: 256, SizeY: 256},
				{ID: "b", Name: "X", LocX: 256, SizeX: 256, SizeY: 256},
			}
		}, false},
		{"bad naming type", func(c *Config) { c.AutoBackup.NamingType = "Hourly" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := errors.Is(err, ErrMissingKey); got != tc.missing {
				t.Fatalf("errors.Is(ErrMissingKey)=%v want %v (%v)", got, tc.missing, err)
			}
		})
	}
}

func TestLoad_EnvOverlay(t *testing.T) {
	t.Setenv("REGIONSIM_CAPS_SECRET", "s3cret")
	t.Setenv("REGIONSIM_OBJECTSTORE_BUCKET", "backups")
	t.Setenv("REGIONSIM_OBJECTSTORE_ENDPOINT", "r2.example.com")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Services.CapsSecret != "s3cret" {
		t.Fatalf("caps secret: %q", cfg.Services.CapsSecret)
	}
	if !cfg.ObjectStore.Configured() {
		t.Fatalf("object store should be configured")
	}
}

func TestRequire(t *testing.T) {
	if err := Require("assets", "AssetServerURI", "  "); !errors.Is(err, ErrMissingKey) {
		t.Fatalf("expected missing key, got %v", err)
	}
	if err := Require("assets", "AssetServerURI", "http://x"); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}
