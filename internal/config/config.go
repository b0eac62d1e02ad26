package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrMissingKey is matched by every MissingKeyError.
var ErrMissingKey = errors.New("missing config key")

// MissingKeyError reports a required key that was absent or empty.
type MissingKeyError struct {
	Section string
	Key     string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("config: [%s] %s is required", e.Section, e.Key)
}

func (e *MissingKeyError) Is(target error) bool { return target == ErrMissingKey }

// Require returns a *MissingKeyError when value is blank.
func Require(section, key, value string) error {
	if strings.TrimSpace(value) == "" {
		return &MissingKeyError{Section: section, Key: key}
	}
	return nil
}

type Config struct {
	Grid          GridSection          `yaml:"grid"`
	Services      ServicesSection      `yaml:"services"`
	Authorization AuthorizationSection `yaml:"authorization"`
	Assets        AssetsSection        `yaml:"assets"`
	MapTiles      MapTilesSection      `yaml:"map_tiles"`
	Modules       ModulesSection       `yaml:"modules"`
	AutoBackup    AutoBackupSection    `yaml:"auto_backup"`
	ObjectStore   ObjectStoreSection   `yaml:"object_store"`
	Regions       []RegionSpec         `yaml:"regions"`
}

type GridSection struct {
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`
	// PublicURI is what other regions use to reach this host.
	PublicURI string `yaml:"public_uri"`
	ScopeID   string `yaml:"scope_id"`
}

type ServicesSection struct {
	// Empty URIs mean "use the in-process service".
	GridServerURI     string `yaml:"grid_server_uri"`
	PresenceServerURI string `yaml:"presence_server_uri"`
	AssetServerURI    string `yaml:"asset_server_uri"`

	CapsSecret string        `yaml:"caps_secret" env:"REGIONSIM_CAPS_SECRET"`
	CapsTTL    time.Duration `yaml:"caps_ttl"`

	UserCacheTTL time.Duration `yaml:"user_cache_ttl"`
}

type AuthorizationSection struct {
	RequireAccount bool                    `yaml:"require_account"`
	Regions        map[string]RegionAccess `yaml:"regions"`
}

type RegionAccess struct {
	MinUserLevel int      `yaml:"min_user_level"`
	AllowUsers   []string `yaml:"allow_users"`
	DenyUsers    []string `yaml:"deny_users"`
}

type AssetsSection struct {
	AllowDelete bool  `yaml:"allow_delete"`
	MaxBodySize int64 `yaml:"max_body_size"`
}

type MapTilesSection struct {
	Dir      string        `yaml:"dir"`
	LockWait time.Duration `yaml:"lock_wait"`
	// RefreshInterval is how often edited terrain is re-rendered into tiles.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type ModulesSection struct {
	Enabled []string `yaml:"enabled"`
	// DispatchWorkers bounds concurrent event callbacks per scene.
	DispatchWorkers int `yaml:"dispatch_workers"`
}

type AutoBackupSection struct {
	Enabled            bool                          `yaml:"enabled"`
	Interval           time.Duration                 `yaml:"interval"`
	BusyCheck          bool                          `yaml:"busy_check"`
	BusyAgentThreshold int                           `yaml:"busy_agent_threshold"`
	NamingType         string                        `yaml:"naming_type"`
	Dir                string                        `yaml:"dir"`
	KeepFilesForDays   int                           `yaml:"keep_files_for_days"`
	Upload             bool                          `yaml:"upload"`
	Regions            map[string]AutoBackupOverride `yaml:"regions"`
}

// AutoBackupOverride fields are pointers so that an explicit false/0 wins over defaults.
type AutoBackupOverride struct {
	Enabled            *bool          `yaml:"enabled"`
	Interval           *time.Duration `yaml:"interval"`
	BusyCheck          *bool          `yaml:"busy_check"`
	BusyAgentThreshold *int           `yaml:"busy_agent_threshold"`
	NamingType         *string        `yaml:"naming_type"`
	Dir                *string        `yaml:"dir"`
	KeepFilesForDays   *int           `yaml:"keep_files_for_days"`
	Upload             *bool          `yaml:"upload"`
}

type ObjectStoreSection struct {
	Endpoint        string `yaml:"endpoint" env:"REGIONSIM_OBJECTSTORE_ENDPOINT"`
	Bucket          string `yaml:"bucket" env:"REGIONSIM_OBJECTSTORE_BUCKET"`
	AccessKeyID     string `yaml:"access_key_id" env:"REGIONSIM_OBJECTSTORE_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"REGIONSIM_OBJECTSTORE_SECRET_ACCESS_KEY"`
	Prefix          string `yaml:"prefix"`
	Workers         int    `yaml:"workers"`
}

func (o ObjectStoreSection) Configured() bool {
	return strings.TrimSpace(o.Endpoint) != "" && strings.TrimSpace(o.Bucket) != ""
}

type RegionSpec struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	LocX        int        `yaml:"loc_x"`
	LocY        int        `yaml:"loc_y"`
	SizeX       int        `yaml:"size_x"`
	SizeY       int        `yaml:"size_y"`
	Persistent  bool       `yaml:"persistent"`
	Default     bool       `yaml:"default"`
	Fallback    bool       `yaml:"fallback"`
	AllowDamage bool       `yaml:"allow_damage"`
	SpawnPoint  [3]float64 `yaml:"spawn_point"`
	OwnerID     string     `yaml:"owner_id"`
	// TerrainTextures are up to four texture asset ids.
	TerrainTextures []string `yaml:"terrain_textures"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("grid.yaml: %w", err)
		}
	}
	if err := env.Parse(&cfg.Services); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := env.Parse(&cfg.ObjectStore); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("grid.yaml: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Grid: GridSection{
			Addr:      ":9000",
			DataDir:   "./data",
			PublicURI: "http://127.0.0.1:9000",
		},
		Services: ServicesSection{
			CapsTTL:      time.Hour,
			UserCacheTTL: 300 * time.Second,
		},
		Assets: AssetsSection{
			MaxBodySize: 16 << 20,
		},
		MapTiles: MapTilesSection{
			LockWait:        2 * time.Second,
			RefreshInterval: time.Minute,
		},
		Modules: ModulesSection{
			Enabled:         []string{"im", "combat", "presencedetector", "terrain", "autobackup", "worldmap"},
			DispatchWorkers: 8,
		},
		AutoBackup: AutoBackupSection{
			Interval:           12 * time.Hour,
			BusyCheck:          true,
			BusyAgentThreshold: 20,
			NamingType:         "Time",
			KeepFilesForDays:   0,
		},
		ObjectStore: ObjectStoreSection{
			Prefix:  "regionsim",
			Workers: 2,
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Grid.Addr = strings.TrimSpace(c.Grid.Addr)
	c.Grid.PublicURI = strings.TrimRight(strings.TrimSpace(c.Grid.PublicURI), "/")
	if c.Services.CapsTTL <= 0 {
		c.Services.CapsTTL = time.Hour
	}
	if c.Services.UserCacheTTL <= 0 {
		c.Services.UserCacheTTL = 300 * time.Second
	}
	if c.MapTiles.LockWait <= 0 {
		c.MapTiles.LockWait = 2 * time.Second
	}
	if c.MapTiles.RefreshInterval <= 0 {
		c.MapTiles.RefreshInterval = time.Minute
	}
	if c.Modules.DispatchWorkers <= 0 {
		c.Modules.DispatchWorkers = 8
	}
	if c.Assets.MaxBodySize <= 0 {
		c.Assets.MaxBodySize = 16 << 20
	}
	for i := range c.Regions {
		r := &c.Regions[i]
		r.Name = strings.TrimSpace(r.Name)
		if r.SizeX <= 0 {
			r.SizeX = 256
		}
		if r.SizeY <= 0 {
			r.SizeY = 256
		}
		if r.SpawnPoint == ([3]float64{}) {
			r.SpawnPoint = [3]float64{float64(r.SizeX) / 2, float64(r.SizeY) / 2, 25}
		}
	}
	sort.SliceStable(c.Regions, func(i, j int) bool {
		if c.Regions[i].LocY != c.Regions[j].LocY {
			return c.Regions[i].LocY < c.Regions[j].LocY
		}
		return c.Regions[i].LocX < c.Regions[j].LocX
	})
}

func (c Config) Validate() error {
	if c.Grid.DataDir == "" {
		return &MissingKeyError{Section: "grid", Key: "data_dir"}
	}
	seenID := map[string]bool{}
	seenName := map[string]bool{}
	for _, r := range c.Regions {
		if r.ID == "" {
			return &MissingKeyError{Section: "regions", Key: "id"}
		}
		if r.Name == "" {
			return fmt.Errorf("region %s: name is required", r.ID)
		}
		if seenID[r.ID] {
			return fmt.Errorf("duplicate region id: %s", r.ID)
		}
		seenID[r.ID] = true
		ln := strings.ToLower(r.Name)
		if seenName[ln] {
			return fmt.Errorf("duplicate region name: %s", r.Name)
		}
		seenName[ln] = true
		if r.LocX%256 != 0 || r.LocY%256 != 0 {
			return fmt.Errorf("region %s: location must be a multiple of 256", r.Name)
		}
		if r.SizeX%256 != 0 || r.SizeY%256 != 0 {
			return fmt.Errorf("region %s: size must be a multiple of 256", r.Name)
		}
		if len(r.TerrainTextures) > 4 {
			return fmt.Errorf("region %s: at most 4 terrain textures", r.Name)
		}
	}
	switch c.AutoBackup.NamingType {
	case "", "Time", "Sequential", "Overwrite":
	default:
		return fmt.Errorf("auto_backup.naming_type: unknown %q", c.AutoBackup.NamingType)
	}
	return nil
}

// ModuleEnabled reports whether name appears in modules.enabled.
func (c Config) ModuleEnabled(name string) bool {
	for _, n := range c.Modules.Enabled {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
	}
	return false
}
