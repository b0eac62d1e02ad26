package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
	"regionsim.ai/internal/assets/assetshttp"
	"regionsim.ai/internal/auth"
	"regionsim.ai/internal/caps"
	"regionsim.ai/internal/config"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/grid/gridhttp"
	"regionsim.ai/internal/grid/neighbour"
	"regionsim.ai/internal/inventory"
	"regionsim.ai/internal/maptiles"
	"regionsim.ai/internal/persistence/griddb"
	"regionsim.ai/internal/persistence/journal"
	"regionsim.ai/internal/presence"
	"regionsim.ai/internal/presence/presencehttp"
	"regionsim.ai/internal/protocol/jsonrpc"
	"regionsim.ai/internal/scene/modules"
	"regionsim.ai/internal/transport/eventqueue"
	"regionsim.ai/internal/users"
)

func main() {
	var (
		configPath = flag.String("config", "./grid.yaml", "path to grid.yaml (empty for defaults)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides grid.data_dir)")
		addr       = flag.String("addr", "", "http listen address (overrides grid.addr)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[regionsim] ", log.LstdFlags|log.Lmicroseconds)
	if err := run(*configPath, *dataDir, *addr, logger); err != nil {
		logger.Printf("fatal: %v", err)
		os.Exit(1)
	}
}

// run owns every resource it opens, so each deferred close runs before the
// process exits, whatever the error.
func run(configPath, dataDir, addr string, logger *log.Logger) error {
	path := strings.TrimSpace(configPath)
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logger.Printf("%s not found; using defaults", path)
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dataDir != "" {
		cfg.Grid.DataDir = dataDir
	}
	if addr != "" {
		cfg.Grid.Addr = addr
	}
	if err := os.MkdirAll(cfg.Grid.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	scope, err := parseScope(cfg.Grid.ScopeID)
	if err != nil {
		return fmt.Errorf("grid.scope_id: %w", err)
	}

	j := journal.Open(cfg.Grid.DataDir)
	defer j.Close()

	db, err := griddb.Open(filepath.Join(cfg.Grid.DataDir, "grid.db"), subLogger(logger, "griddb"))
	if err != nil {
		return fmt.Errorf("open griddb: %w", err)
	}
	defer db.Close()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})

	svc, err := buildServices(cfg, db, j, httpClient, logger, mux)
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}

	assetshttp.NewHandler(svc.assets, assetshttp.Options{
		AllowDelete: cfg.Assets.AllowDelete,
		MaxBodySize: cfg.Assets.MaxBodySize,
		Journal:     j,
	}, subLogger(logger, "assets")).Register(mux)

	tiles := maptiles.NewStore(cfg.MapTiles, cfg.Grid.DataDir, subLogger(logger, "maptiles"))
	maptiles.NewHandler(tiles, subLogger(logger, "maptiles")).Register(mux)

	authz := auth.NewService(cfg.Authorization, svc.users, scope, subLogger(logger, "auth"))
	mux.Handle("/authorization", authz.Handler())

	issuer, err := caps.NewIssuer(cfg.Services)
	if err != nil {
		return fmt.Errorf("caps: %w", err)
	}
	capsReg := caps.NewRegistry(issuer, subLogger(logger, "caps"))
	inv := inventory.NewStore()
	events := eventqueue.NewServer(64, subLogger(logger, "eventqueue"))
	capsReg.Handle(caps.FetchInventoryDescendents, caps.FetchInventoryHandler(inv, subLogger(logger, "caps")))
	capsReg.Handle(caps.EventQueue, events.Handler())
	mux.Handle(caps.Prefix, capsReg)

	regionRPC := jsonrpc.NewServer(subLogger(logger, "region-rpc"))
	mux.Handle(grid.RegionRPCPath, regionRPC)

	uploader, err := buildUploader(cfg, httpClient, logger)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	defer uploader.Close()

	deps := modules.Deps{
		Logger:     logger,
		Grid:       svc.grid,
		Presence:   svc.presence,
		Assets:     svc.assets,
		Users:      svc.users,
		RegionRPC:  regionRPC,
		HTTPClient: httpClient,
		Journal:    j,
	}
	host, err := modules.NewHost(cfg, moduleRegistry(db, uploader, tiles), deps)
	if err != nil {
		return fmt.Errorf("modules: %w", err)
	}
	defer host.Close()

	rt := &runtime{
		cfg:      cfg,
		scope:    scope,
		log:      logger,
		host:     host,
		grid:     svc.grid,
		presence: svc.presence,
		auth:     authz,
		caps:     capsReg,
		events:   events,
		inv:      inv,
		assets:   assetshttp.NewResolver(svc.assets, httpClient, subLogger(logger, "assets")),
	}
	rt.registerRPC(regionRPC)
	neighbour.Register(regionRPC, rt.regionUp)

	ctx, cancel := signalContext()
	defer cancel()

	err = rt.startRegions(ctx, neighbour.NewNotifier(svc.grid, httpClient, subLogger(logger, "neighbour")))
	defer rt.stopRegions()
	if err != nil {
		return fmt.Errorf("regions: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Grid.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on %s (public %s) regions=%d", cfg.Grid.Addr, cfg.Grid.PublicURI, len(cfg.Regions))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

type services struct {
	grid     grid.Service
	presence presence.Service
	assets   assets.Service
	users    users.Service
}

// buildServices picks the in-process service or a remote connector for each
// concern, and serves the in-process ones over JSON-RPC for other hosts.
func buildServices(cfg config.Config, db *griddb.DB, j *journal.Journal, httpClient *http.Client, logger *log.Logger, mux *http.ServeMux) (services, error) {
	var s services
	var err error

	if cfg.Services.GridServerURI != "" {
		if s.grid, err = gridhttp.NewClient(cfg.Services.GridServerURI, httpClient, subLogger(logger, "grid")); err != nil {
			return s, err
		}
	} else {
		reg := grid.NewRegistry(db.Grid(), j, subLogger(logger, "grid"))
		s.grid = reg
		rpc := jsonrpc.NewServer(subLogger(logger, "grid"))
		gridhttp.Register(rpc, reg)
		mux.Handle("/grid", rpc)
	}

	if cfg.Services.PresenceServerURI != "" {
		if s.presence, err = presencehttp.NewClient(cfg.Services.PresenceServerURI, httpClient, subLogger(logger, "presence")); err != nil {
			return s, err
		}
	} else {
		t := presence.NewTable()
		s.presence = t
		rpc := jsonrpc.NewServer(subLogger(logger, "presence"))
		presencehttp.Register(rpc, t)
		mux.Handle("/presence", rpc)
	}

	if cfg.Services.AssetServerURI != "" {
		if s.assets, err = assetshttp.NewClient(cfg.Services.AssetServerURI, httpClient, subLogger(logger, "assets")); err != nil {
			return s, err
		}
	} else {
		s.assets = db.Assets()
	}

	s.users = users.NewCachingService(db.Users(), users.NewCache(cfg.Services.UserCacheTTL))
	return s, nil
}

func parseScope(s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(strings.TrimSpace(s))
}

func subLogger(parent *log.Logger, name string) *log.Logger {
	return log.New(parent.Writer(), "["+name+"] ", parent.Flags())
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
