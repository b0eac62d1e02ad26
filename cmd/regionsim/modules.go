package main

import (
	"log"
	"net/http"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/maptiles"
	"regionsim.ai/internal/persistence/griddb"
	"regionsim.ai/internal/persistence/objectstore"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/modules"
	"regionsim.ai/internal/scene/modules/autobackup"
	"regionsim.ai/internal/scene/modules/combat"
	"regionsim.ai/internal/scene/modules/im"
	"regionsim.ai/internal/scene/modules/presencedetector"
	"regionsim.ai/internal/scene/modules/terrainmod"
	"regionsim.ai/internal/scene/modules/worldmap"
)

// moduleRegistry lists every region module this binary can load. Which ones
// run is decided by modules.enabled.
func moduleRegistry(db *griddb.DB, uploader *objectstore.Uploader, tiles *maptiles.Store) *modules.Registry {
	reg := modules.NewRegistry()
	reg.Register(im.Name, func(d modules.Deps) scene.RegionModule {
		return im.New(d, db.OfflineIMs())
	})
	reg.Register(combat.Name, func(d modules.Deps) scene.RegionModule {
		return combat.New(d)
	})
	reg.Register(presencedetector.Name, func(d modules.Deps) scene.RegionModule {
		return presencedetector.New(d)
	})
	reg.Register(terrainmod.Name, func(d modules.Deps) scene.RegionModule {
		return terrainmod.New(d)
	})
	reg.Register(autobackup.Name, func(d modules.Deps) scene.RegionModule {
		if uploader == nil {
			return autobackup.New(d, nil)
		}
		return autobackup.New(d, uploader)
	})
	reg.Register(worldmap.Name, func(d modules.Deps) scene.RegionModule {
		return worldmap.New(d, tiles)
	})
	return reg
}

// buildUploader returns nil when no object store is configured.
func buildUploader(cfg config.Config, httpClient *http.Client, logger *log.Logger) (*objectstore.Uploader, error) {
	if !cfg.ObjectStore.Configured() {
		return nil, nil
	}
	client, err := objectstore.NewClient(cfg.ObjectStore, httpClient)
	if err != nil {
		return nil, err
	}
	l := subLogger(logger, "objectstore")
	l.Printf("uploading backups to %s/%s prefix=%s", cfg.ObjectStore.Endpoint, cfg.ObjectStore.Bucket, cfg.ObjectStore.Prefix)
	return objectstore.NewUploader(client, cfg.Grid.DataDir, cfg.ObjectStore.Prefix, cfg.ObjectStore.Workers, l), nil
}
