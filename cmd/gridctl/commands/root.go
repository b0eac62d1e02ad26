// Package commands implements the gridctl admin CLI.
package commands

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/persistence/griddb"
)

type app struct {
	configPath string
	dataDir    string
	hostURI    string
	verbose    bool

	cfg   config.Config
	scope uuid.UUID
	out   io.Writer
	log   *log.Logger
}

func Execute() error {
	return newRoot(os.Stdout).Execute()
}

func newRoot(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:           "gridctl",
		Short:         "Administer a regionsim grid",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to grid.yaml")
	root.PersistentFlags().StringVar(&a.dataDir, "data", "", "data directory (overrides grid.data_dir)")
	root.PersistentFlags().StringVar(&a.hostURI, "host", "", "region host base URI (default grid.public_uri)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(regionsCmd(a), assetsCmd(a), usersCmd(a), terrainCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.Grid.DataDir = a.dataDir
	}
	if a.hostURI == "" {
		a.hostURI = cfg.Grid.PublicURI
	}
	a.cfg = cfg
	if cfg.Grid.ScopeID != "" {
		if a.scope, err = uuid.Parse(cfg.Grid.ScopeID); err != nil {
			return err
		}
	}
	w := io.Discard
	if a.verbose {
		w = os.Stderr
	}
	a.log = log.New(w, "[gridctl] ", log.LstdFlags)
	return nil
}

func (a *app) openDB() (*griddb.DB, error) {
	return griddb.Open(filepath.Join(a.cfg.Grid.DataDir, "grid.db"), a.log)
}
