package commands

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"regionsim.ai/internal/assets"
	"regionsim.ai/internal/assets/archive"
)

func assetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "assets", Short: "Save and load asset archives"}
	cmd.AddCommand(assetsSaveCmd(a), assetsLoadCmd(a))
	return cmd
}

func assetsSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <file> [ids...]",
		Short: "Write assets to an archive (all assets when no ids are given)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			store := db.Assets()

			var ids []uuid.UUID
			for _, s := range args[1:] {
				id, err := uuid.Parse(s)
				if err != nil {
					return fmt.Errorf("asset id %q: %w", s, err)
				}
				ids = append(ids, id)
			}
			if len(ids) == 0 {
				if ids, err = store.IDs(ctx); err != nil {
					return err
				}
			}
			list := make([]*assets.Asset, 0, len(ids))
			for _, id := range ids {
				as, err := store.Get(ctx, id)
				if err != nil {
					return fmt.Errorf("asset %s: %w", id, err)
				}
				list = append(list, as)
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			w, err := archive.NewWriter(f, archive.CompressionForName(args[0]))
			if err != nil {
				_ = f.Close()
				return err
			}
			if err := w.WriteAssets(list); err != nil {
				_ = f.Close()
				return err
			}
			if err := w.Close(); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "saved %d assets to %s\n", len(list), args[0])
			return nil
		},
	}
}

func assetsLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Load an asset archive into the grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			res, err := archive.NewDearchiver(db.Assets(), a.log).Dearchive(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "loaded %d assets, skipped %d, missing %d\n", res.Loaded, len(res.Skipped), len(res.Missing))
			for _, id := range res.Missing {
				fmt.Fprintf(a.out, "  missing data: %s\n", id)
			}
			return nil
		},
	}
}
