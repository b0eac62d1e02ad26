package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/protocol/jsonrpc"
	"regionsim.ai/internal/scene/modules/terrainmod"
)

func terrainCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "terrain", Short: "Terrain operations on a running host"}
	var agent, session string
	revert := &cobra.Command{
		Use:   "revert-save <region>",
		Short: "Make the current heightmap the revert target of a region (id or name)",
		Long: "Make the current heightmap the revert target of a region.\n" +
			"The host accepts the request only for a root agent in the region that may edit its terrain,\n" +
			"identified by --agent and its live --session.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveRegion(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			agentID, err := uuid.Parse(agent)
			if err != nil {
				return fmt.Errorf("--agent: %w", err)
			}
			sessionID, err := uuid.Parse(session)
			if err != nil {
				return fmt.Errorf("--session: %w", err)
			}
			uri := strings.TrimRight(a.hostURI, "/") + grid.RegionRPCPath
			c := jsonrpc.NewClient(uri, &http.Client{Timeout: 30 * time.Second}, a.log)
			var ok bool
			req := terrainmod.SaveRevertRequest{RegionID: id, AgentID: agentID, SessionID: sessionID}
			if err := c.Do(cmd.Context(), terrainmod.MethodSaveRevert, req, &ok); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("host refused revert save for %s", id)
			}
			fmt.Fprintf(a.out, "revert map saved for %s\n", id)
			return nil
		},
	}
	revert.Flags().StringVar(&agent, "agent", "", "agent id of the requesting estate owner or god")
	revert.Flags().StringVar(&session, "session", "", "live session id of that agent")
	_ = revert.MarkFlagRequired("agent")
	_ = revert.MarkFlagRequired("session")
	cmd.AddCommand(revert)
	return cmd
}

func (a *app) resolveRegion(ctx context.Context, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	for _, r := range a.cfg.Regions {
		if strings.EqualFold(r.Name, ref) {
			return uuid.Parse(r.ID)
		}
	}
	db, err := a.openDB()
	if err != nil {
		return uuid.Nil, err
	}
	defer db.Close()
	regions, err := db.Grid().List(ctx, a.scope)
	if err != nil {
		return uuid.Nil, err
	}
	for _, r := range regions {
		if strings.EqualFold(r.Name, ref) {
			return r.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("%w: %s", grid.ErrRegionNotFound, ref)
}
