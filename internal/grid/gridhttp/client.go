package gridhttp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/protocol/jsonrpc"
)

// Client implements grid.Service against a remote grid server.
type Client struct {
	rpc *jsonrpc.Client
}

var _ grid.Service = (*Client)(nil)

func NewClient(uri string, httpClient *http.Client, logger *log.Logger) (*Client, error) {
	if err := config.Require("grid", "GridServerURI", uri); err != nil {
		return nil, err
	}
	return &Client{rpc: jsonrpc.NewClient(uri, httpClient, logger)}, nil
}

func (c *Client) RegisterRegion(ctx context.Context, r grid.RegionData) error {
	var res registerResult
	if err := c.rpc.Do(ctx, MethodRegister, r, &res); err != nil {
		return err
	}
	if !res.Success {
		if sentinel, ok := sentinels[res.Code]; ok {
			return &remoteError{msg: "register region " + r.Name + ": " + res.Message, err: sentinel}
		}
		return fmt.Errorf("register region %s: %s", r.Name, res.Message)
	}
	return nil
}

func (c *Client) DeregisterRegion(ctx context.Context, id uuid.UUID) error {
	return unmapErr(c.rpc.Do(ctx, MethodDeregister, lookupParams{RegionID: id}, nil))
}

func (c *Client) GetRegionByID(ctx context.Context, scope, id uuid.UUID) (grid.RegionData, error) {
	var r grid.RegionData
	err := c.rpc.Do(ctx, MethodGetRegionByUUID, lookupParams{ScopeID: scope, RegionID: id}, &r)
	return r, unmapErr(err)
}

func (c *Client) GetRegionByName(ctx context.Context, scope uuid.UUID, name string) (grid.RegionData, error) {
	var r grid.RegionData
	err := c.rpc.Do(ctx, MethodGetRegionByName, lookupParams{ScopeID: scope, Name: name}, &r)
	return r, unmapErr(err)
}

func (c *Client) GetRegionByPosition(ctx context.Context, scope uuid.UUID, x, y int) (grid.RegionData, error) {
	var r grid.RegionData
	err := c.rpc.Do(ctx, MethodGetRegionByPos, lookupParams{ScopeID: scope, X: x, Y: y}, &r)
	return r, unmapErr(err)
}

func (c *Client) GetRegionRange(ctx context.Context, scope uuid.UUID, xmin, xmax, ymin, ymax int) ([]grid.RegionData, error) {
	var rs []grid.RegionData
	err := c.rpc.Do(ctx, MethodGetRegionRange, lookupParams{ScopeID: scope, X: xmin, XMax: xmax, Y: ymin, YMax: ymax}, &rs)
	return rs, unmapErr(err)
}

func (c *Client) GetNeighbours(ctx context.Context, scope, id uuid.UUID) ([]grid.RegionData, error) {
	var rs []grid.RegionData
	err := c.rpc.Do(ctx, MethodGetNeighbours, lookupParams{ScopeID: scope, RegionID: id}, &rs)
	return rs, unmapErr(err)
}

func (c *Client) GetDefaultRegions(ctx context.Context, scope uuid.UUID) ([]grid.RegionData, error) {
	var rs []grid.RegionData
	err := c.rpc.Do(ctx, MethodGetDefaultRegions, lookupParams{ScopeID: scope}, &rs)
	return rs, unmapErr(err)
}

func (c *Client) GetFallbackRegions(ctx context.Context, scope uuid.UUID, x, y int) ([]grid.RegionData, error) {
	var rs []grid.RegionData
	err := c.rpc.Do(ctx, MethodGetFallback, lookupParams{ScopeID: scope, X: x, Y: y}, &rs)
	return rs, unmapErr(err)
}

// remoteError keeps the server's message while matching the grid sentinel.
type remoteError struct {
	msg string
	err error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.err }

func unmapErr(err error) error {
	var rerr *jsonrpc.Error
	if !errors.As(err, &rerr) {
		return err
	}
	if rerr.Code == CodeNotFound {
		return grid.ErrRegionNotFound
	}
	if sentinel, ok := sentinels[rerr.Code]; ok {
		return &remoteError{msg: rerr.Message, err: sentinel}
	}
	return err
}
