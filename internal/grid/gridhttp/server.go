// Package gridhttp exposes grid.Service over JSON-RPC and provides the matching client.
package gridhttp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/protocol/jsonrpc"
)

const (
	MethodRegister          = "grid.register"
	MethodDeregister        = "grid.deregister"
	MethodGetRegionByUUID   = "grid.get_region_by_uuid"
	MethodGetRegionByName   = "grid.get_region_by_name"
	MethodGetRegionByPos    = "grid.get_region_by_position"
	MethodGetRegionRange    = "grid.get_region_range"
	MethodGetNeighbours     = "grid.get_neighbours"
	MethodGetDefaultRegions = "grid.get_default_regions"
	MethodGetFallback       = "grid.get_fallback_regions"
)

// Error codes carrying grid sentinels across the wire.
const (
	CodeNotFound      = -32004
	CodeOverlap       = -32005
	CodeNameTaken     = -32006
	CodeInvalidRegion = -32007
)

var sentinels = map[int]error{
	CodeNotFound:      grid.ErrRegionNotFound,
	CodeOverlap:       grid.ErrRegionOverlap,
	CodeNameTaken:     grid.ErrNameTaken,
	CodeInvalidRegion: grid.ErrInvalidRegion,
}

func codeFor(err error) int {
	for code, s := range sentinels {
		if errors.Is(err, s) {
			return code
		}
	}
	return 0
}

type lookupParams struct {
	ScopeID  uuid.UUID `json:"scope_id"`
	RegionID uuid.UUID `json:"region_id,omitempty"`
	Name     string    `json:"name,omitempty"`
	X        int       `json:"x,omitempty"`
	Y        int       `json:"y,omitempty"`
	XMax     int       `json:"xmax,omitempty"`
	YMax     int       `json:"ymax,omitempty"`
}

type registerResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// Register installs grid methods on s.
func Register(s *jsonrpc.Server, svc grid.Service) {
	s.Handle(MethodRegister, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var r grid.RegionData
		if err := jsonrpc.Params(raw, &r); err != nil {
			return nil, err
		}
		if err := svc.RegisterRegion(ctx, r); err != nil {
			return registerResult{Success: false, Message: err.Error(), Code: codeFor(err)}, nil
		}
		return registerResult{Success: true}, nil
	})
	s.Handle(MethodDeregister, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p lookupParams
		if err := jsonrpc.Params(raw, &p); err != nil {
			return nil, err
		}
		return true, mapErr(svc.DeregisterRegion(ctx, p.RegionID))
	})
	s.Handle(MethodGetRegionByUUID, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p lookupParams
		if err := jsonrpc.Params(raw, &p); err != nil {
			return nil, err
		}
		r, err := svc.GetRegionByID(ctx, p.ScopeID, p.RegionID)
		return r, mapErr(err)
	})
	s.Handle(MethodGetRegionByName, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p lookupParams
		if err := jsonrpc.Params(raw, &p); err != nil {
			return nil, err
		}
		r, err := svc.GetRegionByName(ctx, p.ScopeID, p.Name)
		return r, mapErr(err)
	})
	s.Handle(MethodGetRegionByPos, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p lookupParams
		if err := jsonrpc.Params(raw, &p); err != nil {
			return nil, err
		}
		r, err := svc.GetRegionByPosition(ctx, p.ScopeID, p.X, p.Y)
		return r, mapErr(err)
	})
	s.Handle(MethodGetRegionRange, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p lookupParams
		if err := jsonrpc.Params(raw, &p); err != nil {
			return nil, err
		}
		rs, err := svc.GetRegionRange(ctx, p.ScopeID, p.X, p.XMax, p.Y, p.YMax)
		return nonNil(rs), mapErr(err)
	})
	s.Handle(MethodGetNeighbours, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p lookupParams
		if err := jsonrpc.Params(raw, &p); err != nil {
			return nil, err
		}
		rs, err := svc.GetNeighbours(ctx, p.ScopeID, p.RegionID)
		return nonNil(rs), mapErr(err)
	})
	s.Handle(MethodGetDefaultRegions, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p lookupParams
		if err := jsonrpc.Params(raw, &p); err != nil {
			return nil, err
		}
		rs, err := svc.GetDefaultRegions(ctx, p.ScopeID)
		return nonNil(rs), mapErr(err)
	})
	s.Handle(MethodGetFallback, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p lookupParams
		if err := jsonrpc.Params(raw, &p); err != nil {
			return nil, err
		}
		rs, err := svc.GetFallbackRegions(ctx, p.ScopeID, p.X, p.Y)
		return nonNil(rs), mapErr(err)
	})
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if code := codeFor(err); code != 0 {
		return &jsonrpc.Error{Code: code, Message: err.Error()}
	}
	return err
}

func nonNil(rs []grid.RegionData) []grid.RegionData {
	if rs == nil {
		return []grid.RegionData{}
	}
	return rs
}
