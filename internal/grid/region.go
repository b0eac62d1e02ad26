package grid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RegionSize is the grid unit; region positions and sizes are multiples of it.
const RegionSize = 256

type RegionFlags uint32

const (
	FlagDefaultRegion RegionFlags = 1 << iota
	FlagFallbackRegion
	FlagPersistent
	FlagHyperlink
	FlagOnline
)

func (f RegionFlags) Has(x RegionFlags) bool { return f&x != 0 }

var (
	ErrRegionNotFound = errors.New("region not found")
	ErrRegionOverlap  = errors.New("region overlaps an existing region")
	ErrNameTaken      = errors.New("region name already in use")
	ErrInvalidRegion  = errors.New("invalid region")
)

// RegionData describes one region as the grid knows it. Positions are in meters.
type RegionData struct {
	ID           uuid.UUID   `json:"id"`
	ScopeID      uuid.UUID   `json:"scope_id"`
	Name         string      `json:"name"`
	LocX         int         `json:"loc_x"`
	LocY         int         `json:"loc_y"`
	SizeX        int         `json:"size_x"`
	SizeY        int         `json:"size_y"`
	ServerURI    string      `json:"server_uri"`
	ExternalHost string      `json:"external_host,omitempty"`
	HTTPPort     int         `json:"http_port,omitempty"`
	Flags        RegionFlags `json:"flags"`
	OwnerID      uuid.UUID   `json:"owner_id"`
	Token        string      `json:"token,omitempty"`
}

// RegionRPCPath is where a region host serves region-to-region JSON-RPC.
const RegionRPCPath = "/region/rpc"

// RPCURI is the region-to-region endpoint of the host serving r.
func (r RegionData) RPCURI() string {
	return strings.TrimRight(r.ServerURI, "/") + RegionRPCPath
}

// GridX is the location in region units.
func (r RegionData) GridX() int { return r.LocX / RegionSize }
func (r RegionData) GridY() int { return r.LocY / RegionSize }

func (r RegionData) Online() bool { return r.Flags.Has(FlagOnline) }

// Contains reports whether the world point (x, y) lies inside the footprint.
func (r RegionData) Contains(x, y int) bool {
	return x >= r.LocX && x < r.LocX+r.SizeX && y >= r.LocY && y < r.LocY+r.SizeY
}

func (r RegionData) overlaps(o RegionData) bool {
	return r.LocX < o.LocX+o.SizeX && o.LocX < r.LocX+r.SizeX &&
		r.LocY < o.LocY+o.SizeY && o.LocY < r.LocY+r.SizeY
}

// touches is true when footprints share an edge or a corner without overlapping.
func (r RegionData) touches(o RegionData) bool {
	if r.overlaps(o) {
		return false
	}
	return r.LocX <= o.LocX+o.SizeX && o.LocX <= r.LocX+r.SizeX &&
		r.LocY <= o.LocY+o.SizeY && o.LocY <= r.LocY+r.SizeY
}

func (r RegionData) Validate() error {
	if r.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidRegion)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRegion)
	}
	if r.LocX < 0 || r.LocY < 0 || r.LocX%RegionSize != 0 || r.LocY%RegionSize != 0 {
		return fmt.Errorf("%w: location %d,%d is not on the %dm grid", ErrInvalidRegion, r.LocX, r.LocY, RegionSize)
	}
	if r.SizeX <= 0 || r.SizeY <= 0 || r.SizeX%RegionSize != 0 || r.SizeY%RegionSize != 0 {
		return fmt.Errorf("%w: size %dx%d is not a positive multiple of %d", ErrInvalidRegion, r.SizeX, r.SizeY, RegionSize)
	}
	return nil
}
