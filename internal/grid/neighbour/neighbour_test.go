package neighbour

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/protocol/jsonrpc"
)

type hostRecorder struct {
	mu     sync.Mutex
	hosted map[uuid.UUID]bool
	got    []string
}

func (h *hostRecorder) hello(ctx context.Context, target uuid.UUID, from grid.RegionData) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.hosted[target] {
		return false
	}
	h.got = append(h.got, from.Name)
	return true
}

func TestInformNeighbours(t *testing.T) {
	ctx := context.Background()

	rec := &hostRecorder{hosted: map[uuid.UUID]bool{}}
	rpc := jsonrpc.NewServer(nil)
	Register(rpc, rec.hello)
	mux := httptest.NewServer(rpcMux(rpc))
	defer mux.Close()

	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	reg := grid.NewRegistry(grid.NewMemoryStore(), nil, nil)
	mk := func(name string, gx int, uri string) grid.RegionData {
		r := grid.RegionData{ID: uuid.New(), Name: name, LocX: gx * 256, LocY: 0, SizeX: 256, SizeY: 256, ServerURI: uri}
		if err := reg.RegisterRegion(ctx, r); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		return r
	}
	self := mk("Self", 10, "http://self.invalid")
	east := mk("East", 11, mux.URL)
	west := mk("West", 9, deadURL)
	_ = mk("Far", 20, mux.URL)
	rec.hosted[east.ID] = true

	acked, err := NewNotifier(reg, nil, nil).InformNeighbours(ctx, self)
	if err != nil {
		t.Fatalf("inform: %v", err)
	}
	if len(acked) != 1 || acked[0].ID != east.ID {
		t.Fatalf("acked: %+v (west=%s)", acked, west.ID)
	}
	if len(rec.got) != 1 || rec.got[0] != "Self" {
		t.Fatalf("hello payloads: %v", rec.got)
	}
}
