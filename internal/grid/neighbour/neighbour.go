// Package neighbour tells adjacent regions that a region has come up.
package neighbour

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/protocol/jsonrpc"
)

const MethodHello = "neighbour.hello"

type helloParams struct {
	TargetID uuid.UUID       `json:"target_id"`
	Region   grid.RegionData `json:"region"`
}

// HelloFunc is called on the receiving host. It returns false when the
// target region is not hosted here.
type HelloFunc func(ctx context.Context, target uuid.UUID, from grid.RegionData) bool

// Register installs the hello handler on the host's region RPC server.
func Register(s *jsonrpc.Server, fn HelloFunc) {
	s.Handle(MethodHello, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var p helloParams
		if err := jsonrpc.Params(raw, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p.TargetID, p.Region), nil
	})
}

type Notifier struct {
	grid       grid.Service
	httpClient *http.Client
	log        *log.Logger
	// Parallel bounds concurrent hello calls.
	Parallel int
}

func NewNotifier(g grid.Service, httpClient *http.Client, logger *log.Logger) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Notifier{grid: g, httpClient: httpClient, log: logger, Parallel: 8}
}

// InformNeighbours sends hello to every online neighbour of self and returns
// the neighbours that acknowledged. Unreachable neighbours are logged, not errors.
func (n *Notifier) InformNeighbours(ctx context.Context, self grid.RegionData) ([]grid.RegionData, error) {
	neighbours, err := n.grid.GetNeighbours(ctx, self.ScopeID, self.ID)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		acked = make([]bool, len(neighbours))
	)
	g, gctx := errgroup.WithContext(ctx)
	if n.Parallel > 0 {
		g.SetLimit(n.Parallel)
	}
	for i, nb := range neighbours {
		i, nb := i, nb
		g.Go(func() error {
			c := jsonrpc.NewClient(nb.RPCURI(), n.httpClient, n.log)
			var ok bool
			if !c.Call(gctx, MethodHello, helloParams{TargetID: nb.ID, Region: self}, &ok) {
				return nil
			}
			if !ok {
				n.log.Printf("neighbour %s (%s) is not hosted at %s", nb.Name, nb.ID, nb.ServerURI)
				return nil
			}
			mu.Lock()
			acked[i] = true
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []grid.RegionData
	for i, nb := range neighbours {
		if acked[i] {
			out = append(out, nb)
		}
	}
	n.log.Printf("region %s informed %d/%d neighbours", self.Name, len(out), len(neighbours))
	return out, nil
}
