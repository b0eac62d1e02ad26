package neighbour

import (
	"net/http"

	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/protocol/jsonrpc"
)

func rpcMux(s *jsonrpc.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(grid.RegionRPCPath, s)
	return mux
}
