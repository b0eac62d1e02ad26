package assetshttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"regionsim.ai/internal/assets"
)

// Resolver looks assets up by reference for a region host. Bare ids are read
// from the local service. Hypergrid refs are fetched from the server they name
// and copied into the local service, so later lookups stay local.
type Resolver struct {
	local      assets.Service
	httpClient *http.Client
	log        *log.Logger
}

func NewResolver(local assets.Service, httpClient *http.Client, logger *log.Logger) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Resolver{local: local, httpClient: httpClient, log: logger}
}

func (r *Resolver) Resolve(ctx context.Context, ref string) (*assets.Asset, error) {
	server, id, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	a, err := r.local.Get(ctx, id)
	if err == nil || server == "" || !errors.Is(err, assets.ErrNotFound) {
		return a, err
	}
	foreign := &Client{serverURI: server, httpClient: r.httpClient, log: r.log}
	a, err = foreign.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	if _, err := r.local.Store(ctx, a); err != nil {
		r.log.Printf("copy foreign asset %s: %v", ref, err)
	} else {
		r.log.Printf("imported %s from %s", id, server)
	}
	return a, nil
}
