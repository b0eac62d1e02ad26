// Package maptiles stores world map tile images on disk and serves them.
package maptiles

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/protocol/schema"
)

var (
	ErrNotFound = errors.New("map tile not found")
	ErrBusy     = errors.New("map tile store busy")
	ErrBadTile  = errors.New("bad map tile")
)

var contentTypes = map[string]string{
	"jpg": "image/jpeg",
	"png": "image/png",
}

var tileName = regexp.MustCompile(`^map-([1-8])-(\d{1,7})-(\d{1,7})-objects\.([a-z]+)$`)

// Tile addresses one image. X and Y are region grid coordinates.
type Tile struct {
	Scope uuid.UUID
	Zoom  int
	X, Y  int
	Ext   string
}

func (t Tile) Name() string {
	return fmt.Sprintf("map-%d-%d-%d-objects.%s", t.Zoom, t.X, t.Y, t.Ext)
}

// Store keeps tiles under <dir>/<scope>/. Every image read and write holds
// one store-wide lock.
type Store struct {
	dir  string
	wait time.Duration
	log  *log.Logger

	lock chan struct{}
}

func NewStore(cfg config.MapTilesSection, dataDir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(dataDir, "maptiles")
	}
	wait := cfg.LockWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &Store{dir: dir, wait: wait, log: logger, lock: make(chan struct{}, 1)}
}

func (s *Store) acquire(ctx context.Context) error {
	t := time.NewTimer(s.wait)
	defer t.Stop()
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-t.C:
		return ErrBusy
	case <-ctx.Done():
		return ErrBusy
	}
}

func (s *Store) release() { <-s.lock }

func (s *Store) path(t Tile) string {
	return filepath.Join(s.dir, t.Scope.String(), t.Name())
}

func (s *Store) Get(ctx context.Context, t Tile) ([]byte, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()
	b, err := os.ReadFile(s.path(t))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *Store) Put(ctx context.Context, t Tile, data []byte) error {
	if _, ok := contentTypes[t.Ext]; !ok || t.Zoom < 1 || t.X < 0 || t.Y < 0 {
		return ErrBadTile
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty image", ErrBadTile)
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	p := s.path(t)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (s *Store) Delete(ctx context.Context, t Tile) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	err := os.Remove(s.path(t))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// AddMapTile stores a zoom level 1 jpg tile for the region at grid cell x,y.
func (s *Store) AddMapTile(ctx context.Context, x, y int, data []byte, scope uuid.UUID) error {
	return s.Put(ctx, Tile{Scope: scope, Zoom: 1, X: x, Y: y, Ext: "jpg"}, data)
}

func (s *Store) RemoveMapTile(ctx context.Context, x, y int, scope uuid.UUID) error {
	return s.Delete(ctx, Tile{Scope: scope, Zoom: 1, X: x, Y: y, Ext: "jpg"})
}

// ParsePath parses "[scope/]map-z-x-y-objects.ext" relative to /map/.
func ParsePath(p string) (Tile, error) {
	p = strings.Trim(p, "/")
	var t Tile
	name := p
	if i := strings.IndexByte(p, '/'); i >= 0 {
		sc, err := uuid.Parse(p[:i])
		if err != nil {
			return Tile{}, ErrBadTile
		}
		t.Scope = sc
		name = p[i+1:]
	}
	m := tileName.FindStringSubmatch(name)
	if m == nil {
		return Tile{}, ErrBadTile
	}
	if _, ok := contentTypes[m[4]]; !ok {
		return Tile{}, ErrBadTile
	}
	t.Zoom, _ = strconv.Atoi(m[1])
	t.X, _ = strconv.Atoi(m[2])
	t.Y, _ = strconv.Atoi(m[3])
	t.Ext = m[4]
	return t, nil
}

type uploadRequest struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Scope string `json:"scope"`
	Type  string `json:"type"`
	Data  string `json:"data"`
}

type Handler struct {
	store   *Store
	maxBody int64
	log     *log.Logger
}

func NewHandler(store *Store, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handler{store: store, maxBody: 8 << 20, log: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/map", h)
	mux.Handle("/map/", h)
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.serveTile(rw, r)
	case http.MethodPost:
		h.upload(rw, r)
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveTile(rw http.ResponseWriter, r *http.Request) {
	t, err := ParsePath(strings.TrimPrefix(r.URL.Path, "/map"))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	b, err := h.store.Get(r.Context(), t)
	switch {
	case errors.Is(err, ErrNotFound):
		rw.WriteHeader(http.StatusNotFound)
		return
	case errors.Is(err, ErrBusy):
		rw.WriteHeader(http.StatusServiceUnavailable)
		return
	case err != nil:
		h.log.Printf("read tile %s: %v", t.Name(), err)
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", contentTypes[t.Ext])
	_, _ = rw.Write(b)
}

func (h *Handler) upload(rw http.ResponseWriter, r *http.Request) {
	if strings.Trim(r.URL.Path, "/") != "map" {
		rw.WriteHeader(http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := schema.Validate(schema.MapTile, body); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	var req uploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	t := Tile{Zoom: 1, X: req.X, Y: req.Y, Ext: req.Type}
	if t.Ext == "" {
		t.Ext = "jpg"
	}
	if req.Scope != "" {
		if t.Scope, err = uuid.Parse(req.Scope); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	switch err := h.store.Put(r.Context(), t, data); {
	case errors.Is(err, ErrBusy):
		rw.WriteHeader(http.StatusServiceUnavailable)
	case errors.Is(err, ErrBadTile):
		rw.WriteHeader(http.StatusBadRequest)
	case err != nil:
		h.log.Printf("write tile %s: %v", t.Name(), err)
		rw.WriteHeader(http.StatusInternalServerError)
	default:
		h.log.Printf("stored %s/%s (%d bytes)", t.Scope, t.Name(), len(data))
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{"Result": true})
	}
}
