// Package assetshttp serves an assets.Service over HTTP and provides the
// matching client connector.
package assetshttp

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
	"regionsim.ai/internal/persistence/journal"
	"regionsim.ai/internal/protocol/schema"
)

// wireAsset is the JSON form of an asset on the /assets endpoints.
type wireAsset struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        int8       `json:"type"`
	ContentType string     `json:"content_type,omitempty"`
	Local       bool       `json:"local"`
	Temporary   bool       `json:"temporary"`
	CreatorID   string     `json:"creator_id,omitempty"`
	Flags       int        `json:"flags"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	SHA256      string     `json:"sha256,omitempty"`
	Data        []byte     `json:"data,omitempty"`
}

func toWire(a *assets.Asset) wireAsset {
	m := a.Metadata
	created := m.CreatedAt
	return wireAsset{
		ID:          m.ID.String(),
		Name:        m.Name,
		Description: m.Description,
		Type:        int8(m.Type),
		ContentType: m.ContentType,
		Local:       m.Local,
		Temporary:   m.Temporary,
		CreatorID:   m.CreatorID,
		Flags:       int(m.Flags),
		CreatedAt:   &created,
		SHA256:      m.SHA256,
		Data:        a.Data,
	}
}

func fromWire(w wireAsset) (*assets.Asset, error) {
	var id uuid.UUID
	if strings.TrimSpace(w.ID) != "" {
		var err error
		id, err = uuid.Parse(w.ID)
		if err != nil {
			return nil, err
		}
	}
	a := &assets.Asset{
		Metadata: assets.AssetMetadata{
			ID:          id,
			Name:        w.Name,
			Description: w.Description,
			Type:        assets.AssetType(w.Type),
			ContentType: w.ContentType,
			Local:       w.Local,
			Temporary:   w.Temporary,
			CreatorID:   w.CreatorID,
			Flags:       assets.AssetFlags(w.Flags),
			SHA256:      w.SHA256,
		},
		Data: w.Data,
	}
	if w.CreatedAt != nil {
		a.Metadata.CreatedAt = *w.CreatedAt
	}
	return a, nil
}

type Options struct {
	AllowDelete bool
	MaxBodySize int64
	Journal     *journal.Journal
}

type Handler struct {
	svc  assets.Service
	opts Options
	log  *log.Logger
}

func NewHandler(svc assets.Service, opts Options, logger *log.Logger) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 16 << 20
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Handler{svc: svc, opts: opts, log: logger}
}

// Register mounts the asset routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/assets", h.handleCollection)
	mux.HandleFunc("/assets/", h.handleAsset)
	mux.HandleFunc("/get_assets_exist", h.handleExist)
}

func (h *Handler) handleCollection(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.opts.MaxBodySize+1))
	if err != nil || int64(len(body)) > h.opts.MaxBodySize {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := schema.Validate(schema.AssetUpload, body); err != nil {
		h.log.Printf("rejecting asset upload: %v", err)
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	var w wireAsset
	if err := json.Unmarshal(body, &w); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	a, err := fromWire(w)
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	id, err := h.svc.Store(r.Context(), a)
	if err != nil {
		h.writeErr(rw, err)
		return
	}
	_ = h.opts.Journal.Record("asset.store", map[string]any{"id": id.String(), "type": a.Metadata.Type.String(), "bytes": len(a.Data)})
	writeJSON(rw, id.String())
}

func (h *Handler) handleAsset(rw http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/assets/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || len(parts) > 2 {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch r.Method {
	case http.MethodGet:
		switch sub {
		case "":
			a, err := h.svc.Get(r.Context(), id)
			if err != nil {
				h.writeErr(rw, err)
				return
			}
			writeJSON(rw, toWire(a))
		case "metadata":
			m, err := h.svc.GetMetadata(r.Context(), id)
			if err != nil {
				h.writeErr(rw, err)
				return
			}
			writeJSON(rw, toWire(&assets.Asset{Metadata: *m}))
		case "data":
			a, err := h.svc.Get(r.Context(), id)
			if err != nil {
				h.writeErr(rw, err)
				return
			}
			rw.Header().Set("content-type", a.Metadata.ContentType)
			_, _ = rw.Write(a.Data)
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	case http.MethodDelete:
		if sub != "" {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		if !h.opts.AllowDelete {
			rw.WriteHeader(http.StatusForbidden)
			return
		}
		m, err := h.svc.GetMetadata(r.Context(), id)
		if err != nil {
			h.writeErr(rw, err)
			return
		}
		if m.Flags&(assets.FlagMaptile|assets.FlagRewritable) != 0 {
			rw.WriteHeader(http.StatusForbidden)
			return
		}
		if err := h.svc.Delete(r.Context(), id); err != nil {
			h.writeErr(rw, err)
			return
		}
		writeJSON(rw, true)
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleExist(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var raw []string
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&raw); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		return
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		ids = append(ids, id)
	}
	out, err := h.svc.AssetsExist(r.Context(), ids)
	if err != nil {
		h.writeErr(rw, err)
		return
	}
	writeJSON(rw, out)
}

func (h *Handler) writeErr(rw http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assets.ErrNotFound):
		rw.WriteHeader(http.StatusNotFound)
	case errors.Is(err, assets.ErrEmptyData):
		rw.WriteHeader(http.StatusBadRequest)
	case errors.Is(err, assets.ErrProtected):
		rw.WriteHeader(http.StatusForbidden)
	case errors.Is(err, assets.ErrUnavailable):
		rw.WriteHeader(http.StatusServiceUnavailable)
	default:
		h.log.Printf("asset request failed: %v", err)
		rw.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}
