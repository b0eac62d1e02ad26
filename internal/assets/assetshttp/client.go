package assetshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/assets"
	"regionsim.ai/internal/config"
)

// Client implements assets.Service against a remote asset server.
type Client struct {
	serverURI  string
	httpClient *http.Client
	log        *log.Logger
}

var _ assets.Service = (*Client)(nil)

func NewClient(serverURI string, httpClient *http.Client, logger *log.Logger) (*Client, error) {
	if err := config.Require("assets", "AssetServerURI", serverURI); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		serverURI:  strings.TrimRight(strings.TrimSpace(serverURI), "/"),
		httpClient: httpClient,
		log:        logger,
	}, nil
}

// ParseRef splits an asset reference. A bare uuid refers to the local grid;
// "http(s)://host[:port]/<uuid>" refers to a foreign (hypergrid) asset server.
func ParseRef(ref string) (serverURI string, id uuid.UUID, err error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		id, err = uuid.Parse(ref)
		return "", id, err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", uuid.Nil, err
	}
	p := strings.Trim(u.Path, "/")
	i := strings.LastIndex(p, "/")
	last := p[i+1:]
	id, err = uuid.Parse(last)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("bad asset ref %q: %w", ref, err)
	}
	base := u.Scheme + "://" + u.Host
	if i > 0 {
		base += "/" + p[:i]
	}
	return base, id, nil
}

func (c *Client) Get(ctx context.Context, id uuid.UUID) (*assets.Asset, error) {
	var w wireAsset
	if err := c.getJSON(ctx, c.serverURI+"/assets/"+id.String(), &w); err != nil {
		return nil, err
	}
	return fromWire(w)
}

func (c *Client) GetMetadata(ctx context.Context, id uuid.UUID) (*assets.AssetMetadata, error) {
	var w wireAsset
	if err := c.getJSON(ctx, c.serverURI+"/assets/"+id.String()+"/metadata", &w); err != nil {
		return nil, err
	}
	a, err := fromWire(w)
	if err != nil {
		return nil, err
	}
	return &a.Metadata, nil
}

func (c *Client) GetData(ctx context.Context, id uuid.UUID) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, c.serverURI+"/assets/"+id.String()+"/data", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) Store(ctx context.Context, a *assets.Asset) (uuid.UUID, error) {
	if a == nil || len(a.Data) == 0 {
		return uuid.Nil, assets.ErrEmptyData
	}
	w := toWire(a)
	if a.Metadata.ID == uuid.Nil {
		w.ID = ""
	}
	if a.Metadata.CreatedAt.IsZero() {
		w.CreatedAt = nil
	}
	b, err := json.Marshal(w)
	if err != nil {
		return uuid.Nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, c.serverURI+"/assets", b)
	if err != nil {
		return uuid.Nil, err
	}
	defer resp.Body.Close()
	var id string
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return uuid.Nil, fmt.Errorf("decode stored id: %w", err)
	}
	return uuid.Parse(id)
}

func (c *Client) Delete(ctx context.Context, id uuid.UUID) error {
	resp, err := c.do(ctx, http.MethodDelete, c.serverURI+"/assets/"+id.String(), nil)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

func (c *Client) AssetsExist(ctx context.Context, ids []uuid.UUID) ([]bool, error) {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	b, _ := json.Marshal(raw)
	resp, err := c.do(ctx, http.MethodPost, c.serverURI+"/get_assets_exist", b)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []bool
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// do maps non-2xx statuses back to asset errors; the caller closes the body on success.
func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Printf("%s %s: %v", method, u, err)
		return nil, fmt.Errorf("%w: %v", assets.ErrUnavailable, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	_ = resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, assets.ErrNotFound
	case http.StatusForbidden:
		return nil, assets.ErrProtected
	case http.StatusServiceUnavailable:
		return nil, assets.ErrUnavailable
	default:
		return nil, fmt.Errorf("%s %s: status %d", method, u, resp.StatusCode)
	}
}
