package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type Client struct {
	uri        string
	httpClient *http.Client
	log        *log.Logger
	seq        atomic.Uint64
	prefix     string
}

func NewClient(uri string, httpClient *http.Client, logger *log.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		uri:        strings.TrimRight(strings.TrimSpace(uri), "/"),
		httpClient: httpClient,
		log:        logger,
		prefix:     uuid.NewString()[:8],
	}
}

func (c *Client) URI() string { return c.uri }

// Do performs one call. out may be nil when the result is not needed.
func (c *Client) Do(ctx context.Context, method string, params any, out any) error {
	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		rawParams = b
	}
	id, _ := json.Marshal(fmt.Sprintf("%s-%d", c.prefix, c.seq.Add(1)))
	body, err := json.Marshal(Request{JSONRPC: Version, ID: id, Method: method, Params: rawParams})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uri, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("content-type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}
	r, err := decodeResponse(raw)
	if err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if r.Error != nil {
		return r.Error
	}
	if out != nil && len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// Call is Do for callers that only need success/failure. Failures are logged.
func (c *Client) Call(ctx context.Context, method string, params any, out any) bool {
	if err := c.Do(ctx, method, params, out); err != nil {
		c.log.Printf("jsonrpc %s to %s failed: %v", method, c.uri, err)
		return false
	}
	return true
}
