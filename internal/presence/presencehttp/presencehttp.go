// Package presencehttp carries presence.Service over JSON-RPC.
package presencehttp

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/presence"
	"regionsim.ai/internal/protocol/jsonrpc"
)

const (
	MethodLogin        = "presence.login"
	MethodLogout       = "presence.logout"
	MethodLogoutRegion = "presence.logout_region"
	MethodReport       = "presence.report"
	MethodGetAgent     = "presence.get_agent"
	MethodGetAgents    = "presence.get_agents"
	MethodGetByUser    = "presence.get_agent_by_user"

	CodeNotFound = -32004
)

type params struct {
	UserID          uuid.UUID   `json:"user_id,omitempty"`
	SessionID       uuid.UUID   `json:"session_id,omitempty"`
	SecureSessionID uuid.UUID   `json:"secure_session_id,omitempty"`
	RegionID        uuid.UUID   `json:"region_id,omitempty"`
	UserIDs         []uuid.UUID `json:"user_ids,omitempty"`
}

func Register(s *jsonrpc.Server, svc presence.Service) {
	handle := func(method string, fn func(ctx context.Context, p params) (any, error)) {
		s.Handle(method, func(ctx context.Context, raw json.RawMessage) (any, error) {
			var p params
			if err := jsonrpc.Params(raw, &p); err != nil {
				return nil, err
			}
			out, err := fn(ctx, p)
			if errors.Is(err, presence.ErrSessionNotFound) {
				return nil, &jsonrpc.Error{Code: CodeNotFound, Message: err.Error()}
			}
			return out, err
		})
	}
	handle(MethodLogin, func(ctx context.Context, p params) (any, error) {
		return true, svc.LoginAgent(ctx, p.UserID, p.SessionID, p.SecureSessionID)
	})
	handle(MethodLogout, func(ctx context.Context, p params) (any, error) {
		return true, svc.LogoutAgent(ctx, p.SessionID)
	})
	handle(MethodLogoutRegion, func(ctx context.Context, p params) (any, error) {
		return true, svc.LogoutRegionAgents(ctx, p.RegionID)
	})
	handle(MethodReport, func(ctx context.Context, p params) (any, error) {
		return true, svc.ReportAgent(ctx, p.SessionID, p.RegionID)
	})
	handle(MethodGetAgent, func(ctx context.Context, p params) (any, error) {
		return svc.GetAgent(ctx, p.SessionID)
	})
	handle(MethodGetAgents, func(ctx context.Context, p params) (any, error) {
		return svc.GetAgents(ctx, p.UserIDs)
	})
	handle(MethodGetByUser, func(ctx context.Context, p params) (any, error) {
		return svc.GetAgentByUser(ctx, p.UserID)
	})
}

// Client implements presence.Service against a remote presence server.
type Client struct {
	rpc *jsonrpc.Client
}

var _ presence.Service = (*Client)(nil)

func NewClient(uri string, httpClient *http.Client, logger *log.Logger) (*Client, error) {
	if err := config.Require("presence", "PresenceServerURI", uri); err != nil {
		return nil, err
	}
	return &Client{rpc: jsonrpc.NewClient(uri, httpClient, logger)}, nil
}

func (c *Client) do(ctx context.Context, method string, p params, out any) error {
	err := c.rpc.Do(ctx, method, p, out)
	var rerr *jsonrpc.Error
	if errors.As(err, &rerr) && rerr.Code == CodeNotFound {
		return presence.ErrSessionNotFound
	}
	return err
}

func (c *Client) LoginAgent(ctx context.Context, userID, sessionID, secureSessionID uuid.UUID) error {
	return c.do(ctx, MethodLogin, params{UserID: userID, SessionID: sessionID, SecureSessionID: secureSessionID}, nil)
}

func (c *Client) LogoutAgent(ctx context.Context, sessionID uuid.UUID) error {
	return c.do(ctx, MethodLogout, params{SessionID: sessionID}, nil)
}

func (c *Client) LogoutRegionAgents(ctx context.Context, regionID uuid.UUID) error {
	return c.do(ctx, MethodLogoutRegion, params{RegionID: regionID}, nil)
}

func (c *Client) ReportAgent(ctx context.Context, sessionID, regionID uuid.UUID) error {
	return c.do(ctx, MethodReport, params{SessionID: sessionID, RegionID: regionID}, nil)
}

func (c *Client) GetAgent(ctx context.Context, sessionID uuid.UUID) (presence.PresenceInfo, error) {
	var p presence.PresenceInfo
	err := c.do(ctx, MethodGetAgent, params{SessionID: sessionID}, &p)
	return p, err
}

func (c *Client) GetAgents(ctx context.Context, userIDs []uuid.UUID) ([]presence.PresenceInfo, error) {
	var ps []presence.PresenceInfo
	err := c.do(ctx, MethodGetAgents, params{UserIDs: userIDs}, &ps)
	return ps, err
}

func (c *Client) GetAgentByUser(ctx context.Context, userID uuid.UUID) (presence.PresenceInfo, error) {
	var p presence.PresenceInfo
	err := c.do(ctx, MethodGetByUser, params{UserID: userID}, &p)
	return p, err
}
