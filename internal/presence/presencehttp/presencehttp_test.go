package presencehttp

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/presence"
	"regionsim.ai/internal/protocol/jsonrpc"
)

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := jsonrpc.NewServer(nil)
	Register(s, presence.NewTable())
	ts := httptest.NewServer(s)
	defer ts.Close()

	c, err := NewClient(ts.URL, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	user, sess, region := uuid.New(), uuid.New(), uuid.New()
	if err := c.ReportAgent(ctx, sess, region); !errors.Is(err, presence.ErrSessionNotFound) {
		t.Fatalf("report unknown: %v", err)
	}
	if err := c.LoginAgent(ctx, user, sess, uuid.New()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := c.ReportAgent(ctx, sess, region); err != nil {
		t.Fatalf("report: %v", err)
	}
	p, err := c.GetAgentByUser(ctx, user)
	if err != nil || p.RegionID != region || p.SessionID != sess {
		t.Fatalf("by user: %+v %v", p, err)
	}
	ps, err := c.GetAgents(ctx, []uuid.UUID{user})
	if err != nil || len(ps) != 1 {
		t.Fatalf("agents: %+v %v", ps, err)
	}
	if err := c.LogoutAgent(ctx, sess); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := c.GetAgent(ctx, sess); !errors.Is(err, presence.ErrSessionNotFound) {
		t.Fatalf("after logout: %v", err)
	}
}

func TestNewClient_RequiresURI(t *testing.T) {
	if _, err := NewClient(" ", nil, nil); !errors.Is(err, config.ErrMissingKey) {
		t.Fatalf("expected missing key: %v", err)
	}
}
