package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTable_Lifecycle(t *testing.T) {
	ctx := context.Background()
	tb := NewTable()
	clock := time.Unix(100, 0)
	tb.now = func() time.Time { return clock }

	user, sess, region := uuid.New(), uuid.New(), uuid.New()
	if err := tb.ReportAgent(ctx, sess, region); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("report before login: %v", err)
	}
	if err := tb.LoginAgent(ctx, user, sess, uuid.New()); err != nil {
		t.Fatal(err)
	}
	if _, err := tb.GetAgentByUser(ctx, user); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("logged in but not in region should not resolve: %v", err)
	}
	clock = clock.Add(time.Second)
	if err := tb.ReportAgent(ctx, sess, region); err != nil {
		t.Fatal(err)
	}
	p, err := tb.GetAgentByUser(ctx, user)
	if err != nil || p.RegionID != region || !p.LastSeen.Equal(clock.UTC()) {
		t.Fatalf("by user: %+v %v", p, err)
	}

	ps, _ := tb.GetAgents(ctx, []uuid.UUID{user, uuid.New()})
	if len(ps) != 1 {
		t.Fatalf("agents: %+v", ps)
	}

	if err := tb.LogoutRegionAgents(ctx, region); err != nil {
		t.Fatal(err)
	}
	if _, err := tb.GetAgent(ctx, sess); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("region logout left session: %v", err)
	}
	if err := tb.LogoutAgent(ctx, sess); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("double logout: %v", err)
	}
}
