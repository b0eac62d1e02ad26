package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type countingService struct {
	Service
	byID int
}

func (c *countingService) GetUserAccount(ctx context.Context, scope, id uuid.UUID) (*UserAccount, error) {
	c.byID++
	return c.Service.GetUserAccount(ctx, scope, id)
}

func TestCachingService_CachesHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryService()
	alice := UserAccount{PrincipalID: uuid.New(), FirstName: "Alice", LastName: "Resident"}
	if err := mem.StoreUserAccount(ctx, alice); err != nil {
		t.Fatal(err)
	}
	backing := &countingService{Service: mem}
	cache := NewCache(time.Minute)
	now := time.Unix(1000, 0)
	cache.now = func() time.Time { return now }
	svc := NewCachingService(backing, cache)

	for i := 0; i < 3; i++ {
		acc, err := svc.GetUserAccount(ctx, uuid.Nil, alice.PrincipalID)
		if err != nil || acc.Name() != "Alice Resident" {
			t.Fatalf("get: %+v %v", acc, err)
		}
	}
	ghost := uuid.New()
	for i := 0; i < 3; i++ {
		if _, err := svc.GetUserAccount(ctx, uuid.Nil, ghost); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if backing.byID != 2 {
		t.Fatalf("backing calls=%d want 2", backing.byID)
	}

	if acc, ok := cache.GetByName("alice", "RESIDENT"); !ok || acc == nil {
		t.Fatalf("name index not populated")
	}

	now = now.Add(2 * time.Minute)
	if _, err := svc.GetUserAccount(ctx, uuid.Nil, alice.PrincipalID); err != nil {
		t.Fatal(err)
	}
	if backing.byID != 3 {
		t.Fatalf("expired entry not refreshed: calls=%d", backing.byID)
	}
}

func TestCache_SweepAndInvalidate(t *testing.T) {
	c := NewCache(time.Second)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }
	a := &UserAccount{PrincipalID: uuid.New(), FirstName: "A", LastName: "B"}
	c.Cache(a.PrincipalID, a)
	c.Cache(uuid.New(), nil)

	c.Invalidate(a.PrincipalID)
	if _, ok := c.Get(a.PrincipalID); ok {
		t.Fatalf("invalidate left id entry")
	}
	if _, ok := c.GetByName("a", "b"); ok {
		t.Fatalf("invalidate left name entry")
	}

	now = now.Add(2 * time.Second)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("sweep removed %d want 1", n)
	}
}

func TestCachingService_StoreInvalidates(t *testing.T) {
	ctx := context.Background()
	svc := NewCachingService(NewMemoryService(), nil)
	id := uuid.New()
	if _, err := svc.GetUserAccount(ctx, uuid.Nil, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected miss: %v", err)
	}
	if err := svc.StoreUserAccount(ctx, UserAccount{PrincipalID: id, FirstName: "New", LastName: "User"}); err != nil {
		t.Fatal(err)
	}
	acc, err := svc.GetUserAccount(ctx, uuid.Nil, id)
	if err != nil || acc.FirstName != "New" {
		t.Fatalf("stale negative cache: %+v %v", acc, err)
	}
}
