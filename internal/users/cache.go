package users

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultCacheTTL = 300 * time.Second

type cacheEntry struct {
	account *UserAccount // nil caches a miss
	expires time.Time
}

// Cache holds accounts by id and by lower-cased name. Misses are cached too,
// so repeated lookups of unknown avatars do not hit the backing service.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	byID   map[uuid.UUID]cacheEntry
	byName map[string]cacheEntry
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:    ttl,
		now:    time.Now,
		byID:   map[uuid.UUID]cacheEntry{},
		byName: map[string]cacheEntry{},
	}
}

// Cache stores acc under id (and its name when non-nil).
func (c *Cache) Cache(id uuid.UUID, acc *UserAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cacheEntry{account: acc, expires: c.now().Add(c.ttl)}
	c.byID[id] = e
	if acc != nil {
		c.byName[nameKey(acc.FirstName, acc.LastName)] = e
	}
}

func (c *Cache) Get(id uuid.UUID) (acc *UserAccount, inCache bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.byID, id)
		return nil, false
	}
	return e.account, true
}

func (c *Cache) GetByName(first, last string) (acc *UserAccount, inCache bool) {
	key := nameKey(first, last)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byName[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.byName, key)
		return nil, false
	}
	return e.account, true
}

func (c *Cache) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byID[id]; ok && e.account != nil {
		delete(c.byName, nameKey(e.account.FirstName, e.account.LastName))
	}
	delete(c.byID, id)
}

// Sweep drops expired entries and reports how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.byID {
		if now.After(e.expires) {
			delete(c.byID, k)
			n++
		}
	}
	for k, e := range c.byName {
		if now.After(e.expires) {
			delete(c.byName, k)
		}
	}
	return n
}

// CachingService fronts a Service with a Cache.
type CachingService struct {
	next  Service
	cache *Cache
}

func NewCachingService(next Service, cache *Cache) *CachingService {
	if cache == nil {
		cache = NewCache(DefaultCacheTTL)
	}
	return &CachingService{next: next, cache: cache}
}

func (s *CachingService) GetUserAccount(ctx context.Context, scope, id uuid.UUID) (*UserAccount, error) {
	if acc, ok := s.cache.Get(id); ok {
		if acc == nil {
			return nil, ErrNotFound
		}
		return acc, nil
	}
	acc, err := s.next.GetUserAccount(ctx, scope, id)
	if errors.Is(err, ErrNotFound) {
		s.cache.Cache(id, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.cache.Cache(id, acc)
	return acc, nil
}

func (s *CachingService) GetUserAccountByName(ctx context.Context, scope uuid.UUID, first, last string) (*UserAccount, error) {
	if acc, ok := s.cache.GetByName(first, last); ok && acc != nil {
		return acc, nil
	}
	acc, err := s.next.GetUserAccountByName(ctx, scope, first, last)
	if err != nil {
		return nil, err
	}
	s.cache.Cache(acc.PrincipalID, acc)
	return acc, nil
}

func (s *CachingService) StoreUserAccount(ctx context.Context, acc UserAccount) error {
	if err := s.next.StoreUserAccount(ctx, acc); err != nil {
		return err
	}
	s.cache.Invalidate(acc.PrincipalID)
	return nil
}
