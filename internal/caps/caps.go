// Package caps issues and routes per-agent capabilities.
package caps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"regionsim.ai/internal/config"
)

const (
	Prefix = "/CAPS/"

	FetchInventoryDescendents = "WebFetchInvDesc"
	EventQueue                = "EventQueue"
)

var (
	ErrInvalidToken = errors.New("invalid capability token")
	ErrRevoked      = errors.New("capability revoked")
)

// Claims identify who a capability was granted to.
type Claims struct {
	jwt.RegisteredClaims
	Agent   uuid.UUID `json:"agent"`
	Session uuid.UUID `json:"session"`
	Region  uuid.UUID `json:"region"`
	Cap     string    `json:"cap"`
}

type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewIssuer(cfg config.ServicesSection) (*Issuer, error) {
	if err := config.Require("services", "CapsSecret", cfg.CapsSecret); err != nil {
		return nil, err
	}
	ttl := cfg.CapsTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{key: []byte(cfg.CapsSecret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for one capability.
func (i *Issuer) Issue(agent, session, region uuid.UUID, capName string) (string, error) {
	now := i.now().UTC()
	c := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agent.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Agent:   agent,
		Session: session,
		Region:  region,
		Cap:     capName,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.key)
}

// Verify checks the signature, expiry and capability name of token.
func (i *Issuer) Verify(token, capName string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Cap != capName || c.Agent == uuid.Nil {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}

// TokenFromRequest reads a bearer token, falling back to the token query
// parameter for websocket clients.
func TokenFromRequest(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return r.URL.Query().Get("token")
}

type ctxKey struct{}

// ClaimsFrom returns the claims a Protect-ed handler was called with.
func ClaimsFrom(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(Claims)
	return c, ok
}

// Grant is what an agent receives when its session starts.
type Grant struct {
	Seed  string            `json:"seed"`
	Caps  map[string]string `json:"caps"`
	Token map[string]string `json:"tokens"`
}

type seedEntry struct {
	agent   uuid.UUID
	session uuid.UUID
	region  uuid.UUID
}

// Registry tracks live sessions and the seed path handed to each agent.
type Registry struct {
	issuer *Issuer
	log    *log.Logger

	mu       sync.RWMutex
	handlers map[string]http.Handler
	seeds    map[string]seedEntry
	sessions map[uuid.UUID]string
}

func NewRegistry(issuer *Issuer, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		issuer:   issuer,
		log:      logger,
		handlers: map[string]http.Handler{},
		seeds:    map[string]seedEntry{},
		sessions: map[uuid.UUID]string{},
	}
}

// Handle registers the handler serving capability name.
func (r *Registry) Handle(name string, h http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Register starts a session for agent and issues one token per registered
// capability. Registering the same session again keeps its seed; a new
// session replaces the old one.
func (r *Registry) Register(agent, session, region uuid.UUID) (Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seed := uuid.NewString()
	if old, ok := r.sessions[agent]; ok {
		if r.seeds[old].session == session {
			seed = old
		} else {
			delete(r.seeds, old)
		}
	}
	g := Grant{Seed: Prefix + seed + "/", Caps: map[string]string{}, Token: map[string]string{}}
	for name := range r.handlers {
		tok, err := r.issuer.Issue(agent, session, region, name)
		if err != nil {
			return Grant{}, err
		}
		g.Caps[name] = g.Seed + name
		g.Token[name] = tok
	}
	r.seeds[seed] = seedEntry{agent: agent, session: session, region: region}
	r.sessions[agent] = seed
	return g, nil
}

// Revoke ends agent's session. Tokens issued for it stop verifying.
func (r *Registry) Revoke(agent uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	seed, ok := r.sessions[agent]
	if !ok {
		return false
	}
	delete(r.sessions, agent)
	delete(r.seeds, seed)
	return true
}

func (r *Registry) live(c Claims) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seed, ok := r.sessions[c.Agent]
	return ok && r.seeds[seed].session == c.Session
}

func (r *Registry) authorize(req *http.Request, name string) (Claims, error) {
	c, err := r.issuer.Verify(TokenFromRequest(req), name)
	if err != nil {
		return Claims{}, err
	}
	if !r.live(c) {
		return Claims{}, ErrRevoked
	}
	return c, nil
}

// Protect wraps h so that it only runs with a valid, unrevoked token for name.
func (r *Registry) Protect(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		c, err := r.authorize(req, name)
		if err != nil {
			r.log.Printf("%s %s: %v", name, req.RemoteAddr, err)
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(rw, req.WithContext(context.WithValue(req.Context(), ctxKey{}, c)))
	})
}

// ServeHTTP routes /CAPS/<seed>/<name> and /CAPS/<name>/ to the handler for name.
func (r *Registry) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(req.URL.Path, Prefix), "/")
	parts := strings.Split(rest, "/")
	var name string
	switch len(parts) {
	case 1:
		name = parts[0]
	case 2:
		r.mu.RLock()
		e, ok := r.seeds[parts[0]]
		r.mu.RUnlock()
		if !ok {
			rw.WriteHeader(http.StatusNotFound)
			return
		}
		c, err := r.authorize(req, parts[1])
		if err != nil || c.Agent != e.agent {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		name = parts[1]
	default:
		rw.WriteHeader(http.StatusNotFound)
		return
	}
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		rw.WriteHeader(http.StatusNotFound)
		return
	}
	r.Protect(name, h).ServeHTTP(rw, req)
}
