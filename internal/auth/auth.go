// Package auth decides whether a user may enter a region.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/protocol/schema"
	"regionsim.ai/internal/users"
)

type AuthorizationRequest struct {
	ID         string `json:"id"`
	FirstName  string `json:"first_name"`
	SurName    string `json:"surname"`
	Email      string `json:"email"`
	RegionName string `json:"region_name"`
	RegionID   string `json:"region_id"`
}

type AuthorizationResponse struct {
	IsAuthorized bool   `json:"is_authorized"`
	Message      string `json:"message"`
}

// Service applies the authorization section of the config.
type Service struct {
	cfg   config.AuthorizationSection
	users users.Service
	scope uuid.UUID
	log   *log.Logger
}

func NewService(cfg config.AuthorizationSection, u users.Service, scope uuid.UUID, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{cfg: cfg, users: u, scope: scope, log: logger}
}

// access returns the rules for a region, looked up by id then name.
func (s *Service) access(req AuthorizationRequest) (config.RegionAccess, bool) {
	for k, v := range s.cfg.Regions {
		if strings.EqualFold(k, req.RegionID) {
			return v, true
		}
	}
	for k, v := range s.cfg.Regions {
		if req.RegionName != "" && strings.EqualFold(k, req.RegionName) {
			return v, true
		}
	}
	return config.RegionAccess{}, false
}

func contains(list []string, id uuid.UUID, name string) bool {
	for _, e := range list {
		e = strings.TrimSpace(e)
		if u, err := uuid.Parse(e); err == nil && u == id {
			return true
		}
		if name != "" && strings.EqualFold(e, name) {
			return true
		}
	}
	return false
}

// IsAuthorizedForRegion reports whether req's user may enter req's region and,
// when not, why.
func (s *Service) IsAuthorizedForRegion(ctx context.Context, req AuthorizationRequest) (bool, string) {
	id, err := uuid.Parse(strings.TrimSpace(req.ID))
	if err != nil {
		return false, "invalid user id"
	}
	name := strings.TrimSpace(strings.TrimSpace(req.FirstName) + " " + strings.TrimSpace(req.SurName))

	var acc *users.UserAccount
	if s.users != nil {
		acc, err = s.users.GetUserAccount(ctx, s.scope, id)
		if err != nil && !errors.Is(err, users.ErrNotFound) {
			s.log.Printf("account lookup for %s: %v", id, err)
			return false, "account service unavailable"
		}
	}
	if acc == nil && s.cfg.RequireAccount {
		return false, fmt.Sprintf("user %s has no account on this grid", id)
	}
	if acc != nil {
		name = acc.Name()
	}

	rules, ok := s.access(req)
	if !ok {
		return true, ""
	}
	if contains(rules.DenyUsers, id, name) {
		return false, fmt.Sprintf("%s is banned from %s", name, regionLabel(req))
	}
	if rules.MinUserLevel > 0 {
		level := 0
		if acc != nil {
			level = acc.UserLevel
		}
		if level < rules.MinUserLevel {
			return false, fmt.Sprintf("%s requires user level %d", regionLabel(req), rules.MinUserLevel)
		}
	}
	if len(rules.AllowUsers) > 0 && !contains(rules.AllowUsers, id, name) {
		return false, fmt.Sprintf("%s is not on the access list of %s", name, regionLabel(req))
	}
	return true, ""
}

func regionLabel(req AuthorizationRequest) string {
	if req.RegionName != "" {
		return req.RegionName
	}
	return req.RegionID
}

// Handler serves POST /authorization.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := schema.Validate(schema.Authorization, body); err != nil {
			s.log.Printf("rejecting authorization request: %v", err)
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		var req AuthorizationRequest
		if err := json.Unmarshal(body, &req); err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		ok, msg := s.IsAuthorizedForRegion(r.Context(), req)
		if !ok {
			s.log.Printf("denied %s to %s: %s", req.ID, regionLabel(req), msg)
		}
		rw.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(rw).Encode(AuthorizationResponse{IsAuthorized: ok, Message: msg})
	})
}
