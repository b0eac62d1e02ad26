package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/users"
)

func TestIsAuthorizedForRegion(t *testing.T) {
	ctx := context.Background()
	u := users.NewMemoryService()
	ann := users.UserAccount{PrincipalID: uuid.New(), FirstName: "Ann", LastName: "Admin", UserLevel: 250}
	bob := users.UserAccount{PrincipalID: uuid.New(), FirstName: "Bob", LastName: "Banned"}
	cy := users.UserAccount{PrincipalID: uuid.New(), FirstName: "Cy", LastName: "Guest"}
	for _, a := range []users.UserAccount{ann, bob, cy} {
		_ = u.StoreUserAccount(ctx, a)
	}
	vip := uuid.New()
	cfg := config.AuthorizationSection{
		RequireAccount: true,
		Regions: map[string]config.RegionAccess{
			"Plaza":      {DenyUsers: []string{"bob banned"}},
			"Staff Room": {MinUserLevel: 200},
			vip.String(): {AllowUsers: []string{ann.PrincipalID.String()}},
		},
	}
	s := NewService(cfg, u, uuid.Nil, nil)

	cases := []struct {
		name   string
		user   uuid.UUID
		region AuthorizationRequest
		want   bool
	}{
		{"unrestricted region", cy.PrincipalID, AuthorizationRequest{RegionName: "Elsewhere", RegionID: uuid.NewString()}, true},
		{"unknown user", uuid.New(), AuthorizationRequest{RegionName: "Elsewhere", RegionID: uuid.NewString()}, false},
		{"deny list by name", bob.PrincipalID, AuthorizationRequest{RegionName: "plaza", RegionID: uuid.NewString()}, false},
		{"not on deny list", cy.PrincipalID, AuthorizationRequest{RegionName: "Plaza", RegionID: uuid.NewString()}, true},
		{"below min level", cy.PrincipalID, AuthorizationRequest{RegionName: "Staff Room", RegionID: uuid.NewString()}, false},
		{"at min level", ann.PrincipalID, AuthorizationRequest{RegionName: "Staff Room", RegionID: uuid.NewString()}, true},
		{"allow list by id", ann.PrincipalID, AuthorizationRequest{RegionID: vip.String()}, true},
		{"not on allow list", cy.PrincipalID, AuthorizationRequest{RegionID: vip.String()}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.region
			req.ID = tc.user.String()
			got, msg := s.IsAuthorizedForRegion(ctx, req)
			if got != tc.want {
				t.Fatalf("got %v (%q) want %v", got, msg, tc.want)
			}
			if !got && msg == "" {
				t.Fatalf("denial without message")
			}
		})
	}
}

func TestHandler(t *testing.T) {
	u := users.NewMemoryService()
	acc := users.UserAccount{PrincipalID: uuid.New(), FirstName: "Ann", LastName: "Example"}
	_ = u.StoreUserAccount(context.Background(), acc)
	h := NewService(config.AuthorizationSection{RequireAccount: true}, u, uuid.Nil, nil).Handler()

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/authorization", strings.NewReader(body)))
		return rec
	}

	rec := post(`{"id":"` + acc.PrincipalID.String() + `","region_id":"` + uuid.NewString() + `","region_name":"Plaza"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp AuthorizationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || !resp.IsAuthorized {
		t.Fatalf("resp %+v %v", resp, err)
	}

	for _, bad := range []string{`not json`, `{"region_id":"x"}`, `{"id":5,"region_id":"x"}`} {
		rec := post(bad)
		if rec.Code != http.StatusBadRequest || rec.Body.Len() != 0 {
			t.Fatalf("%s: status %d body %q", bad, rec.Code, rec.Body.String())
		}
	}
}
