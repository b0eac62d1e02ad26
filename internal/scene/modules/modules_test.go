package modules

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/scene"
)

type recorder struct {
	name string
	mu   *sync.Mutex
	log  *[]string
}

func (r recorder) add(s string) {
	r.mu.Lock()
	*r.log = append(*r.log, r.name+":"+s)
	r.mu.Unlock()
}

func (r recorder) Name() string                   { return r.name }
func (r recorder) Initialise(config.Config) error { r.add("init"); return nil }
func (r recorder) AddRegion(s *scene.Scene)       { r.add("add " + s.Name()) }
func (r recorder) RegionLoaded(s *scene.Scene)    { r.add("loaded " + s.Name()) }
func (r recorder) RemoveRegion(s *scene.Scene)    { r.add("remove " + s.Name()) }
func (r recorder) Close()                         { r.add("close") }

func TestHost_LoadsEnabledModulesInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	reg := NewRegistry()
	for _, n := range []string{"alpha", "beta", "unused"} {
		n := n
		reg.Register(n, func(Deps) scene.RegionModule { return recorder{name: n, mu: &mu, log: &got} })
	}
	cfg := config.Defaults()
	cfg.Modules.Enabled = []string{"Beta", "alpha"}

	h, err := NewHost(cfg, reg, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	s := scene.New(grid.RegionData{ID: uuid.New(), Name: "R"}, scene.Settings{}, nil, nil)
	if err := h.AddScene(s); err != nil {
		t.Fatal(err)
	}
	if err := h.AddScene(s); err == nil {
		t.Fatalf("duplicate scene accepted")
	}
	h.Close()

	want := []string{
		"beta:init", "alpha:init",
		"beta:add R", "alpha:add R",
		"beta:loaded R", "alpha:loaded R",
		"beta:remove R", "alpha:remove R",
		"alpha:close", "beta:close",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: got %q want %q (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestHost_UnknownModule(t *testing.T) {
	cfg := config.Defaults()
	cfg.Modules.Enabled = []string{"missing"}
	if _, err := NewHost(cfg, NewRegistry(), Deps{}); err == nil {
		t.Fatalf("expected error")
	}
}
