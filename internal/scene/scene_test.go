package scene_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/scenetest"
	"regionsim.ai/internal/terrain"
)

func newScene(allowDamage bool) *scene.Scene {
	r := grid.RegionData{ID: uuid.New(), Name: "Test", LocX: 256000, LocY: 256000, SizeX: 256, SizeY: 256}
	return scene.New(r, scene.Settings{AllowDamage: allowDamage, SpawnPoint: [3]float64{128, 128, 25}}, scene.NewEventManager(4, nil), nil)
}

func TestScene_AgentLifecycleEvents(t *testing.T) {
	s := newScene(false)
	var mu sync.Mutex
	var got []string
	record := func(ev string) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}
	s.Events.OnNewClient(func(scene.Client) { record("new") })
	s.Events.OnMakeRootAgent(func(scene.ScenePresence) { record("root") })
	s.Events.OnMakeChildAgent(func(scene.ScenePresence) { record("child") })
	s.Events.OnClientClosed(func(scene.ScenePresence, *scene.Scene) { record("closed") })

	c := scenetest.NewClient("Ann Example")
	sp := s.AddClient(c, true)
	if !sp.IsChild || sp.Health != scene.MaxHealth || sp.Position != s.Settings.SpawnPoint {
		t.Fatalf("presence: %+v", sp)
	}
	s.Events.Wait()
	if s.RootAgentCount() != 0 {
		t.Fatalf("child counted as root")
	}
	if err := s.MakeRootAgent(c.AgentID()); err != nil {
		t.Fatal(err)
	}
	s.Events.Wait()
	if s.RootAgentCount() != 1 {
		t.Fatalf("root count: %d", s.RootAgentCount())
	}
	if err := s.RemoveClient(c.AgentID()); err != nil {
		t.Fatal(err)
	}
	s.Events.Wait()
	if err := s.RemoveClient(c.AgentID()); err != scene.ErrNoPresence {
		t.Fatalf("second remove: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	counts := map[string]int{}
	for _, ev := range got {
		counts[ev]++
	}
	want := map[string]int{"new": 1, "child": 1, "root": 1, "closed": 1}
	for k, v := range want {
		if counts[k] != v {
			t.Fatalf("events %v, want %v", counts, want)
		}
	}
}

func TestEventManager_PanicIsolatedAndBounded(t *testing.T) {
	em := scene.NewEventManager(2, nil)
	var running, peak, calls atomic.Int32
	em.OnRegionUp(func(grid.RegionData) { panic("boom") })
	for i := 0; i < 6; i++ {
		em.OnRegionUp(func(grid.RegionData) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			calls.Add(1)
		})
	}
	em.TriggerRegionUp(grid.RegionData{Name: "n"})
	em.Wait()
	if calls.Load() != 6 {
		t.Fatalf("calls=%d", calls.Load())
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d > 2", peak.Load())
	}
}

func TestApplyDamage(t *testing.T) {
	s := newScene(true)
	victim := scenetest.NewClient("Victim")
	killer := scenetest.NewClient("Killer")
	s.AddClient(victim, false)
	s.AddClient(killer, false)

	killed := make(chan uuid.UUID, 1)
	s.Events.OnAvatarKilled(func(v scene.ScenePresence, k uuid.UUID) {
		if v.AgentID == victim.AgentID() {
			killed <- k
		}
	})

	dead, err := s.ApplyDamage(victim.AgentID(), 40, killer.AgentID())
	if err != nil || dead {
		t.Fatalf("first hit: dead=%v err=%v", dead, err)
	}
	if sp, _ := s.Presence(victim.AgentID()); sp.Health != 60 {
		t.Fatalf("health %v", sp.Health)
	}
	dead, _ = s.ApplyDamage(victim.AgentID(), 70, killer.AgentID())
	if !dead {
		t.Fatalf("expected death")
	}
	s.Events.Wait()
	select {
	case k := <-killed:
		if k != killer.AgentID() {
			t.Fatalf("killer %v", k)
		}
	default:
		t.Fatalf("OnAvatarKilled not triggered")
	}

	_ = s.UpdatePresence(killer.AgentID(), func(sp *scene.ScenePresence) { sp.Invulnerable = true })
	if dead, _ := s.ApplyDamage(killer.AgentID(), 500, victim.AgentID()); dead {
		t.Fatalf("invulnerable agent died")
	}
	if _, err := s.ApplyDamage(uuid.New(), 1, uuid.Nil); err != scene.ErrNoPresence {
		t.Fatalf("unknown agent: %v", err)
	}

	safe := newScene(false)
	safe.AddClient(victim, false)
	if dead, _ := safe.ApplyDamage(victim.AgentID(), 500, uuid.Nil); dead {
		t.Fatalf("damage applied in a no-damage region")
	}
}

func TestSendInstantMessage_RootOnly(t *testing.T) {
	s := newScene(false)
	c := scenetest.NewClient("Root")
	s.AddClient(c, true)
	if s.SendInstantMessage(scene.InstantMessage{ToAgentID: c.AgentID(), Message: "hi"}) {
		t.Fatalf("delivered to child agent")
	}
	_ = s.MakeRootAgent(c.AgentID())
	if !s.SendInstantMessage(scene.InstantMessage{ToAgentID: c.AgentID(), Message: "hi"}) {
		t.Fatalf("not delivered to root agent")
	}
	if msgs := c.Messages(); len(msgs) != 1 || msgs[0].Message != "hi" {
		t.Fatalf("messages: %+v", msgs)
	}
}

func TestModifyTerrain(t *testing.T) {
	s := newScene(false)
	fired := make(chan terrain.Action, 1)
	s.Events.OnTerrainModified(func(_ uuid.UUID, a terrain.Action) { fired <- a })
	if err := s.ModifyTerrain(uuid.New(), terrain.ActionRaise, 4, 100, 100, 4, 0.5); err != nil {
		t.Fatal(err)
	}
	s.Events.Wait()
	if got := s.TerrainSnapshot().Get(100, 100); got != terrain.DefaultHeight+2 {
		t.Fatalf("height %v", got)
	}
	if a := <-fired; a != terrain.ActionRaise {
		t.Fatalf("action %v", a)
	}
}
