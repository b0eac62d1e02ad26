package im

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"regionsim.ai/internal/config"
	"regionsim.ai/internal/grid"
	"regionsim.ai/internal/presence"
	"regionsim.ai/internal/protocol/jsonrpc"
	"regionsim.ai/internal/scene"
	"regionsim.ai/internal/scene/modules"
	"regionsim.ai/internal/scene/scenetest"
)

func newModule(t *testing.T, d modules.Deps, offline OfflineStore) *Module {
	t.Helper()
	m := New(d, offline)
	if err := m.Initialise(config.Defaults()); err != nil {
		t.Fatal(err)
	}
	return m
}

func newScene(name string, x int) *scene.Scene {
	r := grid.RegionData{ID: uuid.New(), Name: name, LocX: x, LocY: 256000, SizeX: 256, SizeY: 256}
	return scene.New(r, scene.Settings{}, scene.NewEventManager(4, nil), nil)
}

func TestRoute_LocalAcrossScenes(t *testing.T) {
	m := newModule(t, modules.Deps{}, nil)
	a, b := newScene("A", 256000), newScene("B", 256256)
	m.AddRegion(a)
	m.AddRegion(b)

	sender, recipient := scenetest.NewClient("Sender"), scenetest.NewClient("Recipient")
	a.AddClient(sender, false)
	b.AddClient(recipient, false)

	msg := scene.InstantMessage{FromAgentID: sender.AgentID(), ToAgentID: recipient.AgentID(), Message: "hello"}
	if got := m.Route(context.Background(), uuid.Nil, msg, sender); got != DeliveredLocal {
		t.Fatalf("outcome %v", got)
	}
	if msgs := recipient.Messages(); len(msgs) != 1 || msgs[0].Message != "hello" {
		t.Fatalf("recipient got %+v", msgs)
	}
}

func TestRoute_RemoteRegion(t *testing.T) {
	ctx := context.Background()
	registry := grid.NewRegistry(grid.NewMemoryStore(), nil, nil)
	table := presence.NewTable()

	// Host B serves im.deliver over region RPC.
	rpcB := jsonrpc.NewServer(nil)
	mB := newModule(t, modules.Deps{RegionRPC: rpcB}, nil)
	sceneB := newScene("B", 256256)
	mB.AddRegion(sceneB)
	mux := http.NewServeMux()
	mux.Handle(grid.RegionRPCPath, rpcB)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	regionB := sceneB.Region
	regionB.ServerURI = ts.URL
	if err := registry.RegisterRegion(ctx, regionB); err != nil {
		t.Fatal(err)
	}

	recipient := scenetest.NewClient("Far Away")
	sceneB.AddClient(recipient, false)
	if err := table.LoginAgent(ctx, recipient.AgentID(), recipient.SessionID(), uuid.New()); err != nil {
		t.Fatal(err)
	}
	if err := table.ReportAgent(ctx, recipient.SessionID(), regionB.ID); err != nil {
		t.Fatal(err)
	}

	mA := newModule(t, modules.Deps{Grid: registry, Presence: table, HTTPClient: ts.Client()}, NewMemoryOfflineStore())
	sceneA := newScene("A", 256000)
	mA.AddRegion(sceneA)
	sender := scenetest.NewClient("Sender")
	sceneA.AddClient(sender, false)

	msg := scene.InstantMessage{FromAgentID: sender.AgentID(), ToAgentID: recipient.AgentID(), Message: "over there"}
	if got := mA.Route(ctx, uuid.Nil, msg, sender); got != DeliveredRemote {
		t.Fatalf("outcome %v", got)
	}
	if msgs := recipient.Messages(); len(msgs) != 1 || msgs[0].Message != "over there" {
		t.Fatalf("recipient got %+v", msgs)
	}
}

func TestRoute_OfflineSavedAndDeliveredOnArrival(t *testing.T) {
	store := NewMemoryOfflineStore()
	m := newModule(t, modules.Deps{Presence: presence.NewTable(), Grid: grid.NewRegistry(grid.NewMemoryStore(), nil, nil)}, store)
	s := newScene("A", 256000)
	m.AddRegion(s)

	sender := scenetest.NewClient("Sender")
	s.AddClient(sender, false)
	s.Events.Wait()
	recipientID := uuid.New()

	s.Events.TriggerInstantMessage(sender, scene.InstantMessage{
		FromAgentID: sender.AgentID(), ToAgentID: recipientID, Message: "see you later",
	})
	s.Events.Wait()

	replies := sender.Messages()
	if len(replies) != 1 || replies[0].Message != SavedReply || replies[0].ToAgentID != sender.AgentID() {
		t.Fatalf("sender replies %+v", replies)
	}

	recipient := &scenetest.Client{ID: recipientID, Session: uuid.New(), Display: "Late Comer"}
	s.AddClient(recipient, false)
	s.Events.Wait()
	got := recipient.Messages()
	if len(got) != 1 || got[0].Message != "see you later" || !got[0].Offline {
		t.Fatalf("offline delivery %+v", got)
	}
	if left, _ := store.TakeOffline(context.Background(), recipientID); len(left) != 0 {
		t.Fatalf("messages left in store: %+v", left)
	}
}

func TestRoute_UnsaveableDialogDropped(t *testing.T) {
	store := NewMemoryOfflineStore()
	m := newModule(t, modules.Deps{}, store)
	msg := scene.InstantMessage{FromAgentID: uuid.New(), ToAgentID: uuid.New(), Dialog: scene.DialogBusyAutoResponse}
	if got := m.Route(context.Background(), uuid.Nil, msg, nil); got != Dropped {
		t.Fatalf("outcome %v", got)
	}
}
