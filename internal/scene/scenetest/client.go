// Package scenetest provides a recording scene.Client for tests.
package scenetest

import (
	"sync"

	"github.com/google/uuid"

	"regionsim.ai/internal/scene"
)

type Event struct {
	Name string
	Body any
}

type Client struct {
	ID      uuid.UUID
	Session uuid.UUID
	Display string

	mu       sync.Mutex
	messages []scene.InstantMessage
	alerts   []string
	events   []Event
}

func NewClient(name string) *Client {
	return &Client{ID: uuid.New(), Session: uuid.New(), Display: name}
}

func (c *Client) AgentID() uuid.UUID   { return c.ID }
func (c *Client) SessionID() uuid.UUID { return c.Session }
func (c *Client) Name() string         { return c.Display }

func (c *Client) SendInstantMessage(msg scene.InstantMessage) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
}

func (c *Client) SendAlert(text string) {
	c.mu.Lock()
	c.alerts = append(c.alerts, text)
	c.mu.Unlock()
}

func (c *Client) SendEvent(name string, body any) {
	c.mu.Lock()
	c.events = append(c.events, Event{Name: name, Body: body})
	c.mu.Unlock()
}

func (c *Client) Messages() []scene.InstantMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]scene.InstantMessage(nil), c.messages...)
}

func (c *Client) Alerts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.alerts...)
}

func (c *Client) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}
