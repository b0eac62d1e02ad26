// Package eventqueue delivers queued scene events to agents over a websocket
// capability.
package eventqueue

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"regionsim.ai/internal/caps"
	"regionsim.ai/internal/scene"
)

const (
	writeWait  = 5 * time.Second
	readWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

type Server struct {
	log      *log.Logger
	size     int
	upgrader websocket.Upgrader
	now      func() time.Time

	mu     sync.Mutex
	queues map[uuid.UUID]*Queue
	conns  map[uuid.UUID]*conn
}

type conn struct {
	cancel context.CancelFunc
}

func NewServer(size int, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		log:  logger,
		size: size,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now:    time.Now,
		queues: map[uuid.UUID]*Queue{},
		conns:  map[uuid.UUID]*conn{},
	}
}

// Register creates agent's queue if it has none and returns it.
func (s *Server) Register(agent uuid.UUID) *Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[agent]
	if !ok {
		q = NewQueue(s.size)
		s.queues[agent] = q
	}
	return q
}

// Queue returns agent's queue if it is registered.
func (s *Server) Queue(agent uuid.UUID) (*Queue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[agent]
	return q, ok
}

// Enqueue drops events for agents without a registered queue.
func (s *Server) Enqueue(agent uuid.UUID, message string, body any) {
	q, ok := s.Queue(agent)
	if !ok {
		return
	}
	if q.Push(Event{Message: message, Body: body, Queued: s.now().UTC()}) {
		s.log.Printf("agent %s: queue full, dropped oldest event", agent)
	}
}

// Forget drops agent's queue and closes its connection. Events sent to the
// agent afterwards are discarded until it is registered again.
func (s *Server) Forget(agent uuid.UUID) {
	s.mu.Lock()
	c := s.conns[agent]
	delete(s.conns, agent)
	delete(s.queues, agent)
	s.mu.Unlock()
	if c != nil {
		c.cancel()
	}
}

// Handler serves the EventQueue capability. It expects caps claims on the
// request context.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		claims, ok := caps.ClaimsFrom(r.Context())
		if !ok {
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		q, ok := s.Queue(claims.Agent)
		if !ok {
			rw.WriteHeader(http.StatusNotFound)
			return
		}
		ws, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		self := &conn{cancel: cancel}
		s.mu.Lock()
		if prev := s.conns[claims.Agent]; prev != nil {
			prev.cancel()
		}
		s.conns[claims.Agent] = self
		s.mu.Unlock()

		s.log.Printf("agent %s connected from %s", claims.Agent, r.RemoteAddr)

		// Writer goroutine.
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				for _, ev := range q.Drain() {
					if err := writeJSON(ws, ev); err != nil {
						cancel()
						return
					}
				}
				select {
				case <-ctx.Done():
					_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
					_ = ws.Close()
					return
				case <-q.Ready():
				case <-ping.C:
					if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop; inbound frames only keep the connection alive.
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(readWait))
		})
		for {
			_ = ws.SetReadDeadline(time.Now().Add(readWait))
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				break
			}
		}

		s.mu.Lock()
		if s.conns[claims.Agent] == self {
			delete(s.conns, claims.Agent)
		}
		s.mu.Unlock()
		s.log.Printf("agent %s disconnected", claims.Agent)
	})
}

func writeJSON(ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, b)
}

// Client is a scene.Client whose output goes to the agent's event queue.
type Client struct {
	srv     *Server
	id      uuid.UUID
	session uuid.UUID
	name    string
}

// NewClient registers agent's queue and returns a client writing to it.
func (s *Server) NewClient(agent, session uuid.UUID, name string) *Client {
	s.Register(agent)
	return &Client{srv: s, id: agent, session: session, name: name}
}

func (c *Client) AgentID() uuid.UUID   { return c.id }
func (c *Client) SessionID() uuid.UUID { return c.session }
func (c *Client) Name() string         { return c.name }

func (c *Client) SendInstantMessage(msg scene.InstantMessage) {
	c.srv.Enqueue(c.id, "ImprovedInstantMessage", msg)
}

func (c *Client) SendAlert(text string) {
	c.srv.Enqueue(c.id, "AlertMessage", map[string]string{"message": text})
}

func (c *Client) SendEvent(name string, body any) {
	c.srv.Enqueue(c.id, name, body)
}
