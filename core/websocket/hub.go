package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	ErrHubClosed      = errors.New("websocket: hub closed")
	ErrMaxClients     = errors.New("websocket: max clients reached")
	ErrClientNotFound = errors.New("websocket: client not found")
	ErrSendBufferFull = errors.New("websocket: client send buffer full")
	ErrDuplicateID    = errors.New("websocket: duplicate client id")
)

// MessageHandler is called for every message a client sends.
type MessageHandler func(c *Client, msg *Message)

type outbound struct {
	op      OpCode
	payload []byte
}

// Client is a session registered with a Hub.
type Client struct {
	ID   string
	Conn *Conn

	send chan outbound
	done chan struct{}
	once sync.Once
}

func (c *Client) stop() {
	c.once.Do(func() { close(c.done) })
}

// HubConfig configures a Hub.
type HubConfig struct {
	MaxClients int
	SendBuffer int
	OnMessage  MessageHandler
	Logger     *slog.Logger
}

// Hub is a registry of sessions with rooms. All membership state is owned by
// the run goroutine; other methods talk to it over channels.
type Hub struct {
	cfg    HubConfig
	logger *slog.Logger

	register   chan registration
	unregister chan *Client
	broadcast  chan broadcastMsg
	direct     chan directMsg
	membership chan membershipOp
	queries    chan func(*hubState)

	quit chan struct{}
	done chan struct{}
	once sync.Once

	clientCount  atomic.Int64
	totalClients atomic.Int64
	messageCount atomic.Int64
	dropped      atomic.Int64
}

type hubState struct {
	clients map[string]*Client
	rooms   map[string]map[string]*Client
}

type registration struct {
	client *Client
	reply  chan error
}

type broadcastMsg struct {
	out  outbound
	room string
}

type directMsg struct {
	id    string
	out   outbound
	reply chan error
}

type membershipOp struct {
	id    string
	room  string
	join  bool
	reply chan error
}

// NewHub creates a hub and starts its run loop.
func NewHub(cfg HubConfig) *Hub {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		cfg:        cfg,
		logger:     logger,
		register:   make(chan registration),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan broadcastMsg, 1024),
		direct:     make(chan directMsg),
		membership: make(chan membershipOp),
		queries:    make(chan func(*hubState)),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)

	st := &hubState{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}

	remove := func(c *Client) {
		if cur, ok := st.clients[c.ID]; !ok || cur != c {
			return
		}
		delete(st.clients, c.ID)
		for name, members := range st.rooms {
			delete(members, c.ID)
			if len(members) == 0 {
				delete(st.rooms, name)
			}
		}
		h.clientCount.Store(int64(len(st.clients)))
		c.stop()
	}

	deliver := func(c *Client, out outbound) bool {
		select {
		case c.send <- out:
			return true
		default:
			h.dropped.Add(1)
			h.logger.Warn("websocket client too slow, disconnecting", "client_id", c.ID)
			remove(c)
			return false
		}
	}

	for {
		select {
		case r := <-h.register:
			switch {
			case len(st.clients) >= h.cfg.MaxClients:
				r.reply <- fmt.Errorf("%w (%d)", ErrMaxClients, h.cfg.MaxClients)
			case st.clients[r.client.ID] != nil:
				r.reply <- fmt.Errorf("%w: %s", ErrDuplicateID, r.client.ID)
			default:
				st.clients[r.client.ID] = r.client
				h.clientCount.Store(int64(len(st.clients)))
				h.totalClients.Add(1)
				r.reply <- nil
			}

		case c := <-h.unregister:
			remove(c)

		case m := <-h.broadcast:
			h.messageCount.Add(1)
			targets := st.clients
			if m.room != "" {
				targets = st.rooms[m.room]
			}
			for _, c := range targets {
				deliver(c, m.out)
			}

		case d := <-h.direct:
			c, ok := st.clients[d.id]
			if !ok {
				d.reply <- fmt.Errorf("%w: %s", ErrClientNotFound, d.id)
				continue
			}
			if !deliver(c, d.out) {
				d.reply <- ErrSendBufferFull
				continue
			}
			d.reply <- nil

		case op := <-h.membership:
			c, ok := st.clients[op.id]
			if !ok {
				op.reply <- fmt.Errorf("%w: %s", ErrClientNotFound, op.id)
				continue
			}
			if op.join {
				if st.rooms[op.room] == nil {
					st.rooms[op.room] = make(map[string]*Client)
				}
				st.rooms[op.room][c.ID] = c
			} else if members := st.rooms[op.room]; members != nil {
				delete(members, c.ID)
				if len(members) == 0 {
					delete(st.rooms, op.room)
				}
			}
			op.reply <- nil

		case q := <-h.queries:
			q(st)

		case <-h.quit:
			for _, c := range st.clients {
				c.stop()
			}
			h.clientCount.Store(0)
			return
		}
	}
}

// Serve registers conn under id and runs the session until the peer goes
// away, the client is dropped or the hub is closed. Incoming messages go to
// the hub's OnMessage handler. The connection is closed on return.
func (h *Hub) Serve(id string, conn *Conn) error {
	c := &Client{
		ID:   id,
		Conn: conn,
		send: make(chan outbound, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	reply := make(chan error, 1)
	select {
	case h.register <- registration{client: c, reply: reply}:
	case <-h.done:
		conn.Close()
		return ErrHubClosed
	}
	if err := <-reply; err != nil {
		conn.Close()
		return err
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(c)
	}()

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if h.cfg.OnMessage != nil {
			h.cfg.OnMessage(c, msg)
		}
	}

	select {
	case h.unregister <- c:
	case <-h.done:
	}
	c.stop()
	conn.Close()
	<-writerDone
	return nil
}

func (h *Hub) writePump(c *Client) {
	defer c.Conn.Close()
	for {
		select {
		case out := <-c.send:
			if err := c.Conn.WriteMessage(out.op, out.payload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// Broadcast queues a message for every client, or for the members of room
// when room is not empty. Clients whose buffers are full are disconnected.
func (h *Hub) Broadcast(op OpCode, payload []byte, room string) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.broadcast <- broadcastMsg{out: outbound{op: op, payload: payload}, room: room}:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) BroadcastText(text, room string) error {
	return h.Broadcast(OpText, []byte(text), room)
}

// SendTo queues a text message for one client.
func (h *Hub) SendTo(id string, payload []byte) error {
	reply := make(chan error, 1)
	select {
	case h.direct <- directMsg{id: id, out: outbound{op: OpText, payload: payload}, reply: reply}:
		return <-reply
	case <-h.done:
		return ErrHubClosed
	}
}

// Join adds a client to room, creating the room on first use.
func (h *Hub) Join(id, room string) error {
	return h.changeMembership(id, room, true)
}

// Leave removes a client from room. Empty rooms are dropped.
func (h *Hub) Leave(id, room string) error {
	return h.changeMembership(id, room, false)
}

func (h *Hub) changeMembership(id, room string, join bool) error {
	reply := make(chan error, 1)
	select {
	case h.membership <- membershipOp{id: id, room: room, join: join, reply: reply}:
		return <-reply
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) query(fn func(*hubState)) bool {
	finished := make(chan struct{})
	select {
	case h.queries <- func(st *hubState) { fn(st); close(finished) }:
		<-finished
		return true
	case <-h.done:
		return false
	}
}

// RoomMembers returns the ids of the clients in room.
func (h *Hub) RoomMembers(room string) []string {
	var ids []string
	h.query(func(st *hubState) {
		for id := range st.rooms[room] {
			ids = append(ids, id)
		}
	})
	return ids
}

// Rooms returns the names of all non-empty rooms.
func (h *Hub) Rooms() []string {
	var names []string
	h.query(func(st *hubState) {
		for name := range st.rooms {
			names = append(names, name)
		}
	})
	return names
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

// HubStats is a snapshot of hub counters.
type HubStats struct {
	TotalClients   int64 `json:"total_clients"`
	CurrentClients int64 `json:"current_clients"`
	MessagesSent   int64 `json:"messages_sent"`
	Dropped        int64 `json:"dropped"`
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		TotalClients:   h.totalClients.Load(),
		CurrentClients: h.clientCount.Load(),
		MessagesSent:   h.messageCount.Load(),
		Dropped:        h.dropped.Load(),
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.quit) })
	<-h.done
}
