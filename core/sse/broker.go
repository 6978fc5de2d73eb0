package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBrokerClosed = errors.New("broker closed")
	ErrMaxClients   = errors.New("max clients reached")
)

// Client is one subscriber. It is also a stream.Stream yielding formatted
// events, so a subscription can be returned directly as a response body.
type Client struct {
	ID      string
	channel chan *Event
	closeCh chan struct{}
	broker  *Broker
	once    sync.Once
}

func newClient(id string, bufferSize int, b *Broker) *Client {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &Client{
		ID:      id,
		channel: make(chan *Event, bufferSize),
		closeCh: make(chan struct{}),
		broker:  b,
	}
}

// IsClosed returns whether the client is closed
func (c *Client) IsClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// send is only called from the broker loop.
func (c *Client) send(event *Event) bool {
	select {
	case c.channel <- event:
		return true
	default:
		return false
	}
}

// Next blocks for the next event and returns it in wire format.
func (c *Client) Next(ctx context.Context) ([]byte, error) {
	select {
	case ev := <-c.channel:
		return FormatEvent(ev), nil
	case <-c.closeCh:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unsubscribes the client.
func (c *Client) Close() error {
	c.broker.Unsubscribe(c)
	return nil
}

type registration struct {
	client *Client
	reply  chan error
}

type envelope struct {
	event  *Event
	target string
	reply  chan bool
}

// Broker fans events out to subscribers. All subscriber bookkeeping happens
// on the run loop goroutine; other goroutines talk to it over channels.
type Broker struct {
	namespace string
	eventID   atomic.Uint64

	register    chan registration
	unregister  chan *Client
	messages    chan envelope
	quit        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	clientCount atomic.Int64

	totalClients  atomic.Int64
	messagesCount atomic.Int64
	droppedCount  atomic.Int64

	keepaliveInterval time.Duration
	maxClients        int
	bufferSize        int
	logger            *slog.Logger
}

// BrokerConfig configures a Broker. Zero values get defaults.
type BrokerConfig struct {
	Namespace         string
	MaxClients        int
	BufferSize        int
	KeepaliveInterval time.Duration
	Logger            *slog.Logger
}

// NewBroker creates a new SSE broker and starts its loop.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 30 * time.Second
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "evt"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := &Broker{
		namespace:         cfg.Namespace,
		register:          make(chan registration),
		unregister:        make(chan *Client, 100),
		messages:          make(chan envelope, 1000),
		quit:              make(chan struct{}),
		done:              make(chan struct{}),
		keepaliveInterval: cfg.KeepaliveInterval,
		maxClients:        cfg.MaxClients,
		bufferSize:        cfg.BufferSize,
		logger:            cfg.Logger,
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.done)

	clients := make(map[string]*Client)
	ticker := time.NewTicker(b.keepaliveInterval)
	defer ticker.Stop()

	drop := func(c *Client) {
		if cur, ok := clients[c.ID]; ok && cur == c {
			delete(clients, c.ID)
			b.clientCount.Add(-1)
		}
		c.once.Do(func() { close(c.closeCh) })
	}

	for {
		select {
		case reg := <-b.register:
			if len(clients) >= b.maxClients {
				reg.reply <- fmt.Errorf("%w (%d)", ErrMaxClients, b.maxClients)
				continue
			}
			if old, ok := clients[reg.client.ID]; ok {
				drop(old)
			}
			clients[reg.client.ID] = reg.client
			b.clientCount.Add(1)
			b.totalClients.Add(1)
			reg.reply <- nil

		case c := <-b.unregister:
			drop(c)

		case env := <-b.messages:
			b.messagesCount.Add(1)
			if env.target != "" {
				c, ok := clients[env.target]
				delivered := ok && c.send(env.event)
				if ok && !delivered {
					b.droppedCount.Add(1)
				}
				env.reply <- delivered
				continue
			}
			for _, c := range clients {
				if !c.send(env.event) {
					b.droppedCount.Add(1)
				}
			}

		case <-ticker.C:
			ev := &Event{Event: "keepalive", Data: "timestamp:" + strconv.FormatInt(time.Now().Unix(), 10)}
			for _, c := range clients {
				c.send(ev)
			}

		case <-b.quit:
			for _, c := range clients {
				drop(c)
			}
			return
		}
	}
}

// Subscribe registers a new client.
func (b *Broker) Subscribe(clientID string) (*Client, error) {
	c := newClient(clientID, b.bufferSize, b)
	reply := make(chan error, 1)

	select {
	case b.register <- registration{client: c, reply: reply}:
	case <-b.quit:
		return nil, ErrBrokerClosed
	}

	if err := <-reply; err != nil {
		return nil, err
	}
	b.logger.Debug("sse client subscribed", slog.String("client_id", clientID))
	return c, nil
}

// Unsubscribe removes a client. Safe to call more than once.
func (b *Broker) Unsubscribe(c *Client) {
	select {
	case b.unregister <- c:
	case <-b.done:
	}
}

func (b *Broker) stamp(event *Event) {
	if event.ID == "" {
		event.ID = b.namespace + "-" + strconv.FormatUint(b.eventID.Add(1), 10)
	}
}

// Publish broadcasts an event to every client. Events without an ID get
// one from the broker namespace.
func (b *Broker) Publish(event *Event) error {
	select {
	case <-b.quit:
		return ErrBrokerClosed
	default:
	}
	b.stamp(event)
	select {
	case b.messages <- envelope{event: event}:
		return nil
	case <-b.quit:
		return ErrBrokerClosed
	}
}

// PublishTo delivers an event to one client. It reports false when the
// client is unknown or its buffer is full.
func (b *Broker) PublishTo(clientID string, event *Event) bool {
	b.stamp(event)
	reply := make(chan bool, 1)
	select {
	case b.messages <- envelope{event: event, target: clientID, reply: reply}:
	case <-b.quit:
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-b.done:
		return false
	}
}

// ClientCount returns the number of live subscribers.
func (b *Broker) ClientCount() int {
	return int(b.clientCount.Load())
}

// Close stops the loop and ends every subscription.
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.quit) })
	<-b.done
}

// BrokerStats is a snapshot of broker counters.
type BrokerStats struct {
	Namespace      string `json:"namespace"`
	TotalClients   int64  `json:"total_clients"`
	CurrentClients int    `json:"current_clients"`
	Messages       int64  `json:"messages_sent"`
	Dropped        int64  `json:"messages_dropped"`
	LastEventID    uint64 `json:"event_id"`
}

func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		Namespace:      b.namespace,
		TotalClients:   b.totalClients.Load(),
		CurrentClients: b.ClientCount(),
		Messages:       b.messagesCount.Load(),
		Dropped:        b.droppedCount.Load(),
		LastEventID:    b.eventID.Load(),
	}
}
