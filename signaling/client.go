// Package signaling provides the websocket client used as the call
// core's signaling channel. It knows nothing about call semantics; it
// moves event envelopes and keeps the connection alive.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	callkit "github.com/heartwire/callkit"
	"github.com/heartwire/callkit/shared"
)

// Envelope is the wire frame every signaling message travels in.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Config for the websocket channel.
type Config struct {
	// URL of the signaling endpoint, ws:// or wss://.
	URL string
	// UserID identifies this client to the backend for point-to-point
	// routing.
	UserID string
	// Token is the bearer credential presented on dial.
	Token string
	// PingInterval keeps intermediaries from dropping the connection.
	// Zero means 30s.
	PingInterval time.Duration
}

// Client is a websocket-backed callkit.Channel.
type Client struct {
	logger   shared.LoggerAdapter
	cfg      Config
	clientID string

	writeMu sync.Mutex
	conn    *websocket.Conn

	hmu      sync.RWMutex
	handlers map[string]map[uint64]func(data []byte)
	nextID   uint64

	closed chan struct{}
	once   sync.Once
}

var _ callkit.Channel = (*Client)(nil)

func NewClient(logger shared.LoggerAdapter, cfg Config) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("signaling URL is required")
	}
	if cfg.UserID == "" {
		return nil, shared.ErrNoLocalID
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Client{
		logger:   logger.With(zap.String("component", "signaling")),
		cfg:      cfg,
		clientID: uuid.NewString(),
		handlers: make(map[string]map[uint64]func(data []byte)),
		closed:   make(chan struct{}),
	}, nil
}

// Connect dials the signaling endpoint and starts the read and ping
// loops.
func (c *Client) Connect(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	header.Set("X-User-ID", c.cfg.UserID)
	header.Set("X-Client-ID", c.clientID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dialing signaling endpoint: %w", err)
	}
	c.conn = conn
	c.logger.Info("signaling connected", zap.String("url", c.cfg.URL))

	go c.readLoop()
	go c.pingLoop()
	return nil
}

// Close shuts the connection down. Idempotent.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.closed) })
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Send marshals the payload into an envelope and writes it out.
func (c *Client) Send(event callkit.EventType, payload callkit.Payload) error {
	select {
	case <-c.closed:
		return shared.ErrChannelClosed
	default:
	}
	if c.conn == nil {
		return shared.ErrChannelClosed
	}
	data, err := payload.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", event, err)
	}
	frame, err := sonic.Marshal(Envelope{Event: string(event), Data: data})
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("writing %s: %w", event, err)
	}
	c.logger.Debug("sent", zap.String("event", string(event)))
	return nil
}

// On registers handler for event. The returned off func deregisters it;
// callers pair every registration with a deregistration tied to their
// own lifetime.
func (c *Client) On(event callkit.EventType, handler func(data []byte)) (off func()) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	id := c.nextID
	c.nextID++
	m, ok := c.handlers[string(event)]
	if !ok {
		m = make(map[uint64]func(data []byte))
		c.handlers[string(event)] = m
	}
	m[id] = handler
	return func() {
		c.hmu.Lock()
		defer c.hmu.Unlock()
		delete(c.handlers[string(event)], id)
	}
}

func (c *Client) readLoop() {
	defer c.Close()
	for {
		select {
		case <-c.closed:
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Warn("signaling read failed", zap.Error(err))
			}
			return
		}
		var env Envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed signaling frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env Envelope) {
	c.hmu.RLock()
	registered := c.handlers[env.Event]
	handlers := make([]func(data []byte), 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	c.hmu.RUnlock()
	if len(handlers) == 0 {
		c.logger.Debug("unhandled signaling event", zap.String("event", env.Event))
		return
	}
	for _, h := range handlers {
		h(env.Data)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.logger.Warn("signaling ping failed", zap.Error(err))
				}
				return
			}
		}
	}
}
