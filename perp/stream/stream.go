// Package stream maintains the exchange WebSocket connection: lifecycle,
// heartbeat, reconnection with exponential backoff, and replay of the
// active subscription set after every reconnect.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/betbot/goperp/perp/types"
)

var log = logrus.WithField("component", "stream")

// WebSocket endpoints
const (
	MainnetWSURL = "wss://api.hyperliquid.xyz/ws"
	TestnetWSURL = "wss://api.hyperliquid-testnet.xyz/ws"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateFailed is terminal: the retry budget is exhausted and the
	// client will not reconnect until Connect is called again.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrMaxReconnects is reported to OnError when the retry budget runs out.
var ErrMaxReconnects = errors.New("max reconnection attempts reached")

// Callbacks receive decoded stream events. All callbacks are invoked from
// the read goroutine; handlers must not block.
type Callbacks struct {
	OnMids        func(mids map[string]float64)
	OnAccount     func(state *types.ClearinghouseState)
	OnOrderUpdate func(updates []types.WireOrderUpdate)
	OnOpenOrders  func(orders []types.WireBasicOrder)
	OnFills       func(fills []types.WireFill)
	OnStateChange func(state State)
	OnError       func(err error)
}

// Config configures the stream client.
type Config struct {
	URL string
	// HeartbeatInterval is how often the JSON ping is sent. The server
	// drops connections that stay silent for 60s.
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	// ReconnectDelay is the base backoff delay; it doubles per attempt.
	ReconnectDelay time.Duration
	MaxReconnect   int
}

// DefaultConfig returns the production configuration for the given network.
func DefaultConfig(testnet bool) *Config {
	url := MainnetWSURL
	if testnet {
		url = TestnetWSURL
	}
	return &Config{
		URL:               url,
		HeartbeatInterval: 30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReconnectDelay:    1 * time.Second,
		MaxReconnect:      5,
	}
}

// Client is the stream connection manager.
type Client struct {
	cfg       *Config
	callbacks Callbacks

	conn      *websocket.Conn
	connMutex sync.Mutex

	state      State
	stateMutex sync.RWMutex

	// subs holds the active subscription set in first-subscribe order;
	// subKeys dedups by identity so replay never double-subscribes.
	subs      []Subscription
	subKeys   map[string]struct{}
	subsMutex sync.Mutex

	reconnectCount int
	reconnectMutex sync.Mutex
	closing        bool

	wg sync.WaitGroup
}

// NewClient builds a stream client. Callbacks may be partially populated.
func NewClient(cfg *Config, callbacks Callbacks) *Client {
	if cfg == nil {
		cfg = DefaultConfig(false)
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 1 * time.Second
	}
	if cfg.MaxReconnect == 0 {
		cfg.MaxReconnect = 5
	}
	return &Client{
		cfg:       cfg,
		callbacks: callbacks,
		subKeys:   make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.stateMutex.Lock()
	changed := c.state != s
	c.state = s
	c.stateMutex.Unlock()
	if changed && c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(s)
	}
}

// IsConnected reports whether the socket is currently usable.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect dials the server, starts the read and heartbeat goroutines and
// replays any subscriptions accumulated before connecting. Calling Connect
// resets the retry budget, also after a terminal Failed state.
func (c *Client) Connect() error {
	c.reconnectMutex.Lock()
	c.closing = false
	c.reconnectCount = 0
	c.reconnectMutex.Unlock()
	return c.dial()
}

func (c *Client) dial() error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.connMutex.Lock()
	c.conn = conn
	c.connMutex.Unlock()
	c.reconnectMutex.Lock()
	c.reconnectCount = 0
	c.reconnectMutex.Unlock()

	done := make(chan struct{})
	c.wg.Add(2)
	go c.readLoop(conn, done)
	go c.heartbeatLoop(done)

	// Replay the pre-disconnect set before Connected becomes observable:
	// a Subscribe racing the dial stays queued until the replay finishes
	// and is then sent exactly once.
	c.subsMutex.Lock()
	for _, sub := range c.subs {
		if err := c.send(subscribeRequest{Method: "subscribe", Subscription: sub}); err != nil {
			log.Warnf("failed to replay subscription %s: %v", sub.Key(), err)
			break
		}
	}
	c.stateMutex.Lock()
	c.state = StateConnected
	c.stateMutex.Unlock()
	c.subsMutex.Unlock()
	if c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(StateConnected)
	}
	return nil
}

// Close tears the connection down, disables reconnection and clears the
// subscription bookkeeping. Only internal reconnects replay the set; after
// Close the caller re-subscribes for whatever identity comes next.
func (c *Client) Close() error {
	c.reconnectMutex.Lock()
	c.closing = true
	c.reconnectMutex.Unlock()

	c.subsMutex.Lock()
	c.subs = nil
	c.subKeys = make(map[string]struct{})
	c.subsMutex.Unlock()

	c.connMutex.Lock()
	conn := c.conn
	c.conn = nil
	c.connMutex.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.setState(StateDisconnected)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		log.Warn("timed out waiting for stream goroutines to exit")
	}
	return err
}

// Subscribe adds a subscription to the active set and, when connected,
// sends it immediately. Duplicate subscriptions are ignored, so the set
// replayed after a reconnect contains each identity exactly once.
func (c *Client) Subscribe(sub Subscription) error {
	c.subsMutex.Lock()
	key := sub.Key()
	if _, dup := c.subKeys[key]; dup {
		c.subsMutex.Unlock()
		return nil
	}
	c.subKeys[key] = struct{}{}
	c.subs = append(c.subs, sub)
	c.subsMutex.Unlock()

	if !c.IsConnected() {
		// queued; replayed on (re)connect
		return nil
	}
	return c.send(subscribeRequest{Method: "subscribe", Subscription: sub})
}

// Unsubscribe removes a subscription from the active set and notifies the
// server when connected.
func (c *Client) Unsubscribe(sub Subscription) error {
	c.subsMutex.Lock()
	key := sub.Key()
	if _, ok := c.subKeys[key]; !ok {
		c.subsMutex.Unlock()
		return nil
	}
	delete(c.subKeys, key)
	for i, s := range c.subs {
		if s.Key() == key {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.subsMutex.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return c.send(subscribeRequest{Method: "unsubscribe", Subscription: sub})
}

// ActiveSubscriptions returns a copy of the subscription set in
// first-subscribe order.
func (c *Client) ActiveSubscriptions() []Subscription {
	c.subsMutex.Lock()
	defer c.subsMutex.Unlock()
	out := make([]Subscription, len(c.subs))
	copy(out, c.subs)
	return out
}

func (c *Client) send(v any) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(v)
}

// heartbeatLoop sends the JSON ping through send so it serializes with
// subscribe writes; gorilla forbids concurrent writers on one connection.
func (c *Client) heartbeatLoop(done <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.send(pingRequest{Method: "ping"}); err != nil {
				log.Warnf("heartbeat failed: %v", err)
				return
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer c.wg.Done()
	defer close(done)

	// gorilla panics on repeated reads from a failed connection
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("read loop panic recovered: %v", r)
			go c.handleDisconnect(conn)
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("read error: %v", err)
			}
			c.handleDisconnect(conn)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.connMutex.Lock()
	if c.conn != conn {
		// a newer connection is already in place
		c.connMutex.Unlock()
		return
	}
	c.conn = nil
	c.connMutex.Unlock()
	_ = conn.Close()

	c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	for {
		c.reconnectMutex.Lock()
		if c.closing {
			c.reconnectMutex.Unlock()
			c.setState(StateDisconnected)
			return
		}
		if c.reconnectCount >= c.cfg.MaxReconnect {
			c.reconnectMutex.Unlock()
			log.Error("❌ max reconnection attempts reached, giving up")
			c.setState(StateFailed)
			if c.callbacks.OnError != nil {
				c.callbacks.OnError(ErrMaxReconnects)
			}
			return
		}
		c.reconnectCount++
		attempt := c.reconnectCount
		c.reconnectMutex.Unlock()

		delay := backoffDelay(c.cfg.ReconnectDelay, attempt)
		log.Infof("🔄 reconnecting in %s (attempt %d/%d)", delay, attempt, c.cfg.MaxReconnect)
		c.setState(StateReconnecting)
		time.Sleep(delay)

		c.reconnectMutex.Lock()
		closing := c.closing
		c.reconnectMutex.Unlock()
		if closing {
			c.setState(StateDisconnected)
			return
		}

		if err := c.dial(); err != nil {
			log.Warnf("reconnection attempt %d failed: %v", attempt, err)
			continue
		}
		return
	}
}

// backoffDelay doubles the base delay per attempt: base, 2*base, 4*base...
func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (c *Client) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warnf("failed to parse stream message: %v", err)
		return
	}
	dispatch(env, c.callbacks)
}
