// Package status subscribes to the desk's websocket push endpoints, decodes
// the status messages into typed events and keeps the last known desk state.
//
// A Channel has a single connection and never reconnects. When the
// connection drops every pending waiter fails with ErrChannelClosed and the
// retained State is flagged Stale; callers reopen if they need fresh data.
package status

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gopkg.in/op/go-logging.v1"

	dlog "github.com/jc211/panda-desk/internal/log"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Phase is the lifecycle stage of a Channel.
type Phase int

const (
	PhaseClosed Phase = iota
	PhaseConnecting
	PhaseOpen
)

var phaseNames = map[Phase]string{
	PhaseClosed:     "closed",
	PhaseConnecting: "connecting",
	PhaseOpen:       "open",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return "unknown"
}

// Options configures Open. BaseURL and Token are required; zero durations
// fall back to the defaults.
type Options struct {
	BaseURL string // desk base URL, e.g. "https://10.103.1.111"
	Topic   Topic
	Token   string // session token from login

	Dialer       *websocket.Dialer
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *logging.Logger
}

// Channel is one open status subscription.
type Channel struct {
	topic        Topic
	url          string
	conn         *websocket.Conn
	log          *logging.Logger
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex // serialises close and ping frames

	// mu guards the state, waiter registry and subscribers together so a
	// message is applied and announced in one step.
	mu      sync.RWMutex
	phase   Phase
	state   State
	waiters map[uint64]*waiter
	subs    map[uint64]chan Event
	nextID  uint64
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

type waiter struct {
	cond   Condition
	result chan waitResult
}

type waitResult struct {
	event Event
	err   error
}

// EndpointURL returns the websocket URL of topic on the desk at baseURL.
// http and https map to ws and wss.
func EndpointURL(baseURL string, topic Topic) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(string(topic), "/")
	return u.String(), nil
}

// Open dials the topic endpoint and starts decoding messages. The session
// token is sent as the authorization header of the upgrade request.
func Open(ctx context.Context, opts Options) (*Channel, error) {
	if err := opts.Topic.valid(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if opts.Token == "" {
		return nil, fmt.Errorf("%w: no session token", ErrConnect)
	}
	wsURL, err := EndpointURL(opts.BaseURL, opts.Topic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	c := &Channel{
		topic:        opts.Topic,
		url:          wsURL,
		log:          opts.Logger,
		pingInterval: opts.PingInterval,
		pongTimeout:  opts.PongTimeout,
		writeTimeout: opts.WriteTimeout,
		phase:        PhaseConnecting,
		state:        newState(),
		waiters:      make(map[uint64]*waiter),
		subs:         make(map[uint64]chan Event),
		done:         make(chan struct{}),
	}
	if c.log == nil {
		c.log = dlog.Fallback("status")
	}
	if c.pingInterval <= 0 {
		c.pingInterval = defaultPingInterval
	}
	if c.pongTimeout <= 0 {
		c.pongTimeout = defaultPongTimeout
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	header.Set("Authorization", opts.Token)

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		c.phase = PhaseClosed
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: HTTP %d", ErrConnect, wsURL, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, wsURL, err)
	}

	c.conn = conn
	c.phase = PhaseOpen
	openChannels.WithLabelValues(c.topic.String()).Inc()
	c.log.Debugf("%s: subscribed to %s", c.topic, wsURL)

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Topic returns the endpoint this channel is subscribed to.
func (c *Channel) Topic() Topic {
	return c.topic
}

// Phase returns the current lifecycle stage.
func (c *Channel) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// Done is closed once the channel has shut down.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns nil while the channel is open, and afterwards an error
// wrapping ErrChannelClosed that describes why it closed.
func (c *Channel) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Snapshot returns a copy of the desk state as of the most recently
// processed message.
func (c *Channel) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Close shuts the channel down. Pending waiters fail with ErrChannelClosed
// and subscriptions are closed. Close is idempotent.
func (c *Channel) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	if err != nil {
		c.log.Debugf("%s: close frame: %v", c.topic, err)
	}

	c.shutdown(nil)
	return nil
}

func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		err := ErrChannelClosed
		if cause != nil {
			err = fmt.Errorf("%w: %v", ErrChannelClosed, cause)
		}

		c.mu.Lock()
		c.phase = PhaseClosed
		c.err = err
		c.state.Stale = true
		for id, w := range c.waiters {
			w.result <- waitResult{err: err}
			delete(c.waiters, id)
			pendingWaiters.Dec()
		}
		for id, ch := range c.subs {
			close(ch)
			delete(c.subs, id)
		}
		c.mu.Unlock()

		close(c.done)
		c.conn.Close()
		openChannels.WithLabelValues(c.topic.String()).Dec()

		if cause != nil {
			c.log.Warningf("%s: connection lost: %v", c.topic, cause)
		} else {
			c.log.Debugf("%s: closed", c.topic)
		}
	})
}

func (c *Channel) readLoop() {
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})
	c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		c.handle(frameType, data)
	}
}

// handle decodes one frame and applies it. Malformed frames are logged and
// dropped without touching the state.
func (c *Channel) handle(frameType int, data []byte) {
	u, err := decode(c.topic, frameType, data)
	if err != nil {
		messagesDropped.WithLabelValues(c.topic.String()).Inc()
		c.log.Warningf("%s: dropping message: %v", c.topic, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseOpen {
		return
	}
	for _, e := range c.state.apply(c.topic, u, time.Now()) {
		c.notifyLocked(e)
	}
	messagesDecoded.WithLabelValues(c.topic.String()).Inc()
}

// notifyLocked wakes every waiter whose condition matches e and fans e out
// to subscribers. Caller must hold c.mu.
func (c *Channel) notifyLocked(e Event) {
	for id, w := range c.waiters {
		if w.cond(e) {
			w.result <- waitResult{event: e}
			delete(c.waiters, id)
			pendingWaiters.Dec()
		}
	}
	for _, ch := range c.subs {
		select {
		case ch <- e:
		default:
			c.log.Debugf("%s: subscriber too slow, dropping %s event", c.topic, e.Kind)
		}
	}
}

// pingLoop sends periodic pings until the channel shuts down.
func (c *Channel) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debugf("%s: ping: %v", c.topic, err)
				return
			}
		}
	}
}

// Subscribe returns a stream of every event the channel decodes. The
// stream is buffered; when the buffer is full further events are dropped
// for this subscriber only. The stream is closed when the channel closes
// or cancel is called.
func (c *Channel) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	c.mu.Lock()
	if c.phase != PhaseOpen {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Await blocks until an event matching cond is processed. It returns
// ctx.Err() if ctx ends first and an error wrapping ErrChannelClosed if
// the channel closes first. Waiting never changes the desk state.
func (c *Channel) Await(ctx context.Context, cond Condition) (Event, error) {
	return c.await(ctx, cond, nil)
}

// await registers a waiter. If current is non-nil it is checked against the
// state first, under the same lock, so no event can slip in between.
func (c *Channel) await(ctx context.Context, cond Condition, current func(State) (Event, bool)) (Event, error) {
	c.mu.Lock()
	if c.phase != PhaseOpen {
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = ErrChannelClosed
		}
		return Event{}, err
	}
	if current != nil {
		if e, ok := current(c.state); ok {
			c.mu.Unlock()
			return e, nil
		}
	}
	id := c.nextID
	c.nextID++
	w := &waiter{cond: cond, result: make(chan waitResult, 1)}
	c.waiters[id] = w
	pendingWaiters.Inc()
	c.mu.Unlock()

	select {
	case r := <-w.result:
		return r.event, r.err
	case <-ctx.Done():
		c.mu.Lock()
		if _, ok := c.waiters[id]; ok {
			delete(c.waiters, id)
			pendingWaiters.Dec()
			c.mu.Unlock()
			return Event{}, ctx.Err()
		}
		c.mu.Unlock()
		// Resolved while we were cancelling; the result is already buffered.
		r := <-w.result
		return r.event, r.err
	}
}

// waitWithin runs await inside a timeout scope. An expired deadline is a
// normal outcome reported as (false, nil); cancellation and channel closure
// are errors.
func (c *Channel) waitWithin(ctx context.Context, timeout time.Duration, cond Condition, current func(State) (Event, bool)) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	_, err := c.await(ctx, cond, current)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, err
	}
}

// WaitForPress waits for b to transition to pressed. A press that happened
// before the call does not count. It reports false with a nil error when
// timeout elapses first; timeout <= 0 waits until ctx ends.
func (c *Channel) WaitForPress(ctx context.Context, b Button, timeout time.Duration) (bool, error) {
	return c.waitWithin(ctx, timeout, PressOf(b), nil)
}

// WaitForRelease is WaitForPress for the released transition.
func (c *Channel) WaitForRelease(ctx context.Context, b Button, timeout time.Duration) (bool, error) {
	return c.waitWithin(ctx, timeout, ReleaseOf(b), nil)
}

// WaitForJoints waits until every joint brake is in the requested state.
// Unlike button waits it returns immediately if the state already holds.
func (c *Channel) WaitForJoints(ctx context.Context, lock JointLock, timeout time.Duration) (bool, error) {
	current := func(s State) (Event, bool) {
		if s.Joints == lock {
			return Event{Kind: LockEvent, Topic: c.topic, At: s.UpdatedAt, Joints: lock}, true
		}
		return Event{}, false
	}
	return c.waitWithin(ctx, timeout, JointsBecome(lock), current)
}

// Pending returns the number of registered waiters.
func (c *Channel) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.waiters)
}
