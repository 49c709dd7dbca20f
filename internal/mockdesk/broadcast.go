package mockdesk

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	typ  int
	data []byte
}

type client struct {
	conn  *websocket.Conn
	topic string
	b     *broadcaster
	send  chan frame
}

func (c *client) writePump() {
	defer func() {
		c.conn.Close()
		c.b.remove(c)
	}()
	for f := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.conn.WriteMessage(f.typ, f.data); err != nil {
			return
		}
	}
}

// broadcaster fans frames out to every websocket subscribed to a topic.
type broadcaster struct {
	mu      sync.Mutex
	clients map[*client]bool
	changed *sync.Cond
}

func newBroadcaster() *broadcaster {
	b := &broadcaster{clients: make(map[*client]bool)}
	b.changed = sync.NewCond(&b.mu)
	return b
}

// add registers conn and queues the frames returned by initial. initial runs
// under the broadcaster lock, so a concurrent broadcast either is reflected
// in those frames or is delivered after them.
func (b *broadcaster) add(conn *websocket.Conn, topic string, initial func() []frame) *client {
	c := &client{
		conn:  conn,
		topic: topic,
		b:     b,
		send:  make(chan frame, 64),
	}
	b.mu.Lock()
	if initial != nil {
		for _, f := range initial() {
			c.send <- f
		}
	}
	b.clients[c] = true
	b.changed.Broadcast()
	b.mu.Unlock()

	go c.writePump()
	return c
}

func (b *broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
		b.changed.Broadcast()
	}
}

func (b *broadcaster) broadcast(topic string, f frame) {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		if c.topic == topic {
			clients = append(clients, c)
		}
	}
	b.mu.Unlock()

	for _, c := range clients {
		b.mu.Lock()
		if b.clients[c] {
			select {
			case c.send <- f:
			default:
				// Client can't keep up, disconnect it
				log.Printf("mockdesk: %s client too slow, disconnecting", topic)
				delete(b.clients, c)
				close(c.send)
				b.changed.Broadcast()
			}
		}
		b.mu.Unlock()
	}
}

// drop closes every connection on topic without a close handshake.
func (b *broadcaster) drop(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		if c.topic == topic {
			c.conn.Close()
		}
	}
}

func (b *broadcaster) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.countLocked(topic)
}

func (b *broadcaster) countLocked(topic string) int {
	n := 0
	for c := range b.clients {
		if c.topic == topic {
			n++
		}
	}
	return n
}

// waitFor blocks until at least n clients are subscribed to topic or the
// timeout passes.
func (b *broadcaster) waitFor(topic string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		b.mu.Lock()
		b.changed.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.countLocked(topic) < n {
		if !time.Now().Before(deadline) {
			return false
		}
		b.changed.Wait()
	}
	return true
}
