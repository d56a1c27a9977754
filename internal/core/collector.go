// Package core supervises the proxy core process and collects its output.
package core

import (
	"sync"

	"github.com/net2share/proxyman/internal/ipc"
)

// DefaultLogCapacity is the ring size used when NewCollector gets 0.
const DefaultLogCapacity = 1000

// Collector keeps a bounded FIFO of core log entries. Producers hand
// entries to Send; a single background goroutine drains them into the ring.
type Collector struct {
	capacity int
	ch       chan ipc.LogEntry
	done     chan struct{}

	sendMu sync.RWMutex
	closed bool

	mu      sync.Mutex
	entries []ipc.LogEntry
}

// NewCollector creates a collector holding up to capacity entries.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Collector{
		capacity: capacity,
		ch:       make(chan ipc.LogEntry, 256),
		done:     make(chan struct{}),
		entries:  make([]ipc.LogEntry, 0, capacity),
	}
}

// Start launches the consumer goroutine.
func (c *Collector) Start() {
	go func() {
		defer close(c.done)
		for entry := range c.ch {
			c.Add(entry)
		}
	}()
}

// Stop closes the intake channel and waits for the consumer to drain it.
// Entries sent after Stop are discarded.
func (c *Collector) Stop() {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	c.closed = true
	c.sendMu.Unlock()

	close(c.ch)
	<-c.done
}

// Send queues an entry for the consumer. Entries are dropped when the
// consumer falls behind; core output must never block the readers.
func (c *Collector) Send(entry ipc.LogEntry) {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- entry:
	default:
	}
}

// Add inserts an entry directly, evicting the oldest when full.
func (c *Collector) Add(entry ipc.LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) == c.capacity {
		copy(c.entries, c.entries[1:])
		c.entries[len(c.entries)-1] = entry
		return
	}
	c.entries = append(c.entries, entry)
}

// Logs returns the most recent limit entries in chronological order.
// A limit <= 0 or beyond the buffered count returns everything.
func (c *Collector) Logs(limit int) []ipc.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]ipc.LogEntry, limit)
	copy(out, c.entries[n-limit:])
	return out
}

// Clear empties the ring.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = c.entries[:0]
}

// Len reports the number of buffered entries.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
