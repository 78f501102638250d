package channel

import (
	"context"
	"sync"
	"time"

	"gridflow/logger"
)

// Notification kinds pushed by the ingestion layer.
type Kind string

const (
	KindMarket  Kind = "market"
	KindPrivate Kind = "private"
)

// Notification tags one committed snapshot update. Consumers re-read the
// latest state through the SharedState accessors; the queue carries tags
// only so a slow consumer never holds stale copies of the whole state.
type Notification struct {
	Exchange string
	Symbol   string
	Kind     Kind
	At       time.Time
}

// Unbounded is an ordered FIFO whose producer never blocks. Delivery
// order equals Push order. Memory grows if the consumer falls behind;
// queue depth is reported by the metrics loop so sustained overload is
// visible.
type Unbounded struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Notification
	closed bool

	pushed  int64
	popped  int64
	maxSeen int

	log *logger.Log
}

// NewUnbounded returns an empty queue.
func NewUnbounded() *Unbounded {
	u := &Unbounded{log: logger.GetLogger()}
	u.cond = sync.NewCond(&u.mu)
	return u
}

// Push appends one notification. It never blocks and never drops; pushes
// after Close are ignored.
func (u *Unbounded) Push(n Notification) {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.queue = append(u.queue, n)
	u.pushed++
	if len(u.queue) > u.maxSeen {
		u.maxSeen = len(u.queue)
	}
	u.mu.Unlock()
	u.cond.Signal()
}

// Pop blocks until a notification is available or the queue is closed.
// The second return value is false once the queue is closed and drained.
func (u *Unbounded) Pop() (Notification, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for len(u.queue) == 0 && !u.closed {
		u.cond.Wait()
	}
	if len(u.queue) == 0 {
		return Notification{}, false
	}
	n := u.queue[0]
	u.queue = u.queue[1:]
	u.popped++
	return n, true
}

// Len returns the current queue depth.
func (u *Unbounded) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.queue)
}

// Close wakes all blocked consumers; queued notifications remain
// poppable until drained.
func (u *Unbounded) Close() {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	u.cond.Broadcast()
}

// StartMetricsReporting logs queue depth and throughput until ctx is done.
func (u *Unbounded) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				u.mu.Lock()
				depth := len(u.queue)
				pushed := u.pushed
				popped := u.popped
				maxSeen := u.maxSeen
				u.mu.Unlock()

				u.log.LogMetric("notify_queue", "queue_depth", depth, "gauge", logger.Fields{})
				u.log.WithComponent("notify_queue").WithFields(logger.Fields{
					"depth":     depth,
					"pushed":    pushed,
					"popped":    popped,
					"max_depth": maxSeen,
				}).Info("notification queue metrics")
			}
		}
	}()
}
