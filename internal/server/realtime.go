package server

import (
	"context"
	"io"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RealtimeEventInventoryChanged = "inventory-change"
	realtimeEventHeartbeat        = "heartbeat"
	realtimeSourceHub             = "stockroom-hub"
	realtimeHeartbeatInterval     = 25 * time.Second
)

// RealtimeMessage announces that inventory changed. An empty ProductIDs list
// means catalog labels changed.
type RealtimeMessage struct {
	EventType  string
	ProductIDs []int64
	Timestamp  time.Time
}

// RealtimeDispatcher fans inventory events out to every connected stream.
// Slow subscribers drop messages instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context) (<-chan RealtimeMessage, func()) {
	subscriber := &realtimeSubscriber{
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.mu.Lock()
	d.nextID++
	subscriber.id = d.nextID
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, subscriber.id)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) subscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (h *httpHandler) publishChanges(productIDs []int64) {
	if h.realtime == nil {
		return
	}
	ids := slices.Clone(productIDs)
	slices.Sort(ids)
	h.realtime.Publish(RealtimeMessage{
		EventType:  RealtimeEventInventoryChanged,
		ProductIDs: slices.Compact(ids),
		Timestamp:  time.Now().UTC(),
	})
}

type realtimeEventPayload struct {
	ProductIDs []int64 `json:"productIds"`
	Timestamp  string  `json:"timestamp"`
	Source     string  `json:"source"`
}

func newRealtimeEventPayload(productIDs []int64, at time.Time) realtimeEventPayload {
	if productIDs == nil {
		productIDs = []int64{}
	}
	return realtimeEventPayload{
		ProductIDs: productIDs,
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
		Source:     realtimeSourceHub,
	}
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	stream, cleanup := h.realtime.Subscribe(c.Request.Context())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			h.logger.Debug("event stream closed", zap.Error(c.Request.Context().Err()))
			return false
		case message := <-stream:
			c.SSEvent(message.EventType, newRealtimeEventPayload(message.ProductIDs, message.Timestamp))
		case now := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, newRealtimeEventPayload(nil, now))
		}
		return true
	})
}
