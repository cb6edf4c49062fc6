package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moyamoya-lab/moyamoya/backend/internal/draft"
)

const (
	// DraftEventChanged is emitted after every committed draft mutation.
	DraftEventChanged   = "draft-change"
	draftEventHeartbeat = "heartbeat"
	heartbeatInterval   = 25 * time.Second
)

// DraftEvent tells a subscriber that the draft changed and which mutation
// produced the change.
type DraftEvent struct {
	Operation draft.OperationType `json:"operation"`
	Version   int64               `json:"version"`
	Timestamp time.Time           `json:"timestamp"`
}

// DraftDispatcher fans committed draft mutations out to event-stream
// subscribers. Slow subscribers drop events rather than block a commit.
type DraftDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*draftSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type draftSubscriber struct {
	id     int64
	stream chan DraftEvent
}

// NewDraftDispatcher constructs a dispatcher with a small per-subscriber
// buffer.
func NewDraftDispatcher() *DraftDispatcher {
	return &DraftDispatcher{
		subscribers: make(map[int64]*draftSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

// Subscribe registers a listener that lives until the context ends or the
// returned cleanup runs.
func (d *DraftDispatcher) Subscribe(ctx context.Context) (<-chan DraftEvent, func()) {
	subscriber := &draftSubscriber{
		id:     d.nextSequence(),
		stream: make(chan DraftEvent, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// PublishDraftChanged implements draft.EventPublisher.
func (d *DraftDispatcher) PublishDraftChanged(op draft.OperationType, version int64) {
	event := DraftEvent{
		Operation: op,
		Version:   version,
		Timestamp: d.clock().UTC(),
	}
	d.mu.RLock()
	copies := make([]*draftSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *DraftDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *DraftDispatcher) registerSubscriber(subscriber *draftSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[subscriber.id] = subscriber
}

func (d *DraftDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}

// handleDraftEvents streams draft-change events over server-sent events so
// the authoring page can follow a long-running generation across reloads.
func (h *httpHandler) handleDraftEvents(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "events_unavailable"})
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_unsupported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.dispatcher.Subscribe(c.Request.Context())
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", DraftEventChanged, payload)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(c.Writer, "event: %s\ndata: {}\n\n", draftEventHeartbeat)
			flusher.Flush()
		}
	}
}
