// Package websocket fans job progress events out to live subscribers. The hub
// owns a per-job subscriber registry; publication is fire-and-forget from the
// worker's perspective and a slow or dead subscriber never blocks delivery to
// the others.
package websocket

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/scoreleaf/api/internal/model"
)

// Config tunes subscriber buffers and connection liveness.
type Config struct {
	SendBuffer        int
	HeartbeatInterval time.Duration
	PongGrace         time.Duration
}

// Subscription is one live listener on a job's progress stream. Events is
// closed by the hub after a terminal event is delivered or the subscriber is
// dropped.
type Subscription struct {
	JobID  string
	Events chan model.ProgressEvent
}

type envelope struct {
	jobID string
	event model.ProgressEvent
}

// Hub maintains active subscriptions grouped by job ID.
type Hub struct {
	subs       map[string]map[*Subscription]bool
	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan envelope
	cfg        Config
	logger     *zap.Logger
}

func NewHub(cfg Config, logger *zap.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 16
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PongGrace <= 0 {
		cfg.PongGrace = 15 * time.Second
	}
	return &Hub{
		subs:       make(map[string]map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan envelope, 256),
		cfg:        cfg,
		logger:     logger,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			if h.subs[sub.JobID] == nil {
				h.subs[sub.JobID] = make(map[*Subscription]bool)
			}
			h.subs[sub.JobID][sub] = true

		case sub := <-h.unregister:
			h.drop(sub)

		case msg := <-h.broadcast:
			for sub := range h.subs[msg.jobID] {
				select {
				case sub.Events <- msg.event:
				default:
					// Subscriber cannot keep up; cut it loose rather
					// than stall the stream for everyone else.
					h.drop(sub)
				}
			}
			if msg.event.IsTerminal() {
				for sub := range h.subs[msg.jobID] {
					h.drop(sub)
				}
			}
		}
	}
}

func (h *Hub) drop(sub *Subscription) {
	if subs, ok := h.subs[sub.JobID]; ok {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			close(sub.Events)
			if len(subs) == 0 {
				delete(h.subs, sub.JobID)
			}
		}
	}
}

// Subscribe registers a new listener for a job's progress stream.
func (h *Hub) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		JobID:  jobID,
		Events: make(chan model.ProgressEvent, h.cfg.SendBuffer),
	}
	h.register <- sub
	return sub
}

// Unsubscribe removes a listener. Safe to call after a terminal close.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.unregister <- sub
}

// Publish delivers an event to all current subscribers for the job,
// best-effort. The publisher is never blocked: if the hub itself is saturated
// the event is dropped and the job record remains the source of truth.
func (h *Hub) Publish(jobID string, event model.ProgressEvent) {
	select {
	case h.broadcast <- envelope{jobID: jobID, event: event}:
	default:
		h.logger.Warn("progress hub saturated, dropping event",
			zap.String("jobId", jobID),
			zap.String("type", event.Type))
	}
}

// HandleConnection bridges one websocket connection to a subscription. The
// writer goroutine emits heartbeats on an idle timer; a client that has not
// acknowledged within the grace window is considered dead and disconnected.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, snapshot *model.Job) {
	sub := h.Subscribe(jobID)
	defer h.Unsubscribe(sub)

	var lastPong atomic.Int64
	lastPong.Store(time.Now().UnixNano())

	// Replay the current state so a late subscriber starts from the job's
	// present progress, never from silence.
	if snapshot != nil {
		if data, err := json.Marshal(snapshotEvent(snapshot)); err == nil {
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(h.cfg.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-sub.Events:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					c.Close()
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					h.logger.Error("marshal progress event", zap.Error(err))
					continue
				}
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				if time.Since(time.Unix(0, lastPong.Load())) > h.cfg.HeartbeatInterval+h.cfg.PongGrace {
					c.Close()
					return
				}
				hb := model.ProgressEvent{
					Type:      model.EventTypeHeartbeat,
					JobID:     jobID,
					Timestamp: time.Now(),
				}
				data, _ := json.Marshal(hb)
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", zap.String("jobId", jobID), zap.Error(err))
			}
			break
		}
		var msg model.ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.EventTypePong {
			lastPong.Store(time.Now().UnixNano())
		}
	}
	<-done
}

// snapshotEvent mirrors a job record into the event shape a fresh subscriber
// expects.
func snapshotEvent(job *model.Job) model.ProgressEvent {
	switch {
	case job.Status == model.JobStatusCompleted && job.ResultLocation != nil:
		return model.CompletedOf(job.ID, *job.ResultLocation)
	case job.Status == model.JobStatusFailed:
		msg := "job failed"
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		retryable := false
		if job.Retryable != nil {
			retryable = *job.Retryable
		}
		return model.ErrorOf(job.ID, msg, retryable)
	default:
		return model.ProgressOf(job.ID, job.Stage, job.Progress, job.Warning)
	}
}
