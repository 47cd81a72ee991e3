// Package hub implements the status broadcast hub: an HTTP ingress for worker
// notifications fanned out over topic-based WebSocket pub/sub.
//
// A single event-loop goroutine owns every topic/subscriber set; register,
// unregister, subscribe and publish all flow through channels, so the handling
// path needs no locking. Fan-out is fire-and-forget: a subscriber whose
// outbound buffer is full misses the frame. Cross-instance fan-out is a known
// limitation — the hub is single-process.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/trackpulse/trackpulse/internal/api/response"
)

// TopicGlobal receives every published frame.
const TopicGlobal = "global"

// ItemTopic names the per-item broadcast topic.
func ItemTopic(itemID int64) string {
	return fmt.Sprintf("item:%d", itemID)
}

type subscription struct {
	sock  *socket
	topic string
}

type publication struct {
	topic string
	frame []byte
}

// Hub is the broadcast hub. Create with New, start the event loop with Run.
type Hub struct {
	register   chan *socket
	unregister chan *socket
	subscribe  chan subscription
	publish    chan publication
	done       chan struct{}
	topics     map[string]map[*socket]struct{}
	sendBuffer int
	writeWait  time.Duration
	upgrader   websocket.Upgrader
}

// Options tune hub buffering.
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
}

// New creates a Hub. Run must be called before any traffic is served.
func New(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		register:   make(chan *socket),
		unregister: make(chan *socket),
		subscribe:  make(chan subscription),
		publish:    make(chan publication, 256),
		done:       make(chan struct{}),
		topics:     make(map[string]map[*socket]struct{}),
		sendBuffer: opts.SendBuffer,
		writeWait:  opts.WriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// No authentication on the ingress; accept any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run drives the event loop until ctx is cancelled. On shutdown the hub
// closes its done channel first, so socket goroutines blocked on register,
// unregister or subscribe always unblock.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for _, subs := range h.topics {
				for s := range subs {
					s.close()
				}
			}
			return

		case s := <-h.register:
			h.addSubscriber(TopicGlobal, s)

		case s := <-h.unregister:
			for topic, subs := range h.topics {
				if _, ok := subs[s]; ok {
					delete(subs, s)
					if len(subs) == 0 {
						delete(h.topics, topic)
					}
				}
			}
			s.close()

		case sub := <-h.subscribe:
			h.addSubscriber(sub.topic, sub.sock)

		case pub := <-h.publish:
			for s := range h.topics[pub.topic] {
				select {
				case s.send <- pub.frame:
				default:
					// Fire-and-forget: a full buffer drops the frame, not
					// the connection.
					slog.Warn("dropping frame for slow subscriber", "topic", pub.topic)
				}
			}
		}
	}
}

func (h *Hub) addSubscriber(topic string, s *socket) {
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*socket]struct{})
		h.topics[topic] = subs
	}
	subs[s] = struct{}{}
}

// Publish broadcasts an already-encoded frame to one topic. After shutdown it
// is a no-op rather than a blocked send.
func (h *Hub) Publish(topic string, frame []byte) {
	select {
	case h.publish <- publication{topic: topic, frame: frame}:
	case <-h.done:
	}
}

// NotifyHandler accepts worker notifications on POST /notify.
//
// A body with type "job_completed" is published verbatim; anything else is
// wrapped as {"type":"job_status","data":<body>}. Frames always go to the
// global topic, and additionally to item:{id} when the body carries an itemId.
func (h *Hub) NotifyHandler(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Error("notify: malformed body", "error", err)
		response.Error(w, http.StatusInternalServerError, "BAD_NOTIFICATION",
			"Could not decode notification body", nil)
		return
	}

	var payload any
	if body["type"] == "job_completed" {
		payload = body
	} else {
		payload = map[string]any{"type": "job_status", "data": body}
	}

	frame, err := json.Marshal(payload)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "BAD_NOTIFICATION",
			"Could not encode notification frame", nil)
		return
	}

	h.Publish(TopicGlobal, frame)
	if id, ok := itemID(body); ok {
		h.Publish(ItemTopic(id), frame)
	}

	response.JSON(w, map[string]any{"status": "broadcast"})
}

// itemID pulls an item id out of a notification body if one is present.
func itemID(body map[string]any) (int64, bool) {
	v, ok := body["itemId"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// ServeWS upgrades GET /ws connections and hands them to the event loop.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	s := newSocket(h, conn)
	select {
	case h.register <- s:
	case <-h.done:
		conn.Close()
		return
	}

	s.enqueueJSON(map[string]any{
		"type":    "connected",
		"message": "Connected to status hub",
	})

	go s.writePump()
	go s.readPump()
}
