package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait       = 90 * time.Second
	maxMessageSize = 4096
)

// socket is one connected WebSocket client. The read pump handles inbound
// control frames (ping, subscribe) itself; everything outbound goes through
// the buffered send channel drained by the write pump. The send channel is
// never closed — closure is signalled on done, so enqueueJSON stays safe no
// matter when a frame arrives relative to shutdown.
type socket struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newSocket(h *Hub, conn *websocket.Conn) *socket {
	return &socket{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}
}

// close signals the write pump to finish; hub event loop and readPump call it.
func (s *socket) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// enqueueJSON encodes v and queues it for delivery, dropping on a full buffer
// or a closed socket.
func (s *socket) enqueueJSON(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode outbound frame", "error", err)
		return
	}
	select {
	case <-s.done:
	case s.send <- frame:
	default:
	}
}

func (s *socket) writePump() {
	defer s.conn.Close()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-s.done:
			// Closed by the hub: say goodbye cleanly.
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// inboundFrame covers every client-to-server message shape.
type inboundFrame struct {
	Type   string `json:"type"`
	ItemID *int64 `json:"itemId"`
}

func (s *socket) readPump() {
	defer func() {
		// After shutdown nobody drains unregister; close the socket directly
		// so the write pump still terminates.
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
			s.close()
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("websocket closed unexpectedly", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			// Malformed frames never close the connection.
			s.enqueueJSON(map[string]any{
				"type":    "error",
				"message": "could not parse message: " + err.Error(),
			})
			continue
		}

		switch frame.Type {
		case "ping":
			s.enqueueJSON(map[string]any{
				"type":      "pong",
				"timestamp": time.Now().UnixMilli(),
			})

		case "subscribe":
			if frame.ItemID == nil {
				s.enqueueJSON(map[string]any{
					"type":    "error",
					"message": "subscribe requires an itemId",
				})
				continue
			}
			select {
			case s.hub.subscribe <- subscription{sock: s, topic: ItemTopic(*frame.ItemID)}:
			case <-s.hub.done:
				return
			}
			s.enqueueJSON(map[string]any{
				"type":   "subscribed",
				"itemId": *frame.ItemID,
			})

		default:
			s.enqueueJSON(map[string]any{
				"type":    "error",
				"message": "unknown message type",
			})
		}
	}
}
