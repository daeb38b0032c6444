package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/italolelis/crocstore/internal/jobs"
	"github.com/italolelis/crocstore/internal/logctx"
	"github.com/italolelis/crocstore/internal/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512

	eventBuffer = 64
)

// Message types sent on the event stream.
const (
	MessageSnapshot    = "downloads:snapshot"
	MessageJobUpdated  = "job:updated"
	MessageJobFinished = "job:finished"
	MessageJobFailed   = "job:failed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is one frame on the event stream.
type Message struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

// HandleEvents upgrades the connection and streams job events until the
// client goes away or the tracker stops. The first frame, and the frame sent
// after every bulk refresh, is the grouped registry snapshot.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("failed to upgrade connection", "err", err)

		return
	}
	defer conn.Close()

	events, unsubscribe := h.session.Subscribe(eventBuffer)
	defer unsubscribe()

	done := make(chan struct{})
	go readPump(conn, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := h.writeMessage(conn, h.snapshotMessage(time.Now())); err != nil {
		return
	}

	logger.Debug("event stream opened")

	for {
		select {
		case <-done:
			logger.Debug("event stream closed by client")

			return
		case ev, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))

				return
			}

			if err := h.writeMessage(conn, h.eventMessage(ev)); err != nil {
				logger.Debug("failed to write event", "err", err)

				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeMessage(conn *websocket.Conn, msg Message) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteJSON(msg)
}

func (h *Handler) snapshotMessage(at time.Time) Message {
	return Message{
		Type:      MessageSnapshot,
		Payload:   session.GroupDownloads(h.session.Downloads()),
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

func (h *Handler) eventMessage(ev jobs.Event) Message {
	var typ string

	switch ev.Kind {
	case jobs.EventRefreshed:
		return h.snapshotMessage(ev.At)
	case jobs.EventFinished:
		typ = MessageJobFinished
	case jobs.EventFailed:
		typ = MessageJobFailed
	default:
		typ = MessageJobUpdated
	}

	return Message{
		Type:      typ,
		Payload:   ev,
		Timestamp: ev.At.UTC().Format(time.RFC3339),
	}
}

// readPump drains the connection so control frames are processed. Clients
// are not expected to send anything.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))

		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
