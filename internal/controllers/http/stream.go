package httpctrl

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Agrid-Dev/smarthrt/internal/controllers/view"
	"github.com/Agrid-Dev/smarthrt/internal/heating"
	"github.com/Agrid-Dev/smarthrt/internal/ports"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12

	// Pending snapshots per client; older ones are dropped for slow readers.
	streamBuffer = 8
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type streamMessage struct {
	Type string        `json:"type"`
	Data view.Snapshot `json:"data"`
}

// handleStream pushes a snapshot on connect and after every state change.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.instance(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	updates := make(chan heating.Snapshot, streamBuffer)
	id := svc.AddListener(func(snap heating.Snapshot) {
		select {
		case updates <- snap:
		default:
		}
	})
	defer svc.RemoveListener(id)

	done := make(chan struct{})
	go readUntilClosed(conn, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := send(conn, svc, svc.Get()); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case snap := <-updates:
			if err := send(conn, svc, snap); err != nil {
				s.log.Debugw("ws write failed", "instance", svc.ID(), "error", err)
				return
			}
		}
	}
}

func send(conn *websocket.Conn, svc ports.HeatingService, snap heating.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(streamMessage{Type: "snapshot", Data: view.FromSnapshot(snap, svc.Now())})
}

// readUntilClosed drains incoming frames so control messages are handled.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
