package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/mindflow/internal/events"
	"github.com/dharsanguruparan/mindflow/internal/highlight"
	"github.com/dharsanguruparan/mindflow/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	topicSnapshot = "snapshot"
	topicError    = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Same policy as the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientMessage is what views send over the socket.
type clientMessage struct {
	Action string  `json:"action"`
	Term   *string `json:"term,omitempty"`
	ID     string  `json:"id,omitempty"`
}

type outbound struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

type snapshot struct {
	Documents []model.Document `json:"documents"`
	CurrentID *string          `json:"currentId"`
	Highlight highlight.Update `json:"highlight"`
}

// wsClient is a middleman between the websocket connection and the bus.
type wsClient struct {
	conn    *websocket.Conn
	replies chan outbound
	log     *zap.Logger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the snapshot so nothing falls between the two.
	envs, err := s.bus.Subscribe(ctx, events.TopicDocuments, events.TopicCurrent, events.TopicHighlight)
	if err != nil {
		s.log.Error("websocket subscribe failed", zap.Error(err))
		conn.Close()
		return
	}
	c := &wsClient{conn: conn, replies: make(chan outbound, 8), log: s.log.Named("ws")}
	if err := c.write(outbound{Topic: topicSnapshot, Payload: s.snapshot()}); err != nil {
		conn.Close()
		return
	}
	s.log.Info("websocket client connected", zap.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(ctx, envs)
	}()
	c.readPump(s.handleClientMessage)
	cancel()
	<-done
	s.log.Info("websocket client disconnected", zap.String("remote", r.RemoteAddr))
}

func (s *Server) snapshot() snapshot {
	snap := snapshot{
		Documents: s.lib.Documents(),
		Highlight: s.signal.Snapshot(),
	}
	if id, ok := s.lib.CurrentDocumentID(); ok {
		snap.CurrentID = &id
	}
	return snap
}

// handleClientMessage applies one client action and returns an error text for
// the client, or "" on success.
func (s *Server) handleClientMessage(msg clientMessage) string {
	switch msg.Action {
	case "highlight":
		term := ""
		if msg.Term != nil {
			term = *msg.Term
		}
		s.signal.Set(term)
	case "clear_highlight":
		s.signal.Clear()
	case "activate":
		if !s.lib.SetCurrentDocument(msg.ID) {
			return "document not found"
		}
	default:
		return "unknown action " + msg.Action
	}
	return ""
}

// readPump pumps actions from the connection until it fails or closes.
func (c *wsClient) readPump(handle func(clientMessage) string) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if errText := handle(msg); errText != "" {
			select {
			case c.replies <- outbound{Topic: topicError, Payload: map[string]string{"message": errText}}:
			default:
				c.log.Debug("reply dropped, client too slow")
			}
		}
	}
}

// writePump is the only writer once the snapshot is out.
func (c *wsClient) writePump(ctx context.Context, envs <-chan events.Envelope) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case env, ok := <-envs:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := c.write(env); err != nil {
				return
			}
		case reply := <-c.replies:
			if err := c.write(reply); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *wsClient) write(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		c.log.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
