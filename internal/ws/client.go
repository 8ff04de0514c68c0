package ws

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codeduet/backend/internal/protocol"
	"github.com/codeduet/backend/internal/ratelimit"
	"github.com/codeduet/backend/internal/sequencer"
	"github.com/codeduet/backend/internal/session"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200
	sendBufferSize    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// connState is the lifecycle of one connection: connecting until a join
// succeeds, joined while bound to a session, left is terminal. Reconnection
// is a brand-new connection, never a resume.
type connState int

const (
	stateConnecting connState = iota
	stateJoined
	stateLeft
)

// Client binds one websocket connection to at most one session.
type Client struct {
	manager     *Manager
	conn        *websocket.Conn
	rateLimiter *ratelimit.Limiter

	sendMu     sync.Mutex
	send       chan []byte
	sendClosed bool

	mu           sync.Mutex
	state        connState
	sess         *session.Session
	sessionID    string
	userID       string
	connectionID string
}

// ServeWs upgrades the request and starts the connection's pumps in the
// Connecting state. The session binding happens on the join message.
func (m *Manager) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	client := &Client{
		manager:      m,
		conn:         conn,
		send:         make(chan []byte, sendBufferSize),
		rateLimiter:  ratelimit.NewLimiter(messagesPerSecond, messageBurst),
		connectionID: uuid.NewString(),
	}

	go client.writePump()
	go client.readPump()
}

// ConnectionID implements session.Sender.
func (c *Client) ConnectionID() string {
	return c.connectionID
}

// Send implements session.Sender. It never blocks: a full buffer marks the
// connection dead and the write pump shuts it down.
func (c *Client) Send(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.sendClosed = true
		close(c.send)
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.leave()
		c.closeSend()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				log.Printf("Rate limit exceeded for connection %s (warning #%d)",
					c.connectionID, rateLimitWarnings)
			}
			if rateLimitWarnings > 1000 {
				log.Printf("Disconnecting connection %s for excessive rate limit violations", c.connectionID)
				return
			}
			continue
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			c.sendError("malformed message")
			continue
		}

		if done := c.dispatch(msg); done {
			return
		}
	}
}

// dispatch handles one decoded message according to the connection state.
// It returns true when the connection should close.
func (c *Client) dispatch(msg protocol.ClientMessage) bool {
	switch m := msg.(type) {
	case protocol.Ping:
		c.sendServer(protocol.Pong{})
		return false
	case protocol.Join:
		c.handleJoin(m)
		return false
	case protocol.Leave:
		// Explicit leave is terminal; the transport closes with it.
		c.leave()
		return true
	}

	c.mu.Lock()
	state := c.state
	sessionID := c.sessionID
	userID := c.userID
	c.mu.Unlock()

	if state != stateJoined {
		c.sendError("not joined to a session")
		return false
	}

	switch m := msg.(type) {
	case protocol.DocumentChange:
		if m.SessionID != sessionID {
			c.sendError("session mismatch")
			return false
		}
		c.reportError(c.manager.sequencer.Apply(sequencer.Event{
			SessionID:          m.SessionID,
			OriginConnectionID: c.connectionID,
			OriginUserID:       userID,
			NewDocument:        m.NewDocument,
			ClientTimestamp:    m.ClientTimestamp,
		}))
	case protocol.CursorMove:
		if m.SessionID != sessionID {
			c.sendError("session mismatch")
			return false
		}
		c.reportError(c.manager.presence.SetCursor(m.SessionID, c.connectionID, userID, session.Cursor{
			Line:   m.Position.Line,
			Column: m.Position.Column,
		}))
	case protocol.TypingStart:
		if m.SessionID != sessionID {
			c.sendError("session mismatch")
			return false
		}
		c.reportError(c.manager.presence.SetTyping(m.SessionID, c.connectionID, userID, true))
	case protocol.TypingStop:
		if m.SessionID != sessionID {
			c.sendError("session mismatch")
			return false
		}
		c.reportError(c.manager.presence.SetTyping(m.SessionID, c.connectionID, userID, false))
	case protocol.LanguageChange:
		if m.SessionID != sessionID {
			c.sendError("session mismatch")
			return false
		}
		c.reportError(c.manager.sequencer.SetLanguage(m.SessionID, c.connectionID, m.Language))
	}
	return false
}

// handleJoin performs Connecting -> Joined. On failure the connection stays
// in Connecting and may retry with a valid session id.
func (c *Client) handleJoin(m protocol.Join) {
	c.mu.Lock()
	if c.state != stateConnecting {
		c.mu.Unlock()
		c.sendError("already joined")
		return
	}
	c.mu.Unlock()

	if m.SessionID == "" || m.UserID == "" {
		c.sendError("join requires sessionId and userId")
		return
	}

	sess, ok := c.manager.resolveSession(m.SessionID)
	if !ok {
		c.sendError("session not found")
		return
	}

	p := session.Participant{
		UserID:       m.UserID,
		ConnectionID: c.connectionID,
		DisplayName:  m.DisplayName,
		Image:        m.Image,
		Color:        session.PickColor(),
	}

	notify, err := protocol.MarshalServer(protocol.ParticipantJoined{
		Participant: participantInfo(p),
	})
	if err != nil {
		c.sendError("internal error")
		return
	}

	c.mu.Lock()
	c.state = stateJoined
	c.sess = sess
	c.sessionID = sess.ID()
	c.userID = m.UserID
	c.mu.Unlock()

	sess.Join(p, c, func(snap session.Snapshot) []byte {
		frame, err := protocol.MarshalServer(protocol.Joined{
			Document:     snap.Document,
			Language:     snap.Language,
			Participants: participantInfos(snap.Participants),
		})
		if err != nil {
			return nil
		}
		return frame
	}, notify)

	log.Printf("Connection %s joined session %s as %s", c.connectionID, sess.ID(), m.UserID)
}

// leave performs Joined -> Left. It is safe to call more than once; only
// the first call removes the participant and broadcasts participant-left.
func (c *Client) leave() {
	c.mu.Lock()
	sess := c.sess
	prev := c.state
	c.state = stateLeft
	c.sess = nil
	c.mu.Unlock()

	if prev != stateJoined || sess == nil {
		return
	}

	userID, removed, empty := sess.Leave(c.connectionID, func(userID string) []byte {
		frame, err := protocol.MarshalServer(protocol.ParticipantLeft{UserID: userID})
		if err != nil {
			return nil
		}
		return frame
	})
	if removed {
		log.Printf("Connection %s left session %s (user %s)", c.connectionID, sess.ID(), userID)
	}
	if empty {
		// The session is now idle; the reaper handles the grace period.
		log.Printf("Session %s is empty", sess.ID())
	}
}

func (c *Client) sendServer(m protocol.ServerMessage) {
	frame, err := protocol.MarshalServer(m)
	if err != nil {
		return
	}
	c.Send(frame)
}

func (c *Client) sendError(message string) {
	c.sendServer(protocol.ErrorMessage{Message: message})
}

// reportError turns an engine error into an error frame on this connection
// only; other participants are never informed.
func (c *Client) reportError(err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.sendError("session not found")
	case errors.Is(err, session.ErrNotJoined):
		c.sendError("not joined to a session")
	default:
		c.sendError("internal error")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func participantInfo(p session.Participant) protocol.ParticipantInfo {
	info := protocol.ParticipantInfo{
		UserID:       p.UserID,
		ConnectionID: p.ConnectionID,
		DisplayName:  p.DisplayName,
		Color:        p.Color,
		Image:        p.Image,
		IsTyping:     p.IsTyping,
	}
	if p.Cursor != nil {
		info.Cursor = &protocol.Position{Line: p.Cursor.Line, Column: p.Cursor.Column}
	}
	return info
}

func participantInfos(ps []session.Participant) []protocol.ParticipantInfo {
	out := make([]protocol.ParticipantInfo, len(ps))
	for i, p := range ps {
		out[i] = participantInfo(p)
	}
	return out
}
