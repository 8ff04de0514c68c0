// Package client is the companion implementation a participant runs: it
// speaks the session protocol over a websocket and carries the echo
// suppression the protocol requires to be safe. Suppression state lives on
// the Client instance, so several editors in one process stay independent.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codeduet/backend/internal/protocol"
)

const (
	// A remote update arriving within this window of the last one the
	// client applied is not applied; a pending local edit made in that
	// instant would otherwise be misread as conflicting. Heuristic, not a
	// correctness guarantee.
	remoteGraceWindow = 500 * time.Millisecond

	// How long after applying a remote update the local change-detection
	// hook stays suppressed, absorbing asynchronous change-notification
	// echoes from the editor widget.
	echoClearDelay = 200 * time.Millisecond
)

// ErrJoinFailed is returned when the server rejects a join.
var ErrJoinFailed = errors.New("join rejected")

// Handlers receive server-initiated events. Nil handlers are skipped.
type Handlers struct {
	OnDocument          func(document, originUserID string)
	OnCursor            func(userID string, pos protocol.Position)
	OnTyping            func(userID string, isTyping bool)
	OnLanguage          func(language string)
	OnParticipantJoined func(p protocol.ParticipantInfo)
	OnParticipantLeft   func(userID string)
	OnError             func(message string)
}

type Client struct {
	conn     *websocket.Conn
	handlers Handlers

	writeMu sync.Mutex

	mu              sync.Mutex
	sessionID       string
	userID          string
	connectionID    string
	document        string
	language        string
	applyingRemote  bool
	applyGeneration int
	lastRemoteApply time.Time
	joinCh          chan error

	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the persistent connection. Join must be called before any
// other operation.
func Dial(ctx context.Context, url string, handlers Handlers) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:     conn,
		handlers: handlers,
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Join binds the connection to a session and waits for the snapshot reply.
// On failure the connection stays usable and Join may be retried.
func (c *Client) Join(ctx context.Context, sessionID, userID, displayName, image string) error {
	joinCh := make(chan error, 1)
	c.mu.Lock()
	c.sessionID = sessionID
	c.userID = userID
	c.joinCh = joinCh
	c.mu.Unlock()

	err := c.write(protocol.Join{
		SessionID:   sessionID,
		UserID:      userID,
		DisplayName: displayName,
		Image:       image,
	})
	if err != nil {
		return err
	}

	select {
	case err := <-joinCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errors.New("connection closed")
	}
}

// SetDocument is the local change-detection hook: the editor calls it with
// the full new text. While a remote update is being applied the hook is
// suppressed so the mutation is not re-emitted as a new outgoing event.
func (c *Client) SetDocument(text string) error {
	c.mu.Lock()
	if c.applyingRemote {
		c.mu.Unlock()
		return nil
	}
	c.document = text
	sessionID := c.sessionID
	c.mu.Unlock()

	return c.write(protocol.DocumentChange{
		SessionID:       sessionID,
		NewDocument:     text,
		ClientTimestamp: time.Now().UnixMilli(),
	})
}

func (c *Client) MoveCursor(pos protocol.Position) error {
	return c.write(protocol.CursorMove{SessionID: c.currentSessionID(), Position: pos})
}

func (c *Client) StartTyping() error {
	return c.write(protocol.TypingStart{SessionID: c.currentSessionID()})
}

func (c *Client) StopTyping() error {
	return c.write(protocol.TypingStop{SessionID: c.currentSessionID()})
}

func (c *Client) SetLanguage(language string) error {
	c.mu.Lock()
	c.language = language
	sessionID := c.sessionID
	c.mu.Unlock()
	return c.write(protocol.LanguageChange{SessionID: sessionID, Language: language})
}

func (c *Client) Ping() error {
	return c.write(protocol.Ping{})
}

// Leave ends participation; the connection is closed with it.
func (c *Client) Leave() error {
	err := c.write(protocol.Leave{})
	c.Close()
	return err
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Document returns the client's local view of the document.
func (c *Client) Document() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.document
}

func (c *Client) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

func (c *Client) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) write(m protocol.ClientMessage) error {
	frame, err := protocol.MarshalClient(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		log.Printf("client: dropping undecodable frame: %v", err)
		return
	}

	switch m := msg.(type) {
	case protocol.Joined:
		c.handleJoined(m)
	case protocol.ErrorMessage:
		c.handleError(m)
	case protocol.DocumentUpdate:
		c.handleDocumentUpdate(m)
	case protocol.CursorUpdate:
		if c.handlers.OnCursor != nil {
			c.handlers.OnCursor(m.UserID, m.Position)
		}
	case protocol.TypingUpdate:
		if c.handlers.OnTyping != nil {
			c.handlers.OnTyping(m.UserID, m.IsTyping)
		}
	case protocol.LanguageUpdate:
		c.mu.Lock()
		c.language = m.Language
		c.mu.Unlock()
		if c.handlers.OnLanguage != nil {
			c.handlers.OnLanguage(m.Language)
		}
	case protocol.ParticipantJoined:
		if c.handlers.OnParticipantJoined != nil {
			c.handlers.OnParticipantJoined(m.Participant)
		}
	case protocol.ParticipantLeft:
		if c.handlers.OnParticipantLeft != nil {
			c.handlers.OnParticipantLeft(m.UserID)
		}
	case protocol.Pong:
		// liveness only
	}
}

func (c *Client) handleJoined(m protocol.Joined) {
	c.mu.Lock()
	c.document = m.Document
	c.language = m.Language
	for _, p := range m.Participants {
		if p.UserID == c.userID {
			c.connectionID = p.ConnectionID
		}
	}
	joinCh := c.joinCh
	c.joinCh = nil
	c.mu.Unlock()

	if joinCh != nil {
		joinCh <- nil
	}
}

func (c *Client) handleError(m protocol.ErrorMessage) {
	c.mu.Lock()
	joinCh := c.joinCh
	c.joinCh = nil
	c.mu.Unlock()

	if joinCh != nil {
		joinCh <- fmt.Errorf("%w: %s", ErrJoinFailed, m.Message)
		return
	}
	if c.handlers.OnError != nil {
		c.handlers.OnError(m.Message)
	}
}

// handleDocumentUpdate applies a remote edit unless echo suppression says
// otherwise: self-originated updates are skipped, as is anything arriving
// within the grace window of the last applied remote update.
func (c *Client) handleDocumentUpdate(m protocol.DocumentUpdate) {
	c.mu.Lock()

	if m.OriginUserID == c.userID || (c.connectionID != "" && m.OriginConnectionID == c.connectionID) {
		c.mu.Unlock()
		return
	}
	if !c.lastRemoteApply.IsZero() && time.Since(c.lastRemoteApply) < remoteGraceWindow {
		c.mu.Unlock()
		return
	}

	c.applyingRemote = true
	c.applyGeneration++
	gen := c.applyGeneration
	c.document = m.Document
	c.lastRemoteApply = time.Now()
	c.mu.Unlock()

	if c.handlers.OnDocument != nil {
		c.handlers.OnDocument(m.Document, m.OriginUserID)
	}

	// The editor widget may fire change notifications asynchronously after
	// the buffer mutation; keep the hook suppressed briefly to absorb them.
	time.AfterFunc(echoClearDelay, func() {
		c.mu.Lock()
		if c.applyGeneration == gen {
			c.applyingRemote = false
		}
		c.mu.Unlock()
	})
}
