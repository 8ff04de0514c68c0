// Package presence tracks each participant's cursor position and typing
// flag and fans changes out to the rest of the session. Presence is
// presentation-only: it never touches the document.
package presence

import (
	"github.com/codeduet/backend/internal/protocol"
	"github.com/codeduet/backend/internal/session"
)

type Tracker struct {
	store *session.Store
}

func New(store *session.Store) *Tracker {
	return &Tracker{store: store}
}

// SetCursor overwrites the participant's cursor, last call wins, and
// broadcasts the new position to the other connections in the session.
func (t *Tracker) SetCursor(sessionID, connID, userID string, pos session.Cursor) error {
	sess, ok := t.store.Get(sessionID)
	if !ok {
		return session.ErrNotFound
	}

	frame, err := protocol.MarshalServer(protocol.CursorUpdate{
		UserID:   userID,
		Position: protocol.Position{Line: pos.Line, Column: pos.Column},
	})
	if err != nil {
		return err
	}

	if !sess.SetCursor(connID, pos, frame) {
		return session.ErrNotJoined
	}
	return nil
}

// SetTyping overwrites the participant's typing flag and broadcasts it to
// the other connections. There is no server-side timeout for a stuck flag;
// the originating client is trusted to send the follow-up stop.
func (t *Tracker) SetTyping(sessionID, connID, userID string, typing bool) error {
	sess, ok := t.store.Get(sessionID)
	if !ok {
		return session.ErrNotFound
	}

	frame, err := protocol.MarshalServer(protocol.TypingUpdate{
		UserID:   userID,
		IsTyping: typing,
	})
	if err != nil {
		return err
	}

	if !sess.SetTyping(connID, typing, frame) {
		return session.ErrNotJoined
	}
	return nil
}
