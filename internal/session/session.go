// Package session holds the authoritative state of every live session:
// document, language, and the participant set, plus the connections bound
// to each session. A session's mutex is the serialization point for all
// mutating operations; fan-out happens inside the lock so every participant
// observes broadcasts in application order.
package session

import (
	"sync"
	"time"
)

// Cursor is a participant's last reported position in the document.
type Cursor struct {
	Line   int
	Column int
}

// Participant is one live connection's presence within a session.
type Participant struct {
	UserID       string
	ConnectionID string
	DisplayName  string
	Color        string
	Image        string
	Cursor       *Cursor
	IsTyping     bool
}

// Sender delivers an encoded frame to one connection. Send must not block;
// it returns false when the frame could not be queued, in which case the
// frame is dropped for that receiver.
type Sender interface {
	ConnectionID() string
	Send(frame []byte) bool
}

// Snapshot is an atomic view of a session's shared state, taken under the
// session lock so it is never torn by a concurrent update.
type Snapshot struct {
	Document     string
	Language     string
	Participants []Participant
}

// Session is the shared editable unit. The zero value is not usable; create
// sessions through a Store.
type Session struct {
	id       string
	title    string
	isPublic bool

	mu           sync.Mutex
	document     string
	language     string
	lastActivity time.Time
	participants map[string]*Participant // keyed by connection id
	conns        map[string]Sender
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Title() string  { return s.title }
func (s *Session) IsPublic() bool { return s.isPublic }

// Join atomically registers a participant and its connection, sends the
// current-state reply to the joining connection, and broadcasts notify to
// everyone else. reply is invoked with the snapshot as it existed at the
// moment the join took effect.
func (s *Session) Join(p Participant, sender Sender, reply func(Snapshot) []byte, notify []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.participants[p.ConnectionID] = &p
	s.conns[p.ConnectionID] = sender
	s.lastActivity = time.Now()

	// The reply snapshot includes the joiner itself; document and language
	// are whatever they were when the join took effect.
	snap := s.snapshotLocked()

	if reply != nil {
		if frame := reply(snap); frame != nil {
			sender.Send(frame)
		}
	}
	s.broadcastLocked(p.ConnectionID, notify)
}

// Leave removes the connection's participant and broadcasts notify(userID)
// to the rest. It is idempotent: a second leave for the same connection is
// a no-op and reports removed=false, so exactly one participant-left
// broadcast goes out per joined connection.
func (s *Session) Leave(connID string, notify func(userID string) []byte) (userID string, removed, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return "", false, len(s.participants) == 0
	}
	delete(s.participants, connID)
	delete(s.conns, connID)
	s.lastActivity = time.Now()

	if notify != nil {
		if frame := notify(p.UserID); frame != nil {
			s.broadcastLocked(connID, frame)
		}
	}
	return p.UserID, true, len(s.participants) == 0
}

// SetDocument replaces the whole document and broadcasts frame to every
// connection except the origin. The most recent call always wins; there is
// no merge.
func (s *Session) SetDocument(document, exceptConn string, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.document = document
	s.lastActivity = time.Now()
	s.broadcastLocked(exceptConn, frame)
}

// SetLanguage replaces the session language and broadcasts frame to every
// connection except the origin.
func (s *Session) SetLanguage(language, exceptConn string, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.language = language
	s.lastActivity = time.Now()
	s.broadcastLocked(exceptConn, frame)
}

// SetCursor records the participant's cursor and broadcasts frame to the
// other connections. It reports false when connID is not a joined
// participant, in which case nothing is broadcast.
func (s *Session) SetCursor(connID string, cur Cursor, frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return false
	}
	c := cur
	p.Cursor = &c
	s.lastActivity = time.Now()
	s.broadcastLocked(connID, frame)
	return true
}

// SetTyping records the participant's typing flag and broadcasts frame to
// the other connections.
func (s *Session) SetTyping(connID string, typing bool, frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[connID]
	if !ok {
		return false
	}
	p.IsTyping = typing
	s.lastActivity = time.Now()
	s.broadcastLocked(connID, frame)
	return true
}

// Broadcast fans frame out to every connection except exceptConn. Used by
// the cross-node bridge to inject frames that originated on another node.
func (s *Session) Broadcast(exceptConn string, frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(exceptConn, frame)
}

// Attach registers a connection that is not a participant, such as a relay.
// It receives broadcasts but never appears in the participant set.
func (s *Session) Attach(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[sender.ConnectionID()] = sender
}

// Snapshot returns an atomic view of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Touch updates the activity timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) ParticipantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

func (s *Session) Document() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}

func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func (s *Session) snapshotLocked() Snapshot {
	participants := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		cp := *p
		if p.Cursor != nil {
			c := *p.Cursor
			cp.Cursor = &c
		}
		participants = append(participants, cp)
	}
	return Snapshot{
		Document:     s.document,
		Language:     s.language,
		Participants: participants,
	}
}

func (s *Session) broadcastLocked(exceptConn string, frame []byte) {
	if frame == nil {
		return
	}
	for id, sender := range s.conns {
		if id == exceptConn {
			continue
		}
		// A full receiver drops the frame; its own pumps tear the
		// connection down.
		sender.Send(frame)
	}
}
