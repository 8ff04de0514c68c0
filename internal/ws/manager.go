// Package ws is the connection lifecycle manager: it binds websocket
// connections to sessions, runs the join/leave state machine, and routes
// events to the sequencer and presence tracker.
package ws

import (
	"log"

	"github.com/codeduet/backend/internal/db"
	"github.com/codeduet/backend/internal/presence"
	"github.com/codeduet/backend/internal/sequencer"
	"github.com/codeduet/backend/internal/session"
)

// SnapshotReader looks up persisted sessions for ids that are not live.
type SnapshotReader interface {
	GetSnapshot(id string) (*db.SessionSnapshot, error)
}

// Attacher hooks a newly live session up to the cross-node bridge.
type Attacher interface {
	Attach(s *session.Session)
}

type Manager struct {
	store     *session.Store
	sequencer *sequencer.Sequencer
	presence  *presence.Tracker
	snapshots SnapshotReader // may be nil
	bridge    Attacher       // may be nil
}

func NewManager(store *session.Store, seq *sequencer.Sequencer, pres *presence.Tracker, snapshots SnapshotReader, bridge Attacher) *Manager {
	return &Manager{
		store:     store,
		sequencer: seq,
		presence:  pres,
		snapshots: snapshots,
		bridge:    bridge,
	}
}

// resolveSession finds a live session, reviving it from the persisted
// snapshot store when one exists for the id.
func (m *Manager) resolveSession(id string) (*session.Session, bool) {
	if sess, ok := m.store.Get(id); ok {
		return sess, true
	}
	if m.snapshots == nil {
		return nil, false
	}

	snap, err := m.snapshots.GetSnapshot(id)
	if err != nil {
		log.Printf("Snapshot lookup failed for session %s: %v", id, err)
		return nil, false
	}
	if snap == nil {
		return nil, false
	}

	sess := m.store.Restore(snap.ID, snap.Title, snap.Document, snap.Language, snap.IsPublic)
	if m.bridge != nil {
		m.bridge.Attach(sess)
	}
	log.Printf("Revived session %s from snapshot", snap.ID)
	return sess, true
}
