// Package sequencer applies the document-update ordering policy: incoming
// events are applied last-write-wins at whole-document granularity, in the
// order the session's serialization point admits them. No event is rejected
// for being out of order; admission order is the order.
package sequencer

import (
	"log"
	"sync"
	"time"

	"github.com/codeduet/backend/internal/protocol"
	"github.com/codeduet/backend/internal/session"
)

// SnapshotWriter persists the document state behind applied updates.
// Persistence failures are logged, never surfaced to clients.
type SnapshotWriter interface {
	SaveSnapshot(id, title, document, language string, isPublic bool) error
}

// Event is one incoming document change from a connection.
type Event struct {
	SessionID          string
	OriginConnectionID string
	OriginUserID       string
	NewDocument        string
	// ClientTimestamp is the producer's wall clock at send time. It rides
	// along for clients; ordering is decided here, not by it.
	ClientTimestamp int64
}

type Sequencer struct {
	store     *session.Store
	snapshots SnapshotWriter

	mu           sync.Mutex
	persistLocks map[string]*sync.Mutex
}

func New(store *session.Store, snapshots SnapshotWriter) *Sequencer {
	return &Sequencer{
		store:        store,
		snapshots:    snapshots,
		persistLocks: make(map[string]*sync.Mutex),
	}
}

// Apply replaces the session document with the event's content and
// rebroadcasts it to every connection except the origin, stamped with the
// server-observed timestamp and the origin identity. Unknown session ids
// return session.ErrNotFound; the caller reports that to the origin
// connection only.
func (q *Sequencer) Apply(ev Event) error {
	sess, ok := q.store.Get(ev.SessionID)
	if !ok {
		return session.ErrNotFound
	}

	frame, err := protocol.MarshalServer(protocol.DocumentUpdate{
		Document:           ev.NewDocument,
		OriginUserID:       ev.OriginUserID,
		OriginConnectionID: ev.OriginConnectionID,
		Timestamp:          time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	sess.SetDocument(ev.NewDocument, ev.OriginConnectionID, frame)
	q.persist(sess)
	return nil
}

// SetLanguage overwrites the session language, last call wins, and
// broadcasts the new value to every connection except the caller.
func (q *Sequencer) SetLanguage(sessionID, exceptConn, language string) error {
	sess, ok := q.store.Get(sessionID)
	if !ok {
		return session.ErrNotFound
	}

	frame, err := protocol.MarshalServer(protocol.LanguageUpdate{Language: language})
	if err != nil {
		return err
	}

	sess.SetLanguage(language, exceptConn, frame)
	q.persist(sess)
	return nil
}

// persist writes the session's current state behind the update that
// triggered it. Writes for one session are serialized and read the state
// atomically under the persist lock, so of two racing applies the last write
// always carries the newer document.
func (q *Sequencer) persist(sess *session.Session) {
	if q.snapshots == nil {
		return
	}

	lk := q.persistLock(sess.ID())
	lk.Lock()
	defer lk.Unlock()

	snap := sess.Snapshot()
	err := q.snapshots.SaveSnapshot(sess.ID(), sess.Title(), snap.Document, snap.Language, sess.IsPublic())
	if err != nil {
		log.Printf("Failed to persist snapshot for session %s: %v", sess.ID(), err)
	}
}

func (q *Sequencer) persistLock(id string) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()

	lk, ok := q.persistLocks[id]
	if !ok {
		lk = &sync.Mutex{}
		q.persistLocks[id] = lk
	}
	return lk
}
