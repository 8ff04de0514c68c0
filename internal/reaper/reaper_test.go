package reaper

import (
	"errors"
	"testing"
	"time"

	"github.com/codeduet/backend/internal/session"
)

type recordingWriter struct {
	saved []string
	err   error
}

func (w *recordingWriter) SaveSnapshot(id, title, document, language string, isPublic bool) error {
	if w.err != nil {
		return w.err
	}
	w.saved = append(w.saved, id)
	return nil
}

type nopSender struct{ id string }

func (s nopSender) ConnectionID() string   { return s.id }
func (s nopSender) Send(frame []byte) bool { return true }

func testConfig() Config {
	return Config{Interval: time.Hour, GracePeriod: 0}
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	store := session.NewStore()
	writer := &recordingWriter{}
	svc := New(store, writer, testConfig())

	sess := store.Create("Stale", "go", false)
	sess.SetDocument("final text", "", nil)
	id := sess.ID()

	time.Sleep(10 * time.Millisecond)
	svc.Sweep()

	if _, ok := store.Get(id); ok {
		t.Error("Expected idle session to be removed")
	}
	if len(writer.saved) != 1 || writer.saved[0] != id {
		t.Errorf("Expected a final snapshot for %s, got %v", id, writer.saved)
	}
}

func TestSweepKeepsOccupiedSessions(t *testing.T) {
	store := session.NewStore()
	svc := New(store, &recordingWriter{}, testConfig())

	sess := store.Create("Busy", "go", false)
	sess.Join(session.Participant{UserID: "u1", ConnectionID: "c1"}, nopSender{id: "c1"},
		func(session.Snapshot) []byte { return nil }, nil)

	time.Sleep(10 * time.Millisecond)
	svc.Sweep()

	if _, ok := store.Get(sess.ID()); !ok {
		t.Error("Session with a participant must survive the sweep")
	}
}

func TestSweepHonorsGracePeriod(t *testing.T) {
	store := session.NewStore()
	svc := New(store, &recordingWriter{}, Config{Interval: time.Hour, GracePeriod: time.Hour})

	sess := store.Create("Recent", "go", false)

	svc.Sweep()

	if _, ok := store.Get(sess.ID()); !ok {
		t.Error("Recently active session must survive the sweep")
	}
}

func TestSweepKeepsSessionOnPersistFailure(t *testing.T) {
	store := session.NewStore()
	writer := &recordingWriter{err: errors.New("disk full")}
	svc := New(store, writer, testConfig())

	sess := store.Create("Stale", "go", false)

	time.Sleep(10 * time.Millisecond)
	svc.Sweep()

	if _, ok := store.Get(sess.ID()); !ok {
		t.Error("Session must not be dropped when the final snapshot fails")
	}
}

func TestStopIdempotent(t *testing.T) {
	svc := New(session.NewStore(), nil, testConfig())

	svc.Start()
	svc.Stop()
	svc.Stop()
}

func TestStartStop(t *testing.T) {
	store := session.NewStore()
	svc := New(store, nil, Config{Interval: 5 * time.Millisecond, GracePeriod: 0})

	sess := store.Create("Stale", "go", false)

	svc.Start()
	time.Sleep(30 * time.Millisecond)
	svc.Stop()

	if _, ok := store.Get(sess.ID()); ok {
		t.Error("Expected the background loop to reap the idle session")
	}
}
