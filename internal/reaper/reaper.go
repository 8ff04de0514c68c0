// Package reaper expires idle sessions: a session whose last participant
// has left and that has seen no activity for the grace period gets a final
// snapshot persisted and is removed from the live store.
package reaper

import (
	"log"
	"sync"
	"time"

	"github.com/codeduet/backend/internal/session"
)

type Config struct {
	Interval    time.Duration
	GracePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		GracePeriod: 5 * time.Minute,
	}
}

// SnapshotWriter persists a session's final state before removal.
type SnapshotWriter interface {
	SaveSnapshot(id, title, document, language string, isPublic bool) error
}

type Service struct {
	store     *session.Store
	snapshots SnapshotWriter
	config    Config
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func New(store *session.Store, snapshots SnapshotWriter, config Config) *Service {
	return &Service{
		store:     store,
		snapshots: snapshots,
		config:    config,
		stop:      make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	log.Printf("Reaper started (interval: %v, grace period: %v)",
		s.config.Interval, s.config.GracePeriod)
}

// Stop is safe to call more than once; shutdown paths may overlap.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		log.Println("Reaper stopped")
	})
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep removes every empty session idle longer than the grace period.
func (s *Service) Sweep() {
	cutoff := time.Now().Add(-s.config.GracePeriod)
	reaped := 0

	for _, sess := range s.store.IdleSince(cutoff) {
		if s.snapshots != nil {
			err := s.snapshots.SaveSnapshot(sess.ID(), sess.Title(), sess.Document(), sess.Language(), sess.IsPublic())
			if err != nil {
				log.Printf("Reaper: failed to persist session %s: %v", sess.ID(), err)
				continue
			}
		}
		s.store.Delete(sess.ID())
		reaped++
	}

	if reaped > 0 {
		log.Printf("Reaped %d idle sessions", reaped)
	}
}
