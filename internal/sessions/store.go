package sessions

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cropdoc-backend/internal/orchestrator"
)

var ErrNotFound = errors.New("session not found")

// Factory builds the orchestrator for a freshly created session id.
type Factory func(id string) *orchestrator.Session

// Store keeps live sessions in memory and evicts the idle ones.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*orchestrator.Session
	factory  Factory
	ttl      time.Duration
	inUse    func(uuid.UUID) bool
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewStore(factory Factory, ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*orchestrator.Session),
		factory:  factory,
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// SetInUse registers a check for sessions that stay alive regardless of their last
// activity, such as those with an open websocket. Call it before Start.
func (s *Store) SetInUse(inUse func(uuid.UUID) bool) {
	s.inUse = inUse
}

func (s *Store) Create() (uuid.UUID, *orchestrator.Session) {
	id := uuid.New()
	sess := s.factory(id.String())

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return id, sess
}

func (s *Store) Get(id uuid.UUID) (*orchestrator.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete closes and forgets the session.
func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		sess.Close()
	}
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep closes every session idle for longer than the TTL that is not in use and
// returns how many went.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	var expired []*orchestrator.Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if s.inUse != nil && s.inUse(id) {
			continue
		}
		if sess.LastActive().Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Close()
	}
	return len(expired)
}

// Start runs Sweep periodically until Stop.
func (s *Store) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					log.Printf("Evicted %d idle sessions (%d live)", n, s.Len())
				}
			}
		}
	}()
}

// Stop ends the sweeper and closes all remaining sessions.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })

	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[uuid.UUID]*orchestrator.Session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
}
