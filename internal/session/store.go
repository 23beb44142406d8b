package session

import (
	"context"
	"sync"
	"time"

	"github.com/bdgdview/bdgd-api/internal/config"
	"github.com/bdgdview/bdgd-api/internal/model"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type entry struct {
	user      model.User
	expiresAt time.Time
}

// Store holds all live sessions for the process. Entries expire at an
// absolute instant; expired entries are evicted on lookup and by a
// background sweep.
type Store struct {
	log   *zap.Logger
	ttl   time.Duration
	sweep time.Duration
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]entry

	stop chan struct{}
	done chan struct{}
}

type Params struct {
	fx.In

	LC     fx.Lifecycle
	Log    *zap.Logger
	Config *config.Config
}

func NewStore(p Params) *Store {
	s := newStore(p.Config.Session.TTL.Std(), p.Config.Session.SweepInterval.Std(), p.Log)

	p.LC.Append(fx.Hook{
		OnStart: s.start,
		OnStop:  s.shutdown,
	})

	return s
}

func newStore(ttl, sweep time.Duration, log *zap.Logger) *Store {
	return &Store{
		log:      log,
		ttl:      ttl,
		sweep:    sweep,
		now:      time.Now,
		sessions: make(map[string]entry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Create mints a fresh session for user and returns its identifier.
func (s *Store) Create(user model.User) string {
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = entry{
		user:      user,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()

	return id
}

// Get returns the identity bound to id. An entry past its expiry is
// evicted and reported as absent; a retrievable session is never stale.
func (s *Store) Get(id string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return model.User{}, false
	}

	if s.now().After(e.expiresAt) {
		delete(s.sessions, id)
		return model.User{}, false
	}

	return e.user, true
}

// Destroy removes the session if present.
func (s *Store) Destroy(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// SweepExpired removes every entry past its expiry and returns how
// many were removed.
func (s *Store) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.sessions {
		if now.After(e.expiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}

	return removed
}

func (s *Store) start(_ context.Context) error {
	go s.run()
	return nil
}

func (s *Store) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				s.log.Info("swept expired sessions", zap.Int("count", n))
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Store) shutdown(ctx context.Context) error {
	close(s.stop)

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
