// Package memstore is the in-memory reference implementation of the durable
// session store. It keeps token, id, and user indexes under one mutex and
// hands out deep copies, so concurrent engine use is safe. Production
// deployments are expected to substitute a database-backed implementation of
// the same interface.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/modmesh/sessioncore/session"
)

// Store is a mutex-guarded in-memory durable session store.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*session.Session
	byToken map[string]string              // token -> id
	byUser  map[string]map[string]struct{} // userID -> set of ids
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*session.Session),
		byToken: make(map[string]string),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// Insert persists a new session row. Both id and token must be unused;
// tokens are never reassigned.
func (s *Store) Insert(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[sess.ID]; exists {
		return errors.New("duplicate session id")
	}
	if _, exists := s.byToken[sess.Token]; exists {
		return errors.New("duplicate session token")
	}

	s.byID[sess.ID] = sess.Clone()
	s.byToken[sess.Token] = sess.ID
	ids, ok := s.byUser[sess.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[sess.UserID] = ids
	}
	ids[sess.ID] = struct{}{}
	return nil
}

// GetByToken returns the session addressed by a token, regardless of its
// active or expiry state. Liveness policy belongs to the caller.
func (s *Store) GetByToken(ctx context.Context, token string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byToken[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// GetByID returns the session with the given internal id.
func (s *Store) GetByID(ctx context.Context, id string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.byID[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess.Clone(), nil
}

// Update replaces the stored row for an existing session id. The token is
// immutable once issued; an update that would change it is rejected.
func (s *Store) Update(ctx context.Context, sess *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[sess.ID]
	if !ok {
		return session.ErrNotFound
	}
	if current.Token != sess.Token {
		return errors.New("session token is immutable")
	}

	s.byID[sess.ID] = sess.Clone()
	return nil
}

// ListByUser returns a user's sessions, optionally restricted to active,
// unexpired rows, ordered by LastAccessedAt ascending (oldest first).
func (s *Store) ListByUser(ctx context.Context, userID string, activeOnly bool) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]*session.Session, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		sess := s.byID[id]
		if activeOnly && (!sess.IsActive || sess.Expired(now)) {
			continue
		}
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessedAt.Before(out[j].LastAccessedAt)
	})
	return out, nil
}

// ListExpired returns up to limit active sessions whose expiry has passed.
// limit <= 0 means no limit.
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*session.Session
	for _, sess := range s.byID {
		if !sess.IsActive || !sess.Expired(now) {
			continue
		}
		out = append(out, sess.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListActive returns every active, unexpired session. This is an O(n) scan
// used by usage aggregation, not by the request path.
func (s *Store) ListActive(ctx context.Context) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []*session.Session
	for _, sess := range s.byID {
		if !sess.IsActive || sess.Expired(now) {
			continue
		}
		out = append(out, sess.Clone())
	}
	return out, nil
}

// Delete removes a session row and its index entries. Deleting an absent id
// is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return nil
	}

	delete(s.byID, id)
	delete(s.byToken, sess.Token)
	if ids, ok := s.byUser[sess.UserID]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
	return nil
}
