// Package guard provides per-user mutual exclusion for job execution.
//
// The guard is in-memory only. It keeps at most one job per user running
// inside this process; a second process instance has its own guard and is
// not coordinated with.
package guard

import "sync"

// UserGuard is a set of users that currently have a job executing.
type UserGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an empty guard.
func New() *UserGuard {
	return &UserGuard{active: make(map[string]struct{})}
}

// Lock is a held claim on a user. Release it exactly once, typically with defer.
type Lock struct {
	g      *UserGuard
	userID string
	once   sync.Once
}

// TryAcquire claims userID. It returns false if the user is already held.
func (g *UserGuard) TryAcquire(userID string) (*Lock, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.active[userID]; held {
		return nil, false
	}
	g.active[userID] = struct{}{}
	return &Lock{g: g, userID: userID}, true
}

// Release frees the user. Calling it more than once is a no-op.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.g.release(l.userID)
	})
}

// UserID returns the user this lock holds.
func (l *Lock) UserID() string {
	return l.userID
}

func (g *UserGuard) release(userID string) {
	g.mu.Lock()
	delete(g.active, userID)
	g.mu.Unlock()
}

// Held reports whether userID is currently claimed.
func (g *UserGuard) Held(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.active[userID]
	return held
}

// Len returns the number of users currently claimed.
func (g *UserGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}
