// README: Sharded concurrent registry of live matching sessions keyed by ride id.
package matching

import (
	"hash/fnv"
	"sync"
	"time"

	"ridematch/internal/types"
)

const defaultShards = 32

type shard struct {
	mu       sync.RWMutex
	sessions map[types.ID]*Session
}

// Registry holds every in-flight session. A session is present until it
// reaches a terminal state.
type Registry struct {
	shards []*shard
}

func NewRegistry(shards int) *Registry {
	if shards <= 0 {
		shards = defaultShards
	}
	r := &Registry{shards: make([]*shard, shards)}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[types.ID]*Session)}
	}
	return r
}

func (r *Registry) shardFor(id types.ID) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Create registers a new session for id, failing with ErrDuplicateSession if
// one is already live.
func (r *Registry) Create(id types.ID, req Request, now time.Time) (*Session, error) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[id]; ok {
		return nil, ErrDuplicateSession
	}
	s := newSession(id, req, now)
	sh.sessions[id] = s
	return s, nil
}

func (r *Registry) Get(id types.ID) (*Session, bool) {
	sh := r.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[id]
	return s, ok
}

// Remove deletes whatever session is registered under id. It reports whether
// anything was removed.
func (r *Registry) Remove(id types.ID) bool {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[id]; !ok {
		return false
	}
	delete(sh.sessions, id)
	return true
}

// RemoveSession deletes s only if it is still the session registered under
// its id, so a finished loop never evicts a newer session for the same ride.
func (r *Registry) RemoveSession(s *Session) bool {
	sh := r.shardFor(s.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.sessions[s.ID]; !ok || cur != s {
		return false
	}
	delete(sh.sessions, s.ID)
	return true
}

func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Range calls fn for each live session until fn returns false. fn must not
// call back into the registry.
func (r *Registry) Range(fn func(*Session) bool) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		list := make([]*Session, 0, len(sh.sessions))
		for _, s := range sh.sessions {
			list = append(list, s)
		}
		sh.mu.RUnlock()
		for _, s := range list {
			if !fn(s) {
				return
			}
		}
	}
}
