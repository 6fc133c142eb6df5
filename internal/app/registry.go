package app

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/Drop/internal/core"
	"github.com/dkeye/Drop/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrUnknownConn = errors.New("unknown connection")

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
	Groups map[domain.PublicID]struct{}
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []domain.ConnID
}

// Registry is the live, process-local view of connections and the
// broadcast groups they are subscribed to. It is never persisted.
type Registry struct {
	mu     sync.RWMutex
	conns  map[domain.ConnID]*connEntry
	groups map[domain.PublicID]map[domain.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[domain.ConnID]*connEntry),
		groups: make(map[domain.PublicID]map[domain.ConnID]struct{}),
	}
}

func (r *Registry) Bind(id domain.ConnID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = &connEntry{
		Conn:   conn,
		Cancel: cancel,
		Groups: make(map[domain.PublicID]struct{}),
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
}

// Unbind forgets the connection and removes it from every group. It
// returns the groups the connection was subscribed to and whether it was
// bound at all.
func (r *Registry) Unbind(id domain.ConnID) ([]domain.PublicID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	groups := slices.Sorted(maps.Keys(e.Groups))
	for _, g := range groups {
		r.leaveLocked(g, id)
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("groups", len(groups)).Msg("unbind connection")
	return groups, true
}

func (r *Registry) Get(id domain.ConnID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Subscribe adds a bound connection to a group. It reports false when the
// connection is no longer bound.
func (r *Registry) Subscribe(group domain.PublicID, id domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	members, ok := r.groups[group]
	if !ok {
		members = make(map[domain.ConnID]struct{})
		r.groups[group] = members
	}
	members[id] = struct{}{}
	e.Groups[group] = struct{}{}
	log.Debug().Str("module", "app.registry").Str("conn", string(id)).Str("public_id", string(group)).Msg("subscribed")
	return true
}

func (r *Registry) Unsubscribe(group domain.PublicID, id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(group, id)
}

func (r *Registry) leaveLocked(group domain.PublicID, id domain.ConnID) {
	if e, ok := r.conns[id]; ok {
		delete(e.Groups, group)
	}
	members, ok := r.groups[group]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.groups, group)
	}
}

// Members returns the live connections subscribed to group.
func (r *Registry) Members(group domain.PublicID) []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.groups[group]))
}

// DropGroup removes the group and returns its former members.
func (r *Registry) DropGroup(group domain.PublicID) []domain.ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := slices.Sorted(maps.Keys(r.groups[group]))
	for _, id := range members {
		if e, ok := r.conns[id]; ok {
			delete(e.Groups, group)
		}
	}
	delete(r.groups, group)
	return members
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) Send(id domain.ConnID, f core.Frame) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return ErrUnknownConn
	}
	return e.Conn.TrySend(f)
}

// Broadcast sends f to every member of group except the given connection.
func (r *Registry) Broadcast(group domain.PublicID, except domain.ConnID, f core.Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id := range r.groups[group] {
		if id == except {
			continue
		}
		r.sendLocked(id, f, &res)
	}
	log.Debug().Str("module", "app.registry").Str("public_id", string(group)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// BroadcastAll sends f to every bound connection except the given one.
func (r *Registry) BroadcastAll(except domain.ConnID, f core.Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id := range r.conns {
		if id == except {
			continue
		}
		r.sendLocked(id, f, &res)
	}
	log.Debug().Str("module", "app.registry").Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("global broadcast result")
	return res
}

func (r *Registry) sendLocked(id domain.ConnID, f core.Frame, res *PublishResult) {
	e, ok := r.conns[id]
	if !ok {
		return
	}
	if err := e.Conn.TrySend(f); err != nil {
		res.Dropped = append(res.Dropped, id)
		return
	}
	res.SendTo++
}

// Cancel stops the connection's pumps; the adapter then reports the
// disconnect.
func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}
