package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marquinhogomes/pairtrader/internal/domain"
	"github.com/marquinhogomes/pairtrader/internal/ports"
)

// groupStore owns every live TradeGroup. Access goes through withGroup, which
// holds the group's lock for the duration of the callback: the single-writer
// rule is enforced here, not by caller discipline.
type groupStore struct {
	mu     sync.RWMutex
	groups map[int64]*entry

	magicMu   sync.Mutex
	magicSeq  int64
	magicBase int64
}

type entry struct {
	mu    sync.Mutex
	group *domain.TradeGroup
}

// newGroupStore seeds the magic id sequence above the archive high-water mark
// so a restarted process never reuses an id a broker position may still carry.
func newGroupStore(ctx context.Context, storage ports.ArchiveStorage, magicPrefix int64) (*groupStore, error) {
	base := magicPrefix * 100000
	maxArchived, err := storage.MaxMagicID(ctx)
	if err != nil {
		return nil, fmt.Errorf("lifecycle.newGroupStore: max magic id: %w", err)
	}

	seq := int64(0)
	if maxArchived >= base {
		seq = maxArchived - base
	}
	return &groupStore{
		groups:    make(map[int64]*entry),
		magicBase: base,
		magicSeq:  seq,
	}, nil
}

// nextMagic returns a fresh magic id: prefix*100000 + sequence.
func (s *groupStore) nextMagic() int64 {
	s.magicMu.Lock()
	defer s.magicMu.Unlock()
	s.magicSeq++
	return s.magicBase + s.magicSeq
}

// put registers a new group. The magic id must be unused.
func (s *groupStore) put(g *domain.TradeGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.MagicID]; ok {
		return fmt.Errorf("lifecycle.put: duplicate magic id %d", g.MagicID)
	}
	s.groups[g.MagicID] = &entry{group: g}
	return nil
}

// withGroup runs fn with exclusive ownership of the group. fn sees the live
// group; any mutation it makes is the canonical state. Returns false if the
// magic id is unknown.
func (s *groupStore) withGroup(magicID int64, fn func(g *domain.TradeGroup) error) (bool, error) {
	s.mu.RLock()
	e, ok := s.groups[magicID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return true, fn(e.group)
}

// remove deletes a group from the live table (after archiving).
func (s *groupStore) remove(magicID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, magicID)
}

// magicIDs returns every live magic id in ascending order, so reconcile
// passes visit groups deterministically.
func (s *groupStore) magicIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.groups))
	for id := range s.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// snapshotGroups returns deep copies of every live group. Reading a copy
// never blocks the reconcile loop.
func (s *groupStore) snapshotGroups() []domain.TradeGroup {
	out := make([]domain.TradeGroup, 0)
	for _, id := range s.magicIDs() {
		s.withGroup(id, func(g *domain.TradeGroup) error {
			out = append(out, *g)
			return nil
		})
	}
	return out
}

// countOpen returns the number of non-terminal groups.
func (s *groupStore) countOpen() int {
	n := 0
	for _, g := range s.snapshotGroups() {
		if !g.IsTerminal() {
			n++
		}
	}
	return n
}
