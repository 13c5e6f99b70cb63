package ws

import "sync"

// Member is one live attendee of a group: a user on a specific connection.
type Member struct {
	UserID      string `json:"id"`
	ConnID      string `json:"-"`
	DisplayName string `json:"name,omitempty"`
}

// GroupStore tracks live attendance for one kind of group. Conversations
// have durable identity owned by the persistence layer, so the store only
// mirrors who is attached right now; signaling rooms exist solely as their
// live member set. The ephemeral flag selects between the two lifecycles:
// ephemeral groups are deleted the moment they empty, and a user rejoining
// an ephemeral group replaces their previous entry instead of duplicating it.
type GroupStore struct {
	mu        sync.RWMutex
	ephemeral bool
	groups    map[string]map[string]Member // group id -> conn id -> member
}

func NewGroupStore(ephemeral bool) *GroupStore {
	return &GroupStore{
		ephemeral: ephemeral,
		groups:    make(map[string]map[string]Member),
	}
}

// Join attaches a connection to a group, creating the group record on first
// join. It returns the member list as it stood before the join so the
// joining client can reconcile its view. For ephemeral groups an existing
// entry for the same user is replaced and omitted from the returned list.
func (s *GroupStore) Join(groupID, userID, connID, displayName string) []Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	group := s.groups[groupID]
	if group == nil {
		group = make(map[string]Member)
		s.groups[groupID] = group
	}

	if s.ephemeral {
		for id, m := range group {
			if m.UserID == userID {
				delete(group, id)
			}
		}
	}

	prior := make([]Member, 0, len(group))
	for _, m := range group {
		prior = append(prior, m)
	}

	group[connID] = Member{UserID: userID, ConnID: connID, DisplayName: displayName}
	return prior
}

// Leave detaches a connection from a group. removed reports whether an
// entry was actually deleted; emptied reports whether the group has no
// members left as a result. Leaving a group the connection is not in is a
// no-op with removed false, so callers can tell a real departure apart
// from a repeated or stray leave.
func (s *GroupStore) Leave(groupID, connID string) (removed, emptied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked(groupID, connID)
}

func (s *GroupStore) leaveLocked(groupID, connID string) (removed, emptied bool) {
	group, ok := s.groups[groupID]
	if !ok {
		return false, false
	}
	if _, ok := group[connID]; !ok {
		return false, false
	}
	delete(group, connID)

	if len(group) == 0 {
		if s.ephemeral {
			delete(s.groups, groupID)
		}
		return true, true
	}
	return true, false
}

// LeaveAll detaches a connection from every group it is in and returns the
// ids of the affected groups. Called on disconnect.
func (s *GroupStore) LeaveAll(connID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []string
	for groupID, group := range s.groups {
		if _, ok := group[connID]; ok {
			affected = append(affected, groupID)
			s.leaveLocked(groupID, connID)
		}
	}
	return affected
}

// Members returns a snapshot of a group's current members.
func (s *GroupStore) Members(groupID string) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[groupID]
	if !ok {
		return nil
	}
	members := make([]Member, 0, len(group))
	for _, m := range group {
		members = append(members, m)
	}
	return members
}

// Contains reports whether the given connection is attached to the group.
func (s *GroupStore) Contains(groupID, connID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[groupID]
	if !ok {
		return false
	}
	_, ok = group[connID]
	return ok
}

// UserMembers returns the member entries a user holds in a group. A user
// on several devices may hold several entries in a non-ephemeral group.
func (s *GroupStore) UserMembers(groupID, userID string) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Member
	for _, m := range s.groups[groupID] {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

// Exists reports whether the group currently has a live record.
func (s *GroupStore) Exists(groupID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.groups[groupID]
	return ok
}
