package core

// IDSet is an insertion-ordered set of root IDs. Iteration order is the
// order in which IDs were first added, which keeps search rankings stable.
type IDSet struct {
	order   []int64
	members map[int64]struct{}
}

// NewIDSet returns an empty set.
func NewIDSet() *IDSet {
	return &IDSet{members: make(map[int64]struct{})}
}

// IDSetOf returns a set holding ids in the given order.
func IDSetOf(ids ...int64) *IDSet {
	s := &IDSet{members: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was new.
func (s *IDSet) Add(id int64) bool {
	if _, ok := s.members[id]; ok {
		return false
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// AddAll inserts ids in order.
func (s *IDSet) AddAll(ids []int64) {
	for _, id := range ids {
		s.Add(id)
	}
}

func (s *IDSet) Has(id int64) bool {
	if s == nil {
		return false
	}
	_, ok := s.members[id]
	return ok
}

func (s *IDSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// IDs returns the members in insertion order. The slice must not be modified.
func (s *IDSet) IDs() []int64 {
	if s == nil {
		return nil
	}
	return s.order
}

// Intersect keeps the members of s that are in other, in s's order.
func (s *IDSet) Intersect(other *IDSet) *IDSet {
	out := NewIDSet()
	for _, id := range s.IDs() {
		if other.Has(id) {
			out.Add(id)
		}
	}
	return out
}

// Union returns s's members followed by other's new members.
func (s *IDSet) Union(other *IDSet) *IDSet {
	out := NewIDSet()
	out.AddAll(s.IDs())
	out.AddAll(other.IDs())
	return out
}

// Clone copies the set.
func (s *IDSet) Clone() *IDSet {
	out := &IDSet{members: make(map[int64]struct{}, s.Len())}
	out.AddAll(s.IDs())
	return out
}
