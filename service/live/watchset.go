package live

import "sort"

// idSet is a small set of ids.
type idSet map[int64]struct{}

func newIDSet(ids []int64) idSet {
	s := make(idSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s idSet) has(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// diff returns ids only in next (added) and only in s (removed), both sorted.
func (s idSet) diff(next idSet) (added, removed []int64) {
	for id := range next {
		if !s.has(id) {
			added = append(added, id)
		}
	}
	for id := range s {
		if !next.has(id) {
			removed = append(removed, id)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return added, removed
}

// watchState is the per-connection subscription scope, always derived from
// the membership table, never from client input.
type watchState struct {
	recipients    idSet
	conversations idSet
}

// implicates reports whether a membership change for (userID, conversationID)
// can alter the viewer's scope.
func (w *watchState) implicates(viewer, userID, conversationID int64) bool {
	return userID == viewer || w.conversations.has(conversationID)
}
