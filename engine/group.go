package engine

import "sync"

// Call group assignments let routing logic count and limit concurrent
// calls per line or customer. Assignments belong to a channel object
// and must follow the call when a splice replaces that object.

type groupEntry struct {
	c        *Channel
	category string
	group    string
}

var (
	groupsMu sync.Mutex
	groups   []*groupEntry
)

// SetGroup assigns c to group within category, replacing any previous
// assignment in that category.
func SetGroup(c *Channel, category, group string) {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	for _, e := range groups {
		if e.c == c && e.category == category {
			e.group = group
			return
		}
	}
	groups = append(groups, &groupEntry{c: c, category: category, group: group})
}

// Groups returns c's assignments as a category to group map.
func Groups(c *Channel) map[string]string {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	out := make(map[string]string)
	for _, e := range groups {
		if e.c == c {
			out[e.category] = e.group
		}
	}
	return out
}

// GroupCount reports how many channels sit in group within category.
func GroupCount(category, group string) int {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	n := 0
	for _, e := range groups {
		if e.category == category && e.group == group {
			n++
		}
	}
	return n
}

// UpdateGroups moves every assignment of old onto new, dropping
// assignments new already holds in the same category.
func UpdateGroups(old, new *Channel) {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	taken := make(map[string]bool)
	for _, e := range groups {
		if e.c == new {
			taken[e.category] = true
		}
	}
	kept := groups[:0]
	for _, e := range groups {
		if e.c == old {
			if taken[e.category] {
				continue
			}
			e.c = new
		}
		kept = append(kept, e)
	}
	groups = kept
}

// DiscardGroups forgets every assignment of c.
func DiscardGroups(c *Channel) {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	kept := groups[:0]
	for _, e := range groups {
		if e.c != c {
			kept = append(kept, e)
		}
	}
	groups = kept
}
