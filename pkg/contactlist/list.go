package contactlist

import (
	"sort"
)

// List is a set of items keyed by identity
type List struct {
	items map[Key]Item
}

// NewList builds a list from items. Later duplicates replace earlier ones.
func NewList(items ...Item) *List {
	l := &List{items: make(map[Key]Item, len(items))}
	for _, it := range items {
		l.Put(it)
	}
	return l
}

// Get looks an item up by identity
func (l *List) Get(k Key) (Item, bool) {
	it, ok := l.items[k]
	return it, ok
}

// Has reports whether an item with this identity exists
func (l *List) Has(k Key) bool {
	_, ok := l.items[k]
	return ok
}

// Put inserts or replaces an item
func (l *List) Put(it Item) {
	l.items[it.Key()] = it
}

// Delete removes an item, reporting whether it existed
func (l *List) Delete(k Key) bool {
	if _, ok := l.items[k]; !ok {
		return false
	}
	delete(l.items, k)
	return true
}

// Len returns the number of items
func (l *List) Len() int {
	return len(l.items)
}

// Count returns the number of items of one type
func (l *List) Count(t ItemType) int {
	n := 0
	for k := range l.items {
		if k.Type == t {
			n++
		}
	}
	return n
}

// Items returns every item, groups first then by type and name
func (l *List) Items() []Item {
	out := make([]Item, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, it)
	}
	sortItems(out)
	return out
}

// Members returns the buddies filed under a group
func (l *List) Members(group string) []Item {
	g := Normalize(group)
	var out []Item
	for _, it := range l.items {
		if it.Type == Buddy && Normalize(it.Group) == g {
			out = append(out, it)
		}
	}
	sortItems(out)
	return out
}

// GroupByID finds a group by its server identifier
func (l *List) GroupByID(id uint16) (Item, bool) {
	for _, it := range l.items {
		if it.Type == Group && it.GroupID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Equal reports whether both lists hold the same identities with the same
// attributes
func (l *List) Equal(o *List) bool {
	if len(l.items) != len(o.items) {
		return false
	}
	for k, it := range l.items {
		other, ok := o.items[k]
		if !ok || !it.SameAttrs(other) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy
func (l *List) Clone() *List {
	c := &List{items: make(map[Key]Item, len(l.items))}
	for k, it := range l.items {
		c.items[k] = it
	}
	return c
}

// typeOrder puts groups ahead of the buddies that reference them
var typeOrder = map[ItemType]int{Group: 0, Buddy: 1, Permit: 2, Deny: 3, PDMode: 4, Presence: 5}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Type != b.Type {
			return typeOrder[a.Type] < typeOrder[b.Type]
		}
		return Normalize(a.Name) < Normalize(b.Name)
	})
}
