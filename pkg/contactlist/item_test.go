package contactlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "johndoe", Normalize("John Doe"))
	assert.Equal(t, "abc", Normalize(" a B c "))
	assert.Equal(t, KeyOf(Buddy, "John Doe"), KeyOf(Buddy, "johndoe"))
}

func TestSingletonKeysIgnoreName(t *testing.T) {
	assert.Equal(t, KeyOf(PDMode, ""), KeyOf(PDMode, "anything"))
	assert.Equal(t, "pdmode", KeyOf(PDMode, "").String())
	assert.Equal(t, "buddy:bob", KeyOf(Buddy, "Bob").String())
}

func TestSameAttrs(t *testing.T) {
	a := Item{Type: Buddy, Name: "bob", Group: "Friends", Alias: "Bobby", GroupID: 1, ItemID: 2}
	b := Item{Type: Buddy, Name: "Bob", Group: "friends", Alias: "Bobby", GroupID: 7, ItemID: 9}
	assert.True(t, a.SameAttrs(b), "identifiers and case do not matter")

	b.Alias = "Robert"
	assert.False(t, a.SameAttrs(b))
}

func TestItemString(t *testing.T) {
	assert.Equal(t, `buddy bob (Bobby) in "Friends"`, Item{Type: Buddy, Name: "bob", Group: "Friends", Alias: "Bobby"}.String())
	assert.Equal(t, "pdmode=4", Item{Type: PDMode, Value: DenySome}.String())
	assert.Equal(t, "deny spammer", Item{Type: Deny, Name: "spammer"}.String())
	assert.Equal(t, "itemtype(9)", ItemType(9).String())
}

func TestListOrderingAndMembers(t *testing.T) {
	l := NewList(
		Item{Type: Buddy, Name: "zed", Group: "Work"},
		Item{Type: Deny, Name: "spam"},
		Item{Type: Group, Name: "Work", GroupID: 3},
		Item{Type: Buddy, Name: "amy", Group: "work"},
		Item{Type: Buddy, Name: "carl", Group: "Home"},
	)
	items := l.Items()
	assert.Equal(t, Group, items[0].Type)
	assert.Equal(t, "amy", items[1].Name)

	members := l.Members("Work")
	assert.Len(t, members, 2)
	assert.Equal(t, "amy", members[0].Name)
	assert.Equal(t, "zed", members[1].Name)

	g, ok := l.GroupByID(3)
	assert.True(t, ok)
	assert.Equal(t, "Work", g.Name)
	_, ok = l.GroupByID(4)
	assert.False(t, ok)

	assert.Equal(t, 3, l.Count(Buddy))
	assert.True(t, l.Delete(KeyOf(Buddy, "ZED")))
	assert.False(t, l.Delete(KeyOf(Buddy, "zed")))
}

func TestListEqualAndClone(t *testing.T) {
	a := NewList(Item{Type: Buddy, Name: "bob", Group: "G"}, Item{Type: Group, Name: "G"})
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Put(Item{Type: Buddy, Name: "bob", Group: "G", Alias: "x"})
	assert.False(t, a.Equal(b))
	assert.Equal(t, "", mustGet(t, a, KeyOf(Buddy, "bob")).Alias, "clone is independent")

	b.Delete(KeyOf(Buddy, "bob"))
	assert.False(t, a.Equal(b))
}

func mustGet(t *testing.T, l *List, k Key) Item {
	t.Helper()
	it, ok := l.Get(k)
	if !ok {
		t.Fatalf("%s missing", k)
	}
	return it
}
