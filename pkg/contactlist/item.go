// Package contactlist keeps a local contact list consistent with the copy
// the server stores. It knows nothing about sockets: callers feed it the
// remote list and server acknowledgments, and it tells them which edits to
// send.
package contactlist

import (
	"fmt"
	"strings"
)

// ItemType is the kind of a contact-list entry
type ItemType uint8

const (
	Buddy ItemType = iota
	Group
	Permit
	Deny
	PDMode
	Presence
)

func (t ItemType) String() string {
	switch t {
	case Buddy:
		return "buddy"
	case Group:
		return "group"
	case Permit:
		return "permit"
	case Deny:
		return "deny"
	case PDMode:
		return "pdmode"
	case Presence:
		return "presence"
	default:
		return fmt.Sprintf("itemtype(%d)", uint8(t))
	}
}

// singleton types have at most one item and no meaningful name
func (t ItemType) singleton() bool {
	return t == PDMode || t == Presence
}

// Permit/deny modes stored in the PDMode item value
const (
	PermitAll       uint32 = 1
	DenyAll         uint32 = 2
	PermitSome      uint32 = 3
	DenySome        uint32 = 4
	PermitOnBuddies uint32 = 5
)

// Normalize folds a screen name the way the server compares them:
// case-insensitive with spaces ignored.
func Normalize(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", ""))
}

// Key is the identity of an item
type Key struct {
	Type ItemType
	Name string
}

// KeyOf builds the identity of an item of type t named name
func KeyOf(t ItemType, name string) Key {
	if t.singleton() {
		return Key{Type: t}
	}
	return Key{Type: t, Name: Normalize(name)}
}

func (k Key) String() string {
	if k.Name == "" {
		return k.Type.String()
	}
	return k.Type.String() + ":" + k.Name
}

// Item is one contact-list entry. Group is the owning group's display name
// for buddies. GroupID and ItemID are the server identifiers, zero until
// assigned.
type Item struct {
	Type    ItemType
	Name    string
	Group   string
	Alias   string
	Value   uint32
	GroupID uint16
	ItemID  uint16
}

// Key returns the item's identity
func (it Item) Key() Key {
	return KeyOf(it.Type, it.Name)
}

// SameAttrs reports whether two items with the same identity also carry
// the same attributes. Server identifiers are not compared.
func (it Item) SameAttrs(o Item) bool {
	return Normalize(it.Group) == Normalize(o.Group) &&
		it.Alias == o.Alias &&
		it.Value == o.Value
}

func (it Item) String() string {
	switch it.Type {
	case Buddy:
		if it.Alias != "" {
			return fmt.Sprintf("buddy %s (%s) in %q", it.Name, it.Alias, it.Group)
		}
		return fmt.Sprintf("buddy %s in %q", it.Name, it.Group)
	case PDMode, Presence:
		return fmt.Sprintf("%s=%d", it.Type, it.Value)
	default:
		return fmt.Sprintf("%s %s", it.Type, it.Name)
	}
}
