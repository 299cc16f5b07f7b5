package protocol

// UserClass is the user-class bitfield carried in TLV 0x0001 of a user info block.
type UserClass uint16

const (
	UserClassUnconfirmed UserClass = 1 << 0 // 0x01 - account email not confirmed
	UserClassAdmin       UserClass = 1 << 1 // 0x02 - service administrator
	UserClassAOL         UserClass = 1 << 2 // 0x04 - AOL member
	UserClassCommercial  UserClass = 1 << 3 // 0x08 - commercial account
	UserClassFree        UserClass = 1 << 4 // 0x10 - regular AIM member
	UserClassAway        UserClass = 1 << 5 // 0x20 - away message set
	UserClassICQ         UserClass = 1 << 6 // 0x40 - ICQ number
	UserClassWireless    UserClass = 1 << 7 // 0x80 - mobile device
)

// IsAway returns true if the away bit is set
func (c UserClass) IsAway() bool {
	return c&UserClassAway != 0
}

// IsAdmin returns true if the administrator bit is set
func (c UserClass) IsAdmin() bool {
	return c&UserClassAdmin != 0
}

// IsWireless returns true if the user is signed on from a mobile device
func (c UserClass) IsWireless() bool {
	return c&UserClassWireless != 0
}

// DisplayPrefix returns the prefix a buddy list shows in front of the name.
// Returns "$" for administrators, "@" for wireless users, "" otherwise.
func (c UserClass) DisplayPrefix() string {
	if c.IsAdmin() {
		return "$"
	}
	if c.IsWireless() {
		return "@"
	}
	return ""
}
