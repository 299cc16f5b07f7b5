package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1.0KB"},
		{1536, "1.5KB"},
		{5 * 1024 * 1024, "5.0MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in), "FormatBytes(%d)", tt.in)
	}
}

func TestFormatBandwidth(t *testing.T) {
	assert.Equal(t, "unlimited", FormatBandwidth(0))
	assert.Equal(t, "14.4k", FormatBandwidth(1800))
	assert.Equal(t, "56k", FormatBandwidth(7000))
	assert.Equal(t, "2.0Mbps", FormatBandwidth(250000))
}

func TestFormatPresence(t *testing.T) {
	assert.Equal(t, "bob (offline)", FormatPresence(Presence{Name: "bob"}))
	assert.Equal(t, "bob", FormatPresence(Presence{Name: "bob", Online: true}))
	assert.Equal(t, "bob (away, idle 5m0s)",
		FormatPresence(Presence{Name: "bob", Online: true, Away: true, Idle: 5*time.Minute + 20*time.Second}))
	assert.Equal(t, "bob (warned 25%)", FormatPresence(Presence{Name: "bob", Online: true, Warning: 250}))
}
