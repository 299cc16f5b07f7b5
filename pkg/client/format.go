package client

import (
	"fmt"
	"strings"
	"time"
)

// FormatBytes formats bytes into human-readable form (B, KB, MB, etc.)
func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatBandwidth converts a transfer cap in bytes/sec to modem-equivalent
// display (14.4k, 56k, etc.). Zero means no cap.
func FormatBandwidth(bytesPerSec int) string {
	if bytesPerSec <= 0 {
		return "unlimited"
	}
	bitsPerSec := bytesPerSec * 8

	switch {
	case bitsPerSec <= 14400:
		return "14.4k"
	case bitsPerSec <= 28800:
		return "28.8k"
	case bitsPerSec <= 33600:
		return "33.6k"
	case bitsPerSec <= 56000:
		return "56k"
	case bitsPerSec <= 128000:
		return "128k"
	case bitsPerSec <= 256000:
		return "256k"
	case bitsPerSec <= 512000:
		return "512k"
	case bitsPerSec <= 1024000:
		return "1Mbps"
	default:
		return fmt.Sprintf("%.1fMbps", float64(bitsPerSec)/1000000)
	}
}

// FormatRelativeTime formats a timestamp relative to now
// Returns strings like "just now", "5m ago", "2h ago", "3d ago"
func FormatRelativeTime(t time.Time) string {
	diff := time.Since(t)

	if diff < time.Minute {
		return "just now"
	}
	if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	}
	if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
}

// FormatPresence renders a buddy's state for a status line, e.g.
// "alice (away, idle 5m)"
func FormatPresence(p Presence) string {
	if !p.Online {
		return p.Name + " (offline)"
	}
	var notes []string
	if p.Away {
		notes = append(notes, "away")
	}
	if p.Idle >= time.Minute {
		notes = append(notes, fmt.Sprintf("idle %s", p.Idle.Truncate(time.Minute)))
	}
	if p.Warning > 0 {
		notes = append(notes, fmt.Sprintf("warned %d%%", p.Warning/10))
	}
	if len(notes) == 0 {
		return p.Name
	}
	return fmt.Sprintf("%s (%s)", p.Name, strings.Join(notes, ", "))
}
