package core

import (
	"fmt"
	"time"
)

const clockLayout = "15:04"

// formatRoomMessage renders a chat line in the fixed wire template
// "[HH:MM] user@room: text". Clients depend on this exact shape.
func formatRoomMessage(user, room, text string) string {
	return fmt.Sprintf("[%s] %s@%s: %s", time.Now().Format(clockLayout), user, room, text)
}

// formatWhisper renders a private message line; both participants receive
// the identical string.
func formatWhisper(from, text string) string {
	return fmt.Sprintf("[%s] [PRIVATE] %s whispers: %s", time.Now().Format(clockLayout), from, text)
}

// FormatSize renders a byte count as "%.2f <unit>", dividing by 1024 while
// the value is strictly above 1024 (so 1024 stays "1024.00 B").
func FormatSize(size int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	idx := 0
	v := float64(size)
	for v > 1024 && idx < len(units)-1 {
		v /= 1024
		idx++
	}
	return fmt.Sprintf("%.2f %s", v, units[idx])
}
