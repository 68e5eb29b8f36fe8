package unread

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var countPrefix = regexp.MustCompile(`^\((\d+)\)`)

// ExtractCount returns N for titles starting with "(N)" and 0 for anything else.
// Counts too large for int saturate at math.MaxInt.
func ExtractCount(title string) int {
	m := countPrefix.FindStringSubmatch(title)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt
	}
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// NotificationBody renders the human readable body for n new messages.
func NotificationBody(n int) string {
	if n == 1 {
		return "You have a new message"
	}
	return fmt.Sprintf("You have %d new messages", n)
}
