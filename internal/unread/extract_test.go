package unread

import (
	"math"
	"math/rand"
	"strconv"
	"testing"
)

func TestExtractCountWithoutPrefix(t *testing.T) {
	t.Parallel()
	titles := []string{
		"",
		"Messenger",
		" (3) Messenger",
		"Messenger (3)",
		"(x) Messenger",
		"() Messenger",
		"(-1) Messenger",
		"(3 Messenger",
		"[3] Messenger",
	}
	for _, title := range titles {
		if got := ExtractCount(title); got != 0 {
			t.Fatalf("ExtractCount(%q) = %d, want 0", title, got)
		}
	}
}

func TestExtractCountWithPrefix(t *testing.T) {
	t.Parallel()
	values := []int{0, 1, 2, 9, 10, 42, 99, 100, 12345}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		values = append(values, rng.Intn(1<<30))
	}
	for _, n := range values {
		title := "(" + strconv.Itoa(n) + ") anything"
		if got := ExtractCount(title); got != n {
			t.Fatalf("ExtractCount(%q) = %d, want %d", title, got, n)
		}
	}
	if got := ExtractCount("(7)"); got != 7 {
		t.Fatalf("ExtractCount(\"(7)\") = %d, want 7", got)
	}
	largest := strconv.Itoa(math.MaxInt)
	if got := ExtractCount("(" + largest + ") anything"); got != math.MaxInt {
		t.Fatalf("ExtractCount(MaxInt) = %d", got)
	}
}

func TestExtractCountSaturates(t *testing.T) {
	t.Parallel()
	for _, title := range []string{
		"(99999999999999999999999) overflow",
		"(" + strconv.Itoa(math.MaxInt) + "0) Messenger",
	} {
		if got := ExtractCount(title); got != math.MaxInt {
			t.Fatalf("ExtractCount(%q) = %d, want math.MaxInt", title, got)
		}
	}
}

func TestNotificationBody(t *testing.T) {
	t.Parallel()
	if got := NotificationBody(1); got != "You have a new message" {
		t.Fatalf("singular body = %q", got)
	}
	if got := NotificationBody(3); got != "You have 3 new messages" {
		t.Fatalf("plural body = %q", got)
	}
}
