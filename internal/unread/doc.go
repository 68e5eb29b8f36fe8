// Package unread turns the wrapped messenger's document title into badge and
// notification signals.
//
// The page rewrites its title many times per logical update, so raw title
// events are debounced: only the title present when the single-slot timer
// fires (the "stable" title) is evaluated. Evaluation applies two rules:
//
//   - Badge: the badge only ever moves up to a new running maximum. It can go
//     down only through an explicit focus reset.
//   - Notification: at most one notification per distinct stable title (or per
//     count increase, depending on DedupPolicy).
//
// A Tracker is a reactive reducer, not a state machine. It is created when the
// tracked page finishes loading, mutated by OnTitleMutated, OnWindowFocused and
// its own debounce timer, and discarded with Close when the page goes away.
package unread
