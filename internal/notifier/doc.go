// Package notifier delivers unread notifications asynchronously.
//
// Each accepted notification fans out to every configured sink (the desktop
// toast and, optionally, a Telegram mirror). Per sink it goes through a
// bounded queue, a shared rate limiter and retry with jittered backoff.
//
// # Suppression
//
// Two gates run before anything is queued:
//   - focus: while the shell window has focus the user is already looking at
//     the conversation, so nothing is shown (configurable).
//   - dedup: an identical title/body on the same channel inside the dedup
//     window is dropped. The window can be persisted through storage so a
//     restart does not replay the last toast.
//
// # History
//
// The service keeps a small in-memory history of outcomes for /status and
// appends each outcome to the storage delivery log when one is configured.
package notifier
