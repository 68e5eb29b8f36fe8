// Package storage persists notifier side effects across restarts.
//
// It supports:
//   - Delivery log appends (one record per delivered or failed notification)
//   - Optional notifier dedup state
//
// Unread counts are never persisted; every page load starts a fresh session.
package storage
