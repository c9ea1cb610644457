// Package notifications pushes job lifecycle events to an ntfy topic.
//
// NewService returns a no-op when no topic is configured, so callers publish
// unconditionally. Each event can be switched off in the [notifications]
// config section.
package notifications
