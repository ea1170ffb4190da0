// Package notifications delivers job outcome events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// the [notifications] section and degrades to a no-op when no topic is set.
// The workflow dispatcher publishes one event per finished job; the CLI uses
// EventTest to verify delivery.
package notifications
