// Package notifications delivers ingest and insight events via ntfy.
//
// The default implementation posts to the topic URL configured under
// [notifications] and degrades to a no-op when no topic is set. Callers depend
// only on the Service interface and publish an Event with a loose Payload map;
// per-event toggles in the config decide what is actually sent.
package notifications
