// Package observability provides event logging, metrics calculation, and
// alerting for devassist. Events are persisted as JSON Lines in
// .devassist/events.jsonl; metrics and alerts are derived on demand by
// replaying that log.
package observability
