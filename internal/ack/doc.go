// Package ack tracks delivery confirmation for configuration commands.
//
// The broker accepting a settings frame is not the same guarantee as the
// device applying it: the device confirms asynchronously, on its own
// schedule, or not at all. Each outbound frame is therefore tracked as a
// CommandRecord correlated by command ID. A record starts PENDING and
// reaches exactly one terminal state:
//
//	PENDING -> SUCCESS   device acknowledged the frame
//	PENDING -> FAILED    device rejected the frame
//	PENDING -> TIMEOUT   no response within the record's timeout
//
// Terminal states are final. A late or duplicate confirmation for a record
// that already reached a terminal state is logged and discarded, never
// re-applied. Retrying a failed or timed-out command creates a brand-new
// record with a fresh command ID; the full history of every attempt is
// preserved until records age out of the retention cache.
//
// Run starts the periodic timeout sweep; RemainingTime only feeds UI
// countdowns, the sweep is the authoritative source of TIMEOUT transitions.
package ack
