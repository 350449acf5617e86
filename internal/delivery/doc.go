// Package delivery turns staged settings edits into outbound configuration
// frames and correlates them with acknowledgment tracking.
//
// The Coordinator is the only component that sends. A send composes the
// complete settings frame from the device's cache, ships it through the
// Transport, and on broker acceptance records a pending command and folds
// the delivered changes into the baseline. On rejection or transport
// failure the overlay is left untouched so the operator can retry or
// discard; retry of a failed or timed-out command re-sends the original
// frame under a fresh command ID.
//
// At most one delivery per device may be in flight: a second send for the
// same device while one is outstanding is rejected with
// ReasonDeliveryInProgress rather than composing two overlapping frames
// from a mutating overlay. Sends with an empty overlay short-circuit with
// ReasonNoPendingChanges and never touch the transport.
package delivery
