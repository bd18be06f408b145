// Package notification delivers post-commit billing events to side
// effect consumers. A generic non-blocking Hub fans events out; the
// Consumer turns subscription lifecycle events into transactional
// email through Postmark. Delivery is best-effort by contract: the
// billing transaction that produced an event never waits on, or fails
// because of, a notification.
package notification
