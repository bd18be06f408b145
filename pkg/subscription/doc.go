// Package subscription implements the subscription lifecycle and
// seat-management engine: seat-change orchestration with
// charge-before-commit semantics, scheduled plan downgrades, and the
// webhook reconciliation state machine that keeps local records
// converged with the payment processor.
//
// The package is organized around three entry surfaces:
//
//   - Service: user-facing operations (RequestSeatChange, ChangePlan,
//     CancelScheduledDowngrade, CancelSubscription and friends). All
//     return explicit result records rather than errors; the audit
//     ledger keeps the raw failure causes.
//   - Engine: the webhook reconciliation engine. Consumes verified,
//     deduplicated events and is the authoritative reconciler — it may
//     override, confirm, or compensate for what Service already did.
//   - Stores: SubscriptionStore, HistoryStore and PendingChangeStore,
//     with in-memory and Postgres (pgx) implementations.
//
// Concurrency on one subscription is guarded by a seat-change lock
// acquired through an atomic compare-and-set
// (SubscriptionStore.TrySetSeatChangeInProgress); a caller losing the
// race aborts with a precondition failure.
package subscription
