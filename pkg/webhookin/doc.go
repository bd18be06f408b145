// Package webhookin is the inbound webhook transport for billing
// events. It verifies HMAC-SHA256 payload signatures, deduplicates
// redelivered events (redis-backed or in-memory), parses the
// normalized event envelope and hands verified events to a sink such
// as the subscription reconciliation engine.
package webhookin
