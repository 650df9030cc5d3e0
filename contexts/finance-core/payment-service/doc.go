// Package paymentservice implements monetized poll payments inside the
// finance-core context.
//
// A monetized poll stays inactive until its payment reaches a terminal
// success. The module initializes gateway transactions, verifies references
// against the gateway with bounded retries, and performs the poll unlock
// exactly once through a guarded pending-to-terminal resolution. Webhook and
// user-triggered verifications of an already-resolved reference replay the
// stored outcome without further side effects.
package paymentservice
