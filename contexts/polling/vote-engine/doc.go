// Package voteengine implements the Poll Voting & Real-Time Tally Engine
// inside the polling context.
//
// The module owns the vote ledger (one authoritative row per cast vote), the
// restriction policy evaluated before every write, the per-option tally kept
// consistent with the ledger inside one storage transaction, and the live
// broadcaster that fans tally deltas out to subscribers of a poll's channel.
// It keeps business rules in application/domain layers and isolates
// infrastructure concerns behind ports and adapters.
package voteengine
