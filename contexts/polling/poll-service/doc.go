// Package pollservice implements the Poll service inside the polling context.
//
// The module owns the poll aggregate (question, options, restriction
// configuration) and its lifecycle state machine: scheduled polls open when
// their window starts, open polls close at end_date or on an owner close
// action, and closed is terminal. Time-based transitions run through an
// outbox-backed sweep worker so downstream consumers observe poll.opened and
// poll.closed exactly once per transition.
package pollservice
