// Package domain contains the core entities and value objects for keylink.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (radio, file system, logging) and
// contains only protocol rules.
//
// # Entities
//
//   - [Command]: A queued vehicle command and its position in the state machine
//   - [Session]: Per-domain session material plus a freshness flag
//   - [TxUnit], [RxUnit]: Bounded transport fragments
//   - [Message]: A reassembled inbound message
//   - [Envelope]: A decoded routable message
//
// # Tables
//
// [Actions] is the static action table. Adding a vehicle action means adding a
// row; no state machine code changes.
package domain
