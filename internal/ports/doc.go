// Package ports defines the interfaces (ports) that connect the protocol
// engine to infrastructure adapters.
//
// In Hexagonal Architecture, ports are the boundaries between the application
// core and the outside world. They define what the engine needs from external
// systems without specifying how those needs are fulfilled.
//
// # Port Interfaces
//
//   - [Link]: Writes transport units to the radio; events come back via [LinkEventSink]
//   - [MessageCodec]: Encodes and decodes routable messages
//   - [PayloadEncoder]: Turns payload descriptors into logical message bytes
//   - [SessionCodec]: Session handshake validation and signing
//   - [SessionStore]: Persists session material per domain
//   - [Clock]: Monotonic time source
//   - [StatusSink]: Receives unsolicited vehicle status
//   - [EventEmitter]: Observes commands and sessions for metrics
//   - [Logger]: Structured logging abstraction
//
// # Usage
//
// The application layer (internal/app, internal/session, internal/chunk)
// depends only on these interfaces. Infrastructure adapters
// (internal/adapters) implement them with concrete implementations
// (protowire codec, x/crypto sessions, badger, zerolog, Prometheus, a
// simulated vehicle).
package ports
