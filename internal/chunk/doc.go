// Package chunk fragments outbound messages into fixed-size transport units
// and reassembles inbound units into complete messages.
//
// Every message on the wire is prefixed with its body length as a 2-byte
// big-endian integer. Outbound units are written one at a time; an
// acknowledged unit must be confirmed by the link before the next one is
// written. Inbound units accumulate in a single buffer until the declared
// length has arrived.
//
// The package knows nothing about commands or sessions.
package chunk
