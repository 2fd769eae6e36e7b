// Package hub is the in-memory core of the relay: the session registry,
// presence broadcasts, the public-key handshake and the message relay.
//
// A single Manager goroutine owns all state. Transports feed it frames via
// Handle and read what it sends from each Client's outbound queue. Nothing
// is persisted; state lives as long as the Run loop.
package hub
