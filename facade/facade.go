// Package facade is the thin boundary between the application and the
// coordinator task: a single outbound channel (application → coordinator)
// and a single inbound channel (coordinator → application), wrapped in a
// Send/Next pair. Closing the facade closes the outbound channel, which is
// the coordinator's only shutdown signal from this side.
package facade

import "github.com/n0remac/syncroom/wire"

// Facade is the application-facing handle returned once a coordinator has
// started. Both channels are bounded buffers sized by the coordinator: Send
// blocks while the outbound buffer is full, and the coordinator drops a
// message to the application (logging a warning) when the inbound buffer is
// full.
type Facade struct {
	outbound chan wire.Message
	inbound  <-chan wire.Message
	closed   chan struct{}
}

// New wraps the outbound channel the coordinator reads from and the inbound
// channel it writes to. Only the coordinator package constructs one of
// these; the application only ever holds the result.
func New(outbound chan wire.Message, inbound <-chan wire.Message) *Facade {
	return &Facade{outbound: outbound, inbound: inbound, closed: make(chan struct{})}
}

// Send enqueues an application-originated message for the coordinator.
// Sending after Close is a no-op; the coordinator has already stopped
// reading.
func (fc *Facade) Send(m wire.Message) {
	select {
	case <-fc.closed:
		return
	default:
	}
	select {
	case fc.outbound <- m:
	case <-fc.closed:
	}
}

// Next blocks for the coordinator's next message to the application. The
// second return value is false once the coordinator has exited and the
// inbound channel has drained and closed.
func (fc *Facade) Next() (wire.Message, bool) {
	m, ok := <-fc.inbound
	return m, ok
}

// Close signals the coordinator to shut down by closing the outbound
// channel; the dispatch loop's select on it observes the close and exits
// cleanly.
func (fc *Facade) Close() {
	select {
	case <-fc.closed:
		return
	default:
		close(fc.closed)
		close(fc.outbound)
	}
}
