// Package link carries die messages between the host and the device.
package link

// Channel is a best-effort, ordered message pipe. Implementations deliver
// received messages to the receiver on the scheduler's execution context.
type Channel interface {
	// Send queues one message. It returns false when the message could not be
	// handed to the transport; the caller is expected to retry later.
	Send(b []byte) bool
	// SetReceiver installs the callback for incoming messages.
	SetReceiver(fn func(b []byte))
}
