package core

// Frame is a marshaled wire envelope ready to be written to a peer.
type Frame []byte

// ConnID identifies one live connection for its whole lifetime.
type ConnID string

// ChatConnection abstracts the outbound half of a client transport.
// Owned by the adapter; the adapter must Close() it.
type ChatConnection interface {
	// TrySend queues a frame without blocking. It fails when the peer's
	// outbound buffer is full or the connection is already closed.
	TrySend(Frame) error
	Close()
}
