package replication

import "errors"

var (
	// ErrReplicationTimeout is returned by PrimaryClient.Replicate when the
	// backup does not ACK an op within the configured timeout.
	ErrReplicationTimeout = errors.New("replication: timeout waiting for ack")
	// ErrDisconnected is returned when a call cannot be serviced because the
	// client has no live connection and is not expected to regain one (the
	// client is closing).
	ErrDisconnected = errors.New("replication: disconnected")
)

// ProtocolError is returned by the backup server when a peer's handshake or
// stream violates the wire protocol (bad magic/version, or an out-of-order
// sequence number it cannot reconcile).
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return "replication: protocol error: " + e.Msg }
