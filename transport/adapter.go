// Package transport defines the byte-level contract between the runtime
// pump and any concrete link, plus an in-memory adapter for tests, a
// KCP-backed adapter for real networks, and BLE fragmentation/reassembly
// helpers using {shard_id, index, total} frame headers (these are not an
// Adapter themselves).
package transport

// Inbound is one received frame, tagged with the peer it arrived from.
type Inbound struct {
	PeerID  string
	Payload []byte
}

// Adapter is the byte-oriented contract between the runtime and a link. It
// performs no VEIL-level parsing: from the adapter's point of view a frame
// is an opaque byte slice. Adapter errors surface as a per-call result; the
// pump counts consecutive failures and applies caller-configured backoff.
type Adapter interface {
	// Send transmits bytes to peerID. It may be called concurrently with
	// Recv but not with itself for correctness of underlying connections
	// that are not safe for concurrent writes.
	Send(peerID string, payload []byte) error

	// Recv returns the next queued inbound frame, or ok=false if none is
	// currently available. It never blocks.
	Recv() (in Inbound, ok bool)

	// EnqueueInbound injects a frame as if it had been received from
	// peerID. It exists for in-memory and test adapters that need to be
	// driven directly, without a real link underneath.
	EnqueueInbound(peerID string, payload []byte)

	// PayloadHint advertises the maximum number of bytes this adapter can
	// carry in one frame, or 0 if there is no meaningful limit.
	PayloadHint() int
}
