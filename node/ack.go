package node

import "github.com/veilnet/veil/primitives"

// AckVersion is the only acknowledgement payload version in circulation.
const AckVersion uint8 = 1

// ackPayloadLen is the exact length of an ACK plaintext:
// ack_version (1B) + target_root (32B).
const ackPayloadLen = 1 + primitives.IDSize

// EncodeAck builds the plaintext of an acknowledgement object for
// targetRoot. The ACK travels as an ordinary object on the same tag; only
// its decrypted payload distinguishes it.
func EncodeAck(targetRoot primitives.ObjectRoot) []byte {
	out := make([]byte, ackPayloadLen)
	out[0] = AckVersion
	copy(out[1:], targetRoot[:])
	return out
}

// DecodeAck recognizes an ACK plaintext and extracts the target root. A
// payload of any other shape or version is simply not an ACK.
func DecodeAck(payload []byte) (primitives.ObjectRoot, bool) {
	if len(payload) != ackPayloadLen || payload[0] != AckVersion {
		return primitives.ObjectRoot{}, false
	}
	var root primitives.ObjectRoot
	copy(root[:], payload[1:])
	return root, true
}
