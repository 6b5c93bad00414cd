package primitives

import "encoding/binary"

// rvTagDomain is the domain-separation prefix for rendezvous tag
// derivation, mirroring the "veil/encrypt-key/v1"-style constants used
// elsewhere in the protocol.
const rvTagDomain = "veil/rendezvous-tag/v1"

// DeriveRendezvousTag derives the subscription Tag for one (recipientKey,
// epoch, namespace) window. Both sides compute it off-band from the shared
// rendezvous key, so the tag itself never travels.
func DeriveRendezvousTag(recipientKey [IDSize]byte, epoch Epoch, ns Namespace) Tag {
	seed := make([]byte, 0, len(rvTagDomain)+IDSize+4+2)
	seed = append(seed, rvTagDomain...)
	seed = append(seed, recipientKey[:]...)
	var epochBuf [4]byte
	binary.BigEndian.PutUint32(epochBuf[:], uint32(epoch))
	seed = append(seed, epochBuf[:]...)
	var nsBuf [2]byte
	binary.BigEndian.PutUint16(nsBuf[:], uint16(ns))
	seed = append(seed, nsBuf[:]...)
	return Tag(Hash(seed))
}

// RendezvousWindow computes the current epoch index for nowSeconds under a
// fixed-length epochSeconds window, plus the next epoch's tag when nowSeconds
// falls within overlapSeconds of the window boundary — letting a subscriber
// pick up objects published just before the epoch rolls over.
func RendezvousWindow(recipientKey [IDSize]byte, ns Namespace, nowSeconds, epochSeconds, overlapSeconds uint64) (current Tag, next *Tag) {
	if epochSeconds == 0 {
		epochSeconds = 1
	}
	currentEpoch := Epoch(nowSeconds / epochSeconds)
	current = DeriveRendezvousTag(recipientKey, currentEpoch, ns)

	offsetIntoWindow := nowSeconds % epochSeconds
	if overlapSeconds > 0 && offsetIntoWindow >= epochSeconds-overlapSeconds {
		nextTag := DeriveRendezvousTag(recipientKey, currentEpoch+1, ns)
		next = &nextTag
	}
	return current, next
}
