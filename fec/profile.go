// Package fec implements VEIL's erasure-coding layer: choosing a profile by
// payload size, splitting an encoded object into ShardV1 values, and
// reconstructing an object from any k of its n shards.
package fec

// Profile is an erasure-coding parameter set: k data-equivalent shares out
// of n total, and the bucket sizes permitted for that profile.
type Profile struct {
	ID               uint16
	Name             string
	K, N             uint16
	PermittedBuckets []uint32
}

// Profile identifiers used as ShardHeaderV1.ProfileID on the wire.
const (
	ProfileIDMicro uint16 = 1
	ProfileIDSmall uint16 = 2
	ProfileIDLarge uint16 = 3
)

// MICRO, SMALL and LARGE are the three fixed erasure profiles chosen by
// payload size in ChooseProfile.
var (
	Micro = Profile{
		ID:               ProfileIDMicro,
		Name:             "MICRO",
		K:                2,
		N:                3,
		PermittedBuckets: []uint32{512, 1024, 2048, 4096},
	}
	Small = Profile{
		ID:               ProfileIDSmall,
		Name:             "SMALL",
		K:                6,
		N:                10,
		PermittedBuckets: []uint32{4096, 8192, 16384, 32768},
	}
	Large = Profile{
		ID:               ProfileIDLarge,
		Name:             "LARGE",
		K:                10,
		N:                16,
		PermittedBuckets: []uint32{32768, 65536, 131072},
	}
)

const (
	microMaxPayload = 8 * 1024
	smallMaxPayload = 128 * 1024
)

// ChooseProfile selects MICRO for payloads up to 8 KiB, SMALL up to 128 KiB,
// and LARGE otherwise.
func ChooseProfile(payloadLen int) Profile {
	switch {
	case payloadLen <= microMaxPayload:
		return Micro
	case payloadLen <= smallMaxPayload:
		return Small
	default:
		return Large
	}
}

// ProfileByID looks up one of the three fixed profiles by its wire id.
func ProfileByID(id uint16) (Profile, bool) {
	switch id {
	case ProfileIDMicro:
		return Micro, true
	case ProfileIDSmall:
		return Small, true
	case ProfileIDLarge:
		return Large, true
	default:
		return Profile{}, false
	}
}

// BucketFor returns the smallest permitted bucket size that fits dataLen
// plus headerLen, or false if dataLen exceeds every permitted bucket.
func (p Profile) BucketFor(dataLen, headerLen int) (uint32, bool) {
	need := uint32(dataLen + headerLen)
	for _, b := range p.PermittedBuckets {
		if b >= need {
			return b, true
		}
	}
	return 0, false
}

// PermitsBucket reports whether bucket is one of the profile's permitted
// bucket sizes.
func (p Profile) PermitsBucket(bucket uint32) bool {
	for _, b := range p.PermittedBuckets {
		if b == bucket {
			return true
		}
	}
	return false
}
