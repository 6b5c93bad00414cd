// Package primitives defines VEIL's fixed-size identifiers, namespace and
// epoch types, and the BLAKE3-based hash/tag-derivation helpers every other
// package builds on.
package primitives

import "encoding/hex"

// IDSize is the width, in bytes, of every opaque VEIL identifier.
const IDSize = 32

// Tag is an opaque 32-byte subscription identifier.
type Tag [IDSize]byte

// ObjectRoot groups the shards of one encoded object: BLAKE3(encoded object).
type ObjectRoot [IDSize]byte

// ShardID identifies one shard for dedup purposes: BLAKE3(encode(shard)).
type ShardID [IDSize]byte

func (t Tag) String() string        { return hex.EncodeToString(t[:]) }
func (r ObjectRoot) String() string { return hex.EncodeToString(r[:]) }
func (s ShardID) String() string    { return hex.EncodeToString(s[:]) }

func (t Tag) IsZero() bool        { return t == Tag{} }
func (r ObjectRoot) IsZero() bool { return r == ObjectRoot{} }
func (s ShardID) IsZero() bool    { return s == ShardID{} }

// Namespace is a 16-bit logical partition identifier. Values 0..=31 are
// reserved for protocol use; application namespaces start at 32.
type Namespace uint16

// Reserved namespace values.
const (
	NamespaceSystem       Namespace = 0
	NamespacePublicFeed   Namespace = 1
	NamespacePrivateVault Namespace = 2
	NamespaceWOT          Namespace = 3
	NamespaceRelay        Namespace = 4
	NamespaceAppBundle    Namespace = 5
	NamespaceReservedMax  Namespace = 31
)

// Reserved reports whether ns falls in the protocol-reserved range.
func (ns Namespace) Reserved() bool { return ns <= NamespaceReservedMax }

// Epoch is a 32-bit time-window index.
type Epoch uint32
