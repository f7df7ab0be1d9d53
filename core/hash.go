package core

import (
	"encoding/hex"

	"github.com/go-crypt/x/blake2b"
)

// Hash is the content address of a persisted message: a BLAKE2b digest of
// the message content, role, and the parent's hash. Because the parent hash
// participates in the digest, a hash commits to the full parent chain.
type Hash string

// RootHash is the sentinel parent of root messages.
const RootHash Hash = ""

// IsRoot reports whether h is the forest root sentinel.
func (h Hash) IsRoot() bool {
	return h == RootHash
}

// Short returns an abbreviated form of the hash for logging and display.
func (h Hash) Short() string {
	if len(h) <= 12 {
		return string(h)
	}
	return string(h[:12])
}

// ComputeHash derives the content address for a message. Identical
// (parent, role, content) triples always produce identical hashes, which is
// what makes persistence idempotent.
func ComputeHash(parent Hash, role Role, content string) Hash {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(parent))
	h.Write([]byte{0, byte(role), 0})
	h.Write([]byte(content))
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// EnsureHash fills in the candidate's hash if it was not supplied and
// returns it.
func (c *Candidate) EnsureHash() Hash {
	if c.Hash == "" {
		c.Hash = ComputeHash(c.Parent, c.Role, c.Content)
	}
	return c.Hash
}
