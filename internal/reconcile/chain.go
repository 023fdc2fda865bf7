package reconcile

import (
	"crypto/sha256"
	"encoding/binary"
)

const genesisSeed = "basis-ledger:genesis:v1"

// DigestChain links per-cycle ledger digests:
// chained[N] = SHA-256(chained[N-1] || sequence || stateDigest). Two
// replicas that processed the same triggers in the same order carry the
// same tip, so divergence or replay is detectable offline from the audit
// trail alone.
type DigestChain struct {
	prev [32]byte
}

func NewDigestChain() *DigestChain {
	return &DigestChain{prev: sha256.Sum256([]byte(genesisSeed))}
}

// Next folds one cycle into the chain and returns the new tip.
func (c *DigestChain) Next(sequence uint64, stateDigest [32]byte) [32]byte {
	h := sha256.New()
	h.Write(c.prev[:])

	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], sequence)
	h.Write(seq[:])

	h.Write(stateDigest[:])
	copy(c.prev[:], h.Sum(nil))
	return c.prev
}

// Tip returns the current chain head.
func (c *DigestChain) Tip() [32]byte {
	return c.prev
}
