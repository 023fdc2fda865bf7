package ledger

import (
	"crypto/sha256"
	"encoding/binary"
)

// StateDigest computes a canonical SHA-256 over the full ledger state:
// the ledger clock followed by every declared key with both balances, in
// sorted key order. Two ledgers that applied the same updates produce the
// same digest, so replicas and replays can be compared offline.
func (pl *PositionLedger) StateDigest() [32]byte {
	h := sha256.New()

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(pl.lastTimestamp.UTC().UnixMicro()))
	h.Write(tsBuf[:])

	for _, k := range pl.keys {
		h.Write([]byte(k.Path()))
		h.Write([]byte{0})
		h.Write([]byte(pl.simulated[k].String()))
		h.Write([]byte{0})
		h.Write([]byte(pl.real[k].String()))
		h.Write([]byte{0})
	}

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}
