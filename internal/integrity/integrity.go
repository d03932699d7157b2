// Package integrity provides the tamper-evident hashing used by the lineage
// ledger and checkpoints. All functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/ashita-ai/kairo/internal/model"
)

// ZeroHash is the predecessor of the first ledger entry.
var ZeroHash = strings.Repeat("0", 64)

// Domain separators keep entry, shard, and global digests from colliding.
const (
	domainShard  = 0x01
	domainGlobal = 0x02
)

// writeField encodes s as a 4-byte big-endian length followed by its bytes.
func writeField(h hash.Hash, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // fields are bounded by request payload limits
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

// SerializeOp writes the canonical encoding of op into h.
func SerializeOp(h hash.Hash, op model.Operation) {
	writeField(h, string(op.Kind))
	writeField(h, strconv.Itoa(len(op.Subjects)))
	for _, s := range op.Subjects {
		writeField(h, s)
	}
	writeField(h, strconv.Itoa(len(op.Params)))
	for _, p := range op.Params {
		writeField(h, p.Name)
		writeField(h, strconv.FormatFloat(p.Value, 'g', -1, 64))
	}
}

// EntryHash computes SHA-256(prev ++ serialize(op) ++ timestamp) as hex.
func EntryHash(prev string, op model.Operation, ts time.Time) string {
	h := sha256.New()
	writeField(h, prev)
	SerializeOp(h, op)
	writeField(h, ts.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}

// ShardHash digests the entry hashes of one shard in order.
func ShardHash(entryHashes []string) string {
	h := sha256.New()
	h.Write([]byte{domainShard})
	for _, e := range entryHashes {
		h.Write([]byte(e))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GlobalHash digests finalized shard hashes (ascending) followed by the open
// shard's entry hashes.
func GlobalHash(shardHashes, openEntryHashes []string) string {
	h := sha256.New()
	h.Write([]byte{domainGlobal})
	for _, s := range shardHashes {
		h.Write([]byte(s))
	}
	for _, e := range openEntryHashes {
		h.Write([]byte(e))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Checksum is a plain SHA-256 hex digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Tag computes a keyed BLAKE2b-256 tag over payload. The key must be at most
// 64 bytes.
func Tag(key, payload []byte) (string, error) {
	mac, err := blake2b.New256(key)
	if err != nil {
		return "", fmt.Errorf("integrity: init tag: %w", err)
	}
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Equal compares two digests in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
