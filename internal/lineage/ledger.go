// Package lineage implements the append-only, hash-chained operation ledger.
//
// Entries are chained by hash and grouped into fixed-size shards:
//
//	entry_n.hash = H(entry_{n-1}.hash ++ serialize(op_n) ++ timestamp_n)
//	shard.hash   = H(entry hashes of the shard, in order)
//	global hash  = H(finalized shard hashes ascending ++ open shard entry hashes)
//
// A shard is finalized on receipt of its last entry and never changes after.
// The ledger is not safe for concurrent use; the engine serializes access.
package lineage

import (
	"time"

	"github.com/ashita-ai/kairo/internal/integrity"
	"github.com/ashita-ai/kairo/internal/model"
)

// DefaultShardSize is the number of entries in a finalized shard.
const DefaultShardSize = 250

// Ledger is an in-memory shard-rotated hash chain.
type Ledger struct {
	shardSize int
	clock     func() time.Time

	entries   []model.LineageEntry
	finalized []model.ShardInfo
	openStart int // index of the first entry of the open shard
}

// New creates an empty ledger. A nil clock uses wall time.
func New(shardSize int, clock func() time.Time) *Ledger {
	if shardSize <= 0 {
		shardSize = DefaultShardSize
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{shardSize: shardSize, clock: clock}
}

// ShardSize returns the configured shard size.
func (l *Ledger) ShardSize() int { return l.shardSize }

// Append chains op onto the open shard and finalizes the shard when full.
// It only fails when the existing chain no longer verifies, which is an
// internal invariant violation rather than a rejection of op.
func (l *Ledger) Append(op model.Operation) (model.LineageEntry, error) {
	prev := integrity.ZeroHash
	if n := len(l.entries); n > 0 {
		last := l.entries[n-1]
		if integrity.EntryHash(last.PrevHash, last.Operation, last.Timestamp) != last.Hash {
			return model.LineageEntry{}, model.NewError(model.KindInternalInvariant, "lineage chain broken at seq %d", last.Seq)
		}
		prev = last.Hash
	}

	ts := l.clock().UTC()
	entry := model.LineageEntry{
		Seq:       int64(len(l.entries)),
		Operation: cloneOp(op),
		Timestamp: ts,
		PrevHash:  prev,
		Hash:      integrity.EntryHash(prev, op, ts),
	}
	l.entries = append(l.entries, entry)

	if len(l.entries)-l.openStart == l.shardSize {
		l.finalize(ts)
	}
	return entry, nil
}

func (l *Ledger) finalize(at time.Time) {
	open := l.entries[l.openStart:]
	finalizedAt := at
	l.finalized = append(l.finalized, model.ShardInfo{
		Index:       len(l.finalized),
		FirstSeq:    open[0].Seq,
		LastSeq:     open[len(open)-1].Seq,
		Entries:     len(open),
		Hash:        integrity.ShardHash(entryHashes(open)),
		Finalized:   true,
		FinalizedAt: &finalizedAt,
	})
	l.openStart = len(l.entries)
}

// Len returns the number of entries.
func (l *Ledger) Len() int64 { return int64(len(l.entries)) }

// Last returns the most recent entry.
func (l *Ledger) Last() (model.LineageEntry, bool) {
	if len(l.entries) == 0 {
		return model.LineageEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Entries returns up to limit entries starting at seq from. limit <= 0 means all.
func (l *Ledger) Entries(from int64, limit int) []model.LineageEntry {
	if from < 0 {
		from = 0
	}
	if from >= int64(len(l.entries)) {
		return nil
	}
	end := int64(len(l.entries))
	if limit > 0 && from+int64(limit) < end {
		end = from + int64(limit)
	}
	out := make([]model.LineageEntry, end-from)
	copy(out, l.entries[from:end])
	return out
}

// Shards lists finalized shards followed by the open shard, if it has entries.
func (l *Ledger) Shards() []model.ShardInfo {
	out := make([]model.ShardInfo, len(l.finalized), len(l.finalized)+1)
	copy(out, l.finalized)
	if open := l.entries[l.openStart:]; len(open) > 0 {
		out = append(out, model.ShardInfo{
			Index:    len(l.finalized),
			FirstSeq: open[0].Seq,
			LastSeq:  open[len(open)-1].Seq,
			Entries:  len(open),
		})
	}
	return out
}

// GlobalHash is the deterministic fingerprint of the ledger contents.
func (l *Ledger) GlobalHash() string {
	shardHashes := make([]string, len(l.finalized))
	for i, s := range l.finalized {
		shardHashes[i] = s.Hash
	}
	return integrity.GlobalHash(shardHashes, entryHashes(l.entries[l.openStart:]))
}

// Summary returns the shard metadata read.
func (l *Ledger) Summary() model.LedgerSummary {
	total := len(l.finalized)
	open := len(l.entries) - l.openStart
	if open > 0 {
		total++
	}
	return model.LedgerSummary{
		TotalShards:     total,
		FinalizedShards: len(l.finalized),
		OpenEntries:     open,
		TotalEntries:    int64(len(l.entries)),
		GlobalHash:      l.GlobalHash(),
	}
}

// Verify recomputes every link and shard digest from scratch.
func (l *Ledger) Verify() error {
	if err := VerifyChain(l.entries); err != nil {
		return err
	}
	for i, s := range l.finalized {
		start := i * l.shardSize
		got := integrity.ShardHash(entryHashes(l.entries[start : start+l.shardSize]))
		if got != s.Hash {
			return model.NewError(model.KindInternalInvariant, "shard %d digest mismatch", i)
		}
	}
	if l.GlobalHash() != RecomputeGlobalHash(l.entries, l.shardSize) {
		return model.NewError(model.KindInternalInvariant, "global hash mismatch")
	}
	return nil
}

// VerifyChain checks sequence numbers, predecessor links, and entry hashes.
func VerifyChain(entries []model.LineageEntry) error {
	prev := integrity.ZeroHash
	for i, e := range entries {
		if e.Seq != int64(i) {
			return model.NewError(model.KindInternalInvariant, "lineage sequence gap at index %d", i)
		}
		if e.PrevHash != prev {
			return model.NewError(model.KindInternalInvariant, "lineage link broken at seq %d", e.Seq)
		}
		if integrity.EntryHash(prev, e.Operation, e.Timestamp) != e.Hash {
			return model.NewError(model.KindInternalInvariant, "lineage entry hash mismatch at seq %d", e.Seq)
		}
		prev = e.Hash
	}
	return nil
}

// RecomputeGlobalHash derives the global hash from a full entry list.
func RecomputeGlobalHash(entries []model.LineageEntry, shardSize int) string {
	if shardSize <= 0 {
		shardSize = DefaultShardSize
	}
	full := len(entries) / shardSize
	shardHashes := make([]string, full)
	for i := 0; i < full; i++ {
		shardHashes[i] = integrity.ShardHash(entryHashes(entries[i*shardSize : (i+1)*shardSize]))
	}
	return integrity.GlobalHash(shardHashes, entryHashes(entries[full*shardSize:]))
}

func entryHashes(entries []model.LineageEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Hash
	}
	return out
}

func cloneOp(op model.Operation) model.Operation {
	out := model.Operation{Kind: op.Kind}
	if op.Subjects != nil {
		out.Subjects = append([]string(nil), op.Subjects...)
	}
	if op.Params != nil {
		out.Params = append([]model.Param(nil), op.Params...)
	}
	return out
}
