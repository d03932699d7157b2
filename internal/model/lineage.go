package model

import (
	"strconv"
	"strings"
	"time"
)

// OpKind identifies a ledger operation.
type OpKind string

const (
	OpNodeCreate        OpKind = "node.create"
	OpNodeMutate        OpKind = "node.mutate"
	OpEdgeBind          OpKind = "edge.bind"
	OpEdgePropagate     OpKind = "edge.propagate"
	OpEdgeSelfLoop      OpKind = "edge.propagate.selfloop"
	OpCheckpointRestore OpKind = "checkpoint.restore"
	OpQuarantineCleared OpKind = "quarantine.cleared"
)

// Operation is the descriptor hashed into the ledger. Params are kept in
// insertion order so serialization is stable.
type Operation struct {
	Kind     OpKind   `json:"kind"`
	Subjects []string `json:"subjects"`
	Params   []Param  `json:"params,omitempty"`
}

// Param is one named numeric argument of an operation.
type Param struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// String renders the operation as "kind:subject[,subject](name=value,...)".
func (o Operation) String() string {
	var b strings.Builder
	b.WriteString(string(o.Kind))
	b.WriteByte(':')
	b.WriteString(strings.Join(o.Subjects, ","))
	if len(o.Params) > 0 {
		b.WriteByte('(')
		for i, p := range o.Params {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(p.Name)
			b.WriteByte('=')
			b.WriteString(strconv.FormatFloat(p.Value, 'g', -1, 64))
		}
		b.WriteByte(')')
	}
	return b.String()
}

// LineageEntry is an immutable ledger record.
type LineageEntry struct {
	Seq       int64     `json:"seq"`
	Operation Operation `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string    `json:"prev"`
	Hash      string    `json:"hash"`
}

// ShardInfo describes one shard of the ledger.
type ShardInfo struct {
	Index       int        `json:"index"`
	FirstSeq    int64      `json:"first_seq"`
	LastSeq     int64      `json:"last_seq"`
	Entries     int        `json:"entries"`
	Hash        string     `json:"hash,omitempty"`
	Finalized   bool       `json:"finalized"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// LedgerSummary is the shard metadata read.
type LedgerSummary struct {
	TotalShards     int    `json:"total_shards"`
	FinalizedShards int    `json:"finalized_shards"`
	OpenEntries     int    `json:"open_entries"`
	TotalEntries    int64  `json:"total_entries"`
	GlobalHash      string `json:"global_hash"`
}

// ExportReceipt is returned from a lineage export.
type ExportReceipt struct {
	Path        string `json:"path"`
	Entries     int64  `json:"entries"`
	SessionHash string `json:"session_hash"`
	Checksum    string `json:"checksum"`
}
