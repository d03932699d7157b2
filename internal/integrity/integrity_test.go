package integrity

import (
	"testing"
	"time"

	"github.com/ashita-ai/kairo/internal/model"
)

func createOp(id string, belief, energy float64) model.Operation {
	return model.Operation{
		Kind:     model.OpNodeCreate,
		Subjects: []string{id},
		Params:   []model.Param{{Name: "belief", Value: belief}, {Name: "energy", Value: energy}},
	}
}

func TestEntryHash_Deterministic(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	op := createOp("node_0", 0.5, 1)

	h1 := EntryHash(ZeroHash, op, ts)
	h2 := EntryHash(ZeroHash, op, ts)

	if h1 != h2 {
		t.Fatalf("hash not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64-char hex SHA-256, got %d chars", len(h1))
	}
}

func TestEntryHash_SensitiveToEveryInput(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	base := EntryHash(ZeroHash, createOp("node_0", 0.5, 1), ts)

	cases := map[string]string{
		"prev":      EntryHash(base, createOp("node_0", 0.5, 1), ts),
		"subject":   EntryHash(ZeroHash, createOp("node_1", 0.5, 1), ts),
		"param":     EntryHash(ZeroHash, createOp("node_0", 0.51, 1), ts),
		"timestamp": EntryHash(ZeroHash, createOp("node_0", 0.5, 1), ts.Add(time.Nanosecond)),
	}
	for name, h := range cases {
		if h == base {
			t.Fatalf("changing %s did not change the hash", name)
		}
	}
}

func TestEntryHash_TimezoneIndependent(t *testing.T) {
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("UTC+9", 9*3600))
	op := createOp("node_0", 0.5, 1)

	if EntryHash(ZeroHash, op, utc) != EntryHash(ZeroHash, op, local) {
		t.Fatal("same instant in different zones should hash identically")
	}
}

func TestSerializeOp_NoDelimiterCollision(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := model.Operation{Kind: model.OpEdgeBind, Subjects: []string{"ab", "c"}}
	b := model.Operation{Kind: model.OpEdgeBind, Subjects: []string{"a", "bc"}}

	if EntryHash(ZeroHash, a, ts) == EntryHash(ZeroHash, b, ts) {
		t.Fatal("length-prefixed encoding should separate subjects")
	}
}

func TestShardAndGlobalHash_Domains(t *testing.T) {
	hashes := []string{"aa", "bb"}
	if ShardHash(hashes) == GlobalHash(hashes, nil) {
		t.Fatal("shard and global digests must use distinct domains")
	}
	if GlobalHash([]string{"aa"}, []string{"bb"}) != GlobalHash([]string{"aa", "bb"}, nil) {
		t.Fatal("global hash is a digest over the concatenated sequence")
	}
}

func TestTag(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	payload := []byte(`{"nodes":[]}`)

	t1, err := Tag(key, payload)
	if err != nil {
		t.Fatalf("tag: %v", err)
	}
	t2, _ := Tag(key, payload)
	if !Equal(t1, t2) {
		t.Fatal("tag not deterministic")
	}

	other, _ := Tag([]byte("another-key"), payload)
	if Equal(t1, other) {
		t.Fatal("different keys should produce different tags")
	}

	tampered, _ := Tag(key, []byte(`{"nodes":[1]}`))
	if Equal(t1, tampered) {
		t.Fatal("tampered payload should produce a different tag")
	}

	if _, err := Tag(make([]byte, 65), payload); err == nil {
		t.Fatal("expected error for oversized key")
	}
}
