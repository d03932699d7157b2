package lineage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashita-ai/kairo/internal/integrity"
	"github.com/ashita-ai/kairo/internal/model"
)

// ExportFormatVersion is bumped on any incompatible change to ExportDocument.
const ExportFormatVersion = 1

// ExportDocument is the on-disk lineage export. Checksum covers the canonical
// JSON encoding of the document with Checksum left empty.
type ExportDocument struct {
	FormatVersion int                  `json:"format_version"`
	ExportedAt    time.Time            `json:"exported_at"`
	ShardSize     int                  `json:"shard_size"`
	EntryCount    int64                `json:"entry_count"`
	SessionHash   string               `json:"session_hash"`
	Shards        []model.ShardInfo    `json:"shards"`
	Entries       []model.LineageEntry `json:"entries"`
	Checksum      string               `json:"checksum,omitempty"`
}

// Document builds the export document for the current ledger contents.
func (l *Ledger) Document(exportedAt time.Time) (ExportDocument, error) {
	doc := ExportDocument{
		FormatVersion: ExportFormatVersion,
		ExportedAt:    exportedAt.UTC(),
		ShardSize:     l.shardSize,
		EntryCount:    l.Len(),
		SessionHash:   l.GlobalHash(),
		Shards:        l.Shards(),
		Entries:       l.Entries(0, 0),
	}
	sum, err := documentChecksum(doc)
	if err != nil {
		return ExportDocument{}, err
	}
	doc.Checksum = sum
	return doc, nil
}

// Export writes the ledger to path atomically and returns a receipt.
// exportedAt is stamped on the document only; it does not enter the chain.
func (l *Ledger) Export(path string, exportedAt time.Time) (model.ExportReceipt, error) {
	doc, err := l.Document(exportedAt)
	if err != nil {
		return model.ExportReceipt{}, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return model.ExportReceipt{}, fmt.Errorf("lineage: marshal export: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return model.ExportReceipt{}, err
	}
	return model.ExportReceipt{
		Path:        path,
		Entries:     doc.EntryCount,
		SessionHash: doc.SessionHash,
		Checksum:    doc.Checksum,
	}, nil
}

// ReadExport loads and fully verifies an export document.
func ReadExport(path string) (ExportDocument, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied
	if err != nil {
		return ExportDocument{}, fmt.Errorf("lineage: read export: %w", err)
	}
	var doc ExportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return ExportDocument{}, fmt.Errorf("lineage: decode export: %w", err)
	}
	if err := VerifyDocument(doc); err != nil {
		return ExportDocument{}, err
	}
	return doc, nil
}

// VerifyDocument checks the checksum, the hash chain, and the session hash.
func VerifyDocument(doc ExportDocument) error {
	if doc.FormatVersion != ExportFormatVersion {
		return fmt.Errorf("lineage: unsupported export format %d", doc.FormatVersion)
	}
	stored := doc.Checksum
	doc.Checksum = ""
	sum, err := documentChecksum(doc)
	if err != nil {
		return err
	}
	if !integrity.Equal(sum, stored) {
		return model.NewError(model.KindChecksumMismatch, "export checksum mismatch")
	}
	if int64(len(doc.Entries)) != doc.EntryCount {
		return model.NewError(model.KindChecksumMismatch, "export entry count mismatch")
	}
	if err := VerifyChain(doc.Entries); err != nil {
		return err
	}
	if RecomputeGlobalHash(doc.Entries, doc.ShardSize) != doc.SessionHash {
		return model.NewError(model.KindChecksumMismatch, "export session hash mismatch")
	}
	return nil
}

func documentChecksum(doc ExportDocument) (string, error) {
	doc.Checksum = ""
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("lineage: marshal export for checksum: %w", err)
	}
	return integrity.Checksum(data), nil
}

// writeFileAtomic writes to a temp file in the target directory, syncs it,
// and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".lineage-export-*.tmp")
	if err != nil {
		return fmt.Errorf("lineage: create export tmp: %w", err)
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("lineage: write export tmp: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("lineage: chmod export tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		cleanup()
		return fmt.Errorf("lineage: sync export tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return fmt.Errorf("lineage: close export tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		cleanup()
		return fmt.Errorf("lineage: rename export: %w", err)
	}
	return nil
}
