package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jetlagged/skyshield/internal/domain"
)

// AuditArchiver exports one UTC day of the audit log to object storage as
// JSONL so the settlement trail survives database retention policies.
//
// Rows are not deleted from the primary store here; pruning is a separate,
// explicit step after the archive has been verified.
type AuditArchiver struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewAuditArchiver creates an AuditArchiver.
func NewAuditArchiver(writer domain.BlobWriter, audit domain.AuditStore) *AuditArchiver {
	return &AuditArchiver{writer: writer, audit: audit}
}

// ArchiveDay uploads every audit entry created on day (UTC) to
// archive/audit/YYYY-MM-DD.jsonl and returns the number of entries written.
// An empty day uploads nothing.
func (a *AuditArchiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24*time.Hour - time.Nanosecond)

	entries, err := a.audit.List(ctx, domain.ListOpts{Since: &start, Until: &end})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := ArchivePath("audit", start)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":  path,
		"count": len(entries),
		"day":   start.Format("2006-01-02"),
	}); err != nil {
		return len(entries), fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return len(entries), nil
}

// ArchivePath builds the object key for an archive file, partitioned by day.
//
//	archive/audit/2025-11-03.jsonl
func ArchivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, day.Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
