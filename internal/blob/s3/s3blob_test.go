package s3blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jetlagged/skyshield/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[path] = b
	return nil
}

type memAudit struct {
	entries []domain.AuditEntry
	logged  []string
	opts    domain.ListOpts
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	m.opts = opts
	return m.entries, nil
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"https://s3.example.com", false, "https://s3.example.com"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.endpoint, tt.useSSL); got != tt.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tt.endpoint, tt.useSSL, got, tt.want)
		}
	}
}

func TestAuditArchiver(t *testing.T) {
	day := time.Date(2025, 11, 3, 15, 30, 0, 0, time.UTC)

	t.Run("uploads jsonl for the day", func(t *testing.T) {
		w := &memWriter{}
		audit := &memAudit{entries: []domain.AuditEntry{
			{ID: 1, Event: "resolution.created"},
			{ID: 2, Event: "resolution.submission"},
		}}

		n, err := NewAuditArchiver(w, audit).ArchiveDay(context.Background(), day)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 entries, got %d", n)
		}
		body, ok := w.objects["archive/audit/2025-11-03.jsonl"]
		if !ok {
			t.Fatalf("expected archive object, got %v", w.objects)
		}
		if lines := bytes.Count(body, []byte("\n")); lines != 2 {
			t.Fatalf("expected 2 lines, got %d", lines)
		}
		if !audit.opts.Since.Equal(time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected window start %v", audit.opts.Since)
		}
		if len(audit.logged) != 1 || audit.logged[0] != "archive.audit" {
			t.Fatalf("unexpected audit events %v", audit.logged)
		}
	})

	t.Run("empty day uploads nothing", func(t *testing.T) {
		w := &memWriter{}
		n, err := NewAuditArchiver(w, &memAudit{}).ArchiveDay(context.Background(), day)
		if err != nil || n != 0 || len(w.objects) != 0 {
			t.Fatalf("expected no upload, got %d objects (%v)", len(w.objects), err)
		}
	})
}

func TestArchivePath(t *testing.T) {
	got := ArchivePath("audit", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	if !strings.HasSuffix(got, "2025-01-02.jsonl") || !strings.HasPrefix(got, "archive/audit/") {
		t.Fatalf("unexpected path %q", got)
	}
}
