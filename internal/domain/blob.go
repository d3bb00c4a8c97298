package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage, replacing any object already
// at path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// ArchiveCatalog browses the history files written by an Archiver. kind is
// "ledger_events" or "audit"; month is formatted YYYY-MM.
type ArchiveCatalog interface {
	ListArchives(ctx context.Context, kind string) ([]BlobInfo, error)
	OpenArchive(ctx context.Context, kind, month string) (io.ReadCloser, error)
}

// Archiver exports ledger history to cold storage.
type Archiver interface {
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
	ArchiveLedger(ctx context.Context, before time.Time) (int64, error)
}
