package storage

import (
	"context"
	"io"
	"regexp"
	"strings"
)

// Storage is the blob adapter consumed by the ingest service and the
// worker. Paths are opaque to callers; implementations must be safe
// for concurrent use by the whole worker pool.
type Storage interface {
	// Upload stores document bytes under path.
	Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string) error
	// Download fetches document bytes by path.
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// ObjectPath builds the tenant-isolated key for a job's source file:
// tenants/{tenant}/jobs/{job}/source/{filename}. The filename is
// sanitized to block path traversal.
func ObjectPath(tenantID, jobID, filename string) string {
	sanitized := unsafeFilenameChars.ReplaceAllString(filename, "_")
	var b strings.Builder
	b.WriteString("tenants/")
	b.WriteString(tenantID)
	b.WriteString("/jobs/")
	b.WriteString(jobID)
	b.WriteString("/source/")
	b.WriteString(sanitized)
	return b.String()
}
