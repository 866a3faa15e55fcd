// Package remote defines what the remediation pipeline needs from a cloud
// storage service. Backends live in subpackages.
package remote

import (
	"context"
	"io"

	"drivebyfix/pkg/types"
)

// Finder resolves a filename to the records owned by the caller that are not
// trashed and whose name equals name exactly.
type Finder interface {
	FindByName(ctx context.Context, name string) ([]types.RemoteFile, error)
}

// Store performs the mutations and transfers used during remediation.
type Store interface {
	Finder

	// Download opens the full content of file. The caller closes the body.
	Download(ctx context.Context, file types.RemoteFile) (io.ReadCloser, error)

	// Copy creates a server-side copy of file named name, moved from
	// sourceParent into destParent, and returns the new record.
	Copy(ctx context.Context, file types.RemoteFile, name, sourceParent, destParent string) (types.RemoteFile, error)

	// Upload replaces the content of file in place, keeping its identifier,
	// and returns the refreshed record.
	Upload(ctx context.Context, file types.RemoteFile, content io.ReadSeeker, size int64) (types.RemoteFile, error)

	// CreateFolder creates a folder at the storage root and returns its ID.
	CreateFolder(ctx context.Context, name string) (string, error)
}

// FinderFunc adapts a function to the Finder interface.
type FinderFunc func(ctx context.Context, name string) ([]types.RemoteFile, error)

func (f FinderFunc) FindByName(ctx context.Context, name string) ([]types.RemoteFile, error) {
	return f(ctx, name)
}
