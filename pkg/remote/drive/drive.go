// Package drive implements remote.Store on the Google Drive v3 API.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"drivebyfix/pkg/remote"
	"drivebyfix/pkg/types"

	"go.uber.org/zap"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType  = "application/vnd.google-apps.folder"
	nativeDocPrefix = "application/vnd.google-apps."
	defaultMimeType = "application/octet-stream"

	fileFields = "id, name, mimeType, md5Checksum, size, version, parents, sharedWithMeTime, modifiedTime, ownedByMe, " +
		"capabilities(canEdit, canCopy, canDelete, canDownload)"
	listPageSize = 100
)

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"dailyLimitExceeded":    true,
}

type Store struct {
	service *drivev3.Service
	logger  *zap.Logger
}

// New connects to Drive. Callers supply credentials through opts, usually
// option.WithHTTPClient with an OAuth2 client.
func New(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	service, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &Store{service: service, logger: logger}, nil
}

// EscapeQuery quotes a literal for use inside a single-quoted Drive query.
func EscapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func nameQuery(name string) string {
	return fmt.Sprintf("name = '%s' and 'me' in owners and trashed = false", EscapeQuery(name))
}

func (s *Store) FindByName(ctx context.Context, name string) ([]types.RemoteFile, error) {
	files := []types.RemoteFile{}
	err := s.service.Files.List().
		Q(nameQuery(name)).
		Spaces("drive").
		PageSize(listPageSize).
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
		Pages(ctx, func(page *drivev3.FileList) error {
			for _, f := range page.Files {
				// Drive name matching is not strictly byte-exact.
				if f.Name != name || !f.OwnedByMe {
					continue
				}
				files = append(files, toRemoteFile(f))
			}
			return nil
		})
	if err != nil {
		return nil, translate(fmt.Sprintf("lookup %q", name), err)
	}

	s.logger.Debug("Drive lookup completed",
		zap.String("file_name", name),
		zap.Int("records", len(files)))
	return files, nil
}

func (s *Store) Download(ctx context.Context, file types.RemoteFile) (io.ReadCloser, error) {
	if isNativeDocument(file) {
		return nil, fmt.Errorf("download %s (%s): %w", file.ID, file.MimeType, remote.ErrUnsupportedContent)
	}
	resp, err := s.service.Files.Get(string(file.ID)).Context(ctx).Download()
	if err != nil {
		return nil, translate(fmt.Sprintf("download %s", file.ID), err)
	}
	return resp.Body, nil
}

// Copy makes a server-side copy named name, then moves the copy's parent
// from sourceParent to destParent.
func (s *Store) Copy(ctx context.Context, file types.RemoteFile, name, sourceParent, destParent string) (types.RemoteFile, error) {
	copied, err := s.service.Files.Copy(string(file.ID), &drivev3.File{Name: name}).
		Fields(googleapi.Field(fileFields)).
		Context(ctx).
		Do()
	if err != nil {
		return types.RemoteFile{}, translate(fmt.Sprintf("copy %s", file.ID), err)
	}

	call := s.service.Files.Update(copied.Id, &drivev3.File{}).
		AddParents(destParent).
		Fields(googleapi.Field(fileFields)).
		Context(ctx)
	if sourceParent != "" {
		call = call.RemoveParents(sourceParent)
	}
	moved, err := call.Do()
	if err != nil {
		return types.RemoteFile{}, translate(fmt.Sprintf("move copy %s into %s", copied.Id, destParent), err)
	}

	s.logger.Debug("Backup copy created",
		zap.String("file_id", string(file.ID)),
		zap.String("backup_id", moved.Id),
		zap.String("backup_folder", destParent))
	return toRemoteFile(moved), nil
}

func (s *Store) Upload(ctx context.Context, file types.RemoteFile, content io.ReadSeeker, size int64) (types.RemoteFile, error) {
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	updated, err := s.service.Files.Update(string(file.ID), &drivev3.File{}).
		Media(content, googleapi.ContentType(mimeType)).
		Fields(googleapi.Field(fileFields)).
		Context(ctx).
		Do()
	if err != nil {
		return types.RemoteFile{}, translate(fmt.Sprintf("upload %s", file.ID), err)
	}
	return toRemoteFile(updated), nil
}

func (s *Store) CreateFolder(ctx context.Context, name string) (string, error) {
	folder, err := s.service.Files.Create(&drivev3.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{"root"},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", translate(fmt.Sprintf("create folder %q", name), err)
	}
	return folder.Id, nil
}

func isNativeDocument(file types.RemoteFile) bool {
	return strings.HasPrefix(file.MimeType, nativeDocPrefix)
}

func toRemoteFile(f *drivev3.File) types.RemoteFile {
	rf := types.RemoteFile{
		ID:           types.FileID(f.Id),
		Name:         f.Name,
		MimeType:     f.MimeType,
		MD5Checksum:  f.Md5Checksum,
		Size:         f.Size,
		Version:      f.Version,
		Parents:      append([]string(nil), f.Parents...),
		SharedWithMe: parseTime(f.SharedWithMeTime),
		ModifiedTime: parseTime(f.ModifiedTime),
	}
	// Native documents report neither size nor checksum.
	if f.Md5Checksum == "" && f.Size == 0 {
		rf.Size = types.UnknownSize
	}
	if c := f.Capabilities; c != nil {
		rf.Capabilities = types.Capabilities{
			CanEdit:     c.CanEdit,
			CanCopy:     c.CanCopy,
			CanDelete:   c.CanDelete,
			CanDownload: c.CanDownload,
		}
	}
	return rf
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// translate wraps err with the remote sentinel matching its HTTP status.
func translate(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return fmt.Errorf("%s: %w: %w", op, remote.ErrRateLimited, err)
		}
	}
	if sentinel := remote.ClassifyHTTPStatus(gerr.Code); sentinel != nil {
		return fmt.Errorf("%s: %w: %w", op, sentinel, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ remote.Store = (*Store)(nil)
