package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"drivebyfix/pkg/remote"
	"drivebyfix/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type fakeDrive struct {
	mu       sync.Mutex
	queries  []string
	updates  []string
	uploaded map[string][]byte
	folders  []string
}

func newFakeDrive(t *testing.T) (*fakeDrive, *Store) {
	t.Helper()
	fake := &fakeDrive{uploaded: make(map[string][]byte)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /files", fake.list)
	mux.HandleFunc("POST /files", fake.create)
	mux.HandleFunc("GET /files/{id}", fake.download)
	mux.HandleFunc("POST /files/{id}/copy", fake.copy)
	mux.HandleFunc("PATCH /files/{id}", fake.update)
	mux.HandleFunc("PATCH /upload/drive/v3/files/{id}", fake.upload)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), zap.NewNop(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return fake, store
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": reason,
			"errors":  []map[string]string{{"reason": reason, "message": reason}},
		},
	})
}

func fileJSON(id, name string, extra map[string]any) map[string]any {
	f := map[string]any{
		"id":          id,
		"name":        name,
		"mimeType":    "video/mp4",
		"md5Checksum": "d41d8cd98f00b204e9800998ecf8427e",
		"size":        "42",
		"version":     "7",
		"parents":     []string{"root"},
		"ownedByMe":   true,
		"capabilities": map[string]bool{
			"canEdit": true, "canCopy": true, "canDelete": true, "canDownload": true,
		},
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

func (f *fakeDrive) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	switch {
	case strings.Contains(q, "'forbidden.mp4'"):
		writeError(w, http.StatusForbidden, "insufficientPermissions")
	case strings.Contains(q, "'throttled.mp4'"):
		writeError(w, http.StatusForbidden, "userRateLimitExceeded")
	case strings.Contains(q, "'clip.mp4'") && r.URL.Query().Get("pageToken") == "":
		writeJSON(w, map[string]any{
			"nextPageToken": "page-2",
			"files": []any{
				fileJSON("a", "clip.mp4", map[string]any{"modifiedTime": "2024-05-01T10:00:00.000Z"}),
				fileJSON("other", "CLIP.mp4", nil),
			},
		})
	case strings.Contains(q, "'clip.mp4'"):
		writeJSON(w, map[string]any{
			"files": []any{
				fileJSON("b", "clip.mp4", map[string]any{
					"sharedWithMeTime": "2024-06-01T00:00:00Z",
					"capabilities":     map[string]bool{"canEdit": false, "canCopy": true, "canDelete": false, "canDownload": true},
				}),
				fileJSON("c", "clip.mp4", map[string]any{"ownedByMe": false}),
			},
		})
	default:
		writeJSON(w, map[string]any{"files": []any{}})
	}
}

func (f *fakeDrive) download(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("alt") != "media" {
		writeError(w, http.StatusBadRequest, "badRequest")
		return
	}
	if r.PathValue("id") == "missing" {
		writeError(w, http.StatusNotFound, "notFound")
		return
	}
	_, _ = io.WriteString(w, "content of "+r.PathValue("id"))
}

func (f *fakeDrive) copy(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	writeJSON(w, fileJSON("copy-of-"+r.PathValue("id"), body["name"].(string), nil))
}

func (f *fakeDrive) update(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.updates = append(f.updates, r.PathValue("id")+" +"+q.Get("addParents")+" -"+q.Get("removeParents"))
	f.mu.Unlock()
	writeJSON(w, fileJSON(r.PathValue("id"), "moved", map[string]any{"parents": []string{q.Get("addParents")}}))
}

func (f *fakeDrive) upload(w http.ResponseWriter, r *http.Request) {
	data, err := readMedia(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	f.uploaded[r.PathValue("id")] = data
	f.mu.Unlock()
	writeJSON(w, fileJSON(r.PathValue("id"), "uploaded", map[string]any{"version": "8"}))
}

func (f *fakeDrive) create(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.folders = append(f.folders, body["name"].(string)+"|"+body["mimeType"].(string))
	f.mu.Unlock()
	writeJSON(w, map[string]any{"id": "folder-1"})
}

// readMedia extracts the content part of a multipart or plain media upload.
func readMedia(r *http.Request) ([]byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return io.ReadAll(r.Body)
	}
	reader := multipart.NewReader(r.Body, params["boundary"])
	var last []byte
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return last, nil
		}
		if err != nil {
			return nil, err
		}
		last, err = io.ReadAll(part)
		if err != nil {
			return nil, err
		}
	}
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s.mp4`, EscapeQuery("it's.mp4"))
	assert.Equal(t, `a\\b`, EscapeQuery(`a\b`))
	assert.Equal(t, "name = 'x\\'y' and 'me' in owners and trashed = false", nameQuery("x'y"))
}

func TestFindByName_PaginatesAndFilters(t *testing.T) {
	fake, store := newFakeDrive(t)

	files, err := store.FindByName(context.Background(), "clip.mp4")
	require.NoError(t, err)

	require.Len(t, files, 2)
	assert.Equal(t, types.FileID("a"), files[0].ID)
	assert.Equal(t, types.FileID("b"), files[1].ID)
	assert.Len(t, fake.queries, 2)

	first := files[0]
	assert.Equal(t, int64(42), first.Size)
	assert.Equal(t, int64(7), first.Version)
	assert.Equal(t, types.FullCapabilities(), first.Capabilities)
	assert.False(t, first.IsShared())
	assert.Equal(t, 2024, first.ModifiedTime.Year())

	second := files[1]
	assert.True(t, second.IsShared())
	assert.Equal(t, []types.Capability{types.CapabilityEdit, types.CapabilityDelete}, second.Capabilities.Missing())
}

func TestFindByName_NoMatchIsEmptyNotNil(t *testing.T) {
	_, store := newFakeDrive(t)

	files, err := store.FindByName(context.Background(), "nothing.mp4")
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

func TestFindByName_TranslatesErrors(t *testing.T) {
	_, store := newFakeDrive(t)

	_, err := store.FindByName(context.Background(), "forbidden.mp4")
	assert.ErrorIs(t, err, remote.ErrPermissionDenied)

	_, err = store.FindByName(context.Background(), "throttled.mp4")
	assert.ErrorIs(t, err, remote.ErrRateLimited)
	assert.Equal(t, remote.ClassRateLimited, remote.Classify(err))
}

func TestDownload(t *testing.T) {
	_, store := newFakeDrive(t)

	body, err := store.Download(context.Background(), types.RemoteFile{ID: "a", MimeType: "video/mp4"})
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "content of a", string(data))

	_, err = store.Download(context.Background(), types.RemoteFile{ID: "missing"})
	assert.ErrorIs(t, err, remote.ErrNotFound)

	_, err = store.Download(context.Background(), types.RemoteFile{ID: "doc", MimeType: "application/vnd.google-apps.document"})
	assert.ErrorIs(t, err, remote.ErrUnsupportedContent)
}

func TestCopy_MovesIntoBackupFolder(t *testing.T) {
	fake, store := newFakeDrive(t)

	backup, err := store.Copy(context.Background(), types.RemoteFile{ID: "a"}, "clip.backup.mp4", "root", "folder-1")
	require.NoError(t, err)

	assert.Equal(t, types.FileID("copy-of-a"), backup.ID)
	assert.Equal(t, []string{"folder-1"}, backup.Parents)
	assert.Equal(t, []string{"copy-of-a +folder-1 -root"}, fake.updates)
}

func TestUpload_ReplacesContent(t *testing.T) {
	fake, store := newFakeDrive(t)

	content := []byte("fresh bytes")
	updated, err := store.Upload(context.Background(), types.RemoteFile{ID: "a", MimeType: "video/mp4"},
		bytes.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	assert.Equal(t, types.FileID("a"), updated.ID)
	assert.Equal(t, int64(8), updated.Version)
	assert.Equal(t, content, fake.uploaded["a"])
}

func TestCreateFolder(t *testing.T) {
	fake, store := newFakeDrive(t)

	id, err := store.CreateFolder(context.Background(), "drive-by-fix backups 2025")
	require.NoError(t, err)
	assert.Equal(t, "folder-1", id)
	assert.Equal(t, []string{"drive-by-fix backups 2025|" + folderMimeType}, fake.folders)
}

func TestToRemoteFile_NativeDocumentHasUnknownSize(t *testing.T) {
	rf := toRemoteFile(&drivev3.File{Id: "d", Name: "notes", MimeType: "application/vnd.google-apps.document"})
	assert.Equal(t, types.UnknownSize, rf.Size)
	assert.False(t, rf.HasKnownSize())
	assert.Equal(t, types.Capabilities{}, rf.Capabilities)
}
