// Package googledrive stores ciphertext blobs as files inside a per-user
// folder of the user's Google Drive.
package googledrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jun/gophvault/internal/blob"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMimeType = "application/vnd.google-apps.folder"
	blobMimeType   = "application/octet-stream"

	// BucketFolderName is the Drive folder created by Initialize.
	BucketFolderName = "GophVault"
)

// DriveBackend implements blob.Backend for Google Drive.
type DriveBackend struct {
	service  *drive.Service
	bucketID string
}

// NewDriveBackend creates a DriveBackend.
// client should be an http.Client authenticated with the user's credentials.
func NewDriveBackend(ctx context.Context, client *http.Client, bucketID string, opts ...option.ClientOption) (*DriveBackend, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}
	return &DriveBackend{service: srv, bucketID: bucketID}, nil
}

// Initialize returns the bucket folder id, finding or creating the
// BucketFolderName folder in the Drive root when none is set yet.
func (d *DriveBackend) Initialize(ctx context.Context) (string, error) {
	if d.bucketID != "" {
		return d.bucketID, nil
	}

	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and 'root' in parents and trashed = false", BucketFolderName, folderMimeType)
	r, err := d.service.Files.List().Q(q).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: search bucket folder: %w", blob.ErrBackend, err)
	}
	if len(r.Files) > 0 {
		d.bucketID = r.Files[0].Id
		return d.bucketID, nil
	}

	folder, err := d.service.Files.Create(&drive.File{
		Name:     BucketFolderName,
		MimeType: folderMimeType,
		Parents:  []string{"root"},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("%w: create bucket folder: %w", blob.ErrBackend, err)
	}
	d.bucketID = folder.Id
	return d.bucketID, nil
}

// PutBlob uploads data as a new file in the bucket folder.
func (d *DriveBackend) PutBlob(ctx context.Context, data []byte, onProgress blob.ProgressFunc) (string, error) {
	if d.bucketID == "" {
		return "", fmt.Errorf("%w: bucket not initialized", blob.ErrBackend)
	}

	progress := &monotonic{fn: onProgress}
	f := &drive.File{
		Name:     uuid.NewString(),
		MimeType: blobMimeType,
		Parents:  []string{d.bucketID},
	}
	res, err := d.service.Files.Create(f).
		Media(bytes.NewReader(data), googleapi.ContentType(blobMimeType)).
		ProgressUpdater(func(current, _ int64) { progress.report(current) }).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("%w: unable to upload blob: %w", blob.ErrBackend, err)
	}
	// Small bodies are sent in one request without progress events.
	progress.report(int64(len(data)))
	return res.Id, nil
}

// GetBlob downloads the file content.
func (d *DriveBackend) GetBlob(ctx context.Context, id string, onProgress blob.ProgressFunc) ([]byte, error) {
	resp, err := d.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		if isNotFound(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("%w: unable to download blob %s: %w", blob.ErrBackend, id, err)
	}
	defer resp.Body.Close()

	data, err := blob.ReadAllWithProgress(resp.Body, onProgress)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to read blob %s: %w", blob.ErrBackend, id, err)
	}
	return data, nil
}

func (d *DriveBackend) DeleteBlob(ctx context.Context, id string) error {
	if err := d.service.Files.Delete(id).Context(ctx).Do(); err != nil {
		if isNotFound(err) {
			return blob.ErrNotFound
		}
		return fmt.Errorf("%w: unable to delete blob %s: %w", blob.ErrBackend, id, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusNotFound
	}
	return false
}

type monotonic struct {
	mu   sync.Mutex
	fn   blob.ProgressFunc
	last int64
}

func (m *monotonic) report(n int64) {
	m.mu.Lock()
	if n <= m.last {
		m.mu.Unlock()
		return
	}
	m.last = n
	m.mu.Unlock()
	m.fn.Report(n)
}
