// Package blob defines the contract for opaque ciphertext storage. Blobs are
// addressed by backend-assigned ids and grouped under a per-user bucket.
package blob

import (
	"context"
	"fmt"
	"strings"
)

// ProgressFunc receives the number of bytes transferred so far. Values are
// monotonically non-decreasing. The last call may arrive after the operation
// returns; completion is signalled by the return, not by a progress value.
type ProgressFunc func(loaded int64)

// Report calls fn if it is set.
func (fn ProgressFunc) Report(loaded int64) {
	if fn != nil {
		fn(loaded)
	}
}

// Backend stores ciphertext blobs for one user bucket.
type Backend interface {
	// Initialize prepares the user's bucket and returns its id.
	Initialize(ctx context.Context) (string, error)
	PutBlob(ctx context.Context, data []byte, onProgress ProgressFunc) (string, error)
	GetBlob(ctx context.Context, id string, onProgress ProgressFunc) ([]byte, error)
	DeleteBlob(ctx context.Context, id string) error
}

// Provider returns the Backend for a user and bucket. bucketID is empty
// before the bucket has been initialized.
type Provider interface {
	Backend(ctx context.Context, userID, bucketID string) (Backend, error)
}

// Kind enumerates the concrete backends.
type Kind int

const (
	KindMemory Kind = iota
	KindGoogleDrive
	KindS3
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindGoogleDrive:
		return "googledrive"
	case KindS3:
		return "s3"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a configuration value to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "memory", "":
		return KindMemory, nil
	case "googledrive", "google", "drive":
		return KindGoogleDrive, nil
	case "s3":
		return KindS3, nil
	}
	return 0, fmt.Errorf("unknown blob backend %q", s)
}
