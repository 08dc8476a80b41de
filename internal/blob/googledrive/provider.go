package googledrive

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jun/gophvault/internal/blob"
	"google.golang.org/api/option"
)

// ClientSource returns an authenticated Drive HTTP client for a user.
type ClientSource interface {
	GetClient(ctx context.Context, userID string) (*http.Client, error)
}

// Provider implements blob.Provider for Google Drive.
type Provider struct {
	clients ClientSource
	opts    []option.ClientOption
}

// NewProvider creates a new Google Drive provider.
func NewProvider(clients ClientSource, opts ...option.ClientOption) *Provider {
	return &Provider{clients: clients, opts: opts}
}

// Backend returns a DriveBackend for the given user and bucket folder.
func (p *Provider) Backend(ctx context.Context, userID, bucketID string) (blob.Backend, error) {
	client, err := p.clients.GetClient(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get authenticated client: %w", err)
	}

	backend, err := NewDriveBackend(ctx, client, bucketID, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive backend: %w", err)
	}
	return backend, nil
}
