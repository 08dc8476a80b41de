// Package workspace keeps the unlocked sessions of the agent. A Workspace is
// created when a user registers or unlocks, shares its store and blob
// backend with the services built on it, and is torn down at sign-out.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jun/gophvault/internal/blob"
	"github.com/jun/gophvault/internal/crypto"
	"github.com/jun/gophvault/internal/docstore"
	"github.com/jun/gophvault/internal/files"
	"github.com/jun/gophvault/internal/keyring"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/metrics"
	"github.com/jun/gophvault/internal/model"
	"github.com/jun/gophvault/internal/session"
	"github.com/jun/gophvault/internal/transfer"
	"github.com/jun/gophvault/internal/tree"
	"github.com/sirupsen/logrus"
)

var ErrNoSession = errors.New("no unlocked session")

// Workspace is one user's unlocked vault.
type Workspace struct {
	UserID  string
	Keys    *keyring.Manager
	Folders *tree.Service
	Files   *files.Service

	bucketID string
}

// BucketID is the blob bucket the vault stores chunks in.
func (w *Workspace) BucketID() string { return w.bucketID }

// close locks the key manager. The services keep their own key copies so
// that operations already running finish under the real keys; the copies
// are released with the workspace.
func (w *Workspace) close() {
	w.Keys.SignOut()
}

// Registry owns the shared dependencies and the open workspaces.
type Registry struct {
	store    docstore.Store
	blobs    blob.Provider
	locker   session.Locker
	holderID string
	metrics  *metrics.Metrics
	log      *logrus.Entry

	chunkSize   int64
	maxParallel int

	mu       sync.RWMutex
	sessions map[string]*Workspace
}

type Option func(*Registry)

// WithLocker makes password changes take an account lease as holderID.
func WithLocker(l session.Locker, holderID string) Option {
	return func(r *Registry) {
		r.locker = l
		r.holderID = holderID
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithLogger(log *logrus.Entry) Option {
	return func(r *Registry) { r.log = log }
}

// WithTransfer sets chunk size and parallelism; zero values keep defaults.
func WithTransfer(chunkSize int64, maxParallel int) Option {
	return func(r *Registry) {
		r.chunkSize = chunkSize
		r.maxParallel = maxParallel
	}
}

func NewRegistry(store docstore.Store, blobs blob.Provider, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		blobs:    blobs,
		sessions: make(map[string]*Workspace),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.OrDiscard(r.log)
	return r
}

// Register creates a new vault for userID and opens it.
func (r *Registry) Register(ctx context.Context, userID, password string) (*Workspace, error) {
	backend, err := r.blobs.Backend(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("open blob backend: %w", err)
	}
	keys := r.newManager()
	props, err := keys.Register(ctx, userID, password, backend)
	if err != nil {
		return nil, err
	}
	return r.open(ctx, userID, keys, props)
}

// Unlock opens an existing vault. A previous session for the same user is
// replaced.
func (r *Registry) Unlock(ctx context.Context, userID, password string) (*Workspace, error) {
	keys := r.newManager()
	keys.SignIn(userID)
	props, err := keys.Unlock(ctx, userID, password)
	if err != nil {
		return nil, err
	}
	return r.open(ctx, userID, keys, props)
}

// Exists reports whether userID has registered a vault.
func (r *Registry) Exists(ctx context.Context, userID string) (bool, error) {
	var rec model.UserAuthRecord
	err := r.store.GetDocument(ctx, model.CollectionUserAuth, userID, &rec)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, docstore.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("load user record: %w", err)
}

// Get returns the open workspace of userID.
func (r *Registry) Get(userID string) (*Workspace, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.sessions[userID]
	if !ok {
		return nil, ErrNoSession
	}
	return ws, nil
}

// SignOut closes the workspace of userID and locks its key manager.
func (r *Registry) SignOut(userID string) {
	r.mu.Lock()
	ws, ok := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	if ok {
		ws.close()
		r.log.WithField("user_id", userID).Info("Signed out")
	}
}

// Close signs every user out.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range sessions {
		ws.close()
	}
}

func (r *Registry) newManager() *keyring.Manager {
	return keyring.NewManager(r.store,
		keyring.WithLocker(r.locker, r.holderID),
		keyring.WithMetrics(r.metrics),
		keyring.WithLogger(r.log),
	)
}

func (r *Registry) open(ctx context.Context, userID string, keys *keyring.Manager, props model.AuthProperties) (*Workspace, error) {
	backend, err := r.blobs.Backend(ctx, userID, props.BucketID)
	if err != nil {
		keys.SignOut()
		wipeKeys(props)
		return nil, fmt.Errorf("open blob backend: %w", err)
	}

	log := r.log.WithField("user_id", userID)
	pipeline := transfer.NewPipeline(r.store, backend,
		transfer.WithChunkSize(r.chunkSize),
		transfer.WithMaxParallel(r.maxParallel),
		transfer.WithMetrics(r.metrics),
		transfer.WithLogger(log),
	)
	fileSvc := files.NewService(r.store, pipeline, userID, files.Keys{
		File:      bytes.Clone(props.FileKey),
		Metadata:  bytes.Clone(props.MetadataKey),
		Thumbnail: bytes.Clone(props.ThumbnailKey),
	}, log)
	folderSvc := tree.NewService(r.store, userID, bytes.Clone(props.MetadataKey), fileSvc,
		tree.WithMaxParallel(r.maxParallel),
		tree.WithLogger(log),
	)

	ws := &Workspace{
		UserID:   userID,
		Keys:     keys,
		Folders:  folderSvc,
		Files:    fileSvc,
		bucketID: props.BucketID,
	}
	wipeKeys(props)

	r.mu.Lock()
	prev := r.sessions[userID]
	r.sessions[userID] = ws
	r.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return ws, nil
}

// wipeKeys clears the copies returned by the key manager once the services
// hold their own.
func wipeKeys(props model.AuthProperties) {
	crypto.Wipe(props.FileKey)
	crypto.Wipe(props.MetadataKey)
	crypto.Wipe(props.ThumbnailKey)
}
