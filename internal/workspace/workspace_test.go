package workspace

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/jun/gophvault/internal/blob"
	"github.com/jun/gophvault/internal/blob/memory"
	docmemory "github.com/jun/gophvault/internal/docstore/memory"
	"github.com/jun/gophvault/internal/files"
	"github.com/jun/gophvault/internal/keyring"
	"github.com/jun/gophvault/internal/model"
	"github.com/jun/gophvault/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry() *Registry {
	return NewRegistry(docmemory.NewStore(), memory.NewProvider(memory.NewStore()),
		WithLocker(session.NewMockLocker(), "agent-1"),
		WithTransfer(128, 2),
	)
}

func TestRegisterUnlockRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	ws, err := r.Register(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, ws.BucketID())
	assert.Equal(t, keyring.StateUnlocked, ws.Keys.State())

	folder, err := ws.Folders.Create(ctx, "docs", "")
	require.NoError(t, err)
	data := bytes.Repeat([]byte("gophvault"), 50)
	file, err := ws.Files.Create(ctx, files.CreateInput{
		Name:     "notes.txt",
		FolderID: folder.ID,
		Content:  bytes.NewReader(data),
		Size:     int64(len(data)),
	}, nil)
	require.NoError(t, err)

	r.SignOut("alice")
	_, err = r.Get("alice")
	assert.ErrorIs(t, err, ErrNoSession)

	ws, err = r.Unlock(ctx, "alice", "hunter2")
	require.NoError(t, err)
	got, err := r.Get("alice")
	require.NoError(t, err)
	assert.Same(t, ws, got)

	var out bytes.Buffer
	_, err = ws.Files.Download(ctx, file.ID, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, data, out.Bytes())

	names, err := ws.Folders.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "docs", names[0].Metadata.Name)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	ok, err := r.Exists(ctx, "gina")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.Register(ctx, "gina", "pw")
	require.NoError(t, err)
	r.SignOut("gina")

	ok, err = r.Exists(ctx, "gina")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockWrongPassword(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	_, err := r.Register(ctx, "bob", "right")
	require.NoError(t, err)
	r.SignOut("bob")

	_, err = r.Unlock(ctx, "bob", "wrong")
	assert.ErrorIs(t, err, keyring.ErrIncorrectPassword)
	_, err = r.Get("bob")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRegisterTwice(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	_, err := r.Register(ctx, "carol", "pw")
	require.NoError(t, err)
	_, err = r.Register(ctx, "carol", "pw")
	assert.ErrorIs(t, err, keyring.ErrUserExists)
}

func TestChangePasswordThenUnlock(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	ws, err := r.Register(ctx, "dave", "old")
	require.NoError(t, err)
	folder, err := ws.Folders.Create(ctx, "kept", "")
	require.NoError(t, err)
	require.NoError(t, ws.Keys.ChangePassword(ctx, "new"))
	r.SignOut("dave")

	_, err = r.Unlock(ctx, "dave", "old")
	assert.ErrorIs(t, err, keyring.ErrIncorrectPassword)

	ws, err = r.Unlock(ctx, "dave", "new")
	require.NoError(t, err)
	got, err := ws.Folders.Get(ctx, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, "kept", got.Metadata.Name)
}

func TestUnlockReplacesSession(t *testing.T) {
	ctx := context.Background()
	r := newRegistry()

	first, err := r.Register(ctx, "erin", "pw")
	require.NoError(t, err)
	second, err := r.Unlock(ctx, "erin", "pw")
	require.NoError(t, err)

	assert.Equal(t, keyring.StateSignedOut, first.Keys.State())
	assert.Equal(t, keyring.StateUnlocked, second.Keys.State())

	r.Close()
	_, err = r.Get("erin")
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, keyring.StateSignedOut, second.Keys.State())
}

// gatedProvider blocks the first PutBlob after arm until release is closed.
type gatedProvider struct {
	blob.Provider
	armed   atomic.Bool
	started chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Backend(ctx context.Context, userID, bucketID string) (blob.Backend, error) {
	b, err := p.Provider.Backend(ctx, userID, bucketID)
	if err != nil {
		return nil, err
	}
	return gatedBackend{Backend: b, p: p}, nil
}

type gatedBackend struct {
	blob.Backend
	p *gatedProvider
}

func (b gatedBackend) PutBlob(ctx context.Context, data []byte, onProgress blob.ProgressFunc) (string, error) {
	if b.p.armed.CompareAndSwap(true, false) {
		close(b.p.started)
		<-b.p.release
	}
	return b.Backend.PutBlob(ctx, data, onProgress)
}

func TestUploadSurvivesSessionReplacement(t *testing.T) {
	ctx := context.Background()
	provider := &gatedProvider{
		Provider: memory.NewProvider(memory.NewStore()),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	r := NewRegistry(docmemory.NewStore(), provider, WithTransfer(128, 1))

	old, err := r.Register(ctx, "frank", "pw")
	require.NoError(t, err)

	data := bytes.Repeat([]byte("chunked "), 64)
	provider.armed.Store(true)
	type result struct {
		file model.FileEntity
		err  error
	}
	done := make(chan result, 1)
	go func() {
		file, err := old.Files.Create(ctx, files.CreateInput{
			Name:    "inflight.bin",
			Content: bytes.NewReader(data),
			Size:    int64(len(data)),
		}, nil)
		done <- result{file, err}
	}()

	<-provider.started
	current, err := r.Unlock(ctx, "frank", "pw")
	require.NoError(t, err)
	assert.Equal(t, keyring.StateSignedOut, old.Keys.State())
	close(provider.release)

	res := <-done
	require.NoError(t, res.err)

	var out bytes.Buffer
	_, err = current.Files.Download(ctx, res.file.ID, &out, nil)
	require.NoError(t, err)
	assert.Equal(t, data, out.Bytes())

	listed, err := current.Files.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "inflight.bin", listed[0].Metadata.Name)

	folder, err := current.Folders.Create(ctx, "late", "")
	require.NoError(t, err)
	_, err = old.Folders.Rename(ctx, folder.ID, "renamed")
	require.NoError(t, err)
	folders, err := current.Folders.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "renamed", folders[0].Metadata.Name)
}
