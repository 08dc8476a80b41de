package keyring

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/jun/gophvault/internal/blob/memory"
	"github.com/jun/gophvault/internal/crypto"
	"github.com/jun/gophvault/internal/docstore"
	docmemory "github.com/jun/gophvault/internal/docstore/memory"
	"github.com/jun/gophvault/internal/model"
	"github.com/jun/gophvault/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts UpdateDocument calls.
type countingStore struct {
	docstore.Store
	updates []docstore.Update
}

func (c *countingStore) UpdateDocument(ctx context.Context, collection, id string, update docstore.Update) error {
	c.updates = append(c.updates, update)
	return c.Store.UpdateDocument(ctx, collection, id, update)
}

type failingInitializer struct{}

func (failingInitializer) Initialize(context.Context) (string, error) {
	return "", errors.New("drive unavailable")
}

func newBucket() Initializer {
	return memory.NewBackend(memory.NewStore(), "")
}

func register(t *testing.T, store docstore.Store, password string) (*Manager, model.AuthProperties) {
	t.Helper()
	m := NewManager(store)
	props, err := m.Register(context.Background(), "alice", password, newBucket())
	require.NoError(t, err)
	return m, props
}

func TestRegisterThenUnlock_SameKeys(t *testing.T) {
	store := docmemory.NewStore()
	_, registered := register(t, store, "correct horse")

	m := NewManager(store)
	unlocked, err := m.Unlock(context.Background(), "alice", "correct horse")
	require.NoError(t, err)

	assert.Equal(t, registered, unlocked)
	assert.Equal(t, StateUnlocked, m.State())
	assert.Len(t, unlocked.FileKey, crypto.KeySize)
	assert.NotEqual(t, unlocked.FileKey, unlocked.MetadataKey)
	assert.NotEqual(t, unlocked.MetadataKey, unlocked.ThumbnailKey)
	assert.NotEmpty(t, unlocked.BucketID)
}

func TestRegister_RecordHoldsOnlyWrappedKeys(t *testing.T) {
	store := docmemory.NewStore()
	_, props := register(t, store, "pw")

	var rec model.UserAuthRecord
	require.NoError(t, store.GetDocument(context.Background(), model.CollectionUserAuth, "alice", &rec))

	for _, field := range []string{rec.FileKey, rec.MetadataKey, rec.ThumbnailKey} {
		raw, err := base64.StdEncoding.DecodeString(field)
		require.NoError(t, err)
		assert.Len(t, raw, crypto.KeySize+crypto.Overhead)
		for _, plain := range [][]byte{props.FileKey, props.MetadataKey, props.ThumbnailKey} {
			assert.False(t, bytes.Contains(raw, plain))
		}
	}
	salt, err := base64.StdEncoding.DecodeString(rec.Salt)
	require.NoError(t, err)
	assert.Equal(t, props.Salt, salt)
	assert.Equal(t, props.BucketID, rec.BucketID)
}

func TestRegister_Duplicate(t *testing.T) {
	store := docmemory.NewStore()
	register(t, store, "pw")

	_, err := NewManager(store).Register(context.Background(), "alice", "other", newBucket())
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegister_BucketFailureStoresNothing(t *testing.T) {
	store := docmemory.NewStore()
	m := NewManager(store)

	_, err := m.Register(context.Background(), "alice", "pw", failingInitializer{})
	require.Error(t, err)
	assert.Equal(t, 0, store.Len(model.CollectionUserAuth))
	assert.Equal(t, StateSignedOut, m.State())
}

func TestRegister_EmptyPassword(t *testing.T) {
	_, err := NewManager(docmemory.NewStore()).Register(context.Background(), "alice", "", newBucket())
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestUnlock_WrongPasswordNeverPartiallyUnlocks(t *testing.T) {
	store := docmemory.NewStore()
	register(t, store, "right")

	m := NewManager(store)
	m.SignIn("alice")
	_, err := m.Unlock(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrIncorrectPassword)
	assert.ErrorIs(t, err, crypto.ErrAuthentication)
	assert.Equal(t, StateAwaitingPassword, m.State())
	assert.Equal(t, "alice", m.UserID())

	_, err = m.Properties()
	assert.ErrorIs(t, err, ErrLocked)

	// Retrying with the right password recovers.
	_, err = m.Unlock(context.Background(), "alice", "right")
	require.NoError(t, err)
	assert.Equal(t, StateUnlocked, m.State())
}

func TestUnlock_WrongPasswordAfterUnlockDropsKeys(t *testing.T) {
	store := docmemory.NewStore()
	m, _ := register(t, store, "right")

	_, err := m.Unlock(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, ErrIncorrectPassword)
	_, err = m.Properties()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestUnlock_UnknownUser(t *testing.T) {
	_, err := NewManager(docmemory.NewStore()).Unlock(context.Background(), "bob", "pw")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestUnlock_TamperedRecord(t *testing.T) {
	store := docmemory.NewStore()
	register(t, store, "pw")

	var rec model.UserAuthRecord
	require.NoError(t, store.GetDocument(context.Background(), model.CollectionUserAuth, "alice", &rec))
	raw, _ := base64.StdEncoding.DecodeString(rec.MetadataKey)
	raw[len(raw)-1] ^= 0xFF
	require.NoError(t, store.UpdateDocument(context.Background(), model.CollectionUserAuth, "alice",
		docstore.Update{"metadataKey": base64.StdEncoding.EncodeToString(raw)}))

	_, err := NewManager(store).Unlock(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrIncorrectPassword)
}

func TestChangePassword(t *testing.T) {
	store := &countingStore{Store: docmemory.NewStore()}
	m, before := register(t, store, "old")

	require.NoError(t, m.ChangePassword(context.Background(), "new"))

	live, err := m.Properties()
	require.NoError(t, err)
	assert.Equal(t, before, live, "working copies wiped, live keys untouched")

	require.Len(t, store.updates, 1)
	assert.Len(t, store.updates[0], 3)
	assert.Contains(t, store.updates[0], "fileKey")
	assert.Contains(t, store.updates[0], "metadataKey")
	assert.Contains(t, store.updates[0], "thumbnailKey")

	_, err = NewManager(store).Unlock(context.Background(), "alice", "old")
	assert.ErrorIs(t, err, ErrIncorrectPassword)

	after, err := NewManager(store).Unlock(context.Background(), "alice", "new")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestChangePassword_RequiresUnlocked(t *testing.T) {
	m := NewManager(docmemory.NewStore())
	assert.ErrorIs(t, m.ChangePassword(context.Background(), "new"), ErrLocked)

	m.SignIn("alice")
	assert.ErrorIs(t, m.ChangePassword(context.Background(), "new"), ErrLocked)
}

func TestChangePassword_LeaseHeldElsewhere(t *testing.T) {
	store := &countingStore{Store: docmemory.NewStore()}
	locker := session.NewMockLocker()

	m := NewManager(store, WithLocker(locker, "laptop"))
	_, err := m.Register(context.Background(), "alice", "old", newBucket())
	require.NoError(t, err)

	_, err = locker.Acquire(context.Background(), "alice", "phone")
	require.NoError(t, err)

	err = m.ChangePassword(context.Background(), "new")
	assert.ErrorIs(t, err, session.ErrLeaseHeld)
	assert.Empty(t, store.updates)

	require.NoError(t, locker.Release(context.Background(), "alice", "phone"))
	require.NoError(t, m.ChangePassword(context.Background(), "new"))

	status, err := locker.Status(context.Background(), "alice")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestSignOut(t *testing.T) {
	m, props := register(t, docmemory.NewStore(), "pw")
	held, err := m.Properties()
	require.NoError(t, err)

	m.SignOut()

	assert.Equal(t, StateSignedOut, m.State())
	assert.Empty(t, m.UserID())
	_, err = m.Properties()
	assert.ErrorIs(t, err, ErrLocked)
	// Copies handed out earlier are independent of the wiped state.
	assert.Equal(t, props.FileKey, held.FileKey)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "signed-out", StateSignedOut.String())
	assert.Equal(t, "awaiting-password", StateAwaitingPassword.String())
	assert.Equal(t, "unlocked", StateUnlocked.String())
}
