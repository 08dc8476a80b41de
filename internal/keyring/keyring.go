// Package keyring owns the user's key hierarchy: one password-derived key
// wraps three independent purpose keys (file, metadata, thumbnail). Plaintext
// keys live only in a Manager; the document store sees the wrapped form.
package keyring

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/jun/gophvault/internal/crypto"
	"github.com/jun/gophvault/internal/docstore"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/metrics"
	"github.com/jun/gophvault/internal/model"
	"github.com/jun/gophvault/internal/session"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle of a Manager.
type State int

const (
	StateSignedOut State = iota
	StateAwaitingPassword
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed-out"
	case StateAwaitingPassword:
		return "awaiting-password"
	case StateUnlocked:
		return "unlocked"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Initializer prepares the user's blob bucket and returns its id.
type Initializer interface {
	Initialize(ctx context.Context) (string, error)
}

// Manager holds one user's key hierarchy for the lifetime of a session.
type Manager struct {
	store    docstore.Store
	locker   session.Locker
	holderID string
	metrics  *metrics.Metrics
	log      *logrus.Entry

	mu     sync.RWMutex
	state  State
	userID string
	props  *model.AuthProperties
}

type Option func(*Manager)

// WithLocker serializes password changes under an account lease held as
// holderID.
func WithLocker(l session.Locker, holderID string) Option {
	return func(m *Manager) {
		m.locker = l
		m.holderID = holderID
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithLogger(log *logrus.Entry) Option {
	return func(m *Manager) { m.log = log }
}

func NewManager(store docstore.Store, opts ...Option) *Manager {
	m := &Manager{store: store}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logging.OrDiscard(m.log).WithField("component", "keyring")
	return m
}

// SignIn records the user identity and waits for the password.
func (m *Manager) SignIn(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.userID = userID
	m.state = StateAwaitingPassword
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// Register creates the key hierarchy for a new user, initializes the blob
// bucket and persists the wrapped record. The Manager ends up unlocked.
func (m *Manager) Register(ctx context.Context, userID, password string, bucket Initializer) (model.AuthProperties, error) {
	if password == "" {
		return model.AuthProperties{}, ErrEmptyPassword
	}

	var existing model.UserAuthRecord
	err := m.store.GetDocument(ctx, model.CollectionUserAuth, userID, &existing)
	switch {
	case err == nil:
		return model.AuthProperties{}, ErrUserExists
	case !errors.Is(err, docstore.ErrNotFound):
		return model.AuthProperties{}, fmt.Errorf("load user record: %w", err)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return model.AuthProperties{}, err
	}
	passwordKey, err := crypto.DeriveKey([]byte(password), salt)
	if err != nil {
		return model.AuthProperties{}, err
	}
	defer crypto.Wipe(passwordKey)

	fileKey, err := crypto.GenerateWrappedKey(passwordKey)
	if err != nil {
		return model.AuthProperties{}, err
	}
	metadataKey, err := crypto.GenerateWrappedKey(passwordKey)
	if err != nil {
		return model.AuthProperties{}, err
	}
	thumbnailKey, err := crypto.GenerateWrappedKey(passwordKey)
	if err != nil {
		return model.AuthProperties{}, err
	}

	bucketID, err := bucket.Initialize(ctx)
	if err != nil {
		return model.AuthProperties{}, fmt.Errorf("initialize bucket: %w", err)
	}

	record := model.UserAuthRecord{
		ID:           userID,
		FileKey:      encode(fileKey.WrappedKey),
		MetadataKey:  encode(metadataKey.WrappedKey),
		ThumbnailKey: encode(thumbnailKey.WrappedKey),
		Salt:         encode(salt),
		BucketID:     bucketID,
	}
	if err := m.store.CreateDocument(ctx, model.CollectionUserAuth, userID, record); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return model.AuthProperties{}, ErrUserExists
		}
		return model.AuthProperties{}, fmt.Errorf("store user record: %w", err)
	}

	props := &model.AuthProperties{
		BucketID:     bucketID,
		FileKey:      fileKey.PlainTextKey,
		MetadataKey:  metadataKey.PlainTextKey,
		ThumbnailKey: thumbnailKey.PlainTextKey,
		Salt:         salt,
	}
	m.apply(userID, props)
	m.log.WithField("user_id", userID).Info("User registered")
	return clone(props), nil
}

// Unlock derives the password key and unwraps the three purpose keys. On any
// failure no key state is applied and the Manager waits for the password.
func (m *Manager) Unlock(ctx context.Context, userID, password string) (model.AuthProperties, error) {
	props, err := m.unlock(ctx, userID, password)
	m.metrics.RecordUnlock(err)
	if err != nil {
		m.mu.Lock()
		m.clearLocked()
		m.userID = userID
		m.state = StateAwaitingPassword
		m.mu.Unlock()
		m.log.WithField("user_id", userID).WithError(err).Warn("Unlock failed")
		return model.AuthProperties{}, err
	}

	m.apply(userID, props)
	m.log.WithField("user_id", userID).Info("Vault unlocked")
	return clone(props), nil
}

func (m *Manager) unlock(ctx context.Context, userID, password string) (*model.AuthProperties, error) {
	var record model.UserAuthRecord
	if err := m.store.GetDocument(ctx, model.CollectionUserAuth, userID, &record); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("load user record: %w", err)
	}

	salt, err := decode(record.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncorrectPassword, err)
	}
	passwordKey, err := crypto.DeriveKey([]byte(password), salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncorrectPassword, err)
	}
	defer crypto.Wipe(passwordKey)

	fileKey, err := unwrapField(record.FileKey, passwordKey)
	if err != nil {
		return nil, err
	}
	metadataKey, err := unwrapField(record.MetadataKey, passwordKey)
	if err != nil {
		crypto.Wipe(fileKey)
		return nil, err
	}
	thumbnailKey, err := unwrapField(record.ThumbnailKey, passwordKey)
	if err != nil {
		crypto.Wipe(fileKey)
		crypto.Wipe(metadataKey)
		return nil, err
	}

	return &model.AuthProperties{
		BucketID:     record.BucketID,
		FileKey:      fileKey,
		MetadataKey:  metadataKey,
		ThumbnailKey: thumbnailKey,
		Salt:         salt,
	}, nil
}

// ChangePassword re-wraps the three purpose keys under a key derived from
// newPassword and the existing salt. The three wrapped fields are written in
// a single update; plaintext keys and salt do not change.
func (m *Manager) ChangePassword(ctx context.Context, newPassword string) error {
	if newPassword == "" {
		return ErrEmptyPassword
	}

	m.mu.RLock()
	if m.state != StateUnlocked {
		m.mu.RUnlock()
		return ErrLocked
	}
	userID := m.userID
	props := clone(m.props)
	m.mu.RUnlock()
	defer crypto.Wipe(props.FileKey)
	defer crypto.Wipe(props.MetadataKey)
	defer crypto.Wipe(props.ThumbnailKey)

	passwordKey, err := crypto.DeriveKey([]byte(newPassword), props.Salt)
	if err != nil {
		return err
	}
	defer crypto.Wipe(passwordKey)

	update := docstore.Update{}
	for field, key := range map[string][]byte{
		"fileKey":      props.FileKey,
		"metadataKey":  props.MetadataKey,
		"thumbnailKey": props.ThumbnailKey,
	} {
		wrapped, err := crypto.WrapKey(key, passwordKey)
		if err != nil {
			return err
		}
		update[field] = encode(wrapped)
	}

	err = session.WithLease(ctx, m.locker, userID, m.holderID, func(ctx context.Context) error {
		return m.store.UpdateDocument(ctx, model.CollectionUserAuth, userID, update)
	})
	if err != nil {
		return fmt.Errorf("update user record: %w", err)
	}
	m.log.WithField("user_id", userID).Info("Password changed")
	return nil
}

// Properties returns a copy of the plaintext keys.
func (m *Manager) Properties() (model.AuthProperties, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateUnlocked {
		return model.AuthProperties{}, ErrLocked
	}
	return clone(m.props), nil
}

// SignOut wipes the plaintext keys.
func (m *Manager) SignOut() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.userID = ""
	m.state = StateSignedOut
}

func (m *Manager) apply(userID string, props *model.AuthProperties) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.userID = userID
	m.props = props
	m.state = StateUnlocked
}

func (m *Manager) clearLocked() {
	if m.props != nil {
		crypto.Wipe(m.props.FileKey)
		crypto.Wipe(m.props.MetadataKey)
		crypto.Wipe(m.props.ThumbnailKey)
		m.props = nil
	}
}

func unwrapField(field string, passwordKey []byte) ([]byte, error) {
	wrapped, err := decode(field)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncorrectPassword, err)
	}
	key, err := crypto.UnwrapKey(wrapped, passwordKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIncorrectPassword, err)
	}
	return key, nil
}

func clone(p *model.AuthProperties) model.AuthProperties {
	return model.AuthProperties{
		BucketID:     p.BucketID,
		FileKey:      append([]byte(nil), p.FileKey...),
		MetadataKey:  append([]byte(nil), p.MetadataKey...),
		ThumbnailKey: append([]byte(nil), p.ThumbnailKey...),
		Salt:         append([]byte(nil), p.Salt...),
	}
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
