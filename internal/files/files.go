// Package files ties the transfer pipeline, the metadata codec and the
// thumbnail store together into the lifecycle of a single file.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jun/gophvault/internal/docstore"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/metadata"
	"github.com/jun/gophvault/internal/model"
	"github.com/jun/gophvault/internal/transfer"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound       = errors.New("file not found")
	ErrFolderNotFound = errors.New("folder not found")
	ErrNoThumbnail    = errors.New("file has no thumbnail")
	ErrEmptyName      = errors.New("name must not be empty")
)

// Keys are the purpose keys a Service encrypts with.
type Keys struct {
	File      []byte
	Metadata  []byte
	Thumbnail []byte
}

// Service manages one owner's files.
type Service struct {
	store    docstore.Store
	pipeline *transfer.Pipeline
	ownerID  string
	keys     Keys
	now      func() time.Time
	log      *logrus.Entry
}

func NewService(store docstore.Store, pipeline *transfer.Pipeline, ownerID string, keys Keys, log *logrus.Entry) *Service {
	return &Service{
		store:    store,
		pipeline: pipeline,
		ownerID:  ownerID,
		keys:     keys,
		now:      time.Now,
		log:      logging.OrDiscard(log).WithField("component", "files"),
	}
}

// CreateInput describes a new file. Thumbnail is an optional data URI.
type CreateInput struct {
	Name      string
	Type      string
	FolderID  string
	Content   io.ReaderAt
	Size      int64
	Thumbnail string
}

// Create uploads the content, stores the thumbnail and finally writes the
// file document, so a listed file always has its chunks in place.
func (s *Service) Create(ctx context.Context, in CreateInput, obs transfer.Observer) (model.FileEntity, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return model.FileEntity{}, ErrEmptyName
	}
	if err := s.checkFolder(ctx, in.FolderID); err != nil {
		return model.FileEntity{}, err
	}

	id := uuid.NewString()
	if _, err := s.pipeline.Upload(ctx, id, in.Content, in.Size, s.keys.File, obs); err != nil {
		return model.FileEntity{}, err
	}

	file := model.FileEntity{
		ID:           id,
		FolderID:     in.FolderID,
		Metadata:     model.FileMetadata{Name: name, Size: in.Size, Type: in.Type},
		OwnerID:      s.ownerID,
		CreationTime: s.now().UTC(),
		Type:         model.TypeFile,
	}
	if in.Thumbnail != "" {
		if err := s.putThumbnail(ctx, id, in.Thumbnail); err != nil {
			s.discard(ctx, id)
			return model.FileEntity{}, err
		}
		file.HasThumbnail = true
	}

	enc, err := metadata.Encrypt(file.Metadata, s.keys.Metadata)
	if err != nil {
		s.discard(ctx, id)
		return model.FileEntity{}, err
	}
	doc := model.FileDocument{
		ID:           file.ID,
		FolderID:     file.FolderID,
		Metadata:     enc,
		HasThumbnail: file.HasThumbnail,
		OwnerID:      file.OwnerID,
		CreationTime: file.CreationTime,
		Type:         file.Type,
	}
	if err := s.store.CreateDocument(ctx, model.CollectionFiles, id, doc); err != nil {
		s.discard(ctx, id)
		return model.FileEntity{}, fmt.Errorf("create file: %w", err)
	}

	s.log.WithFields(logrus.Fields{"file_id": id, "size": in.Size}).Info("File created")
	return file, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.FileEntity, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return model.FileEntity{}, err
	}
	return s.decrypt(doc)
}

// List returns the files directly inside folderID sorted by name.
func (s *Service) List(ctx context.Context, folderID string) ([]model.FileEntity, error) {
	var docs []model.FileDocument
	filter := docstore.Filter{"folderId": folderID, "ownerId": s.ownerID}
	if err := s.store.GetDocuments(ctx, model.CollectionFiles, filter, &docs); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	out := make([]model.FileEntity, 0, len(docs))
	for _, doc := range docs {
		f, err := s.decrypt(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Metadata.Name) < strings.ToLower(out[j].Metadata.Name)
	})
	return out, nil
}

// Download writes the decrypted content of the file to dst.
func (s *Service) Download(ctx context.Context, id string, dst io.Writer, obs transfer.Observer) (model.FileEntity, error) {
	file, err := s.Get(ctx, id)
	if err != nil {
		return model.FileEntity{}, err
	}
	n, err := s.pipeline.Download(ctx, id, file.Metadata.Size, s.keys.File, dst, obs)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			return model.FileEntity{}, fmt.Errorf("file %s has no chunk list: %w", id, err)
		}
		return model.FileEntity{}, err
	}
	if n != file.Metadata.Size {
		s.log.WithFields(logrus.Fields{"file_id": id, "expected": file.Metadata.Size, "got": n}).
			Warn("Downloaded size differs from recorded size")
	}
	return file, nil
}

func (s *Service) Rename(ctx context.Context, id, name string) (model.FileEntity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.FileEntity{}, ErrEmptyName
	}
	file, err := s.Get(ctx, id)
	if err != nil {
		return model.FileEntity{}, err
	}
	file.Metadata.Name = name
	enc, err := metadata.Encrypt(file.Metadata, s.keys.Metadata)
	if err != nil {
		return model.FileEntity{}, err
	}
	if err := s.store.UpdateDocument(ctx, model.CollectionFiles, id, docstore.Update{"metadata": enc}); err != nil {
		return model.FileEntity{}, fmt.Errorf("rename file: %w", err)
	}
	return file, nil
}

// Delete removes the file's chunks and blobs, its thumbnail and its
// document, in that order.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.pipeline.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, model.CollectionThumbnails, id); err != nil {
		return fmt.Errorf("delete thumbnail: %w", err)
	}
	if err := s.store.DeleteDocument(ctx, model.CollectionFiles, id); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	s.log.WithField("file_id", id).Info("File deleted")
	return nil
}

// SetThumbnail replaces the file's thumbnail.
func (s *Service) SetThumbnail(ctx context.Context, id, dataURI string) error {
	doc, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if doc.HasThumbnail {
		if err := s.store.DeleteDocument(ctx, model.CollectionThumbnails, id); err != nil {
			return fmt.Errorf("replace thumbnail: %w", err)
		}
	}
	if err := s.putThumbnail(ctx, id, dataURI); err != nil {
		return err
	}
	if !doc.HasThumbnail {
		if err := s.store.UpdateDocument(ctx, model.CollectionFiles, id, docstore.Update{"hasThumbnail": true}); err != nil {
			return fmt.Errorf("flag thumbnail: %w", err)
		}
	}
	return nil
}

// GetThumbnail returns the decrypted data URI.
func (s *Service) GetThumbnail(ctx context.Context, id string) (string, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return "", err
	}
	if !doc.HasThumbnail {
		return "", ErrNoThumbnail
	}
	var rec model.ThumbnailRecord
	if err := s.store.GetDocument(ctx, model.CollectionThumbnails, id, &rec); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", ErrNoThumbnail
		}
		return "", fmt.Errorf("load thumbnail: %w", err)
	}
	return metadata.DecryptString(rec.Data, s.keys.Thumbnail)
}

// discard removes what a failed Create already stored. Errors are only
// logged; the original failure is what the caller sees.
func (s *Service) discard(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	log := s.log.WithField("file_id", id)
	if err := s.pipeline.Delete(ctx, id); err != nil {
		log.WithError(err).Warn("Failed to remove chunks of unfinished file")
	}
	if err := s.store.DeleteDocument(ctx, model.CollectionThumbnails, id); err != nil {
		log.WithError(err).Warn("Failed to remove thumbnail of unfinished file")
	}
}

func (s *Service) putThumbnail(ctx context.Context, id, dataURI string) error {
	enc, err := metadata.EncryptString(dataURI, s.keys.Thumbnail)
	if err != nil {
		return err
	}
	rec := model.ThumbnailRecord{ID: id, Data: enc}
	if err := s.store.CreateDocument(ctx, model.CollectionThumbnails, id, rec); err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}
	return nil
}

func (s *Service) checkFolder(ctx context.Context, folderID string) error {
	if folderID == "" {
		return nil
	}
	var doc model.FolderDocument
	if err := s.store.GetDocument(ctx, model.CollectionFolders, folderID, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrFolderNotFound
		}
		return fmt.Errorf("load folder: %w", err)
	}
	if doc.OwnerID != s.ownerID {
		return ErrFolderNotFound
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (model.FileDocument, error) {
	var doc model.FileDocument
	if err := s.store.GetDocument(ctx, model.CollectionFiles, id, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return doc, ErrNotFound
		}
		return doc, fmt.Errorf("load file %s: %w", id, err)
	}
	if doc.OwnerID != s.ownerID {
		return doc, ErrNotFound
	}
	return doc, nil
}

func (s *Service) decrypt(doc model.FileDocument) (model.FileEntity, error) {
	meta, err := metadata.Decrypt[model.FileMetadata](doc.Metadata, s.keys.Metadata)
	if err != nil {
		return model.FileEntity{}, fmt.Errorf("file %s: %w", doc.ID, err)
	}
	return model.FileEntity{
		ID:           doc.ID,
		FolderID:     doc.FolderID,
		Metadata:     meta,
		HasThumbnail: doc.HasThumbnail,
		OwnerID:      doc.OwnerID,
		CreationTime: doc.CreationTime,
		Type:         doc.Type,
	}, nil
}
