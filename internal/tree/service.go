package tree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jun/gophvault/internal/docstore"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/metadata"
	"github.com/jun/gophvault/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxParallel = 8

var (
	ErrNotFound    = errors.New("folder not found")
	ErrInvalidMove = errors.New("invalid move")
	ErrEmptyName   = errors.New("name must not be empty")
)

// FileDeleter removes a file with its chunks, thumbnail and document.
type FileDeleter interface {
	Delete(ctx context.Context, fileID string) error
}

// Service manages one owner's folders.
type Service struct {
	store       docstore.Store
	ownerID     string
	metadataKey []byte
	files       FileDeleter
	maxParallel int
	now         func() time.Time
	log         *logrus.Entry
}

type Option func(*Service)

// WithMaxParallel bounds the children processed at once on each level of a
// recursive delete.
func WithMaxParallel(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) { s.log = log }
}

func NewService(store docstore.Store, ownerID string, metadataKey []byte, files FileDeleter, opts ...Option) *Service {
	s := &Service{
		store:       store,
		ownerID:     ownerID,
		metadataKey: metadataKey,
		files:       files,
		maxParallel: DefaultMaxParallel,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDiscard(s.log).WithField("component", "tree")
	return s
}

// Create adds a folder under parentID ("" is the root).
func (s *Service) Create(ctx context.Context, name, parentID string) (model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Folder{}, ErrEmptyName
	}
	if parentID != "" {
		if _, err := s.load(ctx, parentID); err != nil {
			return model.Folder{}, err
		}
	}

	folder := model.Folder{
		ID:           uuid.NewString(),
		FolderID:     parentID,
		Metadata:     model.FolderMetadata{Name: name},
		OwnerID:      s.ownerID,
		CreationTime: s.now().UTC(),
		Type:         model.TypeFolder,
	}
	enc, err := metadata.Encrypt(folder.Metadata, s.metadataKey)
	if err != nil {
		return model.Folder{}, err
	}
	doc := model.FolderDocument{
		ID:           folder.ID,
		FolderID:     folder.FolderID,
		Metadata:     enc,
		OwnerID:      folder.OwnerID,
		CreationTime: folder.CreationTime,
		Type:         folder.Type,
	}
	if err := s.store.CreateDocument(ctx, model.CollectionFolders, folder.ID, doc); err != nil {
		return model.Folder{}, fmt.Errorf("create folder: %w", err)
	}
	return folder, nil
}

// Get returns a decrypted folder.
func (s *Service) Get(ctx context.Context, id string) (model.Folder, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return model.Folder{}, err
	}
	return s.decrypt(doc)
}

// List returns the direct subfolders of parentID sorted by name.
func (s *Service) List(ctx context.Context, parentID string) ([]model.Folder, error) {
	docs, err := s.children(ctx, parentID)
	if err != nil {
		return nil, err
	}
	folders := make([]model.Folder, 0, len(docs))
	for _, doc := range docs {
		f, err := s.decrypt(doc)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	sort.SliceStable(folders, func(i, j int) bool {
		return strings.ToLower(folders[i].Metadata.Name) < strings.ToLower(folders[j].Metadata.Name)
	})
	return folders, nil
}

func (s *Service) Rename(ctx context.Context, id, name string) (model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Folder{}, ErrEmptyName
	}
	folder, err := s.Get(ctx, id)
	if err != nil {
		return model.Folder{}, err
	}
	folder.Metadata.Name = name
	enc, err := metadata.Encrypt(folder.Metadata, s.metadataKey)
	if err != nil {
		return model.Folder{}, err
	}
	if err := s.store.UpdateDocument(ctx, model.CollectionFolders, id, docstore.Update{"metadata": enc}); err != nil {
		return model.Folder{}, fmt.Errorf("rename folder: %w", err)
	}
	return folder, nil
}

// PathTo returns the folders from the root down to folderID, inclusive.
// The root itself ("") has an empty path.
func (s *Service) PathTo(ctx context.Context, folderID string) ([]model.Folder, error) {
	var path []model.Folder
	seen := make(map[string]bool)
	for id := folderID; id != ""; {
		if seen[id] {
			return nil, fmt.Errorf("folder %s: parent cycle detected", id)
		}
		seen[id] = true

		f, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		path = append(path, f)
		id = f.FolderID
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Move reparents items under targetFolderID. The move is validated against
// the current path to the target before anything is written.
func (s *Service) Move(ctx context.Context, items []Item, targetFolderID string) error {
	path, err := s.PathTo(ctx, targetFolderID)
	if err != nil {
		return err
	}
	if !CanMove(items, targetFolderID, path) {
		return ErrInvalidMove
	}

	for _, item := range items {
		collection := model.CollectionFiles
		if item.Type == model.TypeFolder {
			collection = model.CollectionFolders
		}
		if err := s.store.UpdateDocument(ctx, collection, item.ID, docstore.Update{"folderId": targetFolderID}); err != nil {
			return fmt.Errorf("move %s %s: %w", item.Type, item.ID, err)
		}
	}
	return nil
}

// RecursiveDelete deletes the folder, every descendant folder and every file
// below it. Children on each level are processed concurrently. A failure
// part way through is returned as is; nothing is rolled back.
func (s *Service) RecursiveDelete(ctx context.Context, folderID string) error {
	if _, err := s.load(ctx, folderID); err != nil {
		return err
	}
	if err := s.deleteTree(ctx, folderID); err != nil {
		s.log.WithField("folder_id", folderID).WithError(err).Error("Recursive delete failed")
		return err
	}
	return nil
}

func (s *Service) deleteTree(ctx context.Context, folderID string) error {
	var files []model.FileDocument
	filter := docstore.Filter{"folderId": folderID, "ownerId": s.ownerID}
	if err := s.store.GetDocuments(ctx, model.CollectionFiles, filter, &files); err != nil {
		return fmt.Errorf("list files of %s: %w", folderID, err)
	}
	subfolders, err := s.children(ctx, folderID)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxParallel)
	for _, f := range files {
		f := f // per-iteration copy (go1.21 loop semantics)
		g.Go(func() error {
			return s.files.Delete(gctx, f.ID)
		})
	}
	for _, sub := range subfolders {
		sub := sub // per-iteration copy (go1.21 loop semantics)
		g.Go(func() error {
			return s.deleteTree(gctx, sub.ID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.store.DeleteDocument(ctx, model.CollectionFolders, folderID); err != nil {
		return fmt.Errorf("delete folder %s: %w", folderID, err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, id string) (model.FolderDocument, error) {
	var doc model.FolderDocument
	if err := s.store.GetDocument(ctx, model.CollectionFolders, id, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return doc, ErrNotFound
		}
		return doc, fmt.Errorf("load folder %s: %w", id, err)
	}
	if doc.OwnerID != s.ownerID {
		return doc, ErrNotFound
	}
	return doc, nil
}

func (s *Service) children(ctx context.Context, parentID string) ([]model.FolderDocument, error) {
	var docs []model.FolderDocument
	filter := docstore.Filter{"folderId": parentID, "ownerId": s.ownerID}
	if err := s.store.GetDocuments(ctx, model.CollectionFolders, filter, &docs); err != nil {
		return nil, fmt.Errorf("list folders of %q: %w", parentID, err)
	}
	return docs, nil
}

func (s *Service) decrypt(doc model.FolderDocument) (model.Folder, error) {
	meta, err := metadata.Decrypt[model.FolderMetadata](doc.Metadata, s.metadataKey)
	if err != nil {
		return model.Folder{}, fmt.Errorf("folder %s: %w", doc.ID, err)
	}
	return model.Folder{
		ID:           doc.ID,
		FolderID:     doc.FolderID,
		Metadata:     meta,
		OwnerID:      doc.OwnerID,
		CreationTime: doc.CreationTime,
		Type:         doc.Type,
	}, nil
}
