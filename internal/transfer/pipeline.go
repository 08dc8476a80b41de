// Package transfer moves file content through the chunked encryption
// pipeline. Each chunk is sealed under its own random key, which is wrapped
// under the user's file key and recorded next to the blob id.
package transfer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jun/gophvault/internal/blob"
	"github.com/jun/gophvault/internal/crypto"
	"github.com/jun/gophvault/internal/docstore"
	"github.com/jun/gophvault/internal/logging"
	"github.com/jun/gophvault/internal/metrics"
	"github.com/jun/gophvault/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize   int64 = 64 << 20
	DefaultMaxParallel       = 4
)

var (
	ErrNotFound = errors.New("file chunks not found")

	// ErrCorrupt means a chunk failed authentication or its key could not
	// be unwrapped.
	ErrCorrupt = errors.New("chunk failed authentication")
)

// ChunkCount returns ceil(size/chunkSize).
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// CiphertextSize is the total number of bytes stored for a file of size
// bytes split into chunkSize chunks.
func CiphertextSize(size, chunkSize int64) int64 {
	return size + int64(ChunkCount(size, chunkSize))*crypto.Overhead
}

// Pipeline uploads, downloads and deletes chunked file content.
type Pipeline struct {
	store       docstore.Store
	backend     blob.Backend
	chunkSize   int64
	maxParallel int
	metrics     *metrics.Metrics
	log         *logrus.Entry
}

type Option func(*Pipeline)

func WithChunkSize(n int64) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// WithMaxParallel bounds the number of chunks in flight per file.
func WithMaxParallel(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxParallel = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(log *logrus.Entry) Option {
	return func(p *Pipeline) { p.log = log }
}

func NewPipeline(store docstore.Store, backend blob.Backend, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		backend:     backend,
		chunkSize:   DefaultChunkSize,
		maxParallel: DefaultMaxParallel,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logging.OrDiscard(p.log).WithField("component", "transfer")
	return p
}

func (p *Pipeline) ChunkSize() int64 { return p.chunkSize }

// Upload encrypts size bytes of src chunk by chunk and stores the ordered
// chunk list as the file's FileChunksDocument. Any chunk failure fails the
// whole upload; blobs stored before the failure are left behind.
func (p *Pipeline) Upload(ctx context.Context, fileID string, src io.ReaderAt, size int64, fileKey []byte, obs Observer) ([]model.FileChunkKey, error) {
	start := time.Now()
	n := ChunkCount(size, p.chunkSize)
	chunks := make([]model.FileChunkKey, n)
	progress := newTracker(obs, CiphertextSize(size, p.chunkSize), n)

	var (
		mu     sync.Mutex
		stored int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)
	for i := 0; i < n; i++ {
		i := i // per-iteration copy (go1.21 loop semantics)
		g.Go(func() error {
			offset := int64(i) * p.chunkSize
			length := min(p.chunkSize, size-offset)

			plain := make([]byte, length)
			if read, err := src.ReadAt(plain, offset); err != nil && !(errors.Is(err, io.EOF) && read == len(plain)) {
				return fmt.Errorf("read chunk %d: %w", i, err)
			}

			key, err := crypto.GenerateWrappedKey(fileKey)
			if err != nil {
				return err
			}
			sealed, err := crypto.Encrypt(plain, key.PlainTextKey)
			crypto.Wipe(key.PlainTextKey)
			if err != nil {
				return err
			}

			id, err := p.backend.PutBlob(gctx, sealed, progress.chunkFunc(i))
			p.metrics.RecordChunk("upload", err)
			if err != nil {
				return fmt.Errorf("upload chunk %d: %w", i, err)
			}

			mu.Lock()
			stored++
			mu.Unlock()
			chunks[i] = model.FileChunkKey{ID: id, Key: base64.StdEncoding.EncodeToString(key.WrappedKey)}
			return nil
		})
	}

	log := p.log.WithFields(logrus.Fields{"file_id": fileID, "chunks": n, "size": size})
	if err := g.Wait(); err != nil {
		p.metrics.RecordOrphanedBlobs(stored)
		log.WithError(err).WithField("orphaned_blobs", stored).Error("Upload failed")
		return nil, err
	}

	doc := model.FileChunksDocument{ID: fileID, Chunks: chunks}
	if err := p.store.CreateDocument(ctx, model.CollectionFileChunks, fileID, doc); err != nil {
		p.metrics.RecordOrphanedBlobs(stored)
		log.WithError(err).WithField("orphaned_blobs", stored).Error("Failed to record chunks")
		return nil, fmt.Errorf("store chunk list: %w", err)
	}

	progress.done()
	p.metrics.RecordTransfer("upload", size, time.Since(start))
	log.Debug("Upload complete")
	return chunks, nil
}

// Download decrypts the file's chunks and writes the plaintext to dst in
// recorded order. size is the plaintext size used for progress; it may be 0
// when unknown. Up to MaxParallel chunks are fetched at a time.
func (p *Pipeline) Download(ctx context.Context, fileID string, size int64, fileKey []byte, dst io.Writer, obs Observer) (int64, error) {
	start := time.Now()

	var doc model.FileChunksDocument
	if err := p.store.GetDocument(ctx, model.CollectionFileChunks, fileID, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("load chunk list: %w", err)
	}

	n := len(doc.Chunks)
	progress := newTracker(obs, size+int64(n)*crypto.Overhead, n)

	var written int64
	for base := 0; base < n; base += p.maxParallel {
		end := min(base+p.maxParallel, n)
		window := make([][]byte, end-base)

		g, gctx := errgroup.WithContext(ctx)
		for i := base; i < end; i++ {
			i := i // per-iteration copy (go1.21 loop semantics)
			g.Go(func() error {
				plain, err := p.fetchChunk(gctx, doc.Chunks[i], fileKey, progress.chunkFunc(i))
				p.metrics.RecordChunk("download", err)
				if err != nil {
					return fmt.Errorf("download chunk %d: %w", i, err)
				}
				window[i-base] = plain
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			p.log.WithField("file_id", fileID).WithError(err).Error("Download failed")
			return written, err
		}

		for _, plain := range window {
			w, err := dst.Write(plain)
			written += int64(w)
			if err != nil {
				return written, fmt.Errorf("write plaintext: %w", err)
			}
		}
	}

	progress.done()
	p.metrics.RecordTransfer("download", written, time.Since(start))
	return written, nil
}

func (p *Pipeline) fetchChunk(ctx context.Context, chunk model.FileChunkKey, fileKey []byte, onProgress blob.ProgressFunc) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(chunk.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	key, err := crypto.UnwrapKey(wrapped, fileKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer crypto.Wipe(key)

	sealed, err := p.backend.GetBlob(ctx, chunk.ID, onProgress)
	if err != nil {
		return nil, err
	}
	plain, err := crypto.Decrypt(sealed, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return plain, nil
}

// Delete removes every chunk blob of the file and then its chunk list.
// Blobs that are already gone are skipped.
func (p *Pipeline) Delete(ctx context.Context, fileID string) error {
	var doc model.FileChunksDocument
	if err := p.store.GetDocument(ctx, model.CollectionFileChunks, fileID, &doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load chunk list: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxParallel)
	for _, chunk := range doc.Chunks {
		chunk := chunk // per-iteration copy (go1.21 loop semantics)
		g.Go(func() error {
			if err := p.backend.DeleteBlob(gctx, chunk.ID); err != nil && !errors.Is(err, blob.ErrNotFound) {
				return fmt.Errorf("delete chunk %s: %w", chunk.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := p.store.DeleteDocument(ctx, model.CollectionFileChunks, fileID); err != nil {
		return fmt.Errorf("delete chunk list: %w", err)
	}
	return nil
}
