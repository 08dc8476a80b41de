package blob

import (
	"context"
	"time"

	"github.com/jun/gophvault/internal/metrics"
)

// Instrument wraps b so that every call is recorded in m.
func Instrument(b Backend, kind Kind, m *metrics.Metrics) Backend {
	if m == nil {
		return b
	}
	return &instrumented{next: b, kind: kind.String(), metrics: m}
}

type instrumented struct {
	next    Backend
	kind    string
	metrics *metrics.Metrics
}

func (i *instrumented) Initialize(ctx context.Context) (string, error) {
	start := time.Now()
	id, err := i.next.Initialize(ctx)
	i.metrics.RecordBlobOperation(i.kind, "initialize", time.Since(start), err)
	return id, err
}

func (i *instrumented) PutBlob(ctx context.Context, data []byte, onProgress ProgressFunc) (string, error) {
	start := time.Now()
	id, err := i.next.PutBlob(ctx, data, onProgress)
	i.metrics.RecordBlobOperation(i.kind, "put", time.Since(start), err)
	return id, err
}

func (i *instrumented) GetBlob(ctx context.Context, id string, onProgress ProgressFunc) ([]byte, error) {
	start := time.Now()
	data, err := i.next.GetBlob(ctx, id, onProgress)
	i.metrics.RecordBlobOperation(i.kind, "get", time.Since(start), err)
	return data, err
}

func (i *instrumented) DeleteBlob(ctx context.Context, id string) error {
	start := time.Now()
	err := i.next.DeleteBlob(ctx, id)
	i.metrics.RecordBlobOperation(i.kind, "delete", time.Since(start), err)
	return err
}

// InstrumentedProvider instruments every Backend it hands out.
type InstrumentedProvider struct {
	Next    Provider
	Kind    Kind
	Metrics *metrics.Metrics
}

func (p InstrumentedProvider) Backend(ctx context.Context, userID, bucketID string) (Backend, error) {
	b, err := p.Next.Backend(ctx, userID, bucketID)
	if err != nil {
		return nil, err
	}
	return Instrument(b, p.Kind, p.Metrics), nil
}
