package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/metrics"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

// observed records the outcome and latency of every request.
type observed struct {
	next    ObjectStore
	metrics *metrics.Collector
}

// WithObserver reports store requests to m. A nil collector returns store
// unchanged.
func WithObserver(store ObjectStore, m *metrics.Collector) ObjectStore {
	if m == nil {
		return store
	}
	return &observed{next: store, metrics: m}
}

func (o *observed) record(method string, start time.Time, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, types.ErrNotFound):
		outcome = metrics.OutcomeNotFound
	case err != nil:
		outcome = metrics.OutcomeError
	}
	o.metrics.ObserveStorage(method, outcome, time.Since(start))
}

func (o *observed) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := o.next.Get(ctx, key)
	o.record("get", start, err)
	return rc, err
}

func (o *observed) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()
	err := o.next.Put(ctx, key, body, size)
	o.record("put", start, err)
	return err
}

func (o *observed) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	start := time.Now()
	info, err := o.next.Head(ctx, key)
	o.record("head", start, err)
	return info, err
}

func (o *observed) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := o.next.Delete(ctx, key)
	o.record("delete", start, err)
	return err
}

func (o *observed) Copy(ctx context.Context, srcKey, dstKey string) error {
	start := time.Now()
	err := o.next.Copy(ctx, srcKey, dstKey)
	o.record("copy", start, err)
	return err
}

func (o *observed) List(ctx context.Context, prefix, delimiter string) (*listing.Result, error) {
	start := time.Now()
	res, err := o.next.List(ctx, prefix, delimiter)
	o.record("list", start, err)
	return res, err
}

func (o *observed) Close() error {
	return o.next.Close()
}
