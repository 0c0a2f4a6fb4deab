package storage

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"

	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

// rateLimited makes every request wait for a token from a shared bucket.
type rateLimited struct {
	next    ObjectStore
	limiter *rate.Limiter
}

// WithRateLimit throttles store to requestsPerSecond sustained requests with
// bursts of up to burst. A non-positive rate returns store unchanged.
func WithRateLimit(store ObjectStore, requestsPerSecond float64, burst int) ObjectStore {
	if requestsPerSecond <= 0 {
		return store
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{
		next:    store,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (r *rateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return nil
}

func (r *rateLimited) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Get(ctx, key)
}

func (r *rateLimited) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.Put(ctx, key, body, size)
}

func (r *rateLimited) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	if err := r.wait(ctx); err != nil {
		return types.ObjectInfo{}, err
	}
	return r.next.Head(ctx, key)
}

func (r *rateLimited) Delete(ctx context.Context, key string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.Delete(ctx, key)
}

func (r *rateLimited) Copy(ctx context.Context, srcKey, dstKey string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.next.Copy(ctx, srcKey, dstKey)
}

func (r *rateLimited) List(ctx context.Context, prefix, delimiter string) (*listing.Result, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.next.List(ctx, prefix, delimiter)
}

func (r *rateLimited) Close() error {
	return r.next.Close()
}
