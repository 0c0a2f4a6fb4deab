// Package s3client is the S3 object store backend.
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/s3ftp/s3ftp-go/internal/credentials"
	"github.com/s3ftp/s3ftp-go/internal/listing"
	"github.com/s3ftp/s3ftp-go/internal/storage/types"
)

// Options configures a Client
type Options struct {
	Bucket   string
	Region   string
	Endpoint string
	// PathStyle addresses the bucket as part of the path instead of the host.
	// S3-compatible servers usually need it.
	PathStyle bool
	Keys      credentials.Keys
	// MultipartThreshold is the body size above which Put switches to a
	// multipart upload. Zero means MinMultipartSize.
	MultipartThreshold int64
}

// Client is an object store backed by one S3 bucket
type Client struct {
	bucket             string
	multipartThreshold int64
	s3Client           *s3.Client
}

// NewClient creates a new S3 client. Static keys are used when set, otherwise
// the default AWS credential chain applies.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	cfgOptions := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.Keys.Valid() {
		cfgOptions = append(cfgOptions, config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			opts.Keys.AccessKeyID,
			opts.Keys.SecretAccessKey,
			opts.Keys.SessionToken,
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Options := []func(*s3.Options){}
	if opts.Endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			// Most S3-compatible servers reject the default trailing checksums.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		})
	}
	if opts.PathStyle {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	threshold := opts.MultipartThreshold
	if threshold <= 0 {
		threshold = MinMultipartSize
	}

	return &Client{
		bucket:             opts.Bucket,
		multipartThreshold: threshold,
		s3Client:           s3.NewFromConfig(cfg, s3Options...),
	}, nil
}

// List lists objects under prefix, following continuation tokens until the
// listing is complete
func (c *Client) List(ctx context.Context, prefix, delimiter string) (*listing.Result, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		input.Delimiter = aws.String(delimiter)
	}

	res := &listing.Result{Prefix: prefix}
	paginator := s3.NewListObjectsV2Paginator(c.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			res.Contents = append(res.Contents, listing.Object{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
		for _, cp := range page.CommonPrefixes {
			res.CommonPrefixes = append(res.CommonPrefixes, listing.CommonPrefix{Prefix: aws.ToString(cp.Prefix)})
		}
	}
	return res, nil
}

// Get opens an object body
func (c *Client) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, mapError(err))
	}
	return result.Body, nil
}

// Put uploads an object. Bodies above the multipart threshold, or of unknown
// size, are streamed in parts.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if size < 0 || size > c.multipartThreshold {
		return c.putStream(ctx, key, body)
	}

	// The SDK signs the payload, which needs a seekable body over plain HTTP.
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
		rs = bytes.NewReader(data)
		size = int64(len(data))
	}
	return c.putObject(ctx, key, rs, size)
}

func (c *Client) putObject(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Head retrieves object metadata
func (c *Client) Head(ctx context.Context, key string) (types.ObjectInfo, error) {
	result, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return types.ObjectInfo{}, fmt.Errorf("failed to head object %s: %w", key, mapError(err))
	}

	return types.ObjectInfo{
		Key:     key,
		Size:    aws.ToInt64(result.ContentLength),
		ModTime: aws.ToTime(result.LastModified),
	}, nil
}

// Delete deletes an object. S3 accepts deletes of missing keys, so the key is
// checked first to report ErrNotFound.
func (c *Client) Delete(ctx context.Context, key string) error {
	if _, err := c.Head(ctx, key); err != nil {
		return err
	}

	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, mapError(err))
	}
	return nil
}

// Copy copies an object inside the bucket. Objects above the single request
// copy limit use a multipart copy.
func (c *Client) Copy(ctx context.Context, srcKey, dstKey string) error {
	info, err := c.Head(ctx, srcKey)
	if err != nil {
		return err
	}
	if info.Size > MaxCopySize {
		return c.copyMultipart(ctx, srcKey, dstKey, info.Size)
	}

	_, err = c.s3Client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(c.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(c.copySource(srcKey)),
	})
	if err != nil {
		return fmt.Errorf("failed to copy object %s: %w", srcKey, mapError(err))
	}
	return nil
}

// Close is a no-op; the SDK client holds no long-lived resources
func (c *Client) Close() error {
	return nil
}

func (c *Client) copySource(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return c.bucket + "/" + strings.Join(segments, "/")
}

// mapError turns the SDK's missing-key errors into types.ErrNotFound.
func mapError(err error) error {
	var noSuchKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", types.ErrNotFound, err)
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() == 404 {
		return fmt.Errorf("%w: %v", types.ErrNotFound, err)
	}
	return err
}

var _ types.ObjectStore = (*Client)(nil)
