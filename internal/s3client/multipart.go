package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const (
	// MinMultipartSize is the minimum size for multipart upload (5MB)
	MinMultipartSize = 5 * 1024 * 1024
	// DefaultPartSize is the default part size for multipart upload (5MB)
	DefaultPartSize = 5 * 1024 * 1024
	// MaxCopySize is the largest object a single CopyObject request accepts (5GB)
	MaxCopySize = 5 * 1024 * 1024 * 1024
	// copyPartSize is the part size used for multipart copies (512MB)
	copyPartSize = 512 * 1024 * 1024
)

// createMultipartUpload initiates a multipart upload
func (c *Client) createMultipartUpload(ctx context.Context, key string) (string, error) {
	result, err := c.s3Client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", err)
	}
	if result.UploadId == nil {
		return "", fmt.Errorf("upload ID is nil")
	}
	return *result.UploadId, nil
}

// uploadPart uploads a single part of a multipart upload
func (c *Client) uploadPart(ctx context.Context, key, uploadID string, partNumber int32, data []byte) (string, error) {
	result, err := c.s3Client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		PartNumber:    aws.Int32(partNumber),
		UploadId:      aws.String(uploadID),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d: %w", partNumber, err)
	}
	if result.ETag == nil {
		return "", fmt.Errorf("ETag is nil for part %d", partNumber)
	}
	return *result.ETag, nil
}

// completeMultipartUpload completes a multipart upload
func (c *Client) completeMultipartUpload(ctx context.Context, key, uploadID string, parts []s3types.CompletedPart) error {
	_, err := c.s3Client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &s3types.CompletedMultipartUpload{
			Parts: parts,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// abortMultipartUpload aborts a multipart upload. It runs on a fresh context
// so a cancelled request still cleans up its parts.
func (c *Client) abortMultipartUpload(key, uploadID string) {
	_, _ = c.s3Client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
}

// putStream uploads body in DefaultPartSize parts. A body that fits in the
// first part is sent as a single PutObject.
func (c *Client) putStream(ctx context.Context, key string, body io.Reader) error {
	buf := make([]byte, DefaultPartSize)
	n, err := io.ReadFull(body, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return c.putObject(ctx, key, bytes.NewReader(buf[:n]), int64(n))
	}
	if err != nil {
		return fmt.Errorf("failed to read body: %w", err)
	}

	uploadID, err := c.createMultipartUpload(ctx, key)
	if err != nil {
		return err
	}

	var parts []s3types.CompletedPart
	last := false
	for partNumber := int32(1); ; partNumber++ {
		etag, err := c.uploadPart(ctx, key, uploadID, partNumber, buf[:n])
		if err != nil {
			c.abortMultipartUpload(key, uploadID)
			return err
		}
		parts = append(parts, s3types.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int32(partNumber),
		})
		if last {
			break
		}

		n, err = io.ReadFull(body, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		last = errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !last {
			c.abortMultipartUpload(key, uploadID)
			return fmt.Errorf("failed to read body: %w", err)
		}
	}

	if err := c.completeMultipartUpload(ctx, key, uploadID, parts); err != nil {
		c.abortMultipartUpload(key, uploadID)
		return err
	}
	return nil
}

// copyPart copies a byte range of the source object into an upload
func (c *Client) copyPart(ctx context.Context, destKey, uploadID string, partNumber int32, sourceKey string, start, end int64) (string, error) {
	result, err := c.s3Client.UploadPartCopy(ctx, &s3.UploadPartCopyInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(destKey),
		PartNumber:      aws.Int32(partNumber),
		UploadId:        aws.String(uploadID),
		CopySource:      aws.String(c.copySource(sourceKey)),
		CopySourceRange: aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy part %d: %w", partNumber, err)
	}
	if result.CopyPartResult == nil || result.CopyPartResult.ETag == nil {
		return "", fmt.Errorf("ETag is nil for copied part %d", partNumber)
	}
	return *result.CopyPartResult.ETag, nil
}

// copyMultipart copies an object too large for CopyObject
func (c *Client) copyMultipart(ctx context.Context, sourceKey, destKey string, sourceSize int64) error {
	uploadID, err := c.createMultipartUpload(ctx, destKey)
	if err != nil {
		return err
	}

	var parts []s3types.CompletedPart
	totalParts := (sourceSize + copyPartSize - 1) / copyPartSize
	for i := int64(0); i < totalParts; i++ {
		start := i * copyPartSize
		end := min(start+copyPartSize, sourceSize)

		etag, err := c.copyPart(ctx, destKey, uploadID, int32(i+1), sourceKey, start, end)
		if err != nil {
			c.abortMultipartUpload(destKey, uploadID)
			return err
		}
		parts = append(parts, s3types.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int32(int32(i + 1)),
		})
	}

	if err := c.completeMultipartUpload(ctx, destKey, uploadID, parts); err != nil {
		c.abortMultipartUpload(destKey, uploadID)
		return fmt.Errorf("failed to complete multipart copy: %w", err)
	}
	return nil
}
