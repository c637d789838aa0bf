package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
	"gocloud.dev/gcerrors"

	"github.com/yang-kun-long/YanheKt-AI/internal/services"
)

const stageName = "objectstore"

// UploadResult reports the outcome of an upload. OK is the only success signal.
type UploadResult struct {
	OK      bool
	Key     string
	Size    int64
	Skipped bool
}

// Bucket wraps a gocloud bucket with a key prefix.
type Bucket struct {
	bucket *blob.Bucket
	prefix string
}

// Open opens the bucket named by bucketURL.
func Open(ctx context.Context, bucketURL, prefix string) (*Bucket, error) {
	bucketURL = strings.TrimSpace(bucketURL)
	if bucketURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "open", "bucket url required", nil)
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, stageName, "open", fmt.Sprintf("open bucket %s", redact(bucketURL)), err)
	}
	return New(bucket, prefix), nil
}

// New wraps an already opened bucket.
func New(bucket *blob.Bucket, prefix string) *Bucket {
	return &Bucket{bucket: bucket, prefix: strings.Trim(strings.TrimSpace(prefix), "/")}
}

func (b *Bucket) key(key string) string {
	key = strings.TrimLeft(key, "/")
	if b.prefix == "" {
		return key
	}
	return path.Join(b.prefix, key)
}

// Upload streams localPath to key. An object of the same size already at key
// is treated as uploaded.
func (b *Bucket) Upload(ctx context.Context, localPath, key string) (UploadResult, error) {
	full := b.key(key)
	info, err := os.Stat(localPath)
	if err != nil {
		return UploadResult{}, services.Wrap(services.ErrValidation, stageName, "upload", "stat local file", err)
	}

	if attrs, err := b.bucket.Attributes(ctx, full); err == nil && attrs.Size == info.Size() {
		return UploadResult{OK: true, Key: full, Size: attrs.Size, Skipped: true}, nil
	}

	in, err := os.Open(localPath)
	if err != nil {
		return UploadResult{}, services.Wrap(services.ErrValidation, stageName, "upload", "open local file", err)
	}
	defer in.Close()

	writer, err := b.bucket.NewWriter(ctx, full, &blob.WriterOptions{ContentType: contentType(localPath)})
	if err != nil {
		return UploadResult{}, classify("upload", fmt.Sprintf("create writer for %s", full), err)
	}
	written, err := io.Copy(writer, in)
	if err != nil {
		_ = writer.Close()
		return UploadResult{}, classify("upload", fmt.Sprintf("write %s", full), err)
	}
	if err := writer.Close(); err != nil {
		return UploadResult{}, classify("upload", fmt.Sprintf("close writer for %s", full), err)
	}
	return UploadResult{OK: written == info.Size(), Key: full, Size: written}, nil
}

// SignedURL returns a time-limited GET URL for key.
func (b *Bucket) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	signed, err := b.bucket.SignedURL(ctx, b.key(key), &blob.SignedURLOptions{
		Expiry: ttl,
		Method: http.MethodGet,
	})
	if err != nil {
		return "", classify("sign", "sign url", err)
	}
	return signed, nil
}

// Delete removes key. A missing object is not an error.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if err := b.bucket.Delete(ctx, b.key(key)); err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil
		}
		return classify("delete", "delete object", err)
	}
	return nil
}

// Exists reports whether key is present.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := b.bucket.Exists(ctx, b.key(key))
	if err != nil {
		return false, classify("exists", "check object", err)
	}
	return ok, nil
}

// Close releases the bucket.
func (b *Bucket) Close() error {
	if b == nil || b.bucket == nil {
		return nil
	}
	return b.bucket.Close()
}

func classify(op, message string, err error) error {
	return classifyCode(gcerrors.Code(err), op, message, err)
}

// classifyCode maps a gocloud error code to a service marker. Provider
// drivers report throttling and gateway failures as Unknown, so Unknown is
// transient only when the error carries a 5xx gateway status.
func classifyCode(code gcerrors.ErrorCode, op, message string, err error) error {
	switch code {
	case gcerrors.ResourceExhausted, gcerrors.Internal:
		return services.Wrap(services.ErrTransient, stageName, op, message, err)
	case gcerrors.DeadlineExceeded:
		return services.Wrap(services.ErrTimeout, stageName, op, message, err)
	case gcerrors.NotFound:
		return services.Wrap(services.ErrNotFound, stageName, op, message, err)
	case gcerrors.PermissionDenied, gcerrors.InvalidArgument, gcerrors.Unimplemented:
		return services.Wrap(services.ErrConfiguration, stageName, op, message, err)
	case gcerrors.Unknown:
		if gatewayStatus(err) {
			return services.Wrap(services.ErrTransient, stageName, op, message, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stageName, op, message, err)
	}
	return services.Wrap(services.ErrExternalTool, stageName, op, message, err)
}

func gatewayStatus(err error) bool {
	msg := err.Error()
	for _, status := range []string{"502", "503", "504", "SlowDown", "ServiceUnavailable"} {
		if strings.Contains(msg, status) {
			return true
		}
	}
	return false
}

func contentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".mp4":
		return "video/mp4"
	case ".ts":
		return "video/mp2t"
	default:
		return "application/octet-stream"
	}
}

func redact(bucketURL string) string {
	if idx := strings.Index(bucketURL, "?"); idx >= 0 {
		return bucketURL[:idx]
	}
	return bucketURL
}
