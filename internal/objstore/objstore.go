// Package objstore persists uploaded images. Every upload lands in the
// local uploads directory; when S3 is configured the image is also
// uploaded under a dated key and the S3 URL becomes the public one,
// falling back to the local URL on upload failure.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"

	"github.com/platewatch/platewatch/pkg/logging"
	"github.com/platewatch/platewatch/pkg/retry"
)

// Options configures the store. An empty Bucket disables S3.
type Options struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string // custom endpoint for MinIO-style deployments
	PathStyle bool
	BaseURL   string // public URL override, e.g. a CDN in front of the bucket
	UploadDir string
}

// Saved describes one stored image.
type Saved struct {
	Filename  string // UUID-based filename
	LocalPath string // path under the uploads directory
	Key       string // S3 key, empty when the object is local-only
	URL       string // public URL: S3 when uploaded, /uploads/... otherwise
}

// Store writes images locally and mirrors them to S3 when configured.
type Store struct {
	opts   Options
	client *s3.Client
	log    *logging.Logger
}

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// New prepares the uploads directory and, when a bucket is configured,
// the S3 client. A failing bucket probe logs a warning but keeps the
// client; individual uploads fall back to local URLs on their own.
func New(ctx context.Context, opts Options, log *logging.Logger) (*Store, error) {
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir %s: %w", opts.UploadDir, err)
	}

	s := &Store{opts: opts, log: log}
	if opts.Bucket == "" {
		log.Info("object storage disabled, serving uploads locally", map[string]interface{}{
			"dir": opts.UploadDir,
		})
		return s, nil
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	s.client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(opts.Bucket)}); err != nil {
		log.Warn("S3 bucket probe failed, uploads will fall back to local URLs", map[string]interface{}{
			"bucket": opts.Bucket,
			"error":  err.Error(),
		})
	} else {
		log.Info("object storage ready", map[string]interface{}{"bucket": opts.Bucket})
	}
	return s, nil
}

// Enabled reports whether S3 uploads are configured.
func (s *Store) Enabled() bool { return s.client != nil }

// Dir returns the local uploads directory, for static file serving.
func (s *Store) Dir() string { return s.opts.UploadDir }

// Save writes the image to the uploads directory under a fresh UUID
// filename and uploads it to S3 when enabled. S3 errors degrade to the
// local URL rather than failing the request.
func (s *Store) Save(ctx context.Context, data []byte, originalFilename string) (Saved, error) {
	ext := strings.ToLower(filepath.Ext(originalFilename))
	filename := uuid.New().String() + ext
	localPath := filepath.Join(s.opts.UploadDir, filename)

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return Saved{}, fmt.Errorf("write upload %s: %w", localPath, err)
	}

	saved := Saved{
		Filename:  filename,
		LocalPath: localPath,
		URL:       LocalURL(filename),
	}
	if !s.Enabled() {
		return saved, nil
	}

	key := Key(filename, time.Now().UTC())
	upload := func() error {
		_, err := manager.NewUploader(s.client).Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.opts.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(ContentTypeFor(filename)),
			ACL:         types.ObjectCannedACLPublicRead,
			Metadata: map[string]string{
				"original-filename": originalFilename,
				"upload-timestamp":  time.Now().UTC().Format(time.RFC3339),
				"service":           "lprd",
			},
		})
		return err
	}
	err := upload()
	if err != nil && retry.IsRetryable(err) {
		// Throttling and transient network failures get a few more
		// attempts before the image falls back to its local URL.
		err = retry.Do(ctx, retry.Config{
			MaxRetries:     2,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Multiplier:     2.0,
		}, upload)
	}
	if err != nil {
		s.log.Warn("S3 upload failed, using local URL", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return saved, nil
	}

	saved.Key = key
	saved.URL = s.publicURL(key)
	s.log.Info("image uploaded", map[string]interface{}{"key": key})
	return saved, nil
}

// RemoveLocal deletes the local copy of a stored image. Missing files
// are not an error.
func (s *Store) RemoveLocal(filename string) error {
	if filename == "" {
		return nil
	}
	err := os.Remove(filepath.Join(s.opts.UploadDir, filepath.Base(filename)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveObject deletes an object from S3. A no-op when S3 is disabled,
// and a 404 counts as already deleted, matching RemoveLocal.
func (s *Store) RemoveObject(ctx context.Context, key string) error {
	if !s.Enabled() || key == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return nil
	}
	return err
}

// isNotFound reports whether an S3 error carries a 404 response.
func isNotFound(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 404
	}
	return false
}

// publicURL builds the object's public URL: explicit base override,
// custom endpoint in path style, or the standard virtual-host form.
func (s *Store) publicURL(key string) string {
	if s.opts.BaseURL != "" {
		return strings.TrimSuffix(s.opts.BaseURL, "/") + "/" + key
	}
	if s.opts.Endpoint != "" {
		return strings.TrimSuffix(s.opts.Endpoint, "/") + "/" + s.opts.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.opts.Bucket, s.opts.Region, key)
}

// Key builds the dated S3 key for a stored filename.
func Key(filename string, t time.Time) string {
	return fmt.Sprintf("plates/%04d/%02d/%02d/%s", t.Year(), t.Month(), t.Day(), filename)
}

// LocalURL is the serving path for a locally stored image.
func LocalURL(filename string) string {
	return "/uploads/" + filename
}

// KeyFromURL recovers the S3 key from a public URL produced by this
// store, or "" when the URL is not an object URL.
func KeyFromURL(url string) string {
	idx := strings.Index(url, "/plates/")
	if idx < 0 {
		return ""
	}
	return url[idx+1:]
}

// ContentTypeFor maps a stored filename to its MIME type.
func ContentTypeFor(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "image/jpeg"
}

// ExtractFilename pulls the stored filename out of an image path or
// URL, local or S3.
func ExtractFilename(imagePath string) string {
	return path.Base(imagePath)
}
