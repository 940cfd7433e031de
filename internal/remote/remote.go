// Package remote stores snapshots in S3 so CI machines can share generations.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"dumphook/internal/config"
)

const checksumMetadataKey = "blake3"

var ErrNotFound = errors.New("remote object not found")

type ObjectInfo struct {
	Size   int64
	Blake3 string
}

// Backend is a flat object store addressed by slash-separated paths.
type Backend interface {
	// Upload stores localPath under remotePath. checksum is recorded as object
	// metadata when not empty.
	Upload(ctx context.Context, localPath, remotePath, checksum string) error
	// Download fetches remotePath into localPath, returning ErrNotFound for a
	// missing object.
	Download(ctx context.Context, remotePath, localPath string) error
	Head(ctx context.Context, remotePath string) (*ObjectInfo, error)
	VerifyCredentials(ctx context.Context) error
}

type Options struct {
	Bucket       string
	Region       string
	Prefix       string
	Endpoint     string
	StorageClass types.StorageClass
	MaxAttempts  int
}

type S3 struct {
	client       *s3.Client
	uploader     *manager.Uploader
	downloader   *manager.Downloader
	bucket       string
	prefix       string
	storageClass types.StorageClass
}

// NewFromSettings builds the S3 backend described by the remote section.
func NewFromSettings(ctx context.Context, s *config.Settings) (*S3, error) {
	return New(ctx, Options{
		Bucket:       s.Remote.Bucket,
		Region:       s.Remote.Region,
		Prefix:       s.Remote.Prefix,
		Endpoint:     s.Remote.Endpoint,
		StorageClass: s.RemoteStorageClass(),
		MaxAttempts:  s.RemoteRetryAttempts(),
	})
}

func New(ctx context.Context, opts Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("bucket must be specified")
	}
	if err := ValidateStorageClass(opts.StorageClass); err != nil {
		return nil, err
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.MaxAttempts > 0 {
		loadOpts = append(loadOpts,
			awsconfig.WithRetryMaxAttempts(opts.MaxAttempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if opts.Endpoint != "" {
		// S3-compatible stores (MinIO in CI) take static keys from the environment.
		accessKey, secretKey := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
		if accessKey != "" && secretKey != "" {
			cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		}
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(cfg, clientOpts...)

	slog.Debug("S3 backend ready", "bucket", opts.Bucket, "prefix", opts.Prefix, "endpoint", opts.Endpoint, "maxAttempts", opts.MaxAttempts)

	return &S3{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = 8 * 1024 * 1024
			u.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenSupported
		}),
		downloader:   manager.NewDownloader(client),
		bucket:       opts.Bucket,
		prefix:       opts.Prefix,
		storageClass: opts.StorageClass,
	}, nil
}

// ObjectKey joins the configured prefix with a slash-separated remote path.
func ObjectKey(prefix, remotePath string) string {
	return path.Join(prefix, remotePath)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

// Download writes into a temporary file beside localPath and renames it when
// the transfer is complete.
func (s *S3) Download(ctx context.Context, remotePath, localPath string) error {
	key := ObjectKey(s.prefix, remotePath)

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".*")
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := s.downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return err
	}

	slog.Debug("Downloaded from S3", "bucket", s.bucket, "key", key, "bytes", n)
	return nil
}

func (s *S3) Upload(ctx context.Context, localPath, remotePath, checksum string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	key := ObjectKey(s.prefix, remotePath)
	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         file,
		StorageClass: s.storageClass,
		Tagging:      aws.String("managed-by=dumphook"),
	}
	if checksum != "" {
		input.Metadata = map[string]string{checksumMetadataKey: checksum}
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	slog.Debug("Uploaded to S3", "bucket", s.bucket, "key", key, "storageClass", s.storageClass)
	return nil
}

func (s *S3) Head(ctx context.Context, remotePath string) (*ObjectInfo, error) {
	key := ObjectKey(s.prefix, remotePath)

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	return &ObjectInfo{
		Size:   aws.ToInt64(out.ContentLength),
		Blake3: out.Metadata[checksumMetadataKey],
	}, nil
}

func (s *S3) VerifyCredentials(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to verify AWS credentials or bucket access: %w", err)
	}
	slog.Info("AWS credentials verified", "bucket", s.bucket)
	return nil
}

// ValidateStorageClass rejects archive classes: snapshots are pulled on demand
// and must be readable immediately.
func ValidateStorageClass(class types.StorageClass) error {
	switch class {
	case "":
		return fmt.Errorf("storage class must be specified")
	case types.StorageClassGlacier, types.StorageClassDeepArchive:
		return fmt.Errorf("storage class %s is not immediately accessible (requires restore)", class)
	}
	return nil
}
