// Package remote mirrors completed backup artifacts to object storage.
// Mirroring is optional and happens after the local backup is complete; a
// failed upload never retracts a successful local backup.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"fsbk/internal/config"
	"fsbk/internal/meta"
)

type ObjectInfo struct {
	Size   int64
	Blake3 string
}

type Backend interface {
	Upload(ctx context.Context, localPath, remotePath, checksumHash string, kind meta.Kind) error
	Download(ctx context.Context, remotePath, localPath string) error
	Head(ctx context.Context, remotePath string) (*ObjectInfo, error)
	VerifyCredentials(ctx context.Context) error
}

type S3 struct {
	client       *s3.Client
	uploader     *manager.Uploader
	bucket       string
	prefix       string
	storageClass types.StorageClass
}

func NewS3(ctx context.Context, rc config.RemoteConfig, maxRetryAttempts int) (*S3, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(rc.Region))

	if maxRetryAttempts > 0 {
		configOpts = append(configOpts,
			awsconfig.WithRetryMaxAttempts(maxRetryAttempts),
			awsconfig.WithRetryMode(aws.RetryModeStandard),
		)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if rc.Endpoint != "" {
		if accessKey := os.Getenv("AWS_ACCESS_KEY_ID"); accessKey != "" {
			if secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY"); secretKey != "" {
				cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
			}
		}
	}

	var client *s3.Client
	if rc.Endpoint != "" {
		client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(rc.Endpoint)
			o.UsePathStyle = true
		})
		slog.Info("S3 client initialized with custom endpoint", "endpoint", rc.Endpoint)
	} else {
		client = s3.NewFromConfig(cfg)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 64 * 1024 * 1024
		u.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenSupported
	})

	storageClass := types.StorageClass(rc.StorageClass)
	if storageClass == "" {
		storageClass = types.StorageClassStandard
	}

	return &S3{
		client:       client,
		uploader:     uploader,
		bucket:       rc.Bucket,
		prefix:       rc.Prefix,
		storageClass: storageClass,
	}, nil
}

// DataKey and MetaKey define the remote layout: archive payloads under
// data/, descriptor sidecars under meta/, both keyed by unit name.
func DataKey(unitName, fileName string) string {
	return filepath.ToSlash(filepath.Join("data", unitName, fileName))
}

func MetaKey(unitName string) string {
	return filepath.ToSlash(filepath.Join("meta", unitName, meta.DescriptorFileName))
}

func (s *S3) Upload(ctx context.Context, localPath, remotePath, checksumHash string, kind meta.Kind) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	key := filepath.ToSlash(filepath.Join(s.prefix, remotePath))

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         file,
		StorageClass: s.storageClass,
		Tagging:      aws.String("backup-kind=" + string(kind)),
		Metadata:     map[string]string{"blake3": checksumHash},
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	slog.Info("Uploaded to S3", "bucket", s.bucket, "key", key, "storageClass", s.storageClass)
	return nil
}

func (s *S3) Download(ctx context.Context, remotePath, localPath string) error {
	key := filepath.ToSlash(filepath.Join(s.prefix, remotePath))

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer file.Close()

	downloader := manager.NewDownloader(s.client)
	numBytes, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download from S3: %w", err)
	}

	slog.Info("Downloaded from S3", "bucket", s.bucket, "key", key, "bytes", numBytes)
	return nil
}

func (s *S3) Head(ctx context.Context, remotePath string) (*ObjectInfo, error) {
	key := filepath.ToSlash(filepath.Join(s.prefix, remotePath))

	output, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	info := &ObjectInfo{}
	if output.ContentLength != nil {
		info.Size = *output.ContentLength
	}
	if output.Metadata != nil {
		info.Blake3 = output.Metadata["blake3"]
	}
	return info, nil
}

func (s *S3) VerifyCredentials(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to verify AWS credentials or bucket access: %w", err)
	}

	slog.Info("AWS credentials verified", "bucket", s.bucket)
	return nil
}
