package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Config configures an S3-compatible store.
// Supports AWS S3, MinIO, Wasabi, and other S3-compatible services.
type S3Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// Validate checks if the configuration is valid.
func (c S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 store: bucket is required")
	}
	if c.AccessKeyID == "" {
		return errors.New("s3 store: access_key_id is required")
	}
	if c.SecretAccessKey == "" {
		return errors.New("s3 store: secret_access_key is required")
	}
	return nil
}

// S3Store is a Store backed by an S3 bucket. S3 has no real folders, so a
// folder identifier is a key prefix and EnsureFolder is trivially idempotent.
// Entry identifiers are full object keys.
type S3Store struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger
}

// NewS3Store builds the client and verifies bucket access.
func NewS3Store(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrAuth, err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint := cfg.Endpoint
		if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
			endpoint = u.Host
		}
		endpointURL := fmt.Sprintf("%s://%s", scheme, endpoint)
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("%w: access bucket %s: %v", ErrAuth, cfg.Bucket, err)
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "s3_store").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Name identifies the backend.
func (s *S3Store) Name() string { return "s3" }

// EnsureFolder returns the child key prefix. No object is created: S3
// folders exist implicitly through their contents.
func (s *S3Store) EnsureFolder(_ context.Context, parentID, name string) (string, error) {
	if parentID == "" {
		return name, nil
	}
	return path.Join(parentID, name), nil
}

// Upload puts the local file under the folder prefix.
func (s *S3Store) Upload(ctx context.Context, folderID, localPath, remoteName string) (*RemoteEntry, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUpload, localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrUpload, localPath, err)
	}

	key := path.Join(folderID, remoteName)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: put %s: %v", ErrUpload, key, err)
	}

	s.logger.Debug().Str("key", key).Int64("size_bytes", info.Size()).Msg("uploaded artifact")

	return &RemoteEntry{
		ID:        key,
		Name:      remoteName,
		CreatedAt: time.Now().UTC(),
		SizeBytes: info.Size(),
	}, nil
}

// List walks every page of the bucket listing for the folder prefix.
func (s *S3Store) List(ctx context.Context, folderID, namePrefix string) ([]RemoteEntry, error) {
	keyPrefix := path.Join(folderID, namePrefix)
	if namePrefix == "" {
		keyPrefix = folderID + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(keyPrefix),
	})

	var entries []RemoteEntry
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrList, keyPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, folderID+"/")
			if strings.Contains(name, "/") {
				// Object in a nested prefix, not part of this folder.
				continue
			}
			entry := RemoteEntry{
				ID:        key,
				Name:      name,
				SizeBytes: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				entry.CreatedAt = *obj.LastModified
			}
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Delete removes the object by key.
func (s *S3Store) Delete(ctx context.Context, entryID string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(entryID),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrDelete, entryID, err)
	}
	return nil
}
