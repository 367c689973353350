package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"storyreel/internal/config"
	"storyreel/internal/fileutil"
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3 stores objects in a bucket under an optional key prefix.
type S3 struct {
	client s3API
	bucket string
	prefix string
}

// NewS3 loads AWS credentials from the default chain and builds the store.
// A custom endpoint switches to path-style addressing for S3-compatible
// servers.
func NewS3(ctx context.Context, cfg config.Blob) (*S3, error) {
	bucket := strings.TrimSpace(cfg.S3Bucket)
	if bucket == "" {
		return nil, errors.New("blob s3: bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := strings.TrimSpace(cfg.S3Region); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blob s3: load aws config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.S3Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3WithClient(client, bucket, cfg.S3Prefix), nil
}

func newS3WithClient(client s3API, bucket, prefix string) *S3 {
	return &S3{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
	}
}

func (s *S3) objectKey(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return path.Join(s.prefix, cleaned), nil
}

// Put spools r to a temp file so the upload body is seekable, then uploads it.
func (s *S3) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp("", "storyreel-blob-*")
	if err != nil {
		return 0, fmt.Errorf("blob s3: spool: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	n, err := fileutil.WriteAtomic(tmpName, r, 0o600)
	if err != nil {
		return 0, fmt.Errorf("blob s3: spool: %w", err)
	}
	if err := s.PutFile(ctx, key, tmpName); err != nil {
		return 0, err
	}
	return n, nil
}

// PutFile uploads a local file under key.
func (s *S3) PutFile(ctx context.Context, key, localPath string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(objectKey)),
	})
	if err != nil {
		return fmt.Errorf("blob s3: put %s: %w", objectKey, err)
	}
	return nil
}

// Fetch downloads the object at key to localPath.
func (s *S3) Fetch(ctx context.Context, key, localPath string) error {
	body, err := s.Open(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	_, err = fileutil.WriteAtomic(localPath, body, 0o644)
	return err
}

// Open streams the object at key.
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("blob s3: get %s: %w", objectKey, err)
	}
	return out.Body, nil
}

// DeletePrefix removes every object under prefix, one listing page at a time.
func (s *S3) DeletePrefix(ctx context.Context, prefix string) error {
	objectPrefix, err := s.objectKey(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	objectPrefix += "/"
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(objectPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("blob s3: list %s: %w", objectPrefix, err)
		}
		if len(page.Contents) > 0 {
			ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
			for _, obj := range page.Contents {
				ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
			}
			if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(s.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			}); err != nil {
				return fmt.Errorf("blob s3: delete %s: %w", objectPrefix, err)
			}
		}
		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return nil
		}
		token = page.NextContinuationToken
	}
}

// Location returns the s3:// URL for key.
func (s *S3) Location(key string) string {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return key
	}
	return "s3://" + s.bucket + "/" + objectKey
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}
