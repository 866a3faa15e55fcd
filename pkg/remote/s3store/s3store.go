// Package s3store implements remote.Store on an S3-compatible bucket.
// Folders are key prefixes; a record's ID is its object key.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"drivebyfix/pkg/remote"
	"drivebyfix/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.uber.org/zap"
)

// RootFolder is the folder ID of the bucket root.
const RootFolder = "/"

// API is the subset of *s3.Client the store uses.
type API interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Swappable in tests.
var (
	loadDefaultAWSConfig = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewClient builds an S3 client. Static credentials are used when an access
// key is configured, otherwise the default AWS credential chain.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

type Store struct {
	api    API
	bucket string
	prefix string
	logger *zap.Logger

	// index maps base names to object keys under prefix. It is built by the
	// first lookup and dropped when a copy adds a key.
	mu    sync.Mutex
	index map[string][]string
}

func New(api API, bucket, prefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.TrimPrefix(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{api: api, bucket: bucket, prefix: prefix, logger: logger}
}

// Open connects to the bucket described by cfg.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// FindByName returns every object under the prefix whose base name is name.
// The prefix is listed once per Store and shared by later lookups.
func (s *Store) FindByName(ctx context.Context, name string) ([]types.RemoteFile, error) {
	keys, err := s.keysNamed(ctx, name)
	if err != nil {
		return nil, err
	}

	files := make([]types.RemoteFile, 0, len(keys))
	for _, key := range keys {
		file, err := s.stat(ctx, key)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}

	s.logger.Debug("S3 lookup completed",
		zap.String("file_name", name),
		zap.Int("records", len(files)))
	return files, nil
}

func (s *Store) keysNamed(ctx context.Context, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index == nil {
		index := make(map[string][]string)
		paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(s.prefix),
		})
		objects := 0
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, translate(fmt.Sprintf("lookup %q", name), err)
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if strings.HasSuffix(key, "/") {
					continue
				}
				base := path.Base(key)
				index[base] = append(index[base], key)
				objects++
			}
		}
		s.index = index
		s.logger.Debug("S3 prefix indexed",
			zap.String("prefix", s.prefix),
			zap.Int("objects", objects))
	}
	return append([]string(nil), s.index[name]...), nil
}

func (s *Store) stat(ctx context.Context, key string) (types.RemoteFile, error) {
	head, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return types.RemoteFile{}, translate(fmt.Sprintf("stat %s", key), err)
	}

	size := types.UnknownSize
	if head.ContentLength != nil {
		size = *head.ContentLength
	}
	return types.RemoteFile{
		ID:           types.FileID(key),
		Name:         path.Base(key),
		MimeType:     aws.ToString(head.ContentType),
		MD5Checksum:  etagMD5(aws.ToString(head.ETag)),
		Size:         size,
		Parents:      []string{parentOf(key)},
		ModifiedTime: aws.ToTime(head.LastModified),
		Capabilities: types.FullCapabilities(),
	}, nil
}

func (s *Store) Download(ctx context.Context, file types.RemoteFile) (io.ReadCloser, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(string(file.ID)),
	})
	if err != nil {
		return nil, translate(fmt.Sprintf("download %s", file.ID), err)
	}
	return out.Body, nil
}

// Copy copies the object into destParent under name. Server-side copies
// leave the source in place, so sourceParent needs no update.
func (s *Store) Copy(ctx context.Context, file types.RemoteFile, name, sourceParent, destParent string) (types.RemoteFile, error) {
	dest := joinKey(destParent, name)
	source := (&url.URL{Path: s.bucket + "/" + string(file.ID)}).EscapedPath()

	_, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(dest),
		CopySource: aws.String(source),
	})
	if err != nil {
		return types.RemoteFile{}, translate(fmt.Sprintf("copy %s", file.ID), err)
	}
	s.mu.Lock()
	s.index = nil
	s.mu.Unlock()

	s.logger.Debug("Backup copy created",
		zap.String("file_id", string(file.ID)),
		zap.String("backup_id", dest))
	return s.stat(ctx, dest)
}

func (s *Store) Upload(ctx context.Context, file types.RemoteFile, content io.ReadSeeker, size int64) (types.RemoteFile, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(string(file.ID)),
		Body:          content,
		ContentLength: aws.Int64(size),
	}
	if file.MimeType != "" {
		in.ContentType = aws.String(file.MimeType)
	}

	out, err := s.api.PutObject(ctx, in)
	if err != nil {
		return types.RemoteFile{}, translate(fmt.Sprintf("upload %s", file.ID), err)
	}

	updated := file
	updated.MD5Checksum = etagMD5(aws.ToString(out.ETag))
	updated.Size = size
	updated.Version = file.Version + 1
	updated.ModifiedTime = time.Now().UTC()
	updated.Parents = append([]string(nil), file.Parents...)
	return updated, nil
}

// CreateFolder writes an empty "name/" marker object under the prefix and
// returns the folder prefix.
func (s *Store) CreateFolder(ctx context.Context, name string) (string, error) {
	key := s.prefix + strings.Trim(name, "/") + "/"
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return "", translate(fmt.Sprintf("create folder %q", name), err)
	}
	return key, nil
}

// etagMD5 returns the content MD5 carried by a single-part ETag. Multipart
// ETags ("<hash>-<parts>") carry no content digest.
func etagMD5(etag string) string {
	etag = strings.Trim(etag, `"`)
	if strings.Contains(etag, "-") {
		return ""
	}
	return strings.ToLower(etag)
}

func parentOf(key string) string {
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return RootFolder
	}
	return dir + "/"
}

func joinKey(folder, name string) string {
	if folder == "" || folder == RootFolder {
		return name
	}
	return strings.TrimSuffix(folder, "/") + "/" + name
}

func translate(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%s: %w: %w", op, remote.ErrNotFound, err)
		case "AccessDenied", "Forbidden", "AllAccessDisabled":
			return fmt.Errorf("%s: %w: %w", op, remote.ErrPermissionDenied, err)
		case "SlowDown", "Throttling", "TooManyRequests", "RequestLimitExceeded":
			return fmt.Errorf("%s: %w: %w", op, remote.ErrRateLimited, err)
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			return fmt.Errorf("%s: %w: %w", op, remote.ErrNotSignedIn, err)
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		if sentinel := remote.ClassifyHTTPStatus(respErr.HTTPStatusCode()); sentinel != nil {
			return fmt.Errorf("%s: %w: %w", op, sentinel, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ remote.Store = (*Store)(nil)
