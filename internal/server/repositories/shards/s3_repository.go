package shards

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/dmitrijs2005/synk/internal/common"
	"github.com/dmitrijs2005/synk/internal/server/models"
)

// s3API is the part of *s3.Client the repository uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Config locates the bucket. Endpoint is optional and enables path-style
// addressing for S3-compatible stores such as MinIO.
type S3Config struct {
	Region   string
	User     string
	Password string
	Bucket   string
	Endpoint string
}

var (
	loadAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Repository stores every shard as one JSON object under
// shards/<owner>/<prefix>/<id>.json. Conditional writes on the object ETag
// reject stale saves. Shards of one Save are written one by one, each atomic.
type S3Repository struct {
	client s3API
	bucket string
}

func NewS3Repository(ctx context.Context, c S3Config) (*S3Repository, error) {
	cfg, err := loadAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.User, c.Password, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Repository{client: client, bucket: c.Bucket}, nil
}

func ownerKey(owner string) string {
	return "shards/" + url.PathEscape(owner) + "/"
}

func objectKey(s *models.Shard) string {
	return path.Join(ownerKey(s.Owner), s.Prefix, s.ID+".json")
}

func (r *S3Repository) GetByPrefix(ctx context.Context, owner, prefix string) ([]*models.Shard, error) {
	return r.list(ctx, ownerKey(owner)+prefix+"/")
}

func (r *S3Repository) ListByOwner(ctx context.Context, owner string) ([]*models.Shard, error) {
	return r.list(ctx, ownerKey(owner))
}

// Refs lists the owner's objects without reading them. The prefix and id come
// from the key and the ETag stands in for the version.
func (r *S3Repository) Refs(ctx context.Context, owner string) ([]models.ShardRef, error) {
	base := ownerKey(owner)
	p := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(base),
	})

	var result []models.ShardRef
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", base, err)
		}
		for _, obj := range page.Contents {
			rest, ok := strings.CutSuffix(strings.TrimPrefix(aws.ToString(obj.Key), base), ".json")
			if !ok {
				continue
			}
			prefix, id, ok := strings.Cut(rest, "/")
			if !ok {
				continue
			}
			result = append(result, models.ShardRef{ID: id, Prefix: prefix, ETag: aws.ToString(obj.ETag)})
		}
	}
	return result, nil
}

func (r *S3Repository) list(ctx context.Context, keyPrefix string) ([]*models.Shard, error) {
	p := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(keyPrefix),
	})

	var result []*models.Shard
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", keyPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			s, err := r.get(ctx, key)
			if err != nil {
				return nil, err
			}
			result = append(result, s)
		}
	}
	return result, nil
}

func (r *S3Repository) get(ctx context.Context, key string) (*models.Shard, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	var s models.Shard
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	s.ETag = aws.ToString(out.ETag)
	return &s, nil
}

func (r *S3Repository) Save(ctx context.Context, shards ...*models.Shard) error {
	for _, s := range shards {
		if err := r.put(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *S3Repository) put(ctx context.Context, s *models.Shard) error {
	next := *s
	next.Version++
	body, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode shard %s: %w", s.ID, err)
	}

	key := objectKey(s)
	in := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}
	if s.ETag == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(s.ETag)
	}

	out, err := r.client.PutObject(ctx, in)
	if err != nil {
		if isPreconditionFailed(err) {
			return fmt.Errorf("shard %s: %w", s.ID, common.ErrVersionConflict)
		}
		return fmt.Errorf("put %s: %w", key, err)
	}

	s.Version = next.Version
	s.ETag = aws.ToString(out.ETag)
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

func (r *S3Repository) Ping(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)})
	return err
}
