// Package s3 registers the "s3" sink. It writes the same parquet layout as the
// local parquet sink under s3://<bucket>/<prefix>/.
//
// S3 has no rename, so a run is committed in three phases: objects are
// uploaded under <prefix>/_staging/<run id>/, server-side copied to their final
// keys, and then objects of a previous run that the new run does not overwrite
// are deleted. _SUCCESS is removed before the copy phase and written last;
// readers should treat a prefix without _SUCCESS as being mid-publish.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"

	"i94etl/internal/schema"
	"i94etl/internal/storage"
	"i94etl/internal/storage/columnar"
)

// Kind is the sink kind this package registers.
const Kind = "s3"

// SuccessKey is the marker object name below the prefix.
const SuccessKey = "_SUCCESS"

// deleteBatch is the S3 DeleteObjects limit.
const deleteBatch = 1000

// Sink writes parquet objects to a bucket.
type Sink struct {
	client s3iface.S3API
	bucket string
	prefix string
	log    *zap.Logger
}

// NewClient builds an S3 client for region. A custom endpoint (MinIO,
// localstack) switches to path-style addressing.
func NewClient(region, endpoint string) (s3iface.S3API, error) {
	cfg := &aws.Config{}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("s3: session: %w", err)
	}
	return awss3.New(sess), nil
}

// New wraps client. prefix may be empty.
func New(client s3iface.S3API, bucket, prefix string, log *zap.Logger) (*Sink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3: bucket must not be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		log:    log.With(zap.String("sink", Kind), zap.String("bucket", bucket)),
	}, nil
}

// Close is a no-op.
func (s *Sink) Close() error { return nil }

func (s *Sink) key(rel string) string {
	if s.prefix == "" {
		return rel
	}
	return s.prefix + "/" + rel
}

// Write uploads, promotes and cleans up one run.
func (s *Sink) Write(ctx context.Context, runID string, tables []*schema.Table) error {
	rendered, err := columnar.RenderAll(ctx, tables)
	if err != nil {
		return fmt.Errorf("s3: %w", err)
	}
	stage := path.Join("_staging", runID)

	var staged []string
	defer func() {
		if err := s.deleteKeys(context.WithoutCancel(ctx), staged); err != nil {
			s.log.Warn("s3: staging cleanup failed", zap.Error(err))
		}
	}()

	keep := map[string]bool{}
	for i, files := range rendered {
		for _, f := range files {
			k := s.key(path.Join(stage, f.Path))
			if err := s.put(ctx, k, f.Data); err != nil {
				return &storage.TableError{Table: tables[i].Name, Err: err}
			}
			staged = append(staged, k)
			keep[s.key(f.Path)] = true
		}
	}

	if _, err := s.client.DeleteObjectWithContext(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(SuccessKey)),
	}); err != nil {
		return fmt.Errorf("s3: remove marker: %w", err)
	}

	for i, files := range rendered {
		for _, f := range files {
			if _, err := s.client.CopyObjectWithContext(ctx, &awss3.CopyObjectInput{
				Bucket:     aws.String(s.bucket),
				CopySource: aws.String(copySource(s.bucket, s.key(path.Join(stage, f.Path)))),
				Key:        aws.String(s.key(f.Path)),
			}); err != nil {
				return &storage.TableError{Table: tables[i].Name, Err: fmt.Errorf("s3: promote %s: %w", f.Path, err)}
			}
		}
	}

	var stale []string
	for _, t := range tables {
		keys, err := s.list(ctx, s.key(t.Name)+"/")
		if err != nil {
			return err
		}
		for _, k := range keys {
			if !keep[k] {
				stale = append(stale, k)
			}
		}
	}
	if err := s.deleteKeys(ctx, stale); err != nil {
		return err
	}

	marker, err := json.MarshalIndent(storage.NewManifest(runID, tables), "", "  ")
	if err != nil {
		return fmt.Errorf("s3: manifest: %w", err)
	}
	if err := s.put(ctx, s.key(SuccessKey), append(marker, '\n')); err != nil {
		return err
	}
	s.log.Info("s3: run committed", zap.String("run_id", runID), zap.String("prefix", s.prefix), zap.Int("objects", len(keep)), zap.Int("stale_deleted", len(stale)))
	return nil
}

func (s *Sink) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", key, err)
	}
	return nil
}

func (s *Sink) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *awss3.ListObjectsV2Output, _ bool) bool {
		for _, o := range page.Contents {
			keys = append(keys, aws.StringValue(o.Key))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *Sink) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatch {
		batch := keys[start:min(start+deleteBatch, len(keys))]
		objs := make([]*awss3.ObjectIdentifier, len(batch))
		for i, k := range batch {
			objs[i] = &awss3.ObjectIdentifier{Key: aws.String(k)}
		}
		out, err := s.client.DeleteObjectsWithContext(ctx, &awss3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &awss3.Delete{Objects: objs, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("s3: delete: %w", err)
		}
		if len(out.Errors) > 0 {
			e := out.Errors[0]
			return fmt.Errorf("s3: delete %s: %s", aws.StringValue(e.Key), aws.StringValue(e.Message))
		}
	}
	return nil
}

// copySource URL-encodes bucket/key segment by segment; partition directories
// may contain escaped characters such as %2F.
func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, sg := range segs {
		segs[i] = url.PathEscape(sg)
	}
	return bucket + "/" + strings.Join(segs, "/")
}

func init() {
	storage.Register(Kind, func(_ context.Context, cfg storage.Config) (storage.Sink, error) {
		client, err := NewClient(cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		return New(client, cfg.Bucket, cfg.Prefix, cfg.Logger)
	})
}
