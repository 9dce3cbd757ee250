// Package s3src reads a source file from an S3 object.
package s3src

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// ErrNotFound is returned when the bucket or key does not exist.
var ErrNotFound = errors.New("s3src: object not found")

// Object is one S3 object.
type Object struct {
	client s3iface.S3API
	bucket string
	key    string
}

// ParseURL splits s3://bucket/key.
func ParseURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("s3src: parse %q: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("s3src: %q is not an s3://bucket/key URL", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("s3src: %q has no object key", raw)
	}
	return u.Host, key, nil
}

// New returns a source for s3://bucket/key.
func New(client s3iface.S3API, rawURL string) (*Object, error) {
	if client == nil {
		return nil, errors.New("s3src: missing s3 client")
	}
	bucket, key, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Object{client: client, bucket: bucket, key: key}, nil
}

func (o *Object) String() string { return "s3://" + o.bucket + "/" + o.key }

// Open starts a GET and returns the body.
func (o *Object) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := o.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey:
				return nil, fmt.Errorf("%s: %w", o, ErrNotFound)
			}
		}
		return nil, fmt.Errorf("s3src: get %s: %w", o, err)
	}
	return out.Body, nil
}
