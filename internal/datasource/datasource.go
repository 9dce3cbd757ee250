// Package datasource opens the raw inputs of a run. A location is either a
// local path or an s3://bucket/key URL.
package datasource

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"i94etl/internal/datasource/file"
	"i94etl/internal/datasource/s3src"
)

// Source opens one input for reading.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// ClientFunc lazily provides an S3 client; it is only called for s3:// URLs.
type ClientFunc func() (s3iface.S3API, error)

// New returns the source for location.
func New(location string, s3Client ClientFunc) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("datasource: empty location")
	}
	if !strings.HasPrefix(location, "s3://") {
		return file.NewLocal(location), nil
	}
	if s3Client == nil {
		return nil, fmt.Errorf("datasource: %s: no s3 client configured", location)
	}
	c, err := s3Client()
	if err != nil {
		return nil, fmt.Errorf("datasource: %s: %w", location, err)
	}
	return s3src.New(c, location)
}

// ReadAll opens src and reads it fully.
func ReadAll(ctx context.Context, src Source) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("datasource: read: %w", err)
	}
	return b, nil
}
