package s3

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i94etl/internal/schema"
	"i94etl/internal/storage"
)

// memS3 is an in-memory bucket implementing the calls the sink makes.
type memS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
	failPut string
}

func newMem() *memS3 { return &memS3{objects: map[string][]byte{}} }

func (m *memS3) PutObjectWithContext(_ aws.Context, in *awss3.PutObjectInput, _ ...request.Option) (*awss3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := aws.StringValue(in.Key)
	if m.failPut != "" && strings.Contains(k, m.failPut) {
		return nil, errors.New("injected put failure")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[k] = b
	return &awss3.PutObjectOutput{}, nil
}

func (m *memS3) CopyObjectWithContext(_ aws.Context, in *awss3.CopyObjectInput, _ ...request.Option) (*awss3.CopyObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, err := url.PathUnescape(aws.StringValue(in.CopySource))
	if err != nil {
		return nil, err
	}
	src = strings.TrimPrefix(src, aws.StringValue(in.Bucket)+"/")
	b, ok := m.objects[src]
	if !ok {
		return nil, errors.New("NoSuchKey: " + src)
	}
	m.objects[aws.StringValue(in.Key)] = append([]byte(nil), b...)
	return &awss3.CopyObjectOutput{}, nil
}

func (m *memS3) DeleteObjectWithContext(_ aws.Context, in *awss3.DeleteObjectInput, _ ...request.Option) (*awss3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.StringValue(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (m *memS3) DeleteObjectsWithContext(_ aws.Context, in *awss3.DeleteObjectsInput, _ ...request.Option) (*awss3.DeleteObjectsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range in.Delete.Objects {
		delete(m.objects, aws.StringValue(o.Key))
	}
	return &awss3.DeleteObjectsOutput{}, nil
}

func (m *memS3) ListObjectsV2PagesWithContext(_ aws.Context, in *awss3.ListObjectsV2Input, fn func(*awss3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	m.mu.Lock()
	var page awss3.ListObjectsV2Output
	for _, k := range m.keysLocked() {
		if strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			page.Contents = append(page.Contents, &awss3.Object{Key: aws.String(k)})
		}
	}
	m.mu.Unlock()
	fn(&page, true)
	return nil
}

func (m *memS3) keysLocked() []string {
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *memS3) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keysLocked()
}

func facts(months ...int64) *schema.Table {
	t := &schema.Table{
		Name: schema.ImmigrationFacts,
		Columns: []schema.Column{
			{Name: "citizen_id", Type: schema.Int64},
			{Name: "month", Type: schema.Int64, Nullable: true},
		},
		Key:         []string{"citizen_id"},
		PartitionBy: []string{"month"},
	}
	for i, m := range months {
		t.Append(int64(i+1), m)
	}
	return t
}

func TestWritePromotesAndCleansUp(t *testing.T) {
	mem := newMem()
	s, err := New(mem, "lake", "/star/", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "run-1", []*schema.Table{facts(3, 4)}))
	assert.Equal(t, []string{
		"star/_SUCCESS",
		"star/immigration_facts/month=3/part-00000.parquet",
		"star/immigration_facts/month=4/part-00000.parquet",
	}, mem.keys())

	require.NoError(t, s.Write(ctx, "run-2", []*schema.Table{facts(4)}))
	assert.Equal(t, []string{
		"star/_SUCCESS",
		"star/immigration_facts/month=4/part-00000.parquet",
	}, mem.keys(), "stale partition and staging objects must be gone")

	var m storage.Manifest
	require.NoError(t, json.Unmarshal(mem.objects["star/_SUCCESS"], &m))
	assert.Equal(t, "run-2", m.RunID)
	assert.Equal(t, 1, m.Tables[schema.ImmigrationFacts])
}

func TestWriteUploadFailureLeavesPreviousRun(t *testing.T) {
	mem := newMem()
	s, err := New(mem, "lake", "", nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "run-1", []*schema.Table{facts(3)}))
	before := mem.keys()

	mem.failPut = "month=5"
	require.Error(t, s.Write(ctx, "run-2", []*schema.Table{facts(4, 5)}))
	assert.Equal(t, before, mem.keys())
}

func TestCopySourceEscapesSegments(t *testing.T) {
	assert.Equal(t, "lake/p/airport_code=A%252FB/x", copySource("lake", "p/airport_code=A%2FB/x"))
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(newMem(), "", "", nil)
	assert.Error(t, err)
}
