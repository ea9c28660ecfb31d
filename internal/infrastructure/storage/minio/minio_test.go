package minio

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/patterns"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// memAPI keeps buckets in memory.
type memAPI struct {
	mu         sync.Mutex
	buckets    map[string]map[string][]byte
	lifecycles map[string]*lifecycle.Configuration
	listErr    error
}

func newMemAPI() *memAPI {
	return &memAPI{buckets: map[string]map[string][]byte{}, lifecycles: map[string]*lifecycle.Configuration{}}
}

func (m *memAPI) ListBuckets(context.Context) ([]minio.BucketInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []minio.BucketInfo
	for b := range m.buckets {
		out = append(out, minio.BucketInfo{Name: b})
	}
	return out, m.listErr
}

func (m *memAPI) BucketExists(_ context.Context, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[b]
	return ok, nil
}

func (m *memAPI) MakeBucket(_ context.Context, b string, _ minio.MakeBucketOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[b] = map[string][]byte{}
	return nil
}

func (m *memAPI) SetBucketLifecycle(_ context.Context, b string, c *lifecycle.Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifecycles[b] = c
	return nil
}

func (m *memAPI) ListObjects(_ context.Context, b string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan minio.ObjectInfo, len(m.buckets[b])+1)
	if m.listErr != nil {
		ch <- minio.ObjectInfo{Err: m.listErr}
	}
	keys := make([]string, 0, len(m.buckets[b]))
	for k := range m.buckets[b] {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		ch <- minio.ObjectInfo{Key: k, Size: int64(len(m.buckets[b][k]))}
	}
	close(ch)
	return ch
}

func (m *memAPI) PutObject(_ context.Context, b, k string, r io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[b]; !ok {
		return minio.UploadInfo{}, minio.ErrorResponse{Code: "NoSuchBucket"}
	}
	m.buckets[b][k] = data
	return minio.UploadInfo{Bucket: b, Key: k, Size: int64(len(data))}, nil
}

func (m *memAPI) GetObject(_ context.Context, b, k string, _ minio.GetObjectOptions) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.buckets[b][k]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", Key: k}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memAPI) RemoveObject(_ context.Context, b, k string, _ minio.RemoveObjectOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets[b], k)
	return nil
}

type MinIOTestSuite struct {
	suite.Suite
	api    *memAPI
	client *MinIOClient
	ctx    context.Context
}

func (s *MinIOTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.api = newMemAPI()
	s.client = NewMinIOClientWithAPI(s.api, &MinIOConfig{}, nil)
	s.Require().NoError(s.client.EnsureBuckets(s.ctx))
	s.client.SetupLifecycleRules(s.ctx)
}

func TestMinIOTestSuite(t *testing.T) {
	suite.Run(t, new(MinIOTestSuite))
}

func (s *MinIOTestSuite) TestDefaults() {
	s.Equal("lexextract-patterns", s.client.config.Buckets.Patterns)
	s.Equal("lexextract-results", s.client.config.Buckets.Results)
	s.Equal("patterns/", s.client.PatternStore().Prefix())
	s.Contains(s.api.buckets, "lexextract-results")
	rules := s.api.lifecycles["lexextract-results"].Rules
	s.Require().Len(rules, 1)
	s.Equal(lifecycle.ExpirationDays(30), rules[0].Expiration.Days)
}

func (s *MinIOTestSuite) TestPatternStoreFeedsLoader() {
	store := s.client.PatternStore()
	catalog := []byte(`version: 1
jurisdiction: us
groups:
  dockets:
    - id: us.docket.federal
      pattern: '\d:\d{2}-cv-\d{5}'
      entity_type: DOCKET_NUMBER
      confidence: 0.9
`)
	s.Require().NoError(store.Put(s.ctx, "patterns/dockets.yaml", catalog))
	s.Require().NoError(store.Put(s.ctx, "archive/old.yaml", []byte("version: 1\n")))

	keys, err := store.ListKeys(s.ctx, "patterns/")
	s.Require().NoError(err)
	s.Equal([]string{"patterns/dockets.yaml"}, keys)

	srcs, err := patterns.FromObjectStore(s.ctx, store, store.Prefix())
	s.Require().NoError(err)
	lib, loadErrs := patterns.Load(srcs)
	s.Empty(loadErrs)
	s.Equal(1, lib.Len())
}

func (s *MinIOTestSuite) TestGetMissing() {
	_, err := s.client.PatternStore().Get(s.ctx, "patterns/none.yaml")
	s.True(errors.IsCode(err, errors.ErrCodeNotFound))
}

func (s *MinIOTestSuite) TestListError() {
	s.api.listErr = stderrors.New("access denied")
	_, err := s.client.PatternStore().ListKeys(s.ctx, "patterns/")
	s.True(errors.IsCode(err, errors.ErrCodeStorage))
}

func (s *MinIOTestSuite) TestResultArchive() {
	archive := s.client.ResultArchive()
	key, err := archive.Archive(s.ctx, "doc-1", "01HZX", map[string]any{"mode": "RulesOnly"})
	s.Require().NoError(err)
	s.Equal("results/doc-1/01HZX.json", key)

	var got map[string]any
	s.Require().NoError(archive.Load(s.ctx, "doc-1", "01HZX", &got))
	s.Equal("RulesOnly", got["mode"])

	s.Require().NoError(archive.Delete(s.ctx, "doc-1", "01HZX"))
	s.True(errors.IsCode(archive.Load(s.ctx, "doc-1", "01HZX", &got), errors.ErrCodeNotFound))
}

func (s *MinIOTestSuite) TestHealthCheck() {
	st, err := s.client.HealthCheck(s.ctx)
	s.Require().NoError(err)
	s.True(st.Healthy)

	delete(s.api.buckets, "lexextract-patterns")
	st, err = s.client.HealthCheck(s.ctx)
	s.Require().NoError(err)
	s.False(st.Healthy)
	s.Contains(st.Error, "lexextract-patterns")
}

func (s *MinIOTestSuite) TestClosed() {
	s.Require().NoError(s.client.Close())
	_, err := s.client.PatternStore().Get(s.ctx, "x")
	s.ErrorIs(err, ErrMinIOClientClosed)
}

func TestResultKey(t *testing.T) {
	assert.Equal(t, "results/a/b.json", ResultKey("a", "b"))
	require.NotEqual(t, ResultKey("a", "b"), ResultKey("a", "c"))
}

//Personal.AI order the ending
