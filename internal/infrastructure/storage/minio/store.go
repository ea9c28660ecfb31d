package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/LexExtract-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexExtract-Intelligence/pkg/errors"
)

// PatternStore reads pattern catalogs from the patterns bucket. It satisfies
// patterns.ObjectStore.
type PatternStore struct{ c *MinIOClient }

func (c *MinIOClient) PatternStore() *PatternStore { return &PatternStore{c: c} }

// Prefix returns the configured catalog prefix.
func (s *PatternStore) Prefix() string { return s.c.config.PatternPrefix }

func (s *PatternStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.c.checkOpen(); err != nil {
		return nil, err
	}
	var keys []string
	for obj := range s.c.client.ListObjects(ctx, s.c.config.Buckets.Patterns, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeStorage, "failed to list pattern catalogs")
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *PatternStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.c.getObject(ctx, s.c.config.Buckets.Patterns, key)
}

// Put uploads a catalog; used by the patterns push command.
func (s *PatternStore) Put(ctx context.Context, key string, data []byte) error {
	return s.c.putObject(ctx, s.c.config.Buckets.Patterns, key, data, "application/yaml")
}

func (c *MinIOClient) getObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translate(err, key)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translate(err, key)
	}
	return data, nil
}

func (c *MinIOClient) putObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "failed to upload "+key)
	}
	return nil
}

func translate(err error, key string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrObjectNotFound.WithDetail(key)
	}
	return errors.Wrap(err, errors.ErrCodeStorage, "failed to read "+key)
}

// ResultArchive stores serialised extraction results in the results bucket
// under results/<document_id>/<request_id>.json.
type ResultArchive struct {
	c      *MinIOClient
	logger logging.Logger
}

func (c *MinIOClient) ResultArchive() *ResultArchive {
	return &ResultArchive{c: c, logger: c.logger.Named("archive")}
}

// ResultKey returns the object key of one archived result.
func ResultKey(documentID, requestID string) string {
	return path.Join("results", documentID, requestID+".json")
}

// Archive marshals result and uploads it. It returns the object key.
func (a *ResultArchive) Archive(ctx context.Context, documentID, requestID string, result any) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal result")
	}
	key := ResultKey(documentID, requestID)
	if err := a.c.putObject(ctx, a.c.config.Buckets.Results, key, data, "application/json"); err != nil {
		return "", err
	}
	a.logger.Debug("result archived", logging.String("key", key), logging.Int("bytes", len(data)))
	return key, nil
}

// Load reads an archived result into dest.
func (a *ResultArchive) Load(ctx context.Context, documentID, requestID string, dest any) error {
	data, err := a.c.getObject(ctx, a.c.config.Buckets.Results, ResultKey(documentID, requestID))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode archived result")
	}
	return nil
}

// Delete removes an archived result.
func (a *ResultArchive) Delete(ctx context.Context, documentID, requestID string) error {
	if err := a.c.checkOpen(); err != nil {
		return err
	}
	err := a.c.client.RemoveObject(ctx, a.c.config.Buckets.Results, ResultKey(documentID, requestID), minio.RemoveObjectOptions{})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "failed to delete archived result")
	}
	return nil
}

//Personal.AI order the ending
