// Package evidence stores supporting files for decision items in S3
// compatible object storage. Files are write-once; a correction is a new
// upload.
package evidence

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"attest/api/internal/util"
)

// Object describes one stored evidence file.
type Object struct {
	Key         string    `json:"key"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the evidence bucket exists.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	s := &Store{client: client, bucket: bucket}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// Put stores an evidence file under the item's prefix and returns its key.
// The key embeds a random id so repeated uploads of the same filename never
// overwrite each other.
func (s *Store) Put(ctx context.Context, itemID, filename, contentType string, size int64, r io.Reader) (Object, error) {
	key := fmt.Sprintf("%s/%s/%s", itemID, util.NewID("ev"), util.SafeObjectKey(filename))
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, fmt.Errorf("store evidence: %w", err)
	}
	return Object{
		Key:         key,
		Size:        info.Size,
		ContentType: contentType,
		UploadedAt:  time.Now().UTC(),
	}, nil
}

// PresignedGet returns a time-limited download URL for an evidence object.
func (s *Store) PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign evidence: %w", err)
	}
	return u.String(), nil
}

// List returns the evidence objects stored for an item.
func (s *Store) List(ctx context.Context, itemID string) ([]Object, error) {
	objects := make([]Object, 0)
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    itemID + "/",
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list evidence: %w", info.Err)
		}
		objects = append(objects, Object{
			Key:         info.Key,
			Size:        info.Size,
			ContentType: info.ContentType,
			UploadedAt:  info.LastModified,
		})
	}
	return objects, nil
}
