// Mirror optionally replicates saved stash JSON blobs to an
// S3-compatible bucket, so a device's local disklet is not the only
// copy of its encrypted login tree. The blobs are already encrypted
// end to end, so the bucket never needs to be trusted.
package stash

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kindlyrobotics/edge-login-core/internal/codec"
	"github.com/kindlyrobotics/edge-login-core/internal/config"
)

// Mirror is an optional write-through replica of stash blobs in an
// S3-compatible bucket. A nil *Mirror is valid and every method on it
// is a no-op, so callers can wire it in unconditionally.
type Mirror struct {
	client *minio.Client
	bucket string
}

// NewMirror constructs a Mirror, or returns (nil, nil) when
// cfg.S3Endpoint is unset, since the mirror is opt-in.
func NewMirror(cfg config.Config) (*Mirror, error) {
	if cfg.S3Endpoint == "" {
		return nil, nil
	}

	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("stash: create S3 client: %w", err)
	}

	m := &Mirror{client: client, bucket: cfg.S3Bucket}

	exists, err := client.BucketExists(context.Background(), m.bucket)
	if err != nil {
		return nil, fmt.Errorf("stash: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(context.Background(), m.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("stash: create bucket: %w", err)
		}
		log.Printf("mirror created bucket %s", m.bucket)
	}

	return m, nil
}

// objectKey mirrors Store.filename's layout inside the bucket, so a
// mirrored blob and its local file share the same base58(loginId) name.
func (m *Mirror) objectKey(loginIDBase64 string) (string, error) {
	raw, err := codec.Base64Decode(loginIDBase64)
	if err != nil {
		return "", fmt.Errorf("stash: decode loginId: %w", err)
	}
	return "logins/" + codec.Base58Encode(raw) + ".json", nil
}

// MirrorStash uploads the already-marshaled JSON bytes for a root
// stash. Callers pass the same bytes SaveStash wrote locally, so the
// two copies never disagree about formatting.
func (m *Mirror) MirrorStash(ctx context.Context, loginIDBase64 string, data []byte) error {
	if m == nil {
		return nil
	}
	key, err := m.objectKey(loginIDBase64)
	if err != nil {
		return err
	}
	_, err = m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("stash: mirror upload: %w", err)
	}
	return nil
}

// RemoveMirroredStash deletes a mirrored blob after a local RemoveStash.
func (m *Mirror) RemoveMirroredStash(ctx context.Context, loginIDBase64 string) error {
	if m == nil {
		return nil
	}
	key, err := m.objectKey(loginIDBase64)
	if err != nil {
		return err
	}
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("stash: mirror delete: %w", err)
	}
	return nil
}
