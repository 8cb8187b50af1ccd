//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
)

// GCSSink stores bundles in a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink uses application default credentials.
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: create GCS client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func newGCSSink(ctx context.Context, bucket, prefix string) (Sink, error) {
	return NewGCSSink(ctx, bucket, prefix)
}

func (s *GCSSink) object(ref string) (*storage.ObjectHandle, error) {
	name, err := objectName(ref)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(s.prefix + name), nil
}

func (s *GCSSink) Put(ctx context.Context, data []byte) (string, error) {
	ref := canonicalize.SumBytes(data).String()
	obj, _ := s.object(ref)
	if _, err := obj.Attrs(ctx); err == nil {
		return ref, nil
	}

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: gcs close failed: %w", err)
	}
	return ref, nil
}

func (s *GCSSink) Get(ctx context.Context, ref string) ([]byte, error) {
	obj, err := s.object(ref)
	if err != nil {
		return nil, err
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("archive: gcs get failed for %s: %w", ref, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSSink) Exists(ctx context.Context, ref string) (bool, error) {
	obj, err := s.object(ref)
	if err != nil {
		return false, err
	}
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("archive: gcs attrs failed for %s: %w", ref, err)
	}
	return true, nil
}

func (s *GCSSink) Close() error {
	return s.client.Close()
}
