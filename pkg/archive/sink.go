package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/credledger/pkg/canonicalize"
)

// ErrNotFound is returned by Sink.Get for an unknown reference.
var ErrNotFound = errors.New("archive: bundle not found")

// Sink is content-addressed storage for encoded bundles. Put returns the
// "sha256:<hex>" reference of data; storing the same bytes twice is a no-op.
type Sink interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
}

// SinkType names a Sink backend.
type SinkType string

const (
	SinkFS  SinkType = "fs"
	SinkS3  SinkType = "s3"
	SinkGCS SinkType = "gcs"
)

// NewSink opens the backend named by kind. target is a directory for fs and
// "bucket[/prefix]" for s3 and gcs.
func NewSink(ctx context.Context, kind SinkType, target string) (Sink, error) {
	switch kind {
	case "", SinkFS:
		return NewFileSink(target)
	case SinkS3:
		bucket, prefix := splitTarget(target)
		if bucket == "" {
			return nil, errors.New("archive: s3 sink needs a bucket")
		}
		return NewS3Sink(ctx, S3SinkConfig{
			Bucket:   bucket,
			Prefix:   prefix,
			Region:   os.Getenv("AWS_REGION"),
			Endpoint: os.Getenv("ARCHIVE_S3_ENDPOINT"),
		})
	case SinkGCS:
		bucket, prefix := splitTarget(target)
		if bucket == "" {
			return nil, errors.New("archive: gcs sink needs a bucket")
		}
		return newGCSSink(ctx, bucket, prefix)
	default:
		return nil, fmt.Errorf("archive: unsupported sink type: %s", kind)
	}
}

func splitTarget(target string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(target, "/"), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix
}

// objectName maps a reference to its storage key without the prefix.
func objectName(ref string) (string, error) {
	d, err := canonicalize.ParseDigest(ref)
	if err != nil {
		return "", fmt.Errorf("archive: invalid ref %q: %w", ref, err)
	}
	return d.Hex() + ".bundle.json", nil
}

// FileSink stores bundles as files under a directory.
type FileSink struct {
	dir string
	mu  sync.RWMutex
}

func NewFileSink(dir string) (*FileSink, error) {
	//nolint:gosec // G301: archive directory is shared with operators
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("archive: ensure dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Put(_ context.Context, data []byte) (string, error) {
	ref := canonicalize.SumBytes(data).String()
	name, _ := objectName(ref)
	path := filepath.Join(s.dir, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	tmp := path + ".tmp"
	//nolint:gosec // G306: bundles are public evidence
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("archive: write bundle: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("archive: commit bundle: %w", err)
	}
	return ref, nil
}

func (s *FileSink) Get(_ context.Context, ref string) ([]byte, error) {
	name, err := objectName(ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(s.dir, name)) //nolint:gosec // name is validated hex
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return data, err
}

func (s *FileSink) Exists(_ context.Context, ref string) (bool, error) {
	name, err := objectName(ref)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err = os.Stat(filepath.Join(s.dir, name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Store encodes b and puts it into sink.
func Store(ctx context.Context, sink Sink, b *Bundle) (string, error) {
	data, err := b.Marshal()
	if err != nil {
		return "", fmt.Errorf("archive: encode bundle: %w", err)
	}
	return sink.Put(ctx, data)
}

// Load fetches and decodes the bundle at ref. The bytes are checked against
// the reference; the bundle itself still needs VerifyBundle.
func Load(ctx context.Context, sink Sink, ref string) (*Bundle, error) {
	data, err := sink.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if got := canonicalize.SumBytes(data).String(); got != ref {
		return nil, fmt.Errorf("archive: content of %s hashes to %s", ref, got)
	}
	return Unmarshal(data)
}
