package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"k8s.io/klog/v2"
)

// Store moves checkpoint files between the local filesystem, where Born reads and
// writes them, and their location.
type Store interface {
	// Write calls fn with a local path to write the checkpoint to, then publishes it.
	Write(ctx context.Context, fn func(path string) error) error

	// Read makes the checkpoint available at a local path for the duration of fn.
	Read(ctx context.Context, fn func(path string) error) error

	// Exists reports whether a checkpoint is present.
	Exists(ctx context.Context) (bool, error)
}

// Open returns the store for location: a GCSStore for gs://bucket/object URLs and a
// LocalStore otherwise.
func Open(location string) (Store, error) {
	if rest, ok := strings.CutPrefix(location, "gs://"); ok {
		bucket, object, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || object == "" {
			return nil, fmt.Errorf("invalid GCS location %q, want gs://bucket/object", location)
		}
		return &GCSStore{Bucket: bucket, Object: object}, nil
	}
	if location == "" {
		return nil, errors.New("empty checkpoint location")
	}
	return &LocalStore{Path: location}, nil
}

// LocalStore keeps the checkpoint at a filesystem path. Writes go to a temp file in the
// same directory and are renamed into place, so a crash never leaves a torn checkpoint.
type LocalStore struct {
	Path string
}

var _ Store = (*LocalStore)(nil)

func (s *LocalStore) Write(ctx context.Context, fn func(path string) error) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	return withTempFile(ctx, dir, func(tmp string) error {
		if err := fn(tmp); err != nil {
			return err
		}
		if err := os.Rename(tmp, s.Path); err != nil {
			return fmt.Errorf("renaming temp file: %w", err)
		}
		return nil
	})
}

func (s *LocalStore) Read(_ context.Context, fn func(path string) error) error {
	if _, err := os.Stat(s.Path); err != nil {
		if isNotExist(err) {
			return ErrNotFound
		}
		return err
	}
	return fn(s.Path)
}

func (s *LocalStore) Exists(context.Context) (bool, error) {
	_, err := os.Stat(s.Path)
	if err == nil {
		return true, nil
	}
	if isNotExist(err) {
		return false, nil
	}
	return false, err
}

// GCSStore keeps the checkpoint as an object in a Google Cloud Storage bucket. Files are
// staged in the local temp directory.
type GCSStore struct {
	Bucket string
	Object string
}

var _ Store = (*GCSStore)(nil)

func (s *GCSStore) url() string {
	return "gs://" + s.Bucket + "/" + s.Object
}

func (s *GCSStore) Write(ctx context.Context, fn func(path string) error) error {
	return withTempFile(ctx, "", func(tmp string) error {
		if err := fn(tmp); err != nil {
			return err
		}
		return s.upload(ctx, tmp)
	})
}

func (s *GCSStore) upload(ctx context.Context, sourcePath string) error {
	log := klog.FromContext(ctx)

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	log.Info("uploading checkpoint to GCS", "source", sourcePath, "destination", s.url())

	startedAt := time.Now()
	w := client.Bucket(s.Bucket).Object(s.Object).NewWriter(ctx)
	n, err := io.Copy(w, src)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing GCS writer: %w", err)
	}

	log.Info("uploaded checkpoint to GCS", "url", s.url(), "bytes", n, "duration", time.Since(startedAt))
	return nil
}

func (s *GCSStore) Read(ctx context.Context, fn func(path string) error) error {
	log := klog.FromContext(ctx)

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	log.Info("downloading checkpoint from GCS", "source", s.url())

	startedAt := time.Now()
	r, err := client.Bucket(s.Bucket).Object(s.Object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("opening object from GCS %q: %w", s.url(), err)
	}
	defer r.Close()

	return withTempFile(ctx, "", func(tmp string) error {
		f, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		n, err := io.Copy(f, r)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("downloading from GCS: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing temp file: %w", err)
		}
		log.Info("downloaded checkpoint from GCS", "source", s.url(), "bytes", n, "duration", time.Since(startedAt))
		return fn(tmp)
	})
}

func (s *GCSStore) Exists(ctx context.Context) (bool, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return false, fmt.Errorf("creating GCS storage client: %w", err)
	}
	defer client.Close()

	_, err = client.Bucket(s.Bucket).Object(s.Object).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("getting object attributes for %q: %w", s.url(), err)
}

// withTempFile reserves a temp file name in dir (the system temp directory when dir is
// empty), calls fn with it and removes whatever is left at that path afterwards.
func withTempFile(ctx context.Context, dir string, fn func(path string) error) error {
	log := klog.FromContext(ctx)

	f, err := os.CreateTemp(dir, "checkpoint-*.born")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	defer func() {
		if err := os.Remove(name); err != nil && !isNotExist(err) {
			log.Error(err, "removing temp file", "path", name)
		}
	}()
	return fn(name)
}
