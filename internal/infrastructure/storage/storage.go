package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signflow/internal/config"
	"signflow/internal/domain/apperror"
	"signflow/internal/infrastructure/metrics"
)

// Area is a top-level folder of the blob store.
type Area string

const (
	AreaSource      Area = "source"
	AreaSigned      Area = "signed"
	AreaFinal       Area = "final"
	AreaCertificate Area = "certificate"
	AreaVersion     Area = "version"
)

// BlobStore persists immutable artifacts. References are slash-separated paths
// relative to the base path, e.g. "signed/7f1c....pdf".
type BlobStore interface {
	// Write stores content under a fresh name in area and returns its reference.
	// Existing blobs are never overwritten.
	Write(ctx context.Context, area Area, ext string, content []byte) (string, error)
	Read(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
}

type blobStore struct {
	basePath string
	folders  map[Area]string
	timeout  time.Duration
	metrics  *metrics.Collector
	logger   *zap.Logger

	readFile  func(path string) ([]byte, error)
	writeFile func(path string, content []byte) error
}

func NewBlobStore(cfg *config.Config, mc *metrics.Collector, logger *zap.Logger) (BlobStore, error) {
	s := &blobStore{
		basePath: cfg.Storage.BasePath,
		folders: map[Area]string{
			AreaSource:      cfg.Storage.SourceFolder,
			AreaSigned:      cfg.Storage.SignedFolder,
			AreaFinal:       cfg.Storage.FinalFolder,
			AreaCertificate: cfg.Storage.CertificateFolder,
			AreaVersion:     cfg.Storage.VersionFolder,
		},
		timeout:   cfg.Storage.Timeout,
		metrics:   mc,
		logger:    logger,
		readFile:  os.ReadFile,
		writeFile: writeExclusive,
	}

	if err := s.ensureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create storage directories: %w", err)
	}

	logger.Info("Blob store initialized",
		zap.String("base_path", s.basePath),
		zap.Duration("timeout", s.timeout),
	)

	return s, nil
}

func (s *blobStore) ensureDirectories() error {
	for _, folder := range s.folders {
		dir := filepath.Join(s.basePath, folder)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// writeExclusive fails if path already exists.
func writeExclusive(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// resolve maps a reference onto the filesystem, rejecting anything outside a known area.
func (s *blobStore) resolve(ref string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(ref))
	if clean == "." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", apperror.NewValidation("ref", "invalid storage reference")
	}
	folder, _, ok := strings.Cut(clean, "/")
	if !ok {
		return "", apperror.NewValidation("ref", "invalid storage reference")
	}
	for _, f := range s.folders {
		if f == folder {
			return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
		}
	}
	return "", apperror.NewValidation("ref", "unknown storage area")
}

// bounded runs op on its own goroutine and gives up once the storage timeout
// or the caller's context expires.
func (s *blobStore) bounded(ctx context.Context, opName, ref string, op func() error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- op() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.metrics.IncrementCounter("storage_timeouts", map[string]string{"op": opName})
		s.logger.Warn("Storage operation timed out",
			zap.String("op", opName),
			zap.String("ref", ref),
			zap.Error(ctx.Err()),
		)
		return &apperror.StorageTimeoutError{Op: opName, Path: ref, Err: ctx.Err()}
	}
}

func (s *blobStore) Write(ctx context.Context, area Area, ext string, content []byte) (string, error) {
	folder, ok := s.folders[area]
	if !ok {
		return "", fmt.Errorf("unknown storage area %q", area)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	ref := folder + "/" + uuid.NewString() + ext
	path := filepath.Join(s.basePath, folder, filepath.Base(ref))
	start := time.Now()

	err := s.bounded(ctx, "write", ref, func() error {
		return s.writeFile(path, content)
	})
	if err != nil {
		var timeout *apperror.StorageTimeoutError
		if errors.As(err, &timeout) {
			return "", err
		}
		return "", fmt.Errorf("failed to write %s: %w", ref, err)
	}

	s.metrics.Since("storage_write", start)
	s.metrics.ObserveSize("blob_"+string(area), float64(len(content)))
	s.logger.Info("Blob written",
		zap.String("ref", ref),
		zap.Int("size_bytes", len(content)),
	)
	return ref, nil
}

func (s *blobStore) Read(ctx context.Context, ref string) ([]byte, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var content []byte
	err = s.bounded(ctx, "read", ref, func() error {
		b, err := s.readFile(path)
		content = b
		return err
	})
	if err != nil {
		var timeout *apperror.StorageTimeoutError
		if errors.As(err, &timeout) {
			return nil, err
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, &apperror.NotFoundError{Resource: "document", ID: ref}
		}
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}

	s.metrics.Since("storage_read", start)
	return content, nil
}

func (s *blobStore) Exists(ctx context.Context, ref string) (bool, error) {
	path, err := s.resolve(ref)
	if err != nil {
		return false, err
	}
	var exists bool
	err = s.bounded(ctx, "stat", ref, func() error {
		_, statErr := os.Stat(path)
		if statErr == nil {
			exists = true
			return nil
		}
		if errors.Is(statErr, os.ErrNotExist) {
			return nil
		}
		return statErr
	})
	return exists, err
}
