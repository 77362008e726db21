package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"signflow/internal/config"
	"signflow/internal/domain/apperror"
	"signflow/internal/infrastructure/metrics"
)

func newTestStore(t *testing.T, timeout time.Duration) *blobStore {
	t.Helper()
	cfg := &config.Config{}
	cfg.Storage = config.StorageConfig{
		BasePath:          t.TempDir(),
		SourceFolder:      "source",
		SignedFolder:      "signed",
		FinalFolder:       "final",
		CertificateFolder: "certificates",
		VersionFolder:     "versions",
		Timeout:           timeout,
	}
	store, err := NewBlobStore(cfg, metrics.NewCollector(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store.(*blobStore)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t, time.Second)
	ctx := context.Background()

	ref, err := s.Write(ctx, AreaSigned, "pdf", []byte("%PDF-1.4 body"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(ref, "signed/") || !strings.HasSuffix(ref, ".pdf") {
		t.Fatalf("unexpected ref %q", ref)
	}

	got, err := s.Read(ctx, ref)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("%PDF-1.4 body")) {
		t.Fatalf("content mismatch: %q", got)
	}

	exists, err := s.Exists(ctx, ref)
	if err != nil || !exists {
		t.Fatalf("expected blob to exist, err=%v", err)
	}
}

func TestWriteNeverReusesPath(t *testing.T) {
	s := newTestStore(t, time.Second)
	ctx := context.Background()

	a, err := s.Write(ctx, AreaFinal, ".pdf", []byte("a"))
	if err != nil {
		t.Fatalf("write a: %v", err)
	}
	b, err := s.Write(ctx, AreaFinal, ".pdf", []byte("b"))
	if err != nil {
		t.Fatalf("write b: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct refs, got %q twice", a)
	}
	got, _ := s.Read(ctx, a)
	if string(got) != "a" {
		t.Fatalf("first blob was overwritten: %q", got)
	}
}

func TestWriteExclusiveRefusesExistingFile(t *testing.T) {
	s := newTestStore(t, time.Second)
	path := s.basePath + "/source/fixed.pdf"
	if err := writeExclusive(path, []byte("one")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := writeExclusive(path, []byte("two")); err == nil {
		t.Fatalf("expected second write to fail")
	}
}

func TestReadRejectsEscapingRefs(t *testing.T) {
	s := newTestStore(t, time.Second)
	for _, ref := range []string{"../etc/passwd", "/abs/path.pdf", "unknown/x.pdf", "nofolder.pdf"} {
		_, err := s.Read(context.Background(), ref)
		if apperror.KindOf(err) != apperror.KindValidation {
			t.Fatalf("%q: expected validation error, got %v", ref, err)
		}
	}
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := newTestStore(t, time.Second)
	_, err := s.Read(context.Background(), "signed/missing.pdf")
	var nf *apperror.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSlowReadSurfacesStorageTimeout(t *testing.T) {
	s := newTestStore(t, 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	s.readFile = func(string) ([]byte, error) {
		<-release
		return nil, nil
	}

	_, err := s.Read(context.Background(), "source/slow.pdf")
	var timeout *apperror.StorageTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected StorageTimeoutError, got %v", err)
	}
	if timeout.Op != "read" || !apperror.IsRetryable(err) {
		t.Fatalf("unexpected timeout error %+v", timeout)
	}
}

func TestSlowWriteSurfacesStorageTimeout(t *testing.T) {
	s := newTestStore(t, 20*time.Millisecond)
	release := make(chan struct{})
	defer close(release)
	s.writeFile = func(string, []byte) error {
		<-release
		return nil
	}

	_, err := s.Write(context.Background(), AreaSigned, ".pdf", []byte("x"))
	if apperror.CodeOf(err) != "STORAGE_TIMEOUT" {
		t.Fatalf("expected STORAGE_TIMEOUT, got %v", err)
	}
}
