package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	ls, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return ls
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	ls := newTestStorage(t)
	ctx := context.Background()

	src := writeTempFile(t, "entity,counts\nSiteA,12\n")
	if err := ls.Upload(ctx, src, "raw/2025/09/01/080000.csv"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "out.csv")
	if err := ls.Download(ctx, "raw/2025/09/01/080000.csv", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "entity,counts\nSiteA,12\n" {
		t.Errorf("downloaded content = %q", data)
	}
}

func TestLocalStorage_UploadOverwrites(t *testing.T) {
	ls := newTestStorage(t)
	ctx := context.Background()

	first := writeTempFile(t, "v1")
	if err := ls.Upload(ctx, first, "silver/date=2025-09-01/clean.sqlite"); err != nil {
		t.Fatalf("Upload v1: %v", err)
	}

	second := writeTempFile(t, "v2")
	if err := ls.Upload(ctx, second, "silver/date=2025-09-01/clean.sqlite"); err != nil {
		t.Fatalf("Upload v2: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "out")
	if err := ls.Download(ctx, "silver/date=2025-09-01/clean.sqlite", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "v2" {
		t.Errorf("content after overwrite = %q, want v2", data)
	}
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	ls := newTestStorage(t)
	err := ls.Download(context.Background(), "gold/date=2099-01-01/aggregated.sqlite", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Download missing = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalStorage_DeleteIdempotent(t *testing.T) {
	ls := newTestStorage(t)
	if err := ls.Delete(context.Background(), "does/not/exist"); err != nil {
		t.Errorf("Delete missing object should not error, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	ls := newTestStorage(t)
	ctx := context.Background()

	src := writeTempFile(t, "x")
	keys := []string{
		"gold/date=2025-09-01/aggregated.sqlite",
		"gold/date=2025-09-02/aggregated.sqlite",
		"silver/date=2025-09-01/clean.sqlite",
	}
	for _, k := range keys {
		if err := ls.Upload(ctx, src, k); err != nil {
			t.Fatalf("Upload %s: %v", k, err)
		}
	}

	got, err := ls.ListObjects(ctx, "gold/date=2025-09-01/")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(got) != 1 || got[0] != "gold/date=2025-09-01/aggregated.sqlite" {
		t.Errorf("ListObjects = %v", got)
	}

	empty, err := ls.ListObjects(ctx, "reports/2099-01-01/")
	if err != nil {
		t.Fatalf("ListObjects missing prefix: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListObjects on missing prefix = %v, want empty", empty)
	}
}
