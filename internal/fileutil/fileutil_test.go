package fileutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	content := []byte("hello world")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyDirRecursesAndSkipsSymlinks(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")

	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "a.wav"), []byte("aaaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "b.wav"), []byte("bb"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("a.wav", filepath.Join(src, "link.wav")); err != nil {
		t.Fatal(err)
	}

	if err := CopyDir(context.Background(), src, dst); err != nil {
		t.Fatalf("CopyDir: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "nested", "b.wav"))
	if err != nil || string(got) != "bb" {
		t.Fatalf("nested file not copied: %q %v", got, err)
	}
	info, err := os.Stat(filepath.Join(dst, "nested", "b.wav"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected mode to be preserved, got %v", info.Mode().Perm())
	}
	if _, err := os.Lstat(filepath.Join(dst, "link.wav")); !os.IsNotExist(err) {
		t.Fatalf("expected symlink to be skipped, got %v", err)
	}
}

func TestCopyDirStopsOnCancelledContext(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := CopyDir(ctx, src, filepath.Join(t.TempDir(), "dst")); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestWriteFileAtomicAndUniquePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "info.json")

	if got := UniquePath(path); got != path {
		t.Fatalf("expected free path to be returned unchanged, got %q", got)
	}
	if err := WriteFileAtomic(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}
	if got := UniquePath(path); got != filepath.Join(dir, "info_1.json") {
		t.Fatalf("unexpected unique path %q", got)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp file to be renamed away, found %d entries", len(entries))
	}
}

func TestRemoveIfExistsIgnoresMissing(t *testing.T) {
	if err := RemoveIfExists(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatalf("expected nil for missing file, got %v", err)
	}
}
