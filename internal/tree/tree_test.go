package tree

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyDir(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")

	if err := os.MkdirAll(filepath.Join(src, "etc", "kiln"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "etc", "kiln", "conf"), []byte("keymap=us\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("kiln/conf", filepath.Join(src, "etc", "link")); err != nil {
		t.Fatal(err)
	}

	if err := CopyDir(dst, src); err != nil {
		t.Fatalf("CopyDir: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "etc", "kiln", "conf"))
	if err != nil {
		t.Fatalf("copied file missing: %v", err)
	}
	if string(data) != "keymap=us\n" {
		t.Fatalf("content = %q, want keymap=us", data)
	}

	info, err := os.Stat(filepath.Join(dst, "etc", "kiln", "conf"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("mode = %o, want 0600", info.Mode().Perm())
	}

	link, err := os.Readlink(filepath.Join(dst, "etc", "link"))
	if err != nil {
		t.Fatalf("symlink not copied: %v", err)
	}
	if link != "kiln/conf" {
		t.Fatalf("link = %q, want kiln/conf", link)
	}
}

func TestCopyDirEmpty(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "copy")
	if err := CopyDir(dst, t.TempDir()); err != nil {
		t.Fatalf("CopyDir: %v", err)
	}
	entries, err := os.ReadDir(dst)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b"), make([]byte, 50), 0644); err != nil {
		t.Fatal(err)
	}

	total, err := Size(dir)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if total != 150 {
		t.Fatalf("total = %d, want 150", total)
	}
}
