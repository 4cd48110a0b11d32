package tree

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kilnhq/kiln/internal/paths"
)

// Copies a directory tree from src into dst.
//
// Regular files, directories, and symlinks are copied; file modes are
// preserved. dst is created if it does not exist. Other file types (sockets,
// devices) are rejected, since snapshots must be plain filesystem content.
func CopyDir(dst, src string) error {
	if err := os.MkdirAll(dst, paths.DefaultDirMode); err != nil {
		return err
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.Mkdir(target, info.Mode().Perm())

		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)

		case info.Mode().IsRegular():
			return copyFile(target, path, info.Mode().Perm())

		default:
			return fmt.Errorf("unsupported file type %s: %s", info.Mode().Type(), path)
		}
	})
}

// Copies a single regular file, preserving its permission bits.
func copyFile(dst, src string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Returns the total size in bytes of all regular files under dir.
func Size(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}
