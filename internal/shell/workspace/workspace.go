// Package workspace owns the scoped local temporary directory a deployment
// run stages its archives in. Exactly one invocation owns a workspace, and
// Close is guaranteed-idempotent so the directory is removed exactly once on
// every exit path.
package workspace

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// Workspace
// =============================================================================

// Workspace is a uniquely named scratch directory holding archives before
// transfer.
type Workspace struct {
	dir    string
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New creates a fresh workspace under tmpRoot. If tmpRoot is empty the OS
// temp directory is used.
func New(tmpRoot string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tmpRoot == "" {
		tmpRoot = os.TempDir()
	}

	dir := filepath.Join(tmpRoot, "trainship-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}

	logger.Debug("created workspace", "dir", dir)
	return &Workspace{dir: dir, logger: logger}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the path of a file inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Close removes the workspace directory. Safe to call more than once; only
// the first call performs the removal and every call reports its result.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = os.RemoveAll(w.dir)
		if w.closeErr == nil {
			w.logger.Debug("removed workspace", "dir", w.dir)
		}
	})
	return w.closeErr
}

// =============================================================================
// Project Archiving
// =============================================================================

// ArchiveDir writes a gzipped tar of srcDir to destPath, preserving srcDir's
// top-level directory name so the remote side can locate (and if needed
// rename) the extracted tree.
func ArchiveDir(srcDir, destPath string) error {
	src, err := filepath.Abs(srcDir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", srcDir, err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat project path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", srcDir)
	}
	topName := filepath.Base(src)

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", destPath, err)
	}

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		name := topName
		if rel != "." {
			name = filepath.Join(topName, rel)
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if fi.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(name)
		if fi.IsDir() {
			hdr.Name += "/"
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		out.Close()
		return fmt.Errorf("archive %s: %w", srcDir, walkErr)
	}

	if err := tw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finalize gzip: %w", err)
	}
	return out.Close()
}
