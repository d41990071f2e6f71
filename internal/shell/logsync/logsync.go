// Package logsync downloads a deployment's training logs. It streams a
// gzipped tar of the remote wks_logs directory over the same executor the
// deployer uses and unpacks it into a host- and run-tag-named local
// directory.
package logsync

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/marladona/trainship/internal/core/naming"
	"github.com/marladona/trainship/internal/core/plan"
	"github.com/marladona/trainship/internal/core/remotecmd"
	"github.com/marladona/trainship/internal/shell/remote"
)

// Fetch downloads <remote project dir>/wks_logs into destRoot and returns
// the local directory it was unpacked into (wks_logs_<slug>-<run tag>).
func Fetch(ctx context.Context, exec remote.Executor, p plan.Plan, remoteBaseDir, destRoot string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	baseDir := remoteBaseDir
	if !strings.HasPrefix(baseDir, "/") {
		home, err := remote.ResolveHomeDir(ctx, exec)
		if err != nil {
			return "", err
		}
		baseDir = home + "/" + baseDir
	}

	dest := filepath.Join(destRoot, naming.LogDirName(p.Host, p.RunTag))
	logger.Info("fetching logs",
		"remote", baseDir+"/"+p.ProjectDirName+"/wks_logs",
		"local", dest,
	)

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(exec.Pull(ctx, remotecmd.StreamLogs(baseDir, p.ProjectDirName), pw))
	}()

	if err := extract(pr, dest); err != nil {
		return "", fmt.Errorf("unpack logs: %w", err)
	}
	return dest, nil
}

// extract unpacks a gzipped tar stream into dest, stripping the leading
// wks_logs/ component. Entry paths are validated so a crafted archive
// cannot write outside dest.
func extract(r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		name := strings.TrimPrefix(filepath.ToSlash(hdr.Name), "wks_logs/")
		name = strings.TrimSuffix(name, "/")
		if name == "" || name == "wks_logs" {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
			return fmt.Errorf("unsafe path in archive: %s", hdr.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and specials are not expected in training logs.
		}
	}
	return gz.Close()
}
