package archive

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
)

// extractTarGz streams a gzip-compressed tar archive into targetDir and
// reports a single completion step.
func extractTarGz(ctx context.Context, archivePath, targetDir string, onStep func(Step)) error {
	file, err := os.Open(filepath.Clean(archivePath))
	if err != nil {
		return backend.NewIOError("open", archivePath, err)
	}

	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only handle.
	}()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return backend.NewArchiveError("open gzip", archivePath, err)
	}

	defer func() {
		_ = gz.Close() //nolint:errcheck // Checksum errors surface through Read.
	}()

	tr := tar.NewReader(gz)

	for {
		if err = ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return backend.NewArchiveError("read tar", archivePath, err)
		}

		if err = extractTarEntry(tr, header, archivePath, targetDir); err != nil {
			return err
		}
	}

	onStep(Step{Index: 1, Total: 1, Message: "Extraction completed"})

	return nil
}

// extractTarEntry writes one tar entry. Only directories, regular files and
// symlinks resolving inside targetDir are materialized.
func extractTarEntry(tr *tar.Reader, header *tar.Header, archivePath, targetDir string) error {
	path, err := safeJoin(targetDir, header.Name)
	if err != nil {
		return backend.NewArchiveError("read entry", archivePath, err)
	}

	switch header.Typeflag {
	case tar.TypeDir:
		if err = os.MkdirAll(path, dirPermissions); err != nil {
			return backend.NewIOError("create directory", path, err)
		}
	case tar.TypeReg:
		if err = os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return backend.NewIOError("create directory", filepath.Dir(path), err)
		}

		mode := fileMode(header.FileInfo().Mode())

		dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
		if err != nil {
			return backend.NewIOError("create file", path, err)
		}

		if _, err = io.Copy(dst, tr); err != nil { //nolint:gosec // Release archives are trusted in size.
			_ = dst.Close() //nolint:errcheck // Copy error wins.

			return copyError(err, archivePath, path)
		}

		if err = dst.Close(); err != nil {
			return backend.NewIOError("close file", path, err)
		}

		if err = os.Chmod(path, mode); err != nil {
			return backend.NewIOError("chmod", path, err)
		}
	case tar.TypeSymlink:
		return extractSymlink(header, path, archivePath, targetDir)
	}

	return nil
}

// extractSymlink recreates a relative symlink that stays inside targetDir.
func extractSymlink(header *tar.Header, path, archivePath, targetDir string) error {
	link := header.Linkname
	if filepath.IsAbs(link) || strings.HasPrefix(link, "/") {
		return backend.NewArchiveError("read symlink", archivePath, errUnsafePath)
	}

	rel, err := filepath.Rel(targetDir, filepath.Join(filepath.Dir(path), link))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return backend.NewArchiveError("read symlink", archivePath, errUnsafePath)
	}

	if err = os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return backend.NewIOError("create directory", filepath.Dir(path), err)
	}

	if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return backend.NewIOError("replace symlink", path, err)
	}

	if err = os.Symlink(link, path); err != nil {
		return backend.NewIOError("create symlink", path, err)
	}

	return nil
}

// copyError classifies a failed entry copy: write failures are I/O errors,
// everything else comes from the archive stream.
func copyError(err error, archivePath, path string) error {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return backend.NewIOError("write file", path, err)
	}

	return backend.NewArchiveError("read entry", archivePath, err)
}
