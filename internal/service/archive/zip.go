package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
)

// extractZip writes every zip entry under targetDir, reporting one step per entry.
func extractZip(ctx context.Context, archivePath, targetDir string, onStep func(Step)) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return backend.NewArchiveError("open zip", archivePath, err)
	}

	defer func() {
		_ = reader.Close() //nolint:errcheck // Read-only handle.
	}()

	total := len(reader.File)

	for i, entry := range reader.File {
		if err = ctx.Err(); err != nil {
			return err
		}

		onStep(Step{Index: i, Total: total, Message: fmt.Sprintf("Unpacking %d/%d", i+1, total)})

		if err = extractZipEntry(entry, archivePath, targetDir); err != nil {
			return err
		}
	}

	return nil
}

// extractZipEntry writes a single entry.
func extractZipEntry(entry *zip.File, archivePath, targetDir string) error {
	path, err := safeJoin(targetDir, entry.Name)
	if err != nil {
		return backend.NewArchiveError("read entry", archivePath, err)
	}

	if entry.FileInfo().IsDir() {
		if err = os.MkdirAll(path, dirPermissions); err != nil {
			return backend.NewIOError("create directory", path, err)
		}

		return nil
	}

	if err = os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return backend.NewIOError("create directory", filepath.Dir(path), err)
	}

	src, err := entry.Open()
	if err != nil {
		return backend.NewArchiveError("open entry "+entry.Name, archivePath, err)
	}

	defer func() {
		_ = src.Close() //nolint:errcheck // Read-only entry.
	}()

	mode := fileMode(entry.Mode())

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return backend.NewIOError("create file", path, err)
	}

	if _, err = io.Copy(dst, src); err != nil {
		_ = dst.Close() //nolint:errcheck // Copy error wins.

		return copyError(err, archivePath, path)
	}

	if err = dst.Close(); err != nil {
		return backend.NewIOError("close file", path, err)
	}

	// OpenFile keeps the mode of files that already existed.
	if err = os.Chmod(path, mode); err != nil {
		return backend.NewIOError("chmod", path, err)
	}

	return nil
}
