package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/logger"
)

const (
	// dirPermissions is the mode of created directories.
	dirPermissions = 0o755
	// filePermissions is the mode of extracted files without stored permissions.
	filePermissions = 0o644
)

var (
	// errUnsafePath is returned for entries escaping the target directory.
	errUnsafePath = errors.New("entry escapes the target directory")
	// errMissingArchive is returned when the archive path is empty.
	errMissingArchive = errors.New("archive path must be provided")
	// errMissingTarget is returned when the target directory is empty.
	errMissingTarget = errors.New("target directory must be provided")
)

// Step reports unpacking progress: Index entries of Total are done.
type Step struct {
	// Index is the number of processed entries.
	Index int
	// Total is the number of entries, zero when unknown.
	Total int
	// Message is a human readable status line.
	Message string
}

// Request describes one install.
type Request struct {
	// ArchivePath is the downloaded file.
	ArchivePath string
	// Format selects the unpacking strategy.
	Format backend.Format
	// TargetDir is the install directory; it is created when missing.
	TargetDir string
	// AssetName is the published file name, used when placing installers.
	AssetName string
}

// Install unpacks req.ArchivePath into req.TargetDir.
// Malformed archives yield backend.ErrArchive errors and filesystem failures yield backend.ErrIO errors.
func Install(ctx context.Context, req Request, onStep func(Step)) error {
	if req.ArchivePath == "" {
		return errMissingArchive
	}

	if req.TargetDir == "" {
		return errMissingTarget
	}

	if onStep == nil {
		onStep = func(Step) {}
	}

	if err := os.MkdirAll(req.TargetDir, dirPermissions); err != nil {
		return backend.NewIOError("create directory", req.TargetDir, err)
	}

	logger.InfoKV(ctx, "Installing archive",
		"archive", req.ArchivePath,
		"format", req.Format,
		"target", req.TargetDir)

	switch req.Format {
	case backend.FormatZip:
		return extractZip(ctx, req.ArchivePath, req.TargetDir, onStep)
	case backend.FormatTarGz:
		return extractTarGz(ctx, req.ArchivePath, req.TargetDir, onStep)
	case backend.FormatInstaller:
		return placeInstaller(req, onStep)
	default:
		onStep(Step{Index: 1, Total: 1, Message: "Download completed"})

		return nil
	}
}

// safeJoin joins an archive entry name onto root, rejecting traversal.
func safeJoin(root, name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}

	root = filepath.Clean(root)
	joined := filepath.Join(root, filepath.FromSlash(name))

	if joined != root && !strings.HasPrefix(joined, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", errUnsafePath, name)
	}

	return joined, nil
}

// fileMode keeps stored permission bits and guarantees owner read-write access.
func fileMode(stored os.FileMode) os.FileMode {
	perm := stored.Perm()
	if perm == 0 {
		return filePermissions
	}

	return perm | 0o600
}
