package archive

import (
	"crypto"
	"errors"
	"io"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/inference-runtime/internal/domain/backend"

	// Register SHA-256 for placement checksums.
	_ "crypto/sha256"
)

// placementHash verifies the copy of an installer image.
const placementHash = crypto.SHA256

// placeInstaller copies an installer image into the target directory under
// its published name, verifies it and removes the downloaded file.
func placeInstaller(req Request, onStep func(Step)) error {
	name := filepath.Base(req.AssetName)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = filepath.Base(req.ArchivePath)
	}

	target := filepath.Join(req.TargetDir, name)

	checksum, err := fileChecksum(req.ArchivePath)
	if err != nil {
		return err
	}

	// go-update swaps an existing file, so make sure there is one.
	if _, err = os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(target) //nolint:gosec // Target is under the install dir.
		if createErr != nil {
			return backend.NewIOError("create file", target, createErr)
		}

		_ = placeholder.Close() //nolint:errcheck // Empty placeholder.
	}

	src, err := os.Open(filepath.Clean(req.ArchivePath))
	if err != nil {
		return backend.NewIOError("open", req.ArchivePath, err)
	}

	//nolint:exhaustruct // Signatures and patches are not used for local placement.
	options := goupdate.Options{
		TargetPath: target,
		TargetMode: filePermissions,
		Checksum:   checksum,
		Hash:       placementHash,
	}

	applyErr := goupdate.Apply(src, options)
	_ = src.Close() //nolint:errcheck // Read-only handle.

	if applyErr != nil {
		return backend.NewIOError("place installer", target, applyErr)
	}

	_ = os.Remove(target + ".old") //nolint:errcheck // Leftover of the swap, if any.

	if err = os.Remove(req.ArchivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return backend.NewIOError("remove download", req.ArchivePath, err)
	}

	onStep(Step{Index: 1, Total: 1, Message: "Installer saved"})

	return nil
}

// fileChecksum hashes path with placementHash.
func fileChecksum(path string) ([]byte, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, backend.NewIOError("open", path, err)
	}

	defer func() {
		_ = file.Close() //nolint:errcheck // Read-only handle.
	}()

	hasher := placementHash.New()
	if _, err = io.Copy(hasher, file); err != nil {
		return nil, backend.NewIOError("read", path, err)
	}

	return hasher.Sum(nil), nil
}
