package pidfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
)

const (
	// recordPermissions is the mode of pid record files.
	recordPermissions = 0o600
	// dirPermissions is the mode of created runtime directories.
	dirPermissions = 0o755
)

var (
	// ErrNotFound is returned when no record exists for the server kind.
	ErrNotFound = errors.New("pid record not found")
	// ErrEmptyRecord is returned when the record holds only whitespace.
	ErrEmptyRecord = errors.New("pid record is empty")
	// ErrInvalidRecord is returned when the record is not a pid of a managed child:
	// non-numeric, at most 1 (init or a process group wildcard) or this process.
	ErrInvalidRecord = errors.New("pid record is invalid")
)

// Repository defines persistence operations for pid records.
type Repository interface {
	Load(ctx context.Context, kind backend.Kind) (int, error)
	Save(ctx context.Context, kind backend.Kind, pid int) error
	Delete(ctx context.Context, kind backend.Kind) error
}

// FileRepository stores pid records at the layout's per-kind paths.
type FileRepository struct {
	// layout resolves record paths.
	layout backend.Layout
	// mu serializes file access within this process.
	mu sync.Mutex
}

// NewFileRepository creates a repository rooted at the layout's data directory.
func NewFileRepository(layout backend.Layout) *FileRepository {
	return &FileRepository{
		layout: layout,
	}
}

// Path returns the record location for kind.
func (r *FileRepository) Path(kind backend.Kind) string {
	return r.layout.PIDFile(kind)
}

// Load reads the recorded pid of kind.
func (r *FileRepository) Load(_ context.Context, kind backend.Kind) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.Path(kind)

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}

		return 0, fmt.Errorf("read pid record: %w", err)
	}

	text := strings.TrimSpace(string(contents))
	if text == "" {
		return 0, ErrEmptyRecord
	}

	pid, err := strconv.Atoi(text)
	if err != nil || !usablePID(pid) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRecord, text)
	}

	return pid, nil
}

// Save writes pid as the record of kind, replacing any previous one.
func (r *FileRepository) Save(_ context.Context, kind backend.Kind, pid int) error {
	if !usablePID(pid) {
		return fmt.Errorf("%w: %d", ErrInvalidRecord, pid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.Path(kind)

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return fmt.Errorf("create runtime directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), recordPermissions); err != nil {
		return fmt.Errorf("write pid record: %w", err)
	}

	return nil
}

// Delete removes the record of kind. A missing record is not an error.
func (r *FileRepository) Delete(_ context.Context, kind backend.Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.Path(kind)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid record: %w", err)
	}

	return nil
}

// usablePID reports whether pid can name a spawned server. Signalling 1 or
// -1 would reach init or every process of the user.
func usablePID(pid int) bool {
	return pid > 1 && pid != os.Getpid()
}
