package supervisor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/repository/pidfile"
	"github.com/oshokin/inference-runtime/internal/service/events"
)

// fakeServerScript prints to both streams and then idles until killed.
const fakeServerScript = `#!/bin/sh
echo "hello"
echo "args: $*"
echo "err line" 1>&2
printf 'partial'
exec sleep 30
`

// installFakeServer writes an executable named llama-server into the install dir of variant.
func installFakeServer(t *testing.T, layout backend.Layout, variant backend.Variant, script string) string {
	t.Helper()

	dir := filepath.Join(layout.InstallDir(backend.KindLlamaCpp, variant), "build", "bin")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "llama-server")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755)) //nolint:gosec // Test executable.

	return path
}

// writeModel creates a placeholder model file.
func writeModel(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, []byte("gguf"), 0o600))

	return path
}

// TestFindFirst_DepthAndCase verifies case-insensitive matching within the depth bound.
func TestFindFirst_DepthAndCase(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(deep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(deep, "LLAMA-SERVER.EXE"), nil, 0o600))

	got, ok := FindFirst(root, []string{"llama-server.exe"}, 3)
	require.True(t, ok)
	require.Equal(t, filepath.Join(deep, "LLAMA-SERVER.EXE"), got)

	_, ok = FindFirst(root, []string{"llama-server.exe"}, 2)
	require.False(t, ok)

	_, ok = FindFirst(filepath.Join(root, "missing"), []string{"x"}, MaxSearchDepth)
	require.False(t, ok)
}

// TestFindFirst_PrefersEarlierNames checks name priority within a level.
func TestFindFirst_PrefersEarlierNames(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "ollama-windows-amd64.exe"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ollama.exe"), nil, 0o600))

	got, ok := FindFirst(root, backend.ExecutableNames(backend.KindOllama, backend.OSWindows), MaxSearchDepth)
	require.True(t, ok)
	require.Equal(t, "ollama.exe", filepath.Base(got))
}

// TestSplitLines_EmitsCompletedLinesImmediately verifies "hello" arrives before EOF and "world" at EOF.
func TestSplitLines_EmitsCompletedLinesImmediately(t *testing.T) {
	t.Parallel()

	reader, writer := io.Pipe()
	lines := make(chan string, 4)
	done := make(chan error, 1)

	go func() {
		done <- splitLines(reader, MaxLineBytes, func(line string) { lines <- line })
	}()

	_, err := writer.Write([]byte("hello\nworld"))
	require.NoError(t, err)

	select {
	case line := <-lines:
		require.Equal(t, "hello", line)
	case <-time.After(2 * time.Second):
		t.Fatal("completed line was not emitted before EOF")
	}

	require.Empty(t, lines)
	require.NoError(t, writer.Close())
	require.NoError(t, <-done)
	require.Equal(t, "world", <-lines)
}

// TestSplitLines_Terminators covers carriage returns, blank lines, long lines and invalid UTF-8.
func TestSplitLines_Terminators(t *testing.T) {
	t.Parallel()

	var got []string

	input := "a\r\nb\rc\n\n\nd\xff\n" + strings.Repeat("x", 10)
	require.NoError(t, splitLines(strings.NewReader(input), 4, func(line string) { got = append(got, line) }))

	require.Equal(t, []string{"a", "b", "c", "d�", "xxxx", "xxxx", "xx"}, got)
}

// failingReader returns data and then a read error.
type failingReader struct {
	sent bool
}

// Read implements io.Reader.
func (r *failingReader) Read(p []byte) (int, error) {
	if r.sent {
		return 0, errors.New("pipe broken")
	}

	r.sent = true

	return copy(p, "tail"), nil
}

// TestSplitLines_FlushesOnError checks the remainder is emitted when the stream fails.
func TestSplitLines_FlushesOnError(t *testing.T) {
	t.Parallel()

	var got []string

	err := splitLines(&failingReader{}, MaxLineBytes, func(line string) { got = append(got, line) })
	require.Error(t, err)
	require.Equal(t, []string{"tail"}, got)
}

// TestBuildLaunch_LlamaCpp checks fixed flags, offload selection and model references.
func TestBuildLaunch_LlamaCpp(t *testing.T) {
	t.Parallel()

	model := writeModel(t)

	cmd, err := buildLaunch(StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCPU,
		Model:   model,
		Port:    8080,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"-m", model, "-c", "2048", "-ngl", "0", "--host", "127.0.0.1", "--port", "8080"}, cmd.args)

	cmd, err = buildLaunch(StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCUDA12,
		Model:   "hf:ggml-org/gemma-3-1b-it-GGUF",
		Port:    9000,
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"-hf", "ggml-org/gemma-3-1b-it-GGUF", "-c", "2048", "-ngl", "99", "--host", "127.0.0.1", "--port", "9000",
	}, cmd.args)

	_, err = buildLaunch(StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCPU,
		Model:   filepath.Join(t.TempDir(), "missing.gguf"),
		Port:    8080,
	})
	require.ErrorIs(t, err, backend.ErrModelNotFound)

	_, err = buildLaunch(StartRequest{Server: backend.KindLlamaCpp, Variant: backend.VariantCPU, Port: 8080})
	require.ErrorIs(t, err, ErrModelRequired)

	_, err = buildLaunch(StartRequest{Server: backend.KindLlamaCpp, Variant: backend.VariantCPU, Model: model})
	require.ErrorIs(t, err, ErrInvalidPort)
}

// TestBuildLaunch_Overrides verifies overrides add flags and env but cannot move fixed values.
func TestBuildLaunch_Overrides(t *testing.T) {
	t.Parallel()

	model := writeModel(t)

	configured, err := structpb.NewStruct(map[string]any{
		"flags": map[string]any{"--threads": 4, "--host": "0.0.0.0", "-c": 8192},
		"env":   map[string]any{"CUDA_VISIBLE_DEVICES": "0"},
	})
	require.NoError(t, err)

	perCall, err := structpb.NewStruct(map[string]any{
		"flags": map[string]any{"--threads": 8, "--flash-attn": true},
	})
	require.NoError(t, err)

	cmd, err := buildLaunch(StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantVulkan,
		Model:   model,
		Port:    8081,
	}, configured, perCall)
	require.NoError(t, err)

	require.Equal(t, []string{
		"-m", model, "-c", "2048", "-ngl", "99", "--host", "127.0.0.1", "--port", "8081",
		"--flash-attn", "--threads", "8",
	}, cmd.args)
	require.Equal(t, []string{"CUDA_VISIBLE_DEVICES=0"}, cmd.env)
}

// TestBuildLaunch_OverridesCannotAddSecondModel verifies model flags from overrides never survive next to the fixed one.
func TestBuildLaunch_OverridesCannotAddSecondModel(t *testing.T) {
	t.Parallel()

	model := writeModel(t)

	overrides, err := structpb.NewStruct(map[string]any{
		"flags": map[string]any{"--model": "/other.gguf", "--hf-repo": "org/x", "-hf": "org/z"},
	})
	require.NoError(t, err)

	local, err := buildLaunch(StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCPU,
		Model:   model,
		Port:    8080,
	}, overrides)
	require.NoError(t, err)
	require.Equal(t, []string{
		"-m", model, "-c", "2048", "-ngl", "0", "--host", "127.0.0.1", "--port", "8080",
	}, local.args)

	remote, err := buildLaunch(StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCPU,
		Model:   "hf:org/y",
		Port:    8080,
	}, overrides)
	require.NoError(t, err)
	require.Equal(t, []string{
		"-hf", "org/y", "-c", "2048", "-ngl", "0", "--host", "127.0.0.1", "--port", "8080",
	}, remote.args)
}

// TestBuildLaunch_Ollama checks the serve command and its environment.
func TestBuildLaunch_Ollama(t *testing.T) {
	t.Parallel()

	cmd, err := buildLaunch(StartRequest{Server: backend.KindOllama, Variant: backend.VariantCPU, Port: 11434})
	require.NoError(t, err)
	require.Equal(t, []string{"serve"}, cmd.args)
	require.Equal(t, []string{
		"OLLAMA_CONTEXT_LENGTH=2048",
		"OLLAMA_HOST=127.0.0.1:11434",
		"OLLAMA_LLM_LIBRARY=cpu",
	}, cmd.env)
}

// TestStart_ArchitectureGuard verifies an ARM-only variant is refused on x86_64 without a pid record.
func TestStart_ArchitectureGuard(t *testing.T) {
	t.Parallel()

	layout := backend.NewLayout(t.TempDir())
	repo := pidfile.NewFileRepository(layout)
	installFakeServer(t, layout, backend.VariantCPUArm, fakeServerScript)

	s := New(layout, repo, WithHost(backend.OSLinux, backend.ArchX8664))

	_, err := s.Start(context.Background(), StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCPUArm,
		Model:   writeModel(t),
		Port:    8080,
	})
	require.ErrorIs(t, err, backend.ErrUnsupportedArchitecture)

	_, err = os.Stat(layout.PIDFile(backend.KindLlamaCpp))
	require.True(t, os.IsNotExist(err))
	require.Equal(t, backend.StateNotRunning, s.Status(context.Background(), backend.KindLlamaCpp).State)
}

// TestStart_SpawnFailureRecordsNothing verifies a binary that cannot be executed yields ErrSpawn and no pid record.
func TestStart_SpawnFailureRecordsNothing(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("relies on POSIX execute permissions")
	}

	ctx := context.Background()
	layout := backend.NewLayout(t.TempDir())
	repo := pidfile.NewFileRepository(layout)
	path := installFakeServer(t, layout, backend.VariantCPU, fakeServerScript)
	require.NoError(t, os.Chmod(path, 0o644)) //nolint:gosec // Test file.

	s := New(layout, repo, WithHost(backend.OSLinux, backend.ArchX8664))

	_, err := s.Start(ctx, StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCPU,
		Model:   writeModel(t),
		Port:    8080,
	})
	require.ErrorIs(t, err, backend.ErrSpawn)

	_, err = repo.Load(ctx, backend.KindLlamaCpp)
	require.ErrorIs(t, err, pidfile.ErrNotFound)
	require.Equal(t, backend.StateNotRunning, s.Status(ctx, backend.KindLlamaCpp).State)
}

// TestStart_ExecutableNotFound verifies a missing install is reported before anything is spawned.
func TestStart_ExecutableNotFound(t *testing.T) {
	t.Parallel()

	layout := backend.NewLayout(t.TempDir())
	s := New(layout, pidfile.NewFileRepository(layout), WithHost(backend.OSLinux, backend.ArchX8664))

	_, err := s.Start(context.Background(), StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCPU,
		Model:   writeModel(t),
		Port:    8080,
	})
	require.ErrorIs(t, err, backend.ErrExecutableNotFound)

	_, ok := s.Locate(backend.KindLlamaCpp, backend.VariantCPU)
	require.False(t, ok)
}

// TestLocate_InstallerMarker checks a placed Ollama.dmg counts as installed on macOS.
func TestLocate_InstallerMarker(t *testing.T) {
	t.Parallel()

	layout := backend.NewLayout(t.TempDir())
	dir := layout.InstallDir(backend.KindOllama, backend.VariantCPUArm)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Ollama.dmg"), []byte("dmg"), 0o600))

	s := New(layout, pidfile.NewFileRepository(layout), WithHost(backend.OSMacOS, backend.ArchAArch64))

	installed, ok := s.Locate(backend.KindOllama, backend.VariantCPUArm)
	require.True(t, ok)
	require.Empty(t, installed.Executable)

	_, err := s.Start(context.Background(), StartRequest{Server: backend.KindOllama, Variant: backend.VariantCPUArm, Port: 11434})
	require.ErrorIs(t, err, backend.ErrExecutableNotFound)
}

// recordingKiller records the pids it was asked to kill.
type recordingKiller struct {
	mu   sync.Mutex
	pids []int
	err  error
}

// kill implements the killTree hook.
func (k *recordingKiller) kill(_ context.Context, pid int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.pids = append(k.pids, pid)

	return k.err
}

// TestStop_Idempotent verifies absent, empty and stale records all stop cleanly.
func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	layout := backend.NewLayout(t.TempDir())
	repo := pidfile.NewFileRepository(layout)
	killer := &recordingKiller{err: errors.New("no such process")}

	s := New(layout, repo)
	s.killTree = killer.kill

	// No record.
	s.Stop(ctx, backend.KindLlamaCpp)
	s.Stop(ctx, backend.KindLlamaCpp)
	require.Empty(t, killer.pids)

	// Empty record.
	path := layout.PIDFile(backend.KindLlamaCpp)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))
	s.Stop(ctx, backend.KindLlamaCpp)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.Empty(t, killer.pids)

	// Stale record whose kill fails.
	require.NoError(t, repo.Save(ctx, backend.KindLlamaCpp, 999999))
	s.Stop(ctx, backend.KindLlamaCpp)

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.Equal(t, []int{999999}, killer.pids)
	require.Equal(t, backend.StateNotRunning, s.Status(ctx, backend.KindLlamaCpp).State)
}

// TestStop_InitRecordIsDiscarded verifies a record naming pid 1 is removed without signalling anything.
func TestStop_InitRecordIsDiscarded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	layout := backend.NewLayout(t.TempDir())
	killer := new(recordingKiller)

	s := New(layout, pidfile.NewFileRepository(layout))
	s.killTree = killer.kill

	path := layout.PIDFile(backend.KindOllama)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o600))

	s.Stop(ctx, backend.KindOllama)

	require.Empty(t, killer.pids)

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.Equal(t, backend.StateNotRunning, s.Status(ctx, backend.KindOllama).State)
}

// TestStatus_RecoveredRecord verifies a record left by an earlier run reports running.
func TestStatus_RecoveredRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	layout := backend.NewLayout(t.TempDir())
	repo := pidfile.NewFileRepository(layout)
	require.NoError(t, repo.Save(ctx, backend.KindOllama, 4321))

	status := New(layout, repo).Status(ctx, backend.KindOllama)
	require.Equal(t, backend.StateRunning, status.State)
	require.Equal(t, 4321, status.PID)
}

// TestStartStop_RealProcess runs a fake server, checks its log events and pid record, then stops it.
func TestStartStop_RealProcess(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell script as the server")
	}

	ctx := context.Background()
	layout := backend.NewLayout(t.TempDir())
	repo := pidfile.NewFileRepository(layout)
	sink := events.NewMemory()
	installFakeServer(t, layout, backend.VariantCPU, fakeServerScript)

	s := New(layout, repo, WithPublisher(sink), WithHost(backend.OSLinux, backend.ArchX8664))

	proc, err := s.Start(ctx, StartRequest{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCPU,
		Model:   writeModel(t),
		Port:    18080,
	})
	require.NoError(t, err)
	require.Positive(t, proc.PID)
	require.Equal(t, backend.StateRunning, proc.State)

	recorded, err := repo.Load(ctx, backend.KindLlamaCpp)
	require.NoError(t, err)
	require.Equal(t, proc.PID, recorded)

	require.Eventually(t, func() bool {
		return len(sink.LogLines()) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	s.Stop(ctx, backend.KindLlamaCpp)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, s.Wait(waitCtx, backend.KindLlamaCpp))

	lines := sink.LogLines()
	require.Contains(t, lines, "hello")
	require.Contains(t, lines, "err line")
	require.Contains(t, lines, "partial")

	var argsLine string

	for _, line := range lines {
		if strings.HasPrefix(line, "args: ") {
			argsLine = line
		}
	}

	require.Contains(t, argsLine, "--port 18080")
	require.Contains(t, argsLine, "--host 127.0.0.1")

	for _, ev := range sink.Events() {
		require.Equal(t, backend.LogChannel(backend.KindLlamaCpp), ev.Channel)
	}

	_, err = repo.Load(ctx, backend.KindLlamaCpp)
	require.ErrorIs(t, err, pidfile.ErrNotFound)
	require.Equal(t, backend.StateNotRunning, s.Status(ctx, backend.KindLlamaCpp).State)
}
