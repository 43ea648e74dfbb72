package install

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/service/download"
	"github.com/oshokin/inference-runtime/internal/service/events"
)

// fakeFetcher writes payload to the destination and reports the given snapshots.
type fakeFetcher struct {
	payload   []byte
	snapshots []download.Progress
	err       error
	release   chan struct{}
	urls      chan string
}

// Fetch implements Fetcher.
func (f *fakeFetcher) Fetch(
	ctx context.Context,
	url, destination string,
	options ...download.FetchOption,
) (string, error) {
	if f.urls != nil {
		f.urls <- url
	}

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	hooks := download.CollectHooks(options...)
	hooks.OnAttempt(1)

	if err := os.WriteFile(destination, f.payload, 0o600); err != nil {
		return "", err
	}

	for _, progress := range f.snapshots {
		hooks.OnProgress(progress)
	}

	if f.err != nil {
		return "", f.err
	}

	return destination, nil
}

// zipPayload builds a zip archive holding files in order.
func zipPayload(t *testing.T, files ...string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	for _, name := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)

		_, err = w.Write([]byte("contents of " + name))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

// tarGzPayload builds a gzip tarball holding one executable.
func tarGzPayload(t *testing.T, name, body string) []byte {
	t.Helper()

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     name,
		Mode:     0o755,
		Size:     int64(len(body)),
		Typeflag: tar.TypeReg,
	}))

	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	return buf.Bytes()
}

// requireMonotonic checks that percent never decreases within a phase.
func requireMonotonic(t *testing.T, progress []events.Event) {
	t.Helper()

	last := map[backend.Phase]int{}

	for _, ev := range progress {
		prev, ok := last[ev.Progress.Phase]
		if ok {
			require.GreaterOrEqual(t, ev.Progress.Percent, prev, ev.Progress.Message)
		}

		last[ev.Progress.Phase] = ev.Progress.Percent
	}
}

// messages returns the progress messages in order.
func messages(progress []events.Event) []string {
	out := make([]string, 0, len(progress))
	for _, ev := range progress {
		out = append(out, ev.Progress.Message)
	}

	return out
}

// TestInstall_ZipCompositeProgress verifies the 0..50 and 50..100 mapping and the final event.
func TestInstall_ZipCompositeProgress(t *testing.T) {
	t.Parallel()

	layout := backend.NewLayout(t.TempDir())
	fetcher := &fakeFetcher{
		payload: zipPayload(t, "build/bin/llama-server.exe", "build/bin/ggml.dll"),
		snapshots: []download.Progress{
			{Downloaded: 50, Total: 100},
			{Downloaded: 100, Total: 100},
			{Downloaded: 100, Total: 100, Done: true},
		},
	}
	sink := events.NewMemory()

	s := New(layout, fetcher, WithHost(backend.OSLinux, backend.ArchX8664))

	got, err := s.Install(context.Background(), Request{
		Server:  backend.KindLlamaCpp,
		Variant: backend.VariantCUDA12,
		OS:      backend.OSWindows,
	}, sink)
	require.NoError(t, err)
	require.Equal(t, layout.InstallDir(backend.KindLlamaCpp, backend.VariantCUDA12), got)
	require.FileExists(t, filepath.Join(got, "build", "bin", "llama-server.exe"))

	progress := sink.Progress()
	requireMonotonic(t, progress)

	require.Equal(t, []string{
		"Starting download...",
		"Downloaded 50 B of 100 B",
		"Downloaded 100 B of 100 B",
		"Downloaded 100 B of 100 B",
		"Extracting archive...",
		"Unpacking 1/2",
		"Unpacking 2/2",
		"Binaries installed successfully",
	}, messages(progress))

	percents := make([]int, 0, len(progress))
	for _, ev := range progress {
		percents = append(percents, ev.Progress.Percent)
		require.Equal(t, backend.ChannelInstallProgress, ev.Channel)
	}

	require.Equal(t, []int{0, 25, 50, 50, 50, 50, 75, 100}, percents)

	_, err = os.Stat(layout.TempFile(backend.KindLlamaCpp, backend.VariantCUDA12, ".zip"))
	require.True(t, os.IsNotExist(err))

	session, ok := s.Session(backend.KindLlamaCpp, backend.VariantCUDA12)
	require.True(t, ok)
	require.Equal(t, backend.SessionCompleted, session.Phase)
	require.Equal(t, 1, session.Attempts)
	require.EqualValues(t, 100, session.TotalSize)
	require.Contains(t, session.URL, "llama-b6134-bin-win-cuda-12.4-x64.zip")
}

// TestInstall_UnknownTotal checks the constant percent while the size is undeclared.
func TestInstall_UnknownTotal(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		payload:   zipPayload(t, "ollama.exe"),
		snapshots: []download.Progress{{Downloaded: 2048}},
	}
	sink := events.NewMemory()

	s := New(backend.NewLayout(t.TempDir()), fetcher, WithHost(backend.OSWindows, backend.ArchX8664))

	_, err := s.Install(context.Background(), Request{Server: backend.KindOllama, Variant: backend.VariantCPU}, sink)
	require.NoError(t, err)

	progress := sink.Progress()
	require.Equal(t, 25, progress[1].Progress.Percent)
	require.Equal(t, "Downloaded 2.0 KB", progress[1].Progress.Message)
}

// TestInstall_FailureKeepsPartialFile verifies a failed download leaves the temp file and a failed session.
func TestInstall_FailureKeepsPartialFile(t *testing.T) {
	t.Parallel()

	layout := backend.NewLayout(t.TempDir())
	fetcher := &fakeFetcher{
		payload: []byte("partial"),
		err:     &backend.HTTPStatusError{StatusCode: http.StatusServiceUnavailable},
	}
	sink := events.NewMemory()

	s := New(layout, fetcher, WithHost(backend.OSLinux, backend.ArchX8664))

	_, err := s.Install(context.Background(), Request{Server: backend.KindOllama, Variant: backend.VariantCPU}, sink)
	require.EqualError(t, err, "HTTP error: 503 Service Unavailable")

	require.FileExists(t, layout.TempFile(backend.KindOllama, backend.VariantCPU, ".tgz"))

	for _, ev := range sink.Progress() {
		require.Less(t, ev.Progress.Percent, 100)
	}

	session, ok := s.Session(backend.KindOllama, backend.VariantCPU)
	require.True(t, ok)
	require.Equal(t, backend.SessionFailed, session.Phase)
	require.Equal(t, "HTTP error: 503 Service Unavailable", session.Err)
}

// TestInstall_RejectsConcurrentSession verifies one active session per kind and variant.
func TestInstall_RejectsConcurrentSession(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		payload: zipPayload(t, "ollama.exe"),
		release: make(chan struct{}),
		urls:    make(chan string, 2),
	}

	s := New(backend.NewLayout(t.TempDir()), fetcher, WithHost(backend.OSWindows, backend.ArchX8664))
	req := Request{Server: backend.KindOllama, Variant: backend.VariantCPU}

	done := make(chan error, 1)

	go func() {
		_, err := s.Install(context.Background(), req, events.Noop{})
		done <- err
	}()

	select {
	case <-fetcher.urls:
	case <-time.After(5 * time.Second):
		t.Fatal("first install did not start")
	}

	_, err := s.Install(context.Background(), req, events.Noop{})
	require.ErrorIs(t, err, backend.ErrInstallInProgress)

	// A different variant is independent.
	session, ok := s.Session(backend.KindOllama, backend.VariantHIPRadeon)
	require.False(t, ok)
	require.Empty(t, session.URL)

	close(fetcher.release)
	require.NoError(t, <-done)

	require.Len(t, s.Sessions(backend.KindOllama), 1)
}

// TestInstall_UnsupportedVariant verifies resolver errors surface before any session exists.
func TestInstall_UnsupportedVariant(t *testing.T) {
	t.Parallel()

	s := New(backend.NewLayout(t.TempDir()), &fakeFetcher{}, WithHost(backend.OSLinux, backend.ArchX8664))

	_, err := s.Install(context.Background(), Request{Server: backend.KindLlamaCpp, Variant: backend.VariantCPUArm}, nil)
	require.ErrorIs(t, err, backend.ErrUnsupportedVariant)
	require.Empty(t, s.Sessions(backend.KindLlamaCpp))
}

// rewritingFetcher serves every asset from a local test server.
type rewritingFetcher struct {
	engine *download.Engine
	base   string
}

// Fetch implements Fetcher.
func (f *rewritingFetcher) Fetch(
	ctx context.Context,
	url, destination string,
	options ...download.FetchOption,
) (string, error) {
	return f.engine.Fetch(ctx, f.base+"/"+path.Base(url), destination, options...)
}

// TestInstall_TarGzOverHTTP runs the real download engine against a local server.
func TestInstall_TarGzOverHTTP(t *testing.T) {
	t.Parallel()

	payload := tarGzPayload(t, "bin/ollama", "#!/bin/sh\n")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ollama-linux-arm64.tgz" {
			http.NotFound(w, r)

			return
		}

		http.ServeContent(w, r, "ollama.tgz", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	layout := backend.NewLayout(t.TempDir())
	fetcher := &rewritingFetcher{
		engine: download.New(download.Options{Backoff: -1}),
		base:   srv.URL,
	}
	sink := events.NewMemory()

	s := New(layout, fetcher, WithHost(backend.OSLinux, backend.ArchAArch64))

	got, err := s.Install(context.Background(), Request{Server: backend.KindOllama, Variant: backend.VariantCPU}, sink)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(got, "bin", "ollama"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode().Perm()&0o100)

	progress := sink.Progress()
	requireMonotonic(t, progress)
	require.Equal(t, "Extraction completed", progress[len(progress)-2].Progress.Message)
	require.Equal(t, 99, progress[len(progress)-2].Progress.Percent)
	require.Equal(t, 100, progress[len(progress)-1].Progress.Percent)
}

// TestDiscardDownload_KeepsUnknownFormat verifies only unpacked archives are removed.
func TestDiscardDownload_KeepsUnknownFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	unknown := filepath.Join(dir, "llama-cpp_cpu_temp.bin")
	archived := filepath.Join(dir, "llama-cpp_cpu_temp.zip")

	require.NoError(t, os.WriteFile(unknown, []byte("artifact"), 0o600))
	require.NoError(t, os.WriteFile(archived, []byte("archive"), 0o600))

	discardDownload(context.Background(), backend.FormatUnknown, unknown)
	discardDownload(context.Background(), backend.FormatZip, archived)

	_, err := os.Stat(unknown)
	require.NoError(t, err)

	_, err = os.Stat(archived)
	require.True(t, os.IsNotExist(err))

	// A missing file is not an error.
	discardDownload(context.Background(), backend.FormatZip, archived)
}
