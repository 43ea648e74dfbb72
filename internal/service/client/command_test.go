package client

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/inference-runtime/internal/service/common"
)

// TestParseOverrides verifies flag and env pairs become the overrides tree.
func TestParseOverrides(t *testing.T) {
	t.Parallel()

	tree, err := ParseOverrides([]string{"flash-attn=true", "threads=8", "split-mode=row"}, []string{"CUDA_VISIBLE_DEVICES=0"})
	require.NoError(t, err)

	flags := tree.GetFields()["flags"].GetStructValue().GetFields()
	require.True(t, flags["flash-attn"].GetBoolValue())
	require.InDelta(t, 8.0, flags["threads"].GetNumberValue(), 0)
	require.Equal(t, "row", flags["split-mode"].GetStringValue())

	env := tree.GetFields()["env"].GetStructValue().GetFields()
	require.Equal(t, "0", env["CUDA_VISIBLE_DEVICES"].GetStringValue())
}

// TestParseOverrides_EmptyAndInvalid checks the nil result and malformed pairs.
func TestParseOverrides_EmptyAndInvalid(t *testing.T) {
	t.Parallel()

	tree, err := ParseOverrides(nil, nil)
	require.NoError(t, err)
	require.Nil(t, tree)

	_, err = ParseOverrides([]string{"threads"}, nil)
	require.ErrorIs(t, err, errInvalidPair)

	_, err = ParseOverrides(nil, []string{"=1"})
	require.ErrorIs(t, err, errInvalidPair)
}

// TestFormatStatus verifies process and session lines.
func TestFormatStatus(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got := formatStatus(&common.ServerStatus{
		Server:    "llama-cpp",
		State:     "running",
		PID:       42,
		Variant:   "cpu",
		Port:      8080,
		StartedAt: started,
		Sessions: []common.Session{
			{Variant: "cpu", Phase: "completed", Transferred: 2048, TotalSize: 2048, Attempts: 1},
			{Variant: "cuda_12", Phase: "failed", Transferred: 10, Attempts: 3, Error: "network error"},
		},
	})

	require.Equal(t,
		"llama-cpp: running (pid 42, port 8080, variant cpu, since "+started.Format(time.RFC3339)+")\n"+
			"  install cpu: completed, 2.0 KB of 2.0 KB, attempts 1\n"+
			"  install cuda_12: failed, 10 B, attempts 3, error: network error\n",
		got)

	require.Equal(t, "ollama: not_running\n", formatStatus(&common.ServerStatus{Server: "ollama", State: "not_running"}))
}

// TestRun_MissingConfig verifies Run fails before dialing when settings cannot be read.
func TestRun_MissingConfig(t *testing.T) {
	t.Parallel()

	called := false

	err := Run(context.Background(), &Options{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		Out:        io.Discard,
	}, func(context.Context, *common.Client, io.Writer) error {
		called = true

		return nil
	})

	require.Error(t, err)
	require.False(t, called)
}
