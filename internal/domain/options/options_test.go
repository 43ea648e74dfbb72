package options

import (
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

// mustValue builds a structpb.Value from a Go literal.
func mustValue(t *testing.T, v any) *structpb.Value {
	t.Helper()

	value, err := structpb.NewValue(v)
	require.NoError(t, err)

	return value
}

// TestMerge_RecursiveObjects verifies objects merge key by key and other values replace.
func TestMerge_RecursiveObjects(t *testing.T) {
	t.Parallel()

	base := mustValue(t, map[string]any{
		"flags": map[string]any{"-c": 2048, "--host": "127.0.0.1"},
		"env":   map[string]any{"A": "1"},
		"list":  []any{1, 2, 3},
		"keep":  true,
	})
	override := mustValue(t, map[string]any{
		"flags": map[string]any{"--threads": 8, "--host": "0.0.0.0"},
		"list":  []any{9},
		"env":   "replaced",
	})

	got := Merge(base, override).AsInterface()

	require.Equal(t, map[string]any{
		"flags": map[string]any{"-c": float64(2048), "--host": "0.0.0.0", "--threads": float64(8)},
		"env":   "replaced",
		"list":  []any{float64(9)},
		"keep":  true,
	}, got)

	// Inputs are untouched.
	require.Equal(t, "127.0.0.1", base.GetStructValue().GetFields()["flags"].GetStructValue().GetFields()["--host"].GetStringValue())
	require.Len(t, base.GetStructValue().GetFields()["list"].GetListValue().GetValues(), 3)
}

// TestMerge_ScalarsAndNil checks replacement of non-object roots and nil handling.
func TestMerge_ScalarsAndNil(t *testing.T) {
	t.Parallel()

	require.Equal(t, "b", Merge(mustValue(t, "a"), mustValue(t, "b")).GetStringValue())
	require.Equal(t, "a", Merge(mustValue(t, "a"), nil).GetStringValue())
	require.Equal(t, float64(1), Merge(mustValue(t, map[string]any{"x": 1}), mustValue(t, 1)).GetNumberValue())

	_, isNull := Merge(nil, nil).GetKind().(*structpb.Value_NullValue)
	require.True(t, isNull)
}

// TestFlagsAndEnv verifies rendering of flags and environment variables.
func TestFlagsAndEnv(t *testing.T) {
	t.Parallel()

	flags, err := structpb.NewStruct(map[string]any{
		"--port":       8080,
		"--flash-attn": true,
		"--mlock":      false,
		"--lora":       []any{"a.gguf", "b.gguf"},
		"--temp":       0.7,
		"--ignored":    map[string]any{"x": 1},
		"--none":       nil,
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"--flash-attn",
		"--lora", "a.gguf", "--lora", "b.gguf",
		"--port", "8080",
		"--temp", "0.7",
	}, Flags(flags))

	env, err := structpb.NewStruct(map[string]any{"OLLAMA_HOST": "127.0.0.1:1", "N": 2, "SKIP": nil})
	require.NoError(t, err)
	require.Equal(t, []string{"N=2", "OLLAMA_HOST=127.0.0.1:1"}, Env(env))
}
