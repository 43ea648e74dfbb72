package supervisor

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
	"github.com/oshokin/inference-runtime/internal/domain/options"
)

const (
	// ContextSize is the fixed context window passed to every server.
	ContextSize = 2048
	// LoopbackHost is the only address servers bind to.
	LoopbackHost = "127.0.0.1"
	// fullGPUOffload offloads every model layer.
	fullGPUOffload = 99
	// remoteModelPrefix selects a registry model instead of a local file.
	remoteModelPrefix = "hf:"

	// flagsKey holds command line flags in a launch options tree.
	flagsKey = "flags"
	// envKey holds environment variables in a launch options tree.
	envKey = "env"
)

// ModelRef is exactly one of a local model file or a remote registry reference.
type ModelRef struct {
	// LocalPath is a model file on disk.
	LocalPath string
	// Remote is a registry reference such as "org/repo:quant".
	Remote string
}

// ParseModelRef interprets "hf:<ref>" as a remote reference and anything else as a local path.
func ParseModelRef(s string) ModelRef {
	s = strings.TrimSpace(s)
	if remote, ok := strings.CutPrefix(s, remoteModelPrefix); ok {
		return ModelRef{Remote: strings.TrimSpace(remote)}
	}

	return ModelRef{LocalPath: s}
}

// launch is a resolved command line.
type launch struct {
	args []string
	env  []string
}

// defaultOptions returns an empty launch tree.
func defaultOptions() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		flagsKey: structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{}}),
		envKey:   structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{}}),
	}}
}

// buildLaunch computes arguments and extra environment for a start request.
// Overrides may add flags and variables; model, context size, offload, host
// and port are always the fixed values.
func buildLaunch(req StartRequest, overrides ...*structpb.Struct) (*launch, error) {
	if req.Port <= 0 || req.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidPort, req.Port)
	}

	tree := defaultOptions()
	for _, override := range overrides {
		if override != nil {
			tree = options.MergeStruct(tree, override)
		}
	}

	flags := subtree(tree, flagsKey)
	env := subtree(tree, envKey)

	switch req.Server {
	case backend.KindLlamaCpp:
		model := ParseModelRef(req.Model)

		// The model is addressed by exactly one of -m and -hf.
		deleteFields(flags, "-m", "--model", "-hf", "--hf-repo")

		switch {
		case model.Remote != "":
			setField(flags, "-hf", model.Remote)
		case model.LocalPath != "":
			if _, err := os.Stat(model.LocalPath); err != nil {
				return nil, fmt.Errorf("%w: %s", backend.ErrModelNotFound, model.LocalPath)
			}

			setField(flags, "-m", model.LocalPath)
		default:
			return nil, ErrModelRequired
		}

		offload := 0
		if req.Variant.UsesGPU() {
			offload = fullGPUOffload
		}

		deleteFields(flags, "--ctx-size", "--n-gpu-layers", "--gpu-layers")
		setField(flags, "-c", ContextSize)
		setField(flags, "-ngl", offload)
		setField(flags, "--host", LoopbackHost)
		setField(flags, "--port", req.Port)

		return &launch{args: orderedLlamaArgs(flags), env: options.Env(env)}, nil
	case backend.KindOllama:
		setField(env, "OLLAMA_HOST", LoopbackHost+":"+strconv.Itoa(req.Port))
		setField(env, "OLLAMA_CONTEXT_LENGTH", ContextSize)

		if !req.Variant.UsesGPU() {
			setField(env, "OLLAMA_LLM_LIBRARY", "cpu")
		}

		return &launch{args: append([]string{"serve"}, options.Flags(flags)...), env: options.Env(env)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownServer, req.Server)
	}
}

// fixedLlamaFlags are rendered first, in this order.
//
//nolint:gochecknoglobals // Static ordering table.
var fixedLlamaFlags = []string{"-m", "-hf", "-c", "-ngl", "--host", "--port"}

// orderedLlamaArgs renders the fixed llama-server flags first, then the rest in key order.
func orderedLlamaArgs(flags *structpb.Struct) []string {
	rest := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(flags.GetFields()))}
	for key, value := range flags.GetFields() {
		rest.Fields[key] = value
	}

	var args []string

	for _, key := range fixedLlamaFlags {
		value, ok := rest.Fields[key]
		if !ok {
			continue
		}

		args = append(args, options.Flags(&structpb.Struct{Fields: map[string]*structpb.Value{key: value}})...)
		delete(rest.Fields, key)
	}

	return append(args, options.Flags(rest)...)
}

// subtree returns the object stored under key, creating it when missing or not an object.
func subtree(tree *structpb.Struct, key string) *structpb.Struct {
	if s := tree.GetFields()[key].GetStructValue(); s != nil {
		return s
	}

	s := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	tree.Fields[key] = structpb.NewStructValue(s)

	return s
}

// setField stores a string or integer value.
func setField(s *structpb.Struct, key string, value any) {
	switch v := value.(type) {
	case string:
		s.Fields[key] = structpb.NewStringValue(v)
	case int:
		s.Fields[key] = structpb.NewNumberValue(float64(v))
	}
}

// deleteFields removes keys that would conflict with fixed flags.
func deleteFields(s *structpb.Struct, keys ...string) {
	for _, key := range keys {
		delete(s.Fields, key)
	}
}
