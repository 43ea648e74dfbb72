package resolver

import (
	"fmt"
	"path"
	"strings"

	"github.com/oshokin/inference-runtime/internal/domain/backend"
)

const (
	// DefaultLlamaCppTag is the pinned llama.cpp release used when no tag is given.
	DefaultLlamaCppTag = "b6134"

	// llamaCppReleaseURL is the llama.cpp release download prefix.
	llamaCppReleaseURL = "https://github.com/ggml-org/llama.cpp/releases/download/"
	// ollamaLatestURL serves the newest Ollama release assets.
	ollamaLatestURL = "https://github.com/ollama/ollama/releases/latest/download/"
	// ollamaReleaseURL serves assets of a tagged Ollama release.
	ollamaReleaseURL = "https://github.com/ollama/ollama/releases/download/"
)

// Request describes the asset to resolve.
type Request struct {
	// Server is the server kind.
	Server backend.Kind
	// OS is the target operating system.
	OS backend.OS
	// Arch is the target CPU architecture.
	Arch backend.Arch
	// Variant is the hardware build flavour.
	Variant backend.Variant
	// Tag overrides the pinned release tag when set.
	Tag string
}

// Asset is a resolved release asset.
type Asset struct {
	// URL is the download location.
	URL string
	// FileName is the last URL path segment.
	FileName string
	// Format is the packaging derived from the file name.
	Format backend.Format
}

// variantTable maps an allowed variant to an asset suffix.
type variantTable map[backend.Variant]string

// llamaCppAssets lists llama.cpp asset suffixes per OS; names are llama-<tag>-bin-<suffix>.
//
//nolint:gochecknoglobals // Static lookup table.
var llamaCppAssets = map[backend.OS]variantTable{
	backend.OSWindows: {
		backend.VariantCPU:       "win-cpu-x64.zip",
		backend.VariantCPUArm:    "win-cpu-arm64.zip",
		backend.VariantCUDA12:    "win-cuda-12.4-x64.zip",
		backend.VariantHIPRadeon: "win-hip-radeon-x64.zip",
		backend.VariantVulkan:    "win-vulkan-x64.zip",
	},
	backend.OSMacOS: {
		backend.VariantCPU:    "macos-universal.zip",
		backend.VariantCPUArm: "macos-universal.zip",
		backend.VariantVulkan: "macos-universal.zip",
	},
	backend.OSLinux: {
		backend.VariantCPU:       "linux-x64.tar.gz",
		backend.VariantCUDA12:    "linux-cuda-12.4-x64.tar.gz",
		backend.VariantVulkan:    "linux-vulkan-x64.tar.gz",
		backend.VariantHIPRadeon: "linux-rocm-x64.tar.gz",
	},
}

// ollamaAssets lists full Ollama asset names per OS.
//
//nolint:gochecknoglobals // Static lookup table.
var ollamaAssets = map[backend.OS]variantTable{
	backend.OSWindows: {
		backend.VariantCPU:       "ollama-windows-amd64.zip",
		backend.VariantCPUArm:    "ollama-windows-arm64.zip",
		backend.VariantHIPRadeon: "ollama-windows-amd64-rocm.zip",
	},
	backend.OSLinux: {
		backend.VariantCPU:       "ollama-linux-amd64.tgz",
		backend.VariantCPUArm:    "ollama-linux-arm64.tgz",
		backend.VariantHIPRadeon: "ollama-linux-amd64-rocm.tgz",
	},
	backend.OSMacOS: {
		backend.VariantCPU:    "Ollama.dmg",
		backend.VariantCPUArm: "Ollama.dmg",
	},
}

// Resolve returns the release asset for the request.
func Resolve(req Request) (*Asset, error) {
	var (
		assetURL string
		err      error
	)

	switch req.Server {
	case backend.KindLlamaCpp:
		assetURL, err = resolveLlamaCpp(req)
	case backend.KindOllama:
		assetURL, err = resolveOllama(req)
	default:
		return nil, fmt.Errorf("%w: %q", backend.ErrUnknownServer, req.Server)
	}

	if err != nil {
		return nil, err
	}

	return &Asset{
		URL:      assetURL,
		FileName: path.Base(assetURL),
		Format:   backend.FormatFromName(assetURL),
	}, nil
}

// resolveLlamaCpp returns the full llama.cpp asset URL.
func resolveLlamaCpp(req Request) (string, error) {
	suffix, err := lookup(llamaCppAssets, req)
	if err != nil {
		return "", err
	}

	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		tag = DefaultLlamaCppTag
	}

	return llamaCppReleaseURL + tag + "/llama-" + tag + "-bin-" + suffix, nil
}

// resolveOllama returns the full Ollama asset URL.
func resolveOllama(req Request) (string, error) {
	name, err := lookup(ollamaAssets, req)
	if err != nil {
		return "", err
	}

	// The generic CPU build follows the host CPU on Linux.
	if req.OS == backend.OSLinux && req.Variant == backend.VariantCPU && req.Arch.IsARM() {
		name = ollamaAssets[backend.OSLinux][backend.VariantCPUArm]
	}

	// ROCm builds are x86_64 only.
	if req.Variant == backend.VariantHIPRadeon && req.Arch.IsARM() {
		return "", fmt.Errorf("%w: %s %s on %s", backend.ErrUnsupportedPlatform, req.Variant, req.OS, req.Arch)
	}

	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		return ollamaLatestURL + name, nil
	}

	return ollamaReleaseURL + tag + "/" + name, nil
}

// lookup finds the asset entry of req in table.
func lookup(table map[backend.OS]variantTable, req Request) (string, error) {
	variants, ok := table[req.OS]
	if !ok {
		return "", fmt.Errorf("%w: %s has no %s build", backend.ErrUnsupportedPlatform, req.OS, req.Server)
	}

	name, ok := variants[req.Variant]
	if !ok {
		return "", fmt.Errorf("%w: %q for %s on %s", backend.ErrUnsupportedVariant, req.Variant, req.Server, req.OS)
	}

	return name, nil
}
