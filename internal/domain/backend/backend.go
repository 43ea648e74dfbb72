package backend

import (
	"fmt"
	"runtime"
	"strings"
)

// Kind identifies an inference server distribution.
type Kind string

const (
	// KindLlamaCpp is the llama.cpp llama-server binary.
	KindLlamaCpp Kind = "llama-cpp"
	// KindOllama is the Ollama server binary.
	KindOllama Kind = "ollama"
)

// Kinds lists every supported server kind.
func Kinds() []Kind {
	return []Kind{KindLlamaCpp, KindOllama}
}

// ParseKind validates a server kind name.
func ParseKind(s string) (Kind, error) {
	switch kind := Kind(strings.ToLower(strings.TrimSpace(s))); kind {
	case KindLlamaCpp, KindOllama:
		return kind, nil
	case "llamacpp", "llama.cpp":
		return KindLlamaCpp, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownServer, s)
	}
}

// ServerBinary returns the base name of the server executable, without extension.
func (k Kind) ServerBinary() string {
	if k == KindLlamaCpp {
		return "llama-server"
	}

	return string(k)
}

// Variant is a hardware build flavour of a server distribution.
type Variant string

const (
	// VariantCPU is the x86_64 CPU-only build.
	VariantCPU Variant = "cpu"
	// VariantCPUArm is the ARM64 CPU-only build.
	VariantCPUArm Variant = "cpu_arm"
	// VariantCUDA12 is the NVIDIA CUDA 12 build.
	VariantCUDA12 Variant = "cuda_12"
	// VariantHIPRadeon is the AMD HIP/ROCm build.
	VariantHIPRadeon Variant = "hip_radeon"
	// VariantVulkan is the Vulkan build.
	VariantVulkan Variant = "vulkan"
)

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	switch variant := Variant(strings.ToLower(strings.TrimSpace(s))); variant {
	case VariantCPU, VariantCPUArm, VariantCUDA12, VariantHIPRadeon, VariantVulkan:
		return variant, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedVariant, s)
	}
}

// UsesGPU reports whether the variant offloads model layers to a GPU.
func (v Variant) UsesGPU() bool {
	return v != VariantCPU && v != VariantCPUArm
}

// RequiresARM reports whether the variant only runs on ARM64 hosts.
func (v Variant) RequiresARM() bool {
	return v == VariantCPUArm
}

// OS is a host operating system as named in release asset tables.
type OS string

const (
	// OSWindows is Microsoft Windows.
	OSWindows OS = "windows"
	// OSLinux is Linux.
	OSLinux OS = "linux"
	// OSMacOS is Apple macOS.
	OSMacOS OS = "macos"
)

// ParseOS validates an OS name, accepting common aliases.
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "windows", "win", "win32":
		return OSWindows, nil
	case "linux":
		return OSLinux, nil
	case "macos", "mac", "darwin", "osx":
		return OSMacOS, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, s)
	}
}

// HostOS returns the OS the process runs on.
// Hosts outside the asset tables are returned verbatim and rejected later by the resolver.
func HostOS() OS {
	host, err := ParseOS(runtime.GOOS)
	if err != nil {
		return OS(runtime.GOOS)
	}

	return host
}

// Arch is a CPU architecture as named in release asset tables.
type Arch string

const (
	// ArchX8664 is 64-bit x86.
	ArchX8664 Arch = "x86_64"
	// ArchAArch64 is 64-bit ARM.
	ArchAArch64 Arch = "aarch64"
)

// ParseArch validates an architecture name, accepting Go and uname spellings.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x86_64", "amd64", "x64":
		return ArchX8664, nil
	case "aarch64", "arm64":
		return ArchAArch64, nil
	default:
		return "", fmt.Errorf("%w: architecture %q", ErrUnsupportedPlatform, s)
	}
}

// HostArch returns the architecture the process runs on.
func HostArch() Arch {
	host, err := ParseArch(runtime.GOARCH)
	if err != nil {
		return Arch(runtime.GOARCH)
	}

	return host
}

// IsARM reports whether the architecture is 64-bit ARM.
func (a Arch) IsARM() bool {
	return a == ArchAArch64
}

// Format is the packaging of a release asset.
type Format string

const (
	// FormatZip is a zip archive.
	FormatZip Format = "zip"
	// FormatTarGz is a gzip-compressed tar archive.
	FormatTarGz Format = "tar.gz"
	// FormatInstaller is an opaque installer image placed as-is.
	FormatInstaller Format = "installer"
	// FormatUnknown is anything else; it is downloaded and left untouched.
	FormatUnknown Format = "unknown"
)

// FormatFromName derives the asset format from a file name or URL.
func FormatFromName(name string) Format {
	name = strings.ToLower(name)

	switch {
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(name, ".dmg"), strings.HasSuffix(name, ".exe"):
		return FormatInstaller
	default:
		return FormatUnknown
	}
}

// TempExtension returns the extension used for the partial download file.
func TempExtension(name string) string {
	name = strings.ToLower(name)

	switch {
	case strings.HasSuffix(name, ".zip"):
		return ".zip"
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return ".tgz"
	case strings.HasSuffix(name, ".dmg"):
		return ".dmg"
	case strings.HasSuffix(name, ".exe"):
		return ".exe"
	default:
		return ".bin"
	}
}
