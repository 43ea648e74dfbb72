package backend

import "path/filepath"

// runtimeDirName is the directory under the data dir that holds all installs.
const runtimeDirName = "runtime"

// Layout maps server kinds and variants to paths under the data directory.
type Layout struct {
	// DataDir is the application data directory.
	DataDir string
}

// NewLayout returns a Layout rooted at dataDir.
func NewLayout(dataDir string) Layout {
	return Layout{DataDir: filepath.Clean(dataDir)}
}

// RuntimeDir returns <data>/runtime/<kind>.
func (l Layout) RuntimeDir(kind Kind) string {
	return filepath.Join(l.DataDir, runtimeDirName, string(kind))
}

// InstallDir returns <data>/runtime/<kind>/<variant>.
func (l Layout) InstallDir(kind Kind, variant Variant) string {
	return filepath.Join(l.RuntimeDir(kind), string(variant))
}

// TempFile returns the deterministic partial download path for (kind, variant).
func (l Layout) TempFile(kind Kind, variant Variant, ext string) string {
	return filepath.Join(l.DataDir, string(kind)+"_"+string(variant)+"_temp"+ext)
}

// PIDFile returns <data>/runtime/<kind>/<server-binary>.pid.
func (l Layout) PIDFile(kind Kind) string {
	return filepath.Join(l.RuntimeDir(kind), kind.ServerBinary()+".pid")
}

// ExecutableNames returns the file names accepted as the server executable
// of kind on the given OS, in lookup order.
func ExecutableNames(kind Kind, host OS) []string {
	switch {
	case kind == KindLlamaCpp && host == OSWindows:
		return []string{"llama-server.exe"}
	case kind == KindLlamaCpp:
		return []string{"llama-server"}
	case kind == KindOllama && host == OSWindows:
		return []string{"ollama.exe", "ollama-windows-amd64.exe", "ollama-windows-arm64.exe"}
	case kind == KindOllama:
		return []string{"ollama"}
	default:
		return nil
	}
}

// InstalledMarkers returns extra names that count as an installation without
// being runnable, such as a placed installer image.
func InstalledMarkers(kind Kind, host OS) []string {
	if kind == KindOllama && host == OSMacOS {
		return []string{"Ollama.dmg"}
	}

	return nil
}
