package backend

import "time"

// ProcessState is the supervisor view of a server process.
type ProcessState string

const (
	// StateNotRunning means no process is recorded.
	StateNotRunning ProcessState = "not_running"
	// StateStarting means the executable is being located and spawned.
	StateStarting ProcessState = "starting"
	// StateRunning means a pid is recorded for the kind.
	StateRunning ProcessState = "running"
	// StateStopping means the process tree is being terminated.
	StateStopping ProcessState = "stopping"
)

// ServerProcess describes a supervised server process.
type ServerProcess struct {
	// PID is the operating system process id.
	PID int
	// Server is the server kind.
	Server Kind
	// Variant is the variant the process was started from.
	Variant Variant
	// Port is the loopback port the server listens on.
	Port int
	// State is the lifecycle state.
	State ProcessState
	// StartedAt is when the process was spawned by this supervisor.
	StartedAt time.Time
}

// SessionPhase is the lifecycle state of a download session.
type SessionPhase string

const (
	// SessionPending means the session has not started transferring.
	SessionPending SessionPhase = "pending"
	// SessionInProgress means bytes are being transferred.
	SessionInProgress SessionPhase = "in_progress"
	// SessionVerifying means the transfer ended and the archive is being installed.
	SessionVerifying SessionPhase = "verifying"
	// SessionCompleted means the install finished.
	SessionCompleted SessionPhase = "completed"
	// SessionFailed means the install stopped with an error.
	SessionFailed SessionPhase = "failed"
)

// DownloadSession tracks one install request from download to unpack.
type DownloadSession struct {
	// Server is the kind being installed.
	Server Kind
	// Variant is the variant being installed.
	Variant Variant
	// URL is the resolved asset location.
	URL string
	// TempPath is the deterministic partial download file.
	TempPath string
	// TargetPath is the install directory.
	TargetPath string
	// TotalSize is the declared size in bytes, zero when unknown.
	TotalSize int64
	// Transferred is the number of bytes on disk.
	Transferred int64
	// Attempts is the number of transfer attempts made.
	Attempts int
	// Phase is the session state.
	Phase SessionPhase
	// Err is the failure text of a failed session.
	Err string
}

// InstalledServer describes a located installation.
type InstalledServer struct {
	// Server is the server kind.
	Server Kind
	// Variant is the variant.
	Variant Variant
	// InstallDir is the install directory.
	InstallDir string
	// Executable is the resolved executable path, empty when only a marker was found.
	Executable string
}
