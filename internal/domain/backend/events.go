package backend

const (
	// ChannelInstallProgress is the event channel for install progress.
	ChannelInstallProgress = "binary_download_progress"

	// logChannelSuffix completes the per-kind log channel name.
	logChannelSuffix = "_server_log"
)

// LogChannel returns the event channel carrying log lines of kind.
func LogChannel(kind Kind) string {
	return string(kind) + logChannelSuffix
}

// Phase is the stage of an install a progress event belongs to.
type Phase string

const (
	// PhaseDownload covers the transfer, percent 0 to 50.
	PhaseDownload Phase = "download"
	// PhaseExtract covers unpacking, percent 50 to 100.
	PhaseExtract Phase = "extract"
)

// ProgressEvent reports install progress on the composite 0..100 scale.
type ProgressEvent struct {
	// Server is the kind being installed.
	Server Kind
	// Variant is the variant being installed.
	Variant Variant
	// Phase is the install stage.
	Phase Phase
	// Percent is the composite progress, non-decreasing within a phase.
	Percent int
	// Message is a human readable status line.
	Message string
}

// Stream names the child output a log line came from.
type Stream string

const (
	// StreamStdout is the child's standard output.
	StreamStdout Stream = "stdout"
	// StreamStderr is the child's standard error.
	StreamStderr Stream = "stderr"
)

// LogLineEvent carries one completed or force-flushed line of child output.
type LogLineEvent struct {
	// Server is the kind that produced the line.
	Server Kind
	// Stream is stdout or stderr.
	Stream Stream
	// Line is the text without its terminator.
	Line string
}
