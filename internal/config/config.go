// Package config holds the plain data structures that describe how a pnafs
// mount is configured: log severity/format/rotation and the mount
// parameters gathered from the CLI.
package config

// Severity is a logging level name, ordered from most to least verbose.
type Severity string

const (
	TRACE   Severity = "TRACE"
	DEBUG   Severity = "DEBUG"
	INFO    Severity = "INFO"
	WARNING Severity = "WARNING"
	ERROR   Severity = "ERROR"
	OFF     Severity = "OFF"
)

// LogFormat selects the on-disk/stderr rendering of log records.
type LogFormat string

const (
	FormatText LogFormat = "text"
	FormatJSON LogFormat = "json"
)

// LogRotateConfig mirrors lumberjack's rotation knobs.
type LogRotateConfig struct {
	MaxFileSizeMB  int
	BackupFileCount int
	Compress        bool
}

// DefaultLogRotateConfig holds sane defaults for a single-process CLI
// tool: a handful of modest backups, compressed.
func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{
		MaxFileSizeMB:   10,
		BackupFileCount: 2,
		Compress:        true,
	}
}

// LogConfig is the logger's full configuration surface.
type LogConfig struct {
	Severity Severity
	Format   LogFormat
	File     string
	Rotate   LogRotateConfig
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Severity: INFO,
		Format:   FormatText,
		Rotate:   DefaultLogRotateConfig(),
	}
}

// MountConfig gathers everything the mount subcommand needs to start the
// engine and the kernel bridge.
type MountConfig struct {
	ArchivePath string
	MountPoint  string
	Password    string
	AllowRoot   bool
	AllowOther  bool
	ReadOnly    bool
	Log         LogConfig
}
