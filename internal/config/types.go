package config

import "time"

// Config is the agent configuration after all layers are merged.
type Config struct {
	// Source is the data source locator roles are fetched from.
	Source string `koanf:"source" validate:"required"`
	// RolesSource locates the role assignment file. Empty means
	// <source>/roles.yaml.
	RolesSource string `koanf:"roles_source"`
	PartAsWhole bool   `koanf:"part_as_whole"`

	Owner string `koanf:"owner" validate:"required"`
	Group string `koanf:"group" validate:"required"`

	StagingDir string `koanf:"staging_dir"`
	LiveRoot   string `koanf:"live_root" validate:"required"`
	// Sync selects how the fix tree is merged onto the live root.
	Sync string `koanf:"sync" validate:"oneof=tree rsync"`

	StateDir       string        `koanf:"state_dir" validate:"required"`
	IgnoreFile     string        `koanf:"ignore_file"`
	RebootFile     string        `koanf:"reboot_file"`
	RebootInterval time.Duration `koanf:"reboot_interval" validate:"gte=0"`

	Daemon  DaemonConfig  `koanf:"daemon"`
	Scan    ScanConfig    `koanf:"scan"`
	HTTP    HTTPConfig    `koanf:"http"`
	SSH     SSHConfig     `koanf:"ssh"`
	Host    HostConfig    `koanf:"host"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// DaemonConfig controls the init-mode loop.
type DaemonConfig struct {
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// ScanConfig controls the manifest scanner.
type ScanConfig struct {
	// Exclude holds doublestar patterns relative to the role's root.
	Exclude []string `koanf:"exclude"`
}

// HTTPConfig configures the HTTP and HTTPS transports.
type HTTPConfig struct {
	Insecure bool          `koanf:"insecure"`
	Timeout  time.Duration `koanf:"timeout" validate:"gte=0"`
}

// SSHConfig configures the SFTP transport.
type SSHConfig struct {
	User         string        `koanf:"user"`
	IdentityFile string        `koanf:"identity_file"`
	KnownHosts   string        `koanf:"known_hosts"`
	Timeout      time.Duration `koanf:"timeout" validate:"gte=0"`
}

// HostConfig overrides detected host facts.
type HostConfig struct {
	Name   string `koanf:"name"`
	Domain string `koanf:"domain"`
	OS     string `koanf:"os"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
	// Output is stderr, stdout or a file path.
	Output string `koanf:"output"`
	// File receives the log when running quietly.
	File string `koanf:"file"`
}

// MetricsConfig configures the node exporter textfile.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}
