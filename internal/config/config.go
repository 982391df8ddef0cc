package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/javanstorm/vmbundle/internal/diskutil"
	"github.com/javanstorm/vmbundle/internal/launch"
	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

// DatabaseName is the instance database file inside DataDir.
const DatabaseName = "instances.db"

// Config holds all vmbundle configuration.
type Config struct {
	// DataDir holds the instance database.
	DataDir string `mapstructure:"data_dir"`

	// BundleDir is the default container directory for new bundles.
	BundleDir string `mapstructure:"bundle_dir"`

	// DiskutilPath is the disk image helper binary.
	DiskutilPath string `mapstructure:"diskutil_path"`

	// DiskutilSudo runs the helper through "sudo -n".
	DiskutilSudo bool `mapstructure:"diskutil_sudo"`

	// ImageFormat is the sparse image format requested on create.
	ImageFormat string `mapstructure:"image_format"`

	// RestoreImageURL, if set, is downloaded directly instead of asking
	// the virtualization engine for the latest image.
	RestoreImageURL string `mapstructure:"restore_image_url"`

	// CPUs, MemoryGiB and StorageGiB size new instances. Zero means
	// derive from the host.
	CPUs       uint64 `mapstructure:"cpus"`
	MemoryGiB  uint64 `mapstructure:"memory_gib"`
	StorageGiB uint64 `mapstructure:"storage_gib"`

	// StopTimeout is how long a shutting-down guest may take before it
	// is killed.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	// LogLevel is a logrus level name.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"log_format"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	paths, err := GetPaths()
	if err != nil {
		// Fallback if we can't determine home directory
		paths = &Paths{
			DataDir:   "/tmp/vmbundle",
			BundleDir: "/tmp/vmbundle/VMs",
		}
	}

	return &Config{
		DataDir:      paths.DataDir,
		BundleDir:    paths.BundleDir,
		DiskutilPath: diskutil.DefaultBinary,
		ImageFormat:  diskutil.DefaultFormat,
		StorageGiB:   launch.DefaultStorageGiB,
		StopTimeout:  30 * time.Second,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

// DatabasePath returns the instance database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseName)
}

// Launch returns the launch configuration for a new instance, filling
// unset fields from the host-derived recommendation.
func (c *Config) Launch(limits hypervisor.Limits, host hypervisor.Host) launch.Config {
	lc := launch.Recommended(limits, host)
	if c.CPUs != 0 {
		lc.CPUCores = c.CPUs
	}
	if c.MemoryGiB != 0 {
		lc.MemoryGiB = c.MemoryGiB
	}
	if c.StorageGiB != 0 {
		lc.StorageGiB = c.StorageGiB
	}
	return lc
}

// Global holds the loaded configuration.
var Global *Config

// Load reads configuration from file, environment, and defaults into
// Global. An explicit file, if given, must exist.
func Load(explicit string) error {
	cfg, err := load(viper.New(), explicit)
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

func load(v *viper.Viper, explicit string) (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to determine paths: %w", err)
	}

	defaults := DefaultConfig()
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("bundle_dir", defaults.BundleDir)
	v.SetDefault("diskutil_path", defaults.DiskutilPath)
	v.SetDefault("diskutil_sudo", defaults.DiskutilSudo)
	v.SetDefault("image_format", defaults.ImageFormat)
	v.SetDefault("restore_image_url", defaults.RestoreImageURL)
	v.SetDefault("cpus", defaults.CPUs)
	v.SetDefault("memory_gib", defaults.MemoryGiB)
	v.SetDefault("storage_gib", defaults.StorageGiB)
	v.SetDefault("stop_timeout", defaults.StopTimeout)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(paths.DataDir)
		v.AddConfigPath(paths.ConfigDir)
	}

	// Environment variable support: VMBUNDLE_DATA_DIR, VMBUNDLE_CPUS, etc.
	v.SetEnvPrefix("VMBUNDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional unless explicit)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || explicit != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

// Settings returns every effective setting by key, for display.
func (c *Config) Settings() [][2]string {
	return [][2]string{
		{"data_dir", c.DataDir},
		{"bundle_dir", c.BundleDir},
		{"diskutil_path", c.DiskutilPath},
		{"diskutil_sudo", fmt.Sprint(c.DiskutilSudo)},
		{"image_format", c.ImageFormat},
		{"restore_image_url", c.RestoreImageURL},
		{"cpus", fmt.Sprint(c.CPUs)},
		{"memory_gib", fmt.Sprint(c.MemoryGiB)},
		{"storage_gib", fmt.Sprint(c.StorageGiB)},
		{"stop_timeout", c.StopTimeout.String()},
		{"log_level", c.LogLevel},
		{"log_format", c.LogFormat},
	}
}
