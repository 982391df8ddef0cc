// Package config provides configuration management for vmbundle.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds platform-specific directory paths for vmbundle.
type Paths struct {
	// ConfigDir is the directory for configuration files.
	// macOS: ~/Library/Application Support/VMBundle
	// Linux: ~/.config/vmbundle (or XDG_CONFIG_HOME)
	ConfigDir string

	// DataDir holds the instance database.
	// All platforms: ~/.vmbundle
	DataDir string

	// BundleDir is where new bundles are created unless told otherwise.
	// All platforms: ~/VMs
	BundleDir string

	// ConfigFile is the path to the main config file.
	ConfigFile string
}

// GetPaths returns platform-aware paths for vmbundle.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{
		DataDir:   filepath.Join(home, ".vmbundle"),
		BundleDir: filepath.Join(home, "VMs"),
	}

	switch runtime.GOOS {
	case "darwin":
		p.ConfigDir = filepath.Join(home, "Library", "Application Support", "VMBundle")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			p.ConfigDir = filepath.Join(xdgConfig, "vmbundle")
		} else {
			p.ConfigDir = filepath.Join(home, ".config", "vmbundle")
		}
	}

	// Config file lives in data directory for simplicity
	p.ConfigFile = filepath.Join(p.DataDir, "config.yaml")

	return p, nil
}

// EnsureDirectories creates the config and data directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
