package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/javanstorm/vmbundle/internal/launch"
	"github.com/javanstorm/vmbundle/pkg/hypervisor"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

var knownFormats = map[string]bool{"ASIF": true, "UDSP": true, "UDSB": true, "UDRW": true}

// ValidateConfig checks configuration against the engine limits and host.
// Returns a list of validation errors/warnings.
func ValidateConfig(cfg *Config, limits hypervisor.Limits, host hypervisor.Host) []ValidationError {
	var errs []ValidationError

	if cfg.CPUs != 0 && (cfg.CPUs < limits.MinCPUs || (limits.MaxCPUs > 0 && cfg.CPUs > limits.MaxCPUs)) {
		errs = append(errs, ValidationError{
			Field:   "cpus",
			Message: fmt.Sprintf("%d is outside the engine range %d-%d", cfg.CPUs, limits.MinCPUs, limits.MaxCPUs),
			Fatal:   true,
		})
	}

	if cfg.MemoryGiB != 0 {
		mem := cfg.MemoryGiB * launch.GiB
		if mem < limits.MinMemoryBytes || (limits.MaxMemoryBytes > 0 && mem > limits.MaxMemoryBytes) {
			errs = append(errs, ValidationError{
				Field:   "memory_gib",
				Message: fmt.Sprintf("%d GiB is outside the engine range", cfg.MemoryGiB),
				Fatal:   true,
			})
		}
	}

	if cfg.StorageGiB != 0 && cfg.StorageGiB < launch.MinStorageGiB {
		errs = append(errs, ValidationError{
			Field:   "storage_gib",
			Message: fmt.Sprintf("must be at least %d GiB", launch.MinStorageGiB),
			Fatal:   true,
		})
	}
	if host.AvailableBytes > 0 && cfg.StorageGiB*launch.GiB > host.AvailableBytes {
		// Images are sparse, so this only becomes a problem as the guest fills up.
		errs = append(errs, ValidationError{
			Field:   "storage_gib",
			Message: fmt.Sprintf("%d GiB exceeds the %d GiB available", cfg.StorageGiB, host.AvailableBytes/launch.GiB),
		})
	}

	if !knownFormats[cfg.ImageFormat] {
		errs = append(errs, ValidationError{
			Field:   "image_format",
			Message: fmt.Sprintf("unknown image format %q, passing it to the helper as is", cfg.ImageFormat),
		})
	}

	if cfg.StopTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "stop_timeout",
			Message: fmt.Sprintf("must not be negative, got %s", cfg.StopTimeout),
			Fatal:   true,
		})
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, ValidationError{Field: "log_level", Message: err.Error(), Fatal: true})
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be text or json, got %q", cfg.LogFormat),
			Fatal:   true,
		})
	}

	return errs
}

// HasFatal reports whether any error in errs prevents proceeding.
func HasFatal(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errs []ValidationError) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration warnings:\n")
	for _, e := range errs {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
