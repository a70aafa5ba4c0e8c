package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validColdProviders = map[string]bool{
	"none":  true,
	"s3":    true,
	"azure": true,
	"gcs":   true,
	"b2":    true,
}

// ValidationResult splits validation problems into fatals (block startup)
// and warnings (auto-corrected, startup continues).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings, for callers that just want
// to log everything found.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config, clamping out-of-range values to safe
// defaults (reported as warnings) and rejecting structurally invalid values
// (reported as fatals). Call after Default()+viper.Unmarshal, before the
// pipeline is constructed.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), falling back to info", c.LogLevel))
		c.LogLevel = "info"
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), falling back to text", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.CacheColdProvider != "" && !validColdProviders[strings.ToLower(c.CacheColdProvider)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("cache_cold_provider %q is not one of s3, azure, gcs, b2, none", c.CacheColdProvider))
	}
	if c.CacheColdProvider != "none" && c.CacheColdProvider != "" && c.CacheColdBucket == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("cache_cold_bucket is required when cache_cold_provider=%q", c.CacheColdProvider))
	}

	if c.MaxInflightPerClip < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_inflight_per_clip %d is below minimum 1, clamping", c.MaxInflightPerClip))
		c.MaxInflightPerClip = 1
	} else if c.MaxInflightPerClip > 64 {
		r.Warnings = append(r.Warnings, fmt.Errorf("max_inflight_per_clip %d exceeds maximum 64, clamping", c.MaxInflightPerClip))
		c.MaxInflightPerClip = 64
	}

	if c.PrerollFrames < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("preroll_frames %d is below minimum 1, clamping", c.PrerollFrames))
		c.PrerollFrames = 1
	}

	if c.VelocityEMAAlpha <= 0 || c.VelocityEMAAlpha > 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("velocity_ema_alpha %v out of (0,1], clamping to 0.3", c.VelocityEMAAlpha))
		c.VelocityEMAAlpha = 0.3
	}

	if c.PredictionClampMinS > 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("prediction_clamp_min %v must be <= 0, clamping to 0", c.PredictionClampMinS))
		c.PredictionClampMinS = 0
	}
	if c.PredictionClampMaxS < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("prediction_clamp_max %v must be >= 0, clamping to 0", c.PredictionClampMaxS))
		c.PredictionClampMaxS = 0
	}

	if c.ProxyHoldDurationS < 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("proxy_hold_duration %v must be >= 0", c.ProxyHoldDurationS))
	}

	if c.CacheRAMBytes <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("cache_ram_bytes %d must be positive, defaulting to 4GiB", c.CacheRAMBytes))
		c.CacheRAMBytes = 4 << 30
	}
	if c.CacheDiskBytes <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("cache_disk_bytes %d must be positive, defaulting to 8GiB", c.CacheDiskBytes))
		c.CacheDiskBytes = 8 << 30
	}
	if c.CacheTileSize <= 0 || c.CacheTileSize%2 != 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("cache_tile_size %d must be a positive power-of-two-friendly size, defaulting to 256", c.CacheTileSize))
		c.CacheTileSize = 256
	}

	if c.DispatchWorkers < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("dispatch_workers %d is below minimum 1, clamping", c.DispatchWorkers))
		c.DispatchWorkers = 1
	}
	if c.DispatchQueueSize < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("dispatch_queue_size %d must be >= 0, clamping to 0", c.DispatchQueueSize))
		c.DispatchQueueSize = 0
	}

	return r
}
