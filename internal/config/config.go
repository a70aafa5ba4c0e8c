// Package config loads scrubd's runtime configuration: every tunable named
// in the decode pipeline's configuration table (preroll budgets, admission
// caps, prediction clamps, proxy hysteresis, cache sizing).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/scrubd/internal/logging"
)

var log = logging.L("config")

type Config struct {
	// Logging
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// Status/metrics HTTP surface (cmd/scrubd-serve)
	StatusListenAddr string `mapstructure:"status_listen_addr"`

	// Preroll / attempt budget (§4.D, §6)
	PrerollFrames             int     `mapstructure:"preroll_frames"`
	BadDataRetryMax           int     `mapstructure:"bad_data_retry_max"`
	MandatoryDecodeMaxRetries int     `mapstructure:"mandatory_decode_max_retries"`
	CompressedIDRTargetGateS  float64 `mapstructure:"compressed_idr_target_gate"`

	// Admission (§4.G, §6)
	MaxInflightPerClip          int  `mapstructure:"max_inflight_per_clip"`
	AdmissionNeverCancelRunning bool `mapstructure:"admission_never_cancel_running"`

	// Landing zone (§4.F, §6)
	ReverseLZFrames int `mapstructure:"reverse_lz_frames"`
	ForwardLZFrames int `mapstructure:"forward_lz_frames"`

	// Velocity predictor (§4.E, §6)
	VelocityEMAAlpha      float64 `mapstructure:"velocity_ema_alpha"`
	PredictionFactor      float64 `mapstructure:"prediction_factor"`
	PredictionClampMinS   float64 `mapstructure:"prediction_clamp_min"`
	PredictionClampMaxS   float64 `mapstructure:"prediction_clamp_max"`
	ReverseFutureLeadCapS float64 `mapstructure:"reverse_future_lead_cap"`

	// Reverse failure / proxy recovery (§4.D, §4.I, §6)
	ReverseFailureRecoveryThreshold int     `mapstructure:"reverse_failure_recovery_threshold"`
	ReverseFailureBackoffS          float64 `mapstructure:"reverse_failure_backoff"`
	ReverseFailureMaxBackoffS       float64 `mapstructure:"reverse_failure_max_backoff"`
	ReverseProxyOverrideLifespanS   float64 `mapstructure:"reverse_proxy_override_lifespan"`
	ReverseProxyErrorThreshold      int     `mapstructure:"reverse_proxy_error_threshold"`
	ProxyHoldDurationS              float64 `mapstructure:"proxy_hold_duration"`

	// Frame cache (§4.J, §6)
	CacheRoot         string `mapstructure:"cache_root"`
	CacheRAMBytes     int64  `mapstructure:"cache_ram_bytes"`
	CacheDiskBytes    int64  `mapstructure:"cache_disk_bytes"`
	CacheTileSize     int    `mapstructure:"cache_tile_size"`
	CacheColdProvider string `mapstructure:"cache_cold_provider"` // s3 | azure | gcs | b2 | none
	CacheColdBucket   string `mapstructure:"cache_cold_bucket"`
	CacheColdRegion   string `mapstructure:"cache_cold_region"` // s3 region; ignored by azure/gcs/b2
	CacheColdPrefix   string `mapstructure:"cache_cold_prefix"` // key prefix within the bucket/container

	// Reader (§4.B, §6)
	MaxReverseLookbackS float64 `mapstructure:"max_reverse_lookback"`
	MaxForwardHeadS     float64 `mapstructure:"max_forward_head"`

	// Decoder session fallback ladder (§4.C, §6)
	SessionErrorEscalationWindowS float64 `mapstructure:"session_error_escalation_window"`
	SessionErrorEscalationCount   int     `mapstructure:"session_error_escalation_count"`
	SessionProxyOnlyDurationS     float64 `mapstructure:"session_proxy_only_duration"`
	SessionFreezeGateDurationS    float64 `mapstructure:"session_freeze_gate_duration"`
	SessionRebuildMaxPerWindow    int     `mapstructure:"session_rebuild_max_per_window"`
	SessionRebuildWindowS         float64 `mapstructure:"session_rebuild_window"`
	SessionWarmCacheSize          int     `mapstructure:"session_warm_cache_size"`
	SessionWarmCacheEpsilonS      float64 `mapstructure:"session_warm_cache_epsilon"`

	// Integrated pipeline (§4.K, §6)
	FrameDurationS           float64 `mapstructure:"frame_duration"`
	DebounceMinIntervalS     float64 `mapstructure:"debounce_min_interval"`
	ForwardTargetBudget      int     `mapstructure:"forward_target_budget"`
	ReverseTargetBudget      int     `mapstructure:"reverse_target_budget"`
	ReverseTargetBudgetProxy int     `mapstructure:"reverse_target_budget_proxy_override"`
	WatchdogP95Factor        float64 `mapstructure:"watchdog_p95_factor"`
	WatchdogFloorS           float64 `mapstructure:"watchdog_floor"`
	EndScrubFreezeS          float64 `mapstructure:"end_scrub_freeze"`
	StallCooldownS           float64 `mapstructure:"stall_cooldown"`
	DispatchWorkers          int     `mapstructure:"dispatch_workers"`
	DispatchQueueSize        int     `mapstructure:"dispatch_queue_size"`
}

func Default() *Config {
	return &Config{
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,

		StatusListenAddr: "127.0.0.1:8087",

		PrerollFrames:             2,
		BadDataRetryMax:           3,
		MandatoryDecodeMaxRetries: 3,
		CompressedIDRTargetGateS:  0.25,

		MaxInflightPerClip:          3,
		AdmissionNeverCancelRunning: false,

		ReverseLZFrames: 8,
		ForwardLZFrames: 4,

		VelocityEMAAlpha:      0.3,
		PredictionFactor:      0.12,
		PredictionClampMinS:   -0.5,
		PredictionClampMaxS:   0.5,
		ReverseFutureLeadCapS: 0.2,

		ReverseFailureRecoveryThreshold: 2,
		ReverseFailureBackoffS:          0.25,
		ReverseFailureMaxBackoffS:       2.0,
		ReverseProxyOverrideLifespanS:   4.0,
		ReverseProxyErrorThreshold:      3,
		ProxyHoldDurationS:              1.5,

		CacheRoot:         defaultCacheRoot(),
		CacheRAMBytes:     4 << 30,
		CacheDiskBytes:    8 << 30,
		CacheTileSize:     256,
		CacheColdProvider: "none",

		SessionErrorEscalationWindowS: 0.5,
		SessionErrorEscalationCount:   3,
		SessionProxyOnlyDurationS:     1.75,
		SessionFreezeGateDurationS:    0.15,
		SessionRebuildMaxPerWindow:    5,
		SessionRebuildWindowS:         0.5,
		SessionWarmCacheSize:          10,
		SessionWarmCacheEpsilonS:      0.001,

		FrameDurationS:           1.0 / 24,
		DebounceMinIntervalS:     0.030,
		ForwardTargetBudget:      4,
		ReverseTargetBudget:      3,
		ReverseTargetBudgetProxy: 1,
		WatchdogP95Factor:        3.0,
		WatchdogFloorS:           0.180,
		EndScrubFreezeS:          0.200,
		StallCooldownS:           0.500,
		DispatchWorkers:          8,
		DispatchQueueSize:        64,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("scrubd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SCRUBD")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func defaultCacheRoot() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "scrubd", "cache")
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Caches", "scrubd")
	default:
		return "/var/lib/scrubd/cache"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "scrubd")
	case "darwin":
		return "/Library/Application Support/scrubd"
	default:
		return "/etc/scrubd"
	}
}
