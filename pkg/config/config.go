package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/bacterium-io/mstpstack/pkg/mstp"
)

// Config is the static startup configuration for a bacstackd node: the
// MS/TP link parameters the driver needs to bring the port up, plus the
// ambient settings (logging, metrics, optional Redis/snapshot backing)
// every deployment of this stack carries regardless of protocol scope.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (BACSTACK_*)
//  2. Configuration file (INI, EDS-style)
//  3. Defaults from Default(), registered with viper by Load
type Config struct {
	MacAddress    uint8 `mapstructure:"mac_address" validate:"max=254"`
	MaxMaster     uint8 `mapstructure:"max_master" validate:"max=127"`
	MaxInfoFrames uint8 `mapstructure:"max_info_frames" validate:"min=1"`
	BaudRate      int   `mapstructure:"baud_rate" validate:"oneof=9600 19200 38400 57600 76800 115200"`

	APDUTimeoutMs uint32 `mapstructure:"apdu_timeout_ms" validate:"min=1"`
	APDURetries   uint8  `mapstructure:"apdu_retries"`

	ZeroConfigEnabled bool `mapstructure:"zero_config_enabled"`
	AutoBaudEnabled   bool `mapstructure:"auto_baud_enabled"`
	SlaveMode         bool `mapstructure:"slave_mode"`

	LogLevel    string `mapstructure:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	RedisAddr    string `mapstructure:"redis_addr"`
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// Default returns a Config with the defaults SPEC_FULL.md §6 names:
// a 3000ms APDU timeout, 3 retries, and info-level logging on a lone
// master station with no distribution or snapshotting enabled.
func Default() Config {
	return Config{
		MaxMaster:     127,
		MaxInfoFrames: 1,
		BaudRate:      38400,
		APDUTimeoutMs: 3000,
		APDURetries:   3,
		LogLevel:      "info",
		MetricsAddr:   ":9090",
	}
}

var validate = validator.New()

// Validate runs the struct-tag validation rules and the cross-field rule
// mstp.Config.Validate already enforces at the link layer: auto-baud and
// zero-config cannot both be requested, since each depends on inferring
// link parameters from a silent bus and would starve the other's
// discovery window. Surfacing it here lets bad config fail at load time
// rather than at port construction.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.AutoBaudEnabled && cfg.ZeroConfigEnabled {
		return fmt.Errorf("config: auto_baud_enabled and zero_config_enabled are mutually exclusive")
	}
	return nil
}

// ToMSTPConfig translates the validated app config into the mstp.Config
// the link engine (C4) consumes.
func (cfg Config) ToMSTPConfig() mstp.Config {
	return mstp.Config{
		ThisStation:       cfg.MacAddress,
		MaxMaster:         cfg.MaxMaster,
		MaxInfoFrames:     cfg.MaxInfoFrames,
		BaudRate:          cfg.BaudRate,
		SlaveMode:         cfg.SlaveMode,
		ZeroConfigEnabled: cfg.ZeroConfigEnabled,
		AutoBaudEnabled:   cfg.AutoBaudEnabled,
		PreferredStation:  cfg.MacAddress,
	}
}

// Load reads configuration from an INI file at path (EDS-style; empty
// sections are not required, flat key=value is fine) layered under
// BACSTACK_* environment overrides, applies defaults for anything left
// unset, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("ini")
	v.SetEnvPrefix("BACSTACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("mac_address", def.MacAddress)
	v.SetDefault("max_master", def.MaxMaster)
	v.SetDefault("max_info_frames", def.MaxInfoFrames)
	v.SetDefault("baud_rate", def.BaudRate)
	v.SetDefault("apdu_timeout_ms", def.APDUTimeoutMs)
	v.SetDefault("apdu_retries", def.APDURetries)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("metrics_addr", def.MetricsAddr)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
