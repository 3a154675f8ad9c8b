// Package config loads runtime settings through viper: defaults, an optional
// config.yaml, KEYEXTRACT_* environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in the key
// replaced by underscores (KEYEXTRACT_ENGINE_VM_TIMEOUT).
const EnvPrefix = "KEYEXTRACT"

type Config struct {
	InputPath  string       `mapstructure:"input_path" yaml:"input_path"`
	Silent     bool         `mapstructure:"silent" yaml:"silent"`
	Exhaustive bool         `mapstructure:"exhaustive" yaml:"exhaustive"`
	OutputPath string       `mapstructure:"output_path" yaml:"output_path"`
	JSON       bool         `mapstructure:"json" yaml:"json"`
	Logger     LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Engine     EngineConfig `mapstructure:"engine" yaml:"engine"`
}

// LoggerConfig holds the logging setup.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the console color of each level.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// EngineConfig tunes the deobfuscation passes and the batch runner.
type EngineConfig struct {
	MaxDCEIterations int           `mapstructure:"max_dce_iterations" yaml:"max_dce_iterations"`
	MinTableSize     int           `mapstructure:"min_table_size" yaml:"min_table_size"`
	MaxRotations     int           `mapstructure:"max_rotations" yaml:"max_rotations"`
	VMTimeout        time.Duration `mapstructure:"vm_timeout" yaml:"vm_timeout"`
	UseVMFallback    bool          `mapstructure:"use_vm_fallback" yaml:"use_vm_fallback"`
	Concurrency      int           `mapstructure:"concurrency" yaml:"concurrency"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("input_path", "")
	v.SetDefault("silent", false)
	v.SetDefault("exhaustive", false)
	v.SetDefault("output_path", "")
	v.SetDefault("json", false)

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "keyextract")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", false)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Engine --
	v.SetDefault("engine.max_dce_iterations", 16)
	v.SetDefault("engine.min_table_size", 5)
	v.SetDefault("engine.max_rotations", 20000)
	v.SetDefault("engine.vm_timeout", "2s")
	v.SetDefault("engine.use_vm_fallback", true)
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.fetch_timeout", "30s")
}

// BindEnv enables KEYEXTRACT_* overrides for every key with a default.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewDefaultConfig returns the configuration with nothing but defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	if err != nil {
		// Defaults always validate.
		panic(err)
	}
	return cfg
}

func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.Engine.MaxDCEIterations <= 0 {
		return fmt.Errorf("engine.max_dce_iterations must be a positive integer")
	}
	if c.Engine.MinTableSize <= 0 {
		return fmt.Errorf("engine.min_table_size must be a positive integer")
	}
	if c.Engine.MaxRotations <= 0 {
		return fmt.Errorf("engine.max_rotations must be a positive integer")
	}
	if c.Engine.VMTimeout <= 0 {
		return fmt.Errorf("engine.vm_timeout must be positive")
	}
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be a positive integer")
	}
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	return nil
}
