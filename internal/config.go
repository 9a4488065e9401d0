package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	configDirName          = ".blast"
	responderConfigName    = "serve_config"
	requesterConfigName    = "fetch_config"
	configType             = "toml"
	responderEnvPrefix     = "BLAST_SERVE"
	requesterEnvPrefix     = "BLAST_FETCH"
	defaultSocketBufferLen = 4 << 20
)

type ResponderConfig struct {
	ListenAddr        string `mapstructure:"listen_addr" toml:"listen_addr"`
	RootDir           string `mapstructure:"root_dir" toml:"root_dir"`
	FeedbackTimeoutMs int    `mapstructure:"feedback_timeout_ms" toml:"feedback_timeout_ms"`
	PollIntervalMs    int    `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`
	QueueLimit        int    `mapstructure:"queue_limit" toml:"queue_limit"`
	QueueTTLMs        int    `mapstructure:"queue_ttl_ms" toml:"queue_ttl_ms"`
	MaxNackRounds     int    `mapstructure:"max_nack_rounds" toml:"max_nack_rounds"`
	ReadBufferSize    int    `mapstructure:"read_buffer_size" toml:"read_buffer_size"`
	WriteBufferSize   int    `mapstructure:"write_buffer_size" toml:"write_buffer_size"`
	DSCP              int    `mapstructure:"dscp" toml:"dscp"`
	MetricsAddr       string `mapstructure:"metrics_addr" toml:"metrics_addr"`
	ServerId          string `mapstructure:"server_id" toml:"server_id"`
	LogLevel          string `mapstructure:"log_level" toml:"log_level"`
}

type RequesterConfig struct {
	InfoTimeoutMs       int    `mapstructure:"info_timeout_ms" toml:"info_timeout_ms"`
	QueueTimeoutMs      int    `mapstructure:"queue_timeout_ms" toml:"queue_timeout_ms"`
	BurstTimeoutMs      int    `mapstructure:"burst_timeout_ms" toml:"burst_timeout_ms"`
	MaxNoProgressRounds int    `mapstructure:"max_no_progress_rounds" toml:"max_no_progress_rounds"`
	NackBatchSize       int    `mapstructure:"nack_batch_size" toml:"nack_batch_size"`
	OutputDir           string `mapstructure:"output_dir" toml:"output_dir"`
	OutputPrefix        string `mapstructure:"output_prefix" toml:"output_prefix"`
	ReadBufferSize      int    `mapstructure:"read_buffer_size" toml:"read_buffer_size"`
	DSCP                int    `mapstructure:"dscp" toml:"dscp"`
	LogLevel            string `mapstructure:"log_level" toml:"log_level"`
}

func (cfg *ResponderConfig) FeedbackTimeout() time.Duration { return ms(cfg.FeedbackTimeoutMs) }
func (cfg *ResponderConfig) PollInterval() time.Duration    { return ms(cfg.PollIntervalMs) }
func (cfg *ResponderConfig) QueueTTL() time.Duration        { return ms(cfg.QueueTTLMs) }

func (cfg *RequesterConfig) InfoTimeout() time.Duration  { return ms(cfg.InfoTimeoutMs) }
func (cfg *RequesterConfig) QueueTimeout() time.Duration { return ms(cfg.QueueTimeoutMs) }
func (cfg *RequesterConfig) BurstTimeout() time.Duration { return ms(cfg.BurstTimeoutMs) }

func ms(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Millisecond
}

func setResponderDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":5005")
	v.SetDefault("root_dir", ".")
	v.SetDefault("feedback_timeout_ms", 10_000)
	v.SetDefault("poll_interval_ms", 500)
	v.SetDefault("queue_limit", 64)
	v.SetDefault("queue_ttl_ms", 120_000)
	v.SetDefault("max_nack_rounds", 64)
	v.SetDefault("read_buffer_size", defaultSocketBufferLen)
	v.SetDefault("write_buffer_size", defaultSocketBufferLen)
	v.SetDefault("dscp", 0)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("server_id", uuid.New().String())
	v.SetDefault("log_level", "info")
}

func setRequesterDefaults(v *viper.Viper) {
	v.SetDefault("info_timeout_ms", 20_000)
	v.SetDefault("queue_timeout_ms", 120_000)
	v.SetDefault("burst_timeout_ms", 2_000)
	v.SetDefault("max_no_progress_rounds", 5)
	v.SetDefault("nack_batch_size", 150)
	v.SetDefault("output_dir", ".")
	v.SetDefault("output_prefix", "received_")
	v.SetDefault("read_buffer_size", defaultSocketBufferLen)
	v.SetDefault("dscp", 0)
	v.SetDefault("log_level", "info")
}

// LoadResponderConfig reads the serve config, falling back to defaults and
// writing them out when no config file exists yet.
func LoadResponderConfig(configPath string) (*ResponderConfig, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	v, err := initViper(configPath, dir, responderConfigName, configType, responderEnvPrefix)
	if err != nil {
		return nil, fmt.Errorf("load serve config: %w", err)
	}
	setResponderDefaults(v)

	var cfg ResponderConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.RootDir = expandPath(cfg.RootDir)

	if v.ConfigFileUsed() == "" {
		if err := persistDefault(configPath, filepath.Join(dir, responderConfigName+"."+configType), cfg.Save); err != nil {
			return nil, fmt.Errorf("persist default serve config: %w", err)
		}
	}
	return &cfg, nil
}

// LoadRequesterConfig is the fetch-side counterpart of LoadResponderConfig.
func LoadRequesterConfig(configPath string) (*RequesterConfig, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	v, err := initViper(configPath, dir, requesterConfigName, configType, requesterEnvPrefix)
	if err != nil {
		return nil, fmt.Errorf("load fetch config: %w", err)
	}
	setRequesterDefaults(v)

	var cfg RequesterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.OutputDir = expandPath(cfg.OutputDir)

	if v.ConfigFileUsed() == "" {
		if err := persistDefault(configPath, filepath.Join(dir, requesterConfigName+"."+configType), cfg.Save); err != nil {
			return nil, fmt.Errorf("persist default fetch config: %w", err)
		}
	}
	return &cfg, nil
}

// DefaultConfigDir is ~/.blast.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("failed to load users home directory: " + err.Error())
	}
	return filepath.Join(home, configDirName), nil
}

func DefaultResponderConfigPath() string { return defaultConfigPath(responderConfigName) }
func DefaultRequesterConfigPath() string { return defaultConfigPath(requesterConfigName) }

func defaultConfigPath(name string) string {
	dir, err := DefaultConfigDir()
	if err != nil {
		return name + "." + configType
	}
	return filepath.Join(dir, name+"."+configType)
}

func persistDefault(configPath, fallback string, save func(string) (string, error)) error {
	writePath := configPath
	if writePath == "" {
		writePath = fallback
	}
	if _, statErr := os.Stat(writePath); !errors.Is(statErr, os.ErrNotExist) {
		return nil
	}
	if _, err := save(writePath); err != nil {
		return err
	}
	Info("default config written", Fields{
		ConfigPath: writePath,
	})
	return nil
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			// written with defaults by the caller
			return v, nil
		}
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			Error("config file unreadable", Fields{
				ConfigPath: configPath,
				FieldError: err.Error(),
			})
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func (cfg *ResponderConfig) Save(path string) (string, error) {
	if path == "" {
		path = DefaultResponderConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType(configType)
	v.Set("listen_addr", cfg.ListenAddr)
	v.Set("root_dir", cfg.RootDir)
	v.Set("feedback_timeout_ms", cfg.FeedbackTimeoutMs)
	v.Set("poll_interval_ms", cfg.PollIntervalMs)
	v.Set("queue_limit", cfg.QueueLimit)
	v.Set("queue_ttl_ms", cfg.QueueTTLMs)
	v.Set("max_nack_rounds", cfg.MaxNackRounds)
	v.Set("read_buffer_size", cfg.ReadBufferSize)
	v.Set("write_buffer_size", cfg.WriteBufferSize)
	v.Set("dscp", cfg.DSCP)
	v.Set("metrics_addr", cfg.MetricsAddr)
	v.Set("server_id", cfg.ServerId)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write serve config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func (cfg *RequesterConfig) Save(path string) (string, error) {
	if path == "" {
		path = DefaultRequesterConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType(configType)
	v.Set("info_timeout_ms", cfg.InfoTimeoutMs)
	v.Set("queue_timeout_ms", cfg.QueueTimeoutMs)
	v.Set("burst_timeout_ms", cfg.BurstTimeoutMs)
	v.Set("max_no_progress_rounds", cfg.MaxNoProgressRounds)
	v.Set("nack_batch_size", cfg.NackBatchSize)
	v.Set("output_dir", cfg.OutputDir)
	v.Set("output_prefix", cfg.OutputPrefix)
	v.Set("read_buffer_size", cfg.ReadBufferSize)
	v.Set("dscp", cfg.DSCP)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write fetch config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
