// Package config loads settings for the lineset command from an optional
// config file and LINESET_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/justapithecus/lineset/internal/s3"
)

// Config aggregates configuration for the command.
type Config struct {
	Shuffle ShuffleConfig `mapstructure:"shuffle"`
	Log     LogConfig     `mapstructure:"log"`
	S3      S3Config      `mapstructure:"s3"`
}

// ShuffleConfig holds defaults for the shuffle subcommand. Flags given on
// the command line take precedence.
type ShuffleConfig struct {
	Shards      int    `mapstructure:"shards"`
	ScratchDir  string `mapstructure:"scratch_dir"`
	Workers     int    `mapstructure:"workers"`
	Spill       string `mapstructure:"spill"`
	KeepScratch bool   `mapstructure:"keep_scratch"`
}

// LogConfig selects the log level and an optional JSON log file.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// S3Config configures the client used for s3:// sources.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Shuffle: ShuffleConfig{
			Shards:     100,
			ScratchDir: "shard_tmp",
			Workers:    1,
			Spill:      "noop",
		},
		Log: LogConfig{
			Level: "info",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
	}
}

// Load reads configuration from a file and environment variables.
//
// When path is empty, "lineset.yaml" (or any extension viper understands)
// is looked up in the working directory and skipped if absent. An explicit
// path must exist. Environment variables use the prefix "LINESET" and the
// dot character in keys is replaced by an underscore, so "shuffle.shards"
// becomes "LINESET_SHUFFLE_SHARDS".
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lineset")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("LINESET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if _, err := cfg.Log.SlogLevel(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SlogLevel parses Level ("debug", "info", "warn", "error").
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.Level, err)
	}
	return level, nil
}

// ClientConfig converts the settings for s3.NewClient.
func (c S3Config) ClientConfig() s3.ClientConfig {
	return s3.ClientConfig{
		Region:          c.Region,
		Endpoint:        c.Endpoint,
		UsePathStyle:    c.UsePathStyle,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
	}
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := range typ.NumField() {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts[:len(parts):len(parts)], tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
