// Package config loads settings from config.yaml and IMPORTER_* variables.
package config

import (
	"log/slog"
	"strings"

	"github.com/rpattn/stagedimport/internal/db"
	"github.com/rpattn/stagedimport/internal/guard"
	"github.com/rpattn/stagedimport/internal/importer"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. IMPORTER_DATABASE_HOST.
const EnvPrefix = "IMPORTER"

// Config is the full application configuration.
type Config struct {
	Database db.Config     `mapstructure:"database"`
	Storage  StorageConfig `mapstructure:"storage"`
	Import   ImportConfig  `mapstructure:"import"`
	Log      LogConfig     `mapstructure:"log"`
}

// StorageConfig points at the bucket that retains uploads.
type StorageConfig struct {
	BucketURL string `mapstructure:"bucket_url" validate:"required"`
}

// ImportConfig tunes ingestion and execution.
type ImportConfig struct {
	GradeScaleMax          float64 `mapstructure:"grade_scale_max" validate:"gt=0"`
	CorrectDigitization    bool    `mapstructure:"correct_digitization"`
	PreviewRows            int     `mapstructure:"preview_rows" validate:"gte=0"`
	CopyChunkSize          int     `mapstructure:"copy_chunk_size" validate:"gt=0"`
	MaxFileBytes           int64   `mapstructure:"max_file_bytes" validate:"gt=0"`
	RejectDuplicates       bool    `mapstructure:"reject_duplicates"`
	PlaceholderEmailDomain string  `mapstructure:"placeholder_email_domain" validate:"required,fqdn"`
}

// LogConfig selects the slog level and handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Options converts the import section for the importer service.
func (c ImportConfig) Options() importer.Options {
	return importer.Options{
		GradeScale: guard.GradeScale{
			Max:                 c.GradeScaleMax,
			CorrectDigitization: c.CorrectDigitization,
		},
		PreviewRows:            c.PreviewRows,
		ChunkSize:              c.CopyChunkSize,
		MaxFileBytes:           c.MaxFileBytes,
		RejectDuplicates:       c.RejectDuplicates,
		PlaceholderEmailDomain: c.PlaceholderEmailDomain,
	}
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	opts := importer.DefaultOptions()
	return Config{
		Database: db.DefaultConfig(),
		Storage:  StorageConfig{BucketURL: "file:///var/lib/importer/uploads?create_dir=true"},
		Import: ImportConfig{
			GradeScaleMax:          opts.GradeScale.Max,
			CorrectDigitization:    opts.GradeScale.CorrectDigitization,
			PreviewRows:            opts.PreviewRows,
			CopyChunkSize:          opts.ChunkSize,
			MaxFileBytes:           opts.MaxFileBytes,
			RejectDuplicates:       opts.RejectDuplicates,
			PlaceholderEmailDomain: opts.PlaceholderEmailDomain,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads config.yaml from configPath when present, applies IMPORTER_*
// environment overrides on top of the defaults and validates the result.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
		slog.Debug("no config.yaml found, using defaults and env vars", "path", configPath)
	} else {
		slog.Debug("loaded config file", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.dbname", cfg.Database.DBName)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)

	v.SetDefault("storage.bucket_url", cfg.Storage.BucketURL)

	v.SetDefault("import.grade_scale_max", cfg.Import.GradeScaleMax)
	v.SetDefault("import.correct_digitization", cfg.Import.CorrectDigitization)
	v.SetDefault("import.preview_rows", cfg.Import.PreviewRows)
	v.SetDefault("import.copy_chunk_size", cfg.Import.CopyChunkSize)
	v.SetDefault("import.max_file_bytes", cfg.Import.MaxFileBytes)
	v.SetDefault("import.reject_duplicates", cfg.Import.RejectDuplicates)
	v.SetDefault("import.placeholder_email_domain", cfg.Import.PlaceholderEmailDomain)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}
