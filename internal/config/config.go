package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Conf holds the application configuration, making it accessible globally.
var Conf *Config

// Config struct is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Cleaning    CleaningConfig    `mapstructure:"cleaning"`
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Port          string `mapstructure:"port"`
	SessionSecret string `mapstructure:"session_secret"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MQTTConfig holds the optional lab cue broker settings. When disabled,
// cues only travel over the client stream and the log.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
}

// CalibrationConfig holds the default device rates the latency offset is
// derived from when a session does not supply its own.
type CalibrationConfig struct {
	RefreshRateHz   float64 `mapstructure:"refresh_rate_hz"`
	TouchSamplingHz float64 `mapstructure:"touch_sampling_hz"`
}

// CleaningConfig holds the outlier pipeline defaults. The statistical
// method itself is part of each session's configuration, not a server
// setting.
type CleaningConfig struct {
	MinRTMs       float64 `mapstructure:"min_rt_ms"`
	MaxRTMs       float64 `mapstructure:"max_rt_ms"`
	MaxRTGoNoGoMs float64 `mapstructure:"max_rt_go_no_go_ms"`
	SDMultiplier  float64 `mapstructure:"sd_multiplier"`
	MADMultiplier float64 `mapstructure:"mad_multiplier"`
	TrimPercent   float64 `mapstructure:"trim_percent"`
	IQRMultiplier float64 `mapstructure:"iqr_multiplier"`
	TrimExtremes  bool    `mapstructure:"trim_extremes"`
}

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "5060")
	v.SetDefault("server.session_secret", "dev-only-secret")

	// Database defaults
	v.SetDefault("database.host", "db")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "user")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.dbname", "rtlab-db")

	// Logging defaults
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.max_size", 10)   // 10 MB
	v.SetDefault("logging.max_backups", 3) // Keep 3 backups
	v.SetDefault("logging.max_age", 7)     // 7 days
	v.SetDefault("logging.compress", true) // Compress old logs

	// Cue broker defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "rtlab-cue-publisher")

	// Calibration defaults: a 60 Hz display with a 120 Hz touch
	// digitizer gives the canonical 12.5 ms offset.
	v.SetDefault("calibration.refresh_rate_hz", 60.0)
	v.SetDefault("calibration.touch_sampling_hz", 120.0)

	// Cleaning pipeline defaults
	v.SetDefault("cleaning.min_rt_ms", 100.0)
	v.SetDefault("cleaning.max_rt_ms", 1500.0)
	v.SetDefault("cleaning.max_rt_go_no_go_ms", 1000.0)
	v.SetDefault("cleaning.sd_multiplier", 2.5)
	v.SetDefault("cleaning.mad_multiplier", 3.0)
	v.SetDefault("cleaning.trim_percent", 2.5)
	v.SetDefault("cleaning.iqr_multiplier", 1.5)
	v.SetDefault("cleaning.trim_extremes", true)
}

// Init initializes the configuration with Viper.
func Init(projectRoot string, log *zap.Logger) error {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// --- File Configuration ---
	v.AddConfigPath(filepath.Join(projectRoot, "config"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// --- Environment Variable Binding ---
	v.SetEnvPrefix("RTLAB") // e.g., RTLAB_SERVER_PORT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the initial configuration from the file.
	// It's okay if the file doesn't exist; defaults and env vars will be used.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Unmarshal the config into our global Conf variable
	if err := v.Unmarshal(&Conf); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}

	// Set up a watch for configuration changes for hot-reloading
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, reloading.", zap.String("file", e.Name))
		if err := v.Unmarshal(&Conf); err != nil {
			log.Error("Error reloading configuration", zap.Error(err))
		}
	})

	log.Info("Configuration loaded successfully")
	return nil
}
