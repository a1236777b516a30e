// Package config reads settings from .env, an optional config.yaml and the
// environment, in increasing order of precedence. Environment keys are the
// config keys upper cased with dots replaced by underscores, for example
// YOUTUBE_API_KEYS or NOTIFY_MIN_DWELL.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"
)

type Config struct {
	APIKeys []string

	DailyLimit         int
	WarningThreshold   int
	EmergencyThreshold int
	MaxErrors          int

	Interval        time.Duration
	ChannelPause    time.Duration
	PlaylistDepth   int
	Window          time.Duration
	ShortMaxSeconds int

	BaselineLookback time.Duration
	RecentVideos     int

	Policy            string
	MinDwell          time.Duration
	AbsoluteThreshold int64
	Percentile        int
	AverageMultiple   float64

	DatabaseDriver   string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	RedisURL         string
	DiscordToken     string
	DiscordChannelID string
	OpenAIKey        string

	APIPort  int
	LogLevel slog.Level
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("youtube.api_keys", "")
	v.SetDefault("quota.daily_limit", 10000)
	v.SetDefault("quota.warning_threshold", 8000)
	v.SetDefault("quota.emergency_threshold", 9500)
	v.SetDefault("quota.max_errors", 3)
	v.SetDefault("monitor.interval", "60m")
	v.SetDefault("monitor.channel_pause", "2s")
	v.SetDefault("monitor.playlist_depth", 50)
	v.SetDefault("monitor.window", "72h")
	v.SetDefault("monitor.short_max_seconds", 60)
	v.SetDefault("baseline.lookback", "720h")
	v.SetDefault("baseline.recent_videos", 25)
	v.SetDefault("notify.policy", "relative")
	v.SetDefault("notify.min_dwell", "4h")
	v.SetDefault("notify.absolute_threshold", 400000)
	v.SetDefault("notify.percentile", 75)
	v.SetDefault("notify.average_multiple", 2.0)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "shortwatch")
	v.SetDefault("postgres.password", "shortwatch")
	v.SetDefault("postgres.db", "shortwatch")
	v.SetDefault("redis.url", "")
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.channel_id", "")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("api.port", 8080)
	v.SetDefault("log.level", "info")
}

// Load reads the configuration from dir. Missing .env or config.yaml files
// are fine, a config.yaml that does not parse is not.
func Load(dir string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("could not parse config file: %w", err)
		}
	}

	cfg := &Config{
		APIKeys:            splitList(v.GetStringSlice("youtube.api_keys")),
		DailyLimit:         v.GetInt("quota.daily_limit"),
		WarningThreshold:   v.GetInt("quota.warning_threshold"),
		EmergencyThreshold: v.GetInt("quota.emergency_threshold"),
		MaxErrors:          v.GetInt("quota.max_errors"),
		Interval:           v.GetDuration("monitor.interval"),
		ChannelPause:       v.GetDuration("monitor.channel_pause"),
		PlaylistDepth:      v.GetInt("monitor.playlist_depth"),
		Window:             v.GetDuration("monitor.window"),
		ShortMaxSeconds:    v.GetInt("monitor.short_max_seconds"),
		BaselineLookback:   v.GetDuration("baseline.lookback"),
		RecentVideos:       v.GetInt("baseline.recent_videos"),
		Policy:             strings.ToLower(v.GetString("notify.policy")),
		MinDwell:           v.GetDuration("notify.min_dwell"),
		AbsoluteThreshold:  v.GetInt64("notify.absolute_threshold"),
		Percentile:         v.GetInt("notify.percentile"),
		AverageMultiple:    v.GetFloat64("notify.average_multiple"),
		DatabaseDriver:     strings.ToLower(v.GetString("database.driver")),
		PostgresHost:       v.GetString("postgres.host"),
		PostgresPort:       v.GetString("postgres.port"),
		PostgresUser:       v.GetString("postgres.user"),
		PostgresPassword:   v.GetString("postgres.password"),
		PostgresDB:         v.GetString("postgres.db"),
		RedisURL:           v.GetString("redis.url"),
		DiscordToken:       v.GetString("discord.token"),
		DiscordChannelID:   v.GetString("discord.channel_id"),
		OpenAIKey:          v.GetString("openai.api_key"),
		APIPort:            v.GetInt("api.port"),
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch {
	case len(c.APIKeys) == 0:
		return errors.New("no youtube api keys configured")
	case c.WarningThreshold > c.EmergencyThreshold:
		return fmt.Errorf("warning threshold %d above emergency threshold %d", c.WarningThreshold, c.EmergencyThreshold)
	case c.EmergencyThreshold > c.DailyLimit:
		return fmt.Errorf("emergency threshold %d above daily limit %d", c.EmergencyThreshold, c.DailyLimit)
	case c.Interval <= 0:
		return errors.New("monitor interval must be positive")
	case c.DatabaseDriver != "postgres" && c.DatabaseDriver != "memory":
		return fmt.Errorf("unknown database driver %q", c.DatabaseDriver)
	case c.DiscordToken != "" && c.DiscordChannelID == "":
		return errors.New("discord token set without a channel id")
	}
	return nil
}

// splitList accepts both a yaml list and a single comma separated value.
func splitList(raw []string) []string {
	out := []string{}
	for _, r := range raw {
		for _, s := range strings.Split(r, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
