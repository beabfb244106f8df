package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultImageEndpoint = "https://api.fivemanage.com/api/v2/image"
	DefaultVideoEndpoint = "https://api.fivemanage.com/api/v2/video"

	DefaultStorageLimitGB     = 10
	DefaultStorageThresholdGB = 9.8
	DefaultMaxRetries         = 3
)

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Discord DiscordConfig `toml:"discord"`
	Upload  UploadConfig  `toml:"upload"`
	Storage StorageConfig `toml:"storage"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DiscordConfig struct {
	BotToken string `toml:"bot_token"`
	// Channels restricts guild monitoring to the listed channel IDs.
	// Empty means every channel the bot can see.
	Channels []string `toml:"channels"`
	// Roles restricts uploads to members holding one of the listed role IDs.
	// Empty means no role restriction.
	Roles []string `toml:"roles"`
	// DMUsers lists user IDs allowed to upload through direct messages.
	// Empty means direct-message uploads are closed.
	DMUsers []string `toml:"dm_users"`
}

type UploadConfig struct {
	PrimaryToken      string `toml:"primary_token"`
	PrimaryEndpoint   string `toml:"primary_endpoint"`
	SecondaryToken    string `toml:"secondary_token"`
	SecondaryEndpoint string `toml:"secondary_endpoint"`
	VideoToken        string `toml:"video_token"`
	VideoEndpoint     string `toml:"video_endpoint"`
	MaxRetries        int    `toml:"max_retries"`
}

type StorageConfig struct {
	LimitGB     float64 `toml:"limit_gb"`
	ThresholdGB float64 `toml:"threshold_gb"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Upload: UploadConfig{
			PrimaryEndpoint:   DefaultImageEndpoint,
			SecondaryEndpoint: DefaultImageEndpoint,
			VideoEndpoint:     DefaultVideoEndpoint,
			MaxRetries:        DefaultMaxRetries,
		},
		Storage: StorageConfig{
			LimitGB:     DefaultStorageLimitGB,
			ThresholdGB: DefaultStorageThresholdGB,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the required credentials. The process must not start
// without a Discord bot token and a primary upload token.
func (c Config) Validate() error {
	if c.Discord.BotToken == "" {
		return fmt.Errorf("discord.bot_token is required")
	}
	if c.Upload.PrimaryToken == "" {
		return fmt.Errorf("upload.primary_token is required")
	}
	if c.Upload.MaxRetries <= 0 {
		return fmt.Errorf("upload.max_retries must be positive")
	}
	if c.Storage.ThresholdGB > c.Storage.LimitGB {
		return fmt.Errorf("storage.threshold_gb must not exceed storage.limit_gb")
	}
	return nil
}

// HasSecondary reports whether a secondary upload endpoint is usable.
func (c UploadConfig) HasSecondary() bool {
	return c.SecondaryToken != "" && c.SecondaryEndpoint != ""
}

// HasVideo reports whether the direct-message video endpoint is usable.
func (c UploadConfig) HasVideo() bool {
	return c.VideoToken != "" && c.VideoEndpoint != ""
}
