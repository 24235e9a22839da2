package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/loom-app/loom/internal/llm"
)

// Config is the serve-time configuration, loaded from file and LOOM_*
// environment variables.
type Config struct {
	Listen      string `mapstructure:"listen"`
	DataDir     string `mapstructure:"data_dir"`
	JournalPath string `mapstructure:"journal_path"`
	FlowsDir    string `mapstructure:"flows_dir"`
	DevicesPath string `mapstructure:"devices_path"`

	// BridgeURL points at the device bridge daemon. Empty disables real
	// actuation and uses the recording fake.
	BridgeURL string `mapstructure:"bridge_url"`

	IdleCheckSeconds int `mapstructure:"idle_check_seconds"`

	PlayerName    string `mapstructure:"player_name"`
	CharacterName string `mapstructure:"character_name"`

	LLM llm.ClientConfig `mapstructure:"llm"`
}

// LoadConfig reads configuration from path (optional) merged over defaults
// and LOOM_* environment variables.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", "127.0.0.1:8777")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("journal_path", "./data/journal.db")
	v.SetDefault("flows_dir", "./data/flows")
	v.SetDefault("devices_path", "./data/devices.json")
	v.SetDefault("idle_check_seconds", 30)
	v.SetDefault("player_name", "Player")
	v.SetDefault("character_name", "Character")

	v.SetEnvPrefix("LOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("loom")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
