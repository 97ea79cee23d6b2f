package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Database DatabaseConfig `mapstructure:"database"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Log      LogConfig      `mapstructure:"log"`
}

type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	Timeout int    `mapstructure:"timeout"`
	Debug   bool   `mapstructure:"debug"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	Path        string `mapstructure:"path"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Proxy             string        `mapstructure:"proxy"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Model             string        `mapstructure:"model"`
	Instructions      string        `mapstructure:"instructions"`
	STTModel          string        `mapstructure:"stt_model"`
	TTSModel          string        `mapstructure:"tts_model"`
	TTSVoice          string        `mapstructure:"tts_voice"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MentalAssistantID string        `mapstructure:"mental_assistant_id"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	switch u.Scheme {
	case "sqlite", "sqlite3", "file":
		path := u.Opaque
		if path == "" {
			path = u.Host + u.Path
		}
		if path == "" {
			return DatabaseConfig{}, fmt.Errorf("sqlite url %q has no path", dbURL)
		}
		return DatabaseConfig{Driver: "sqlite", Path: path}, nil
	case "postgres", "postgresql":
	default:
		return DatabaseConfig{}, fmt.Errorf("unsupported database scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	// Remove leading slash from path to get database name
	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  sslMode,
	}, nil
}

// LoadEnv reads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error; variables already set win.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads path (optional) and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("telegram.timeout", 60)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "bot.db")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", 120*time.Second)
	v.SetDefault("openai.instructions", "Be friendly and positive")
	v.SetDefault("openai.stt_model", "whisper-1")
	v.SetDefault("openai.tts_model", "tts-1")
	v.SetDefault("openai.tts_voice", "alloy")
	v.SetDefault("openai.poll_interval", 500*time.Millisecond)
	v.SetDefault("log.level", "info")

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if token := v.GetString("BOT_TOKEN"); token != "" && config.Telegram.Token == "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if config.Database.UseInMemory {
		config.Database.Driver = "memory"
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("missing required config: telegram token (TELEGRAM_TOKEN)")
	}
	if c.OpenAI.APIKey == "" {
		return errors.New("missing required config: OpenAI API key (OPENAI_API_KEY)")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}
