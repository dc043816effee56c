// Package config loads service configuration from defaults, an optional
// YAML file, and GYMPT_* environment variables, in that order. A .env
// file in the working directory is read into the environment first.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Rerank  RerankConfig  `yaml:"rerank"`
	Memory  MemoryConfig  `yaml:"memory"`
	Speech  SpeechConfig  `yaml:"speech"`
	Vision  VisionConfig  `yaml:"vision"`
	YouTube YouTubeConfig `yaml:"youtube"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`
}

type OpenAIConfig struct {
	Endpoint        string `yaml:"endpoint"`
	APIKey          string `yaml:"api_key"`
	APIVersion      string `yaml:"api_version"`
	ChatDeployment  string `yaml:"chat_deployment"`
	EmbedDeployment string `yaml:"embed_deployment"`
}

type RerankConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	FinalK         int    `yaml:"final_k"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type MemoryConfig struct {
	RetrieveK int `yaml:"retrieve_k"`
	CacheSize int `yaml:"cache_size"`
}

type SpeechConfig struct {
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Key      string `yaml:"key"`
}

type VisionConfig struct {
	Endpoint string `yaml:"endpoint"`
	Key      string `yaml:"key"`
}

type YouTubeConfig struct {
	APIKey string `yaml:"api_key"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 8000},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		OpenAI:  OpenAIConfig{APIVersion: "2024-02-01"},
		Rerank:  RerankConfig{FinalK: 3, TimeoutSeconds: 10},
		Memory:  MemoryConfig{RetrieveK: 10, CacheSize: 10},
		Speech:  SpeechConfig{Region: "eastus"},
		Log:     LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home + "/.gympt"
}

// Load builds the configuration. path names an optional YAML file; an
// empty path or a missing file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	setInt := func(env string, dst *int) {
		if v := os.Getenv(env); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setInt("GYMPT_SERVER_PORT", &cfg.Server.Port)
	setString("GYMPT_AUTH_TOKEN", &cfg.Server.AuthToken)
	setString("GYMPT_DATA_DIR", &cfg.Storage.DataDir)
	setString("DATABASE_URL", &cfg.Storage.DatabaseURL)
	setString("AZURE_OPENAI_ENDPOINT", &cfg.OpenAI.Endpoint)
	setString("AZURE_OPENAI_KEY", &cfg.OpenAI.APIKey)
	setString("AZURE_OPENAI_API_VERSION", &cfg.OpenAI.APIVersion)
	setString("AZURE_OPENAI_DEPLOYMENT_NAME", &cfg.OpenAI.ChatDeployment)
	setString("AZURE_OPENAI_EMBEDDING_DEPLOYMENT_NAME", &cfg.OpenAI.EmbedDeployment)
	setString("GYMPT_RERANK_ENDPOINT", &cfg.Rerank.Endpoint)
	setString("GYMPT_RERANK_API_KEY", &cfg.Rerank.APIKey)
	setInt("GYMPT_RERANK_FINAL_K", &cfg.Rerank.FinalK)
	setInt("GYMPT_RERANK_TIMEOUT_SECONDS", &cfg.Rerank.TimeoutSeconds)
	setInt("GYMPT_MEMORY_RETRIEVE_K", &cfg.Memory.RetrieveK)
	setInt("GYMPT_MEMORY_CACHE_SIZE", &cfg.Memory.CacheSize)
	setString("TTS_ENDPOINT", &cfg.Speech.Endpoint)
	setString("TTS_REGION", &cfg.Speech.Region)
	setString("TTS_SUBSCRIPTION_KEY", &cfg.Speech.Key)
	setString("VISION_ENDPOINT", &cfg.Vision.Endpoint)
	setString("VISION_KEY", &cfg.Vision.Key)
	setString("YOUTUBE_API_KEY", &cfg.YouTube.APIKey)
	setString("GYMPT_LOG_LEVEL", &cfg.Log.Level)
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.OpenAI.Endpoint == "" {
		return fmt.Errorf("missing required config: OpenAI endpoint (AZURE_OPENAI_ENDPOINT)")
	}
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("missing required config: OpenAI API key (AZURE_OPENAI_KEY)")
	}
	if cfg.OpenAI.ChatDeployment == "" || cfg.OpenAI.EmbedDeployment == "" {
		return fmt.Errorf("missing required config: OpenAI chat and embedding deployments")
	}
	return nil
}
