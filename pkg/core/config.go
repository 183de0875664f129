package core

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the complete configuration for a memory Service.
//
// It covers the record store backend, the vector index location, the LLM
// and embedding providers, summarization thresholds, and the backup
// scheduler. The zero value is not usable; construct via DefaultConfig or
// LoadConfigFromEnv and adjust as needed.
//
// Example:
//
//	config := core.DefaultConfig()
//	config.LLM.APIKey = "sk-..."
//	config.Embedder.APIKey = "sk-..."
//	service, _ := core.NewService(config)
type Config struct {
	// StorageRoot is the directory holding the record database and the
	// vector index. Both live under one root so a single backup archive
	// captures a consistent pair.
	StorageRoot string `json:"storage_root"`

	// Database contains record store configuration.
	Database DatabaseConfig `json:"database"`

	// LLM contains LLM provider configuration, used for summarization.
	LLM LLMConfig `json:"llm"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder"`

	// Summary contains summarization tiering thresholds.
	Summary SummaryConfig `json:"summary"`

	// Backup contains backup scheduler configuration.
	Backup BackupConfig `json:"backup"`
}

// DatabaseConfig contains configuration for the record store.
//
// Supported providers: sqlite (default), postgres.
type DatabaseConfig struct {
	// Provider is the record store backend name (sqlite, postgres).
	Provider string `json:"provider"`

	// Path is the SQLite database file. Empty means
	// <StorageRoot>/memory.db.
	Path string `json:"path,omitempty"`

	// Postgres holds connection settings when Provider is "postgres".
	Postgres PostgresConfig `json:"postgres,omitempty"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode,omitempty"`
}

// LLMConfig contains configuration for the summarization LLM.
//
// Supported providers: openai, openrouter. OpenRouter is the OpenAI wire
// format behind a different base URL, so both run on the same client.
type LLMConfig struct {
	// Provider is the LLM provider name (openai, openrouter).
	Provider string `json:"provider"`

	// APIKey is the API key for the provider.
	APIKey string `json:"api_key"`

	// Model is the model name (e.g. "gpt-4o-mini", or an OpenRouter slug
	// like "openai/gpt-4o-mini").
	Model string `json:"model"`

	// BaseURL overrides the API endpoint (optional; the openrouter
	// provider fills in the OpenRouter endpoint when empty).
	BaseURL string `json:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai, mock. The mock provider is deterministic
// and offline, for tests and local experiments.
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, mock).
	Provider string `json:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key"`

	// Model is the embedding model name (e.g. "text-embedding-3-small").
	Model string `json:"model,omitempty"`

	// BaseURL overrides the API endpoint (optional).
	BaseURL string `json:"base_url,omitempty"`

	// Dimensions is the embedding vector dimension.
	Dimensions int `json:"dimensions,omitempty"`
}

// SummaryConfig contains the character thresholds that drive automatic
// summarization tiering.
type SummaryConfig struct {
	// TinyThreshold is the size below which content is stored directly
	// as its own summary. Default 500.
	TinyThreshold int `json:"tiny_threshold"`

	// SmallThreshold is the size at which summarization switches from
	// extractive-short to abstractive-medium. Default 2000. Must be
	// greater than TinyThreshold.
	SmallThreshold int `json:"small_threshold"`
}

// BackupConfig contains backup scheduler configuration.
type BackupConfig struct {
	// Enabled turns opportunistic pre-write backups on.
	Enabled bool `json:"enabled"`

	// Dir is where archives are written. Empty means
	// <StorageRoot>/backups.
	Dir string `json:"dir,omitempty"`

	// IntervalHours is the minimum time between automatic backups.
	// Default 24.
	IntervalHours int `json:"interval_hours"`

	// Retention is how many archives to keep. Default 5.
	Retention int `json:"retention"`
}

// DefaultConfig returns a configuration with SQLite storage under
// ./memory_storage, OpenAI providers, and default thresholds.
func DefaultConfig() *Config {
	return &Config{
		StorageRoot: "./memory_storage",
		Database: DatabaseConfig{
			Provider: "sqlite",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedder: EmbedderConfig{
			Provider:   "openai",
			Dimensions: 1536,
		},
		Summary: SummaryConfig{
			TinyThreshold:  DefaultTinyThreshold,
			SmallThreshold: DefaultSmallThreshold,
		},
		Backup: BackupConfig{
			Enabled:       true,
			IntervalHours: 24,
			Retention:     5,
		},
	}
}

// DatabasePath resolves the SQLite database file path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.StorageRoot, "memory.db")
}

// IndexPath resolves the vector index directory.
func (c *Config) IndexPath() string {
	return filepath.Join(c.StorageRoot, "chroma")
}

// BackupDir resolves the backup archive directory.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.StorageRoot, "backups")
}

// BackupInterval resolves the backup interval as a duration.
func (c *Config) BackupInterval() time.Duration {
	hours := c.Backup.IntervalHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - MEMORY_STORAGE_PATH
//   - DATABASE_PROVIDER (sqlite, postgres), SQLITE_PATH, POSTGRES_*
//   - LLM_PROVIDER (openai, openrouter), LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - EMBEDDING_PROVIDER (openai, mock), EMBEDDING_API_KEY, EMBEDDING_MODEL,
//     EMBEDDING_BASE_URL, EMBEDDING_DIMENSIONS
//   - SUMMARY_TINY_THRESHOLD, SUMMARY_SMALL_THRESHOLD
//   - BACKUP_ENABLED, BACKUP_PATH, BACKUP_INTERVAL_HOURS, BACKUP_RETENTION
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	config := DefaultConfig()

	config.StorageRoot = getEnvOrDefault("MEMORY_STORAGE_PATH", config.StorageRoot)

	config.Database.Provider = getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	switch config.Database.Provider {
	case "sqlite":
		config.Database.Path = os.Getenv("SQLITE_PATH")
	case "postgres":
		config.Database.Postgres = PostgresConfig{
			Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   getEnvOrDefault("POSTGRES_DATABASE", "memory"),
			SSLMode:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	}

	llmProvider := getEnvOrDefault("LLM_PROVIDER", "openai")
	defaultModel := "gpt-4o-mini"
	if llmProvider == "openrouter" {
		defaultModel = "openai/gpt-4o-mini"
	}
	config.LLM = LLMConfig{
		Provider: llmProvider,
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    getEnvOrDefault("LLM_MODEL", defaultModel),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
	}

	config.Embedder = EmbedderConfig{
		Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Model:      getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
		Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),
	}
	if config.Embedder.APIKey == "" {
		config.Embedder.APIKey = config.LLM.APIKey
	}

	config.Summary = SummaryConfig{
		TinyThreshold:  getEnvInt("SUMMARY_TINY_THRESHOLD", DefaultTinyThreshold),
		SmallThreshold: getEnvInt("SUMMARY_SMALL_THRESHOLD", DefaultSmallThreshold),
	}

	config.Backup = BackupConfig{
		Enabled:       getEnvOrDefault("BACKUP_ENABLED", "true") == "true",
		Dir:           os.Getenv("BACKUP_PATH"),
		IntervalHours: getEnvInt("BACKUP_INTERVAL_HOURS", 24),
		Retention:     getEnvInt("BACKUP_RETENTION", 5),
	}

	return config, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.StorageRoot == "" {
		return NewMemoryError("Validate", ErrInvalidConfig)
	}
	if c.Database.Provider == "" {
		return NewMemoryError("Validate", ErrInvalidConfig)
	}
	if c.Embedder.Provider == "" {
		return NewMemoryError("Validate", ErrInvalidConfig)
	}
	if c.Summary.TinyThreshold <= 0 || c.Summary.SmallThreshold <= c.Summary.TinyThreshold {
		return NewMemoryError("Validate", ErrInvalidConfig)
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt parses an integer environment variable, falling back to the
// default on absence or parse failure.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
