package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 利用可能なインデックスバックエンド
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	Env string

	Server    ServerConfig
	Data      DataConfig
	Chunking  ChunkingConfig
	Embedding EmbeddingConfig
	Index     IndexConfig
	Retrieval RetrievalConfig
	Prompt    PromptConfig
	LLM       LLMConfig
	Database  DatabaseConfig
	Log       LogConfig
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DataConfig はドキュメント読み込み設定
type DataConfig struct {
	Dir string
}

// ChunkingConfig はチャンク分割設定
type ChunkingConfig struct {
	Size    int
	Overlap int
}

// EmbeddingConfig は Embedding API 設定
type EmbeddingConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimension         int
	RequestsPerSecond float64
}

// IndexConfig はベクトルインデックス設定
type IndexConfig struct {
	Backend      string // "memory" or "postgres"
	SnapshotPath string
	LoadSnapshot bool
}

// RetrievalConfig は検索と関連性ゲートの設定
type RetrievalConfig struct {
	TopK               int
	RelevancyThreshold float64
	RelevancyPolarity  string // "lower" or "higher"
}

// PromptConfig はプロンプト構築設定
type PromptConfig struct {
	MaxContextChars int
	MaxTokens       int // 0 は無制限
}

// LLMConfig は回答生成用LLM設定
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
	File   string // 空の場合は標準出力のみ
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	openAIKey := getEnv("OPENAI_API_KEY", "")

	cfg := &Config{
		Env: getEnv("ENV", "development"),
		Server: ServerConfig{
			Addr:            getEnv("SERVER_ADDR", ":8000"),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:8000"}),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Data: DataConfig{
			Dir: getEnv("DATA_DIR", "data"),
		},
		Chunking: ChunkingConfig{
			Size:    getEnvAsInt("CHUNK_SIZE", 1000),
			Overlap: getEnvAsInt("CHUNK_OVERLAP", 100),
		},
		Embedding: EmbeddingConfig{
			APIKey:            getEnv("EMBEDDING_API_KEY", openAIKey),
			BaseURL:           getEnv("EMBEDDING_BASE_URL", ""),
			Model:             getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Dimension:         getEnvAsInt("EMBEDDING_DIMENSION", 384),
			RequestsPerSecond: getEnvAsFloat("EMBEDDING_REQUESTS_PER_SECOND", 5),
		},
		Index: IndexConfig{
			Backend:      getEnv("INDEX_BACKEND", BackendMemory),
			SnapshotPath: getEnv("INDEX_SNAPSHOT_PATH", "index_store/index.db"),
			LoadSnapshot: getEnvAsBool("INDEX_LOAD_SNAPSHOT", false),
		},
		Retrieval: RetrievalConfig{
			TopK:               getEnvAsInt("RETRIEVAL_TOP_K", 5),
			RelevancyThreshold: getEnvAsFloat("RELEVANCY_THRESHOLD", 0.6),
			RelevancyPolarity:  getEnv("RELEVANCY_POLARITY", "lower"),
		},
		Prompt: PromptConfig{
			MaxContextChars: getEnvAsInt("PROMPT_MAX_CONTEXT_CHARS", 1000),
			MaxTokens:       getEnvAsInt("PROMPT_MAX_TOKENS", 0),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("LLM_API_KEY", openAIKey),
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "ticketrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "ticketrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			File:   getEnv("LOG_FILE", ""),
		},
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	var errs []error

	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive: %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE): %d", c.Chunking.Overlap))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be positive: %d", c.Embedding.Dimension))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("RETRIEVAL_TOP_K must be positive: %d", c.Retrieval.TopK))
	}
	switch c.Index.Backend {
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("INDEX_BACKEND must be %q or %q: %q", BackendMemory, BackendPostgres, c.Index.Backend))
	}
	switch c.Retrieval.RelevancyPolarity {
	case "lower", "higher":
	default:
		errs = append(errs, fmt.Errorf("RELEVANCY_POLARITY must be \"lower\" or \"higher\": %q", c.Retrieval.RelevancyPolarity))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("LLM_TIMEOUT must be positive: %s", c.LLM.Timeout))
	}

	return errors.Join(errs...)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します（例: "15s"）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数をスライスとして取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
