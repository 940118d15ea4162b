package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/nemonet1337/zaiGarment/pkg/inventory"
)

// ConfigPathEnv names the environment variable holding an optional YAML file path
const ConfigPathEnv = "ZAI_CONFIG"

// Config holds application configuration
// アプリケーション設定を保持
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	Inventory InventoryConfig `yaml:"inventory"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig holds database configuration
// データベース設定を保持
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// APIConfig holds API server configuration
// APIサーバー設定を保持
type APIConfig struct {
	Port          int           `yaml:"port"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	EnableCORS    bool          `yaml:"enable_cors"`
	EnableMetrics bool          `yaml:"enable_metrics"`
	Storage       string        `yaml:"storage"` // postgres, memory
}

// InventoryConfig holds inventory-specific configuration
// 在庫固有の設定を保持
type InventoryConfig struct {
	EditEpsilon     string `yaml:"edit_epsilon"`     // 補正エントリを作らない差分の上限
	ConflictRetries int    `yaml:"conflict_retries"` // 競合時の再試行回数（API層）
	DefaultUnit     string `yaml:"default_unit"`     // 単位未指定時の既定値
	RequestReason   string `yaml:"request_reason"`   // 資材請求出庫の既定の理由
}

// KafkaConfig holds stock event publishing configuration
// 在庫イベント発行の設定を保持
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
// ログ設定を保持
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// Default returns the built-in configuration
// 既定の設定を返す
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "inventory",
			Password:        "password",
			DBName:          "garment_db",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		API: APIConfig{
			Port:          8080,
			ReadTimeout:   30 * time.Second,
			WriteTimeout:  30 * time.Second,
			IdleTimeout:   60 * time.Second,
			EnableCORS:    true,
			EnableMetrics: true,
			Storage:       "postgres",
		},
		Inventory: InventoryConfig{
			EditEpsilon:     "0.001",
			ConflictRetries: 3,
			DefaultUnit:     string(inventory.UnitPiece),
			RequestReason:   "material request",
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			Topic:        "garment.stock-changed",
			WriteTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads .env, then the YAML file named by ZAI_CONFIG, then environment
// variables, each layer overriding the previous one
// .env、YAMLファイル、環境変数の順に設定を読み込み
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗しました: %w", err)
	}
	return LoadFile(os.Getenv(ConfigPathEnv))
}

// LoadFile loads configuration from an optional YAML file plus environment
// variables. An empty path skips the file.
// YAMLファイルと環境変数から設定を読み込み
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗しました: %w", err)
		}
	}

	cfg.applyEnv()

	// バリデーション
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定バリデーションに失敗しました: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnv("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)

	c.API.Port = getEnvAsInt("API_PORT", c.API.Port)
	c.API.ReadTimeout = getEnvAsDuration("API_READ_TIMEOUT", c.API.ReadTimeout)
	c.API.WriteTimeout = getEnvAsDuration("API_WRITE_TIMEOUT", c.API.WriteTimeout)
	c.API.IdleTimeout = getEnvAsDuration("API_IDLE_TIMEOUT", c.API.IdleTimeout)
	c.API.EnableCORS = getEnvAsBool("API_ENABLE_CORS", c.API.EnableCORS)
	c.API.EnableMetrics = getEnvAsBool("API_ENABLE_METRICS", c.API.EnableMetrics)
	c.API.Storage = getEnv("API_STORAGE", c.API.Storage)

	c.Inventory.EditEpsilon = getEnv("INVENTORY_EDIT_EPSILON", c.Inventory.EditEpsilon)
	c.Inventory.ConflictRetries = getEnvAsInt("INVENTORY_CONFLICT_RETRIES", c.Inventory.ConflictRetries)
	c.Inventory.DefaultUnit = getEnv("INVENTORY_DEFAULT_UNIT", c.Inventory.DefaultUnit)
	c.Inventory.RequestReason = getEnv("INVENTORY_REQUEST_REASON", c.Inventory.RequestReason)

	c.Kafka.Enabled = getEnvAsBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = getEnvAsList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.WriteTimeout = getEnvAsDuration("KAFKA_WRITE_TIMEOUT", c.Kafka.WriteTimeout)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

// Validate validates the configuration
// 設定をバリデーション
func (c *Config) Validate() error {
	// API設定チェック
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("無効なAPIポート: %d", c.API.Port)
	}
	switch c.API.Storage {
	case "postgres":
		// データベース設定チェック
		if c.Database.Host == "" {
			return fmt.Errorf("データベースホストが指定されていません")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("無効なデータベースポート: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("データベースユーザーが指定されていません")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("データベース名が指定されていません")
		}
	case "memory":
	default:
		return fmt.Errorf("無効なストレージ種別: %s", c.API.Storage)
	}

	// 在庫設定チェック
	eps, err := decimal.NewFromString(c.Inventory.EditEpsilon)
	if err != nil {
		return fmt.Errorf("無効な補正閾値: %s", c.Inventory.EditEpsilon)
	}
	if eps.IsNegative() {
		return fmt.Errorf("補正閾値は0以上である必要があります")
	}
	if c.Inventory.ConflictRetries < 1 {
		return fmt.Errorf("再試行回数は1以上である必要があります")
	}
	if err := inventory.ValidateUnit(inventory.Unit(c.Inventory.DefaultUnit)); err != nil {
		return fmt.Errorf("無効な既定単位: %s", c.Inventory.DefaultUnit)
	}

	// Kafka設定チェック
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("Kafkaブローカーが指定されていません")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("Kafkaトピックが指定されていません")
		}
	}

	// ログ設定チェック
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("無効なログレベル: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("無効なログフォーマット: %s", c.Logging.Format)
	}

	return nil
}

// ManagerConfig converts the inventory section into the engine's configuration
// 在庫エンジン用の設定に変換
func (c *Config) ManagerConfig() *inventory.Config {
	mc := inventory.DefaultConfig()
	if eps, err := decimal.NewFromString(c.Inventory.EditEpsilon); err == nil {
		mc.EditEpsilon = eps
	}
	if c.Inventory.DefaultUnit != "" {
		mc.DefaultUnit = inventory.Unit(c.Inventory.DefaultUnit)
	}
	if c.Inventory.RequestReason != "" {
		mc.RequestReason = c.Inventory.RequestReason
	}
	return mc
}

// DSN generates PostgreSQL Data Source Name
// PostgreSQLデータソース名を生成
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// ヘルパー関数

// getEnv gets environment variable with default value
// デフォルト値付きで環境変数を取得
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer with default value
// デフォルト値付きで環境変数を整数として取得
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets environment variable as boolean with default value
// デフォルト値付きで環境変数をbooleanとして取得
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets environment variable as duration with default value
// デフォルト値付きで環境変数をdurationとして取得
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList gets a comma separated environment variable
// カンマ区切りの環境変数をスライスとして取得
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
