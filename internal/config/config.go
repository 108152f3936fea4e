package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hitoshi/meguri/internal/discovery"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string

	// Rate Limit（req/min/user）
	RateLimitGeneral   int
	RateLimitDiscovery int

	// Worker
	TrendingDecayInterval time.Duration

	// Selection（選定エンジンのチューニング）
	Selection discovery.SelectionConfig
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitDiscovery = getEnvInt("RATE_LIMIT_DISCOVERY", 60)
	cfg.TrendingDecayInterval = getEnvDuration("TRENDING_DECAY_INTERVAL", 1*time.Hour)

	// 選定エンジンの設定はデフォルト値をベースに環境変数で上書きする
	sel := discovery.DefaultSelectionConfig()
	sel.PoolTarget = getEnvInt("SELECTION_POOL_TARGET", sel.PoolTarget)
	sel.SupersetLimit = getEnvInt("SELECTION_SUPERSET_LIMIT", sel.SupersetLimit)
	sel.ExclusionCeiling = getEnvInt("SELECTION_EXCLUSION_CEILING", sel.ExclusionCeiling)
	sel.DiversityCap = getEnvInt("SELECTION_DIVERSITY_CAP", sel.DiversityCap)
	sel.MinViablePool = getEnvInt("SELECTION_MIN_VIABLE_POOL", sel.MinViablePool)
	sel.TopicBoostCap = getEnvFloat("SELECTION_TOPIC_BOOST_CAP", sel.TopicBoostCap)
	sel.RandomnessFloor = getEnvFloat("SELECTION_RANDOMNESS_FLOOR", sel.RandomnessFloor)
	sel.DefaultReputation = getEnvFloat("SELECTION_DEFAULT_REPUTATION", sel.DefaultReputation)

	if err := sel.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selection config: %w", err)
	}
	cfg.Selection = sel

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
