package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	AppName  string
	Env      string
	Host     string
	Port     int
	LogLevel string
	Debug    bool

	StoreDriver string
	MongoURI    string
	MongoDB     string
	DatabaseURL string
	SQLitePath  string

	JWTSecret          string
	AccessTokenMinutes int
	EncryptKey         string
	LegacyEncryptKeys  []string

	CORSOrigins []string

	GroupChatName    string
	BroadcastRole    string
	BroadcasterRole  string
	ThreadBroadcasts bool
	MaxGroupMessages int

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	SendRatePerMinute int

	KafkaBrokers []string
	KafkaTopic   string

	UploadDriver    string
	UploadDir       string
	S3Bucket        string
	S3Region        string
	S3PublicBaseURL string
	MaxUploadMB     int
}

func Load() (*Config, error) {
	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "ams")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=disable",
	}

	cfg := &Config{
		AppName:  getEnv("APP_NAME", "AMS Messaging API"),
		Env:      getEnv("APP_ENV", "development"),
		Host:     getEnv("HTTP_HOST", "0.0.0.0"),
		Port:     getEnvAsInt("HTTP_PORT", 5000),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Debug:    getEnvAsBool("DEBUG", false),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "mongo")),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     getEnv("MONGO_DB", "ams"),
		DatabaseURL: u.String(),
		SQLitePath:  getEnv("SQLITE_PATH", "ams.db"),

		JWTSecret:          os.Getenv("JWT_SECRET"),
		AccessTokenMinutes: getEnvAsInt("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24),
		EncryptKey:         os.Getenv("ENCRYPTION_KEY"),
		LegacyEncryptKeys:  getEnvAsList("LEGACY_ENCRYPTION_KEYS", nil),

		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		GroupChatName:    getEnv("GROUP_CHAT_NAME", "Group Chat"),
		BroadcastRole:    getEnv("BROADCAST_ROLE", "Student"),
		BroadcasterRole:  getEnv("BROADCASTER_ROLE", "Teacher"),
		ThreadBroadcasts: getEnvAsBool("THREAD_BROADCASTS", true),
		MaxGroupMessages: getEnvAsInt("MAX_GROUP_MESSAGES", 0),

		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvAsInt("REDIS_DB", 0),
		SendRatePerMinute: getEnvAsInt("SEND_RATE_PER_MINUTE", 60),

		KafkaBrokers: getEnvAsList("KAFKA_BROKERS", nil),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "ams.messages"),

		UploadDriver:    strings.ToLower(getEnv("UPLOAD_DRIVER", "disk")),
		UploadDir:       getEnv("UPLOAD_DIR", "uploads"),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3PublicBaseURL: os.Getenv("S3_PUBLIC_BASE_URL"),
		MaxUploadMB:     getEnvAsInt("MAX_UPLOAD_MB", 10),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.UploadDriver == "disk" {
		if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating upload dir: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case "mongo", "postgres", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be one of mongo, postgres, sqlite (got %q)", c.StoreDriver)
	}
	switch c.UploadDriver {
	case "disk":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when UPLOAD_DRIVER=s3")
		}
	default:
		return fmt.Errorf("UPLOAD_DRIVER must be disk or s3 (got %q)", c.UploadDriver)
	}
	if c.MaxGroupMessages < 0 {
		return fmt.Errorf("MAX_GROUP_MESSAGES must not be negative")
	}
	if c.AccessTokenMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsProduction reports whether APP_ENV selects production logging.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
