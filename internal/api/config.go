package api

import (
	"os"
	"strconv"
)

// Config is the lprd service configuration, resolved from environment
// variables. Zero values carry the documented defaults.
type Config struct {
	Port          string
	ModelPath     string
	OCRModelPath  string
	OCRModelPath2 string

	DatabaseURL string
	UploadDir   string
	MaxUploadMB int64

	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
	S3PathStyle bool

	APIKeyHash     string
	RateLimitRPS   float64
	RateLimitBurst int

	RetentionDays int

	LogLevel string
	LogJSON  bool

	TracingEnabled bool
	OTLPEndpoint   string
}

// ConfigFromEnv resolves the service configuration from the process
// environment. Unset or malformed values fall back to defaults.
func ConfigFromEnv() Config {
	return Config{
		Port:          envString("PORT", "8000"),
		ModelPath:     envString("MODEL_PATH", "yolov8best.pt"),
		OCRModelPath:  os.Getenv("OCR_MODEL_PATH"),
		OCRModelPath2: os.Getenv("OCR_MODEL_PATH_2"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		UploadDir:   envString("UPLOAD_DIR", "uploads"),
		MaxUploadMB: envInt64("MAX_UPLOAD_MB", 50),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    os.Getenv("S3_REGION"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3PathStyle: envBool("S3_PATH_STYLE", false),

		APIKeyHash:     os.Getenv("API_KEY_HASH"),
		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 5),

		RetentionDays: envInt("RETENTION_DAYS", 0),

		LogLevel: envString("LOG_LEVEL", "info"),
		LogJSON:  envBool("LOG_JSON", false),

		TracingEnabled: envBool("TRACING_ENABLED", false),
		OTLPEndpoint:   envString("OTLP_ENDPOINT", "localhost:4318"),
	}
}

// MaxUploadBytes returns the upload size cap in bytes.
func (c Config) MaxUploadBytes() int64 {
	mb := c.MaxUploadMB
	if mb <= 0 {
		mb = 50
	}
	return mb << 20
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
