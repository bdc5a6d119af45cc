package api

import (
	"testing"
)

func clearServiceEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "MODEL_PATH", "OCR_MODEL_PATH", "OCR_MODEL_PATH_2",
		"DATABASE_URL", "UPLOAD_DIR", "MAX_UPLOAD_MB",
		"S3_BUCKET", "S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY",
		"S3_ENDPOINT", "S3_PATH_STYLE",
		"API_KEY_HASH", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"RETENTION_DAYS", "LOG_LEVEL", "LOG_JSON",
		"TRACING_ENABLED", "OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestConfigFromEnvDefaults(t *testing.T) {
	clearServiceEnv(t)

	cfg := ConfigFromEnv()

	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.ModelPath != "yolov8best.pt" {
		t.Errorf("ModelPath = %q, want yolov8best.pt", cfg.ModelPath)
	}
	if cfg.OCRModelPath != "" || cfg.OCRModelPath2 != "" {
		t.Errorf("OCR model paths = %q/%q, want empty", cfg.OCRModelPath, cfg.OCRModelPath2)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.UploadDir != "uploads" {
		t.Errorf("UploadDir = %q, want uploads", cfg.UploadDir)
	}
	if cfg.MaxUploadMB != 50 {
		t.Errorf("MaxUploadMB = %d, want 50", cfg.MaxUploadMB)
	}
	if cfg.RateLimitRPS != 0 {
		t.Errorf("RateLimitRPS = %v, want 0 (disabled)", cfg.RateLimitRPS)
	}
	if cfg.RateLimitBurst != 5 {
		t.Errorf("RateLimitBurst = %d, want 5", cfg.RateLimitBurst)
	}
	if cfg.RetentionDays != 0 {
		t.Errorf("RetentionDays = %d, want 0 (disabled)", cfg.RetentionDays)
	}
	if cfg.LogLevel != "info" || cfg.LogJSON {
		t.Errorf("logging = %q/%v, want info/false", cfg.LogLevel, cfg.LogJSON)
	}
	if cfg.TracingEnabled {
		t.Error("TracingEnabled = true, want false")
	}
	if cfg.OTLPEndpoint != "localhost:4318" {
		t.Errorf("OTLPEndpoint = %q, want localhost:4318", cfg.OTLPEndpoint)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	clearServiceEnv(t)
	t.Setenv("PORT", "9100")
	t.Setenv("MODEL_PATH", "/models/detector.onnx")
	t.Setenv("OCR_MODEL_PATH", "/models/crnn.onnx")
	t.Setenv("DATABASE_URL", "postgres://lpr:pw@db/plates")
	t.Setenv("MAX_UPLOAD_MB", "10")
	t.Setenv("S3_BUCKET", "plates-bucket")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "9")
	t.Setenv("RETENTION_DAYS", "30")
	t.Setenv("LOG_JSON", "true")
	t.Setenv("TRACING_ENABLED", "1")

	cfg := ConfigFromEnv()

	if cfg.Port != "9100" {
		t.Errorf("Port = %q, want 9100", cfg.Port)
	}
	if cfg.ModelPath != "/models/detector.onnx" {
		t.Errorf("ModelPath = %q", cfg.ModelPath)
	}
	if cfg.OCRModelPath != "/models/crnn.onnx" {
		t.Errorf("OCRModelPath = %q", cfg.OCRModelPath)
	}
	if cfg.DatabaseURL != "postgres://lpr:pw@db/plates" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.MaxUploadMB != 10 {
		t.Errorf("MaxUploadMB = %d, want 10", cfg.MaxUploadMB)
	}
	if cfg.S3Bucket != "plates-bucket" || !cfg.S3PathStyle {
		t.Errorf("S3 = %q/%v, want plates-bucket/true", cfg.S3Bucket, cfg.S3PathStyle)
	}
	if cfg.RateLimitRPS != 2.5 || cfg.RateLimitBurst != 9 {
		t.Errorf("rate limit = %v/%d, want 2.5/9", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.RetentionDays)
	}
	if !cfg.LogJSON {
		t.Error("LogJSON = false, want true")
	}
	if !cfg.TracingEnabled {
		t.Error("TracingEnabled = false, want true")
	}
}

func TestConfigFromEnvMalformedFallsBack(t *testing.T) {
	clearServiceEnv(t)
	t.Setenv("MAX_UPLOAD_MB", "huge")
	t.Setenv("RATE_LIMIT_BURST", "many")
	t.Setenv("LOG_JSON", "yes-please")

	cfg := ConfigFromEnv()

	if cfg.MaxUploadMB != 50 {
		t.Errorf("MaxUploadMB = %d, want default 50", cfg.MaxUploadMB)
	}
	if cfg.RateLimitBurst != 5 {
		t.Errorf("RateLimitBurst = %d, want default 5", cfg.RateLimitBurst)
	}
	if cfg.LogJSON {
		t.Error("LogJSON = true, want default false")
	}
}

func TestMaxUploadBytes(t *testing.T) {
	tests := []struct {
		mb   int64
		want int64
	}{
		{50, 50 << 20},
		{1, 1 << 20},
		{0, 50 << 20},
		{-3, 50 << 20},
	}
	for _, tt := range tests {
		got := Config{MaxUploadMB: tt.mb}.MaxUploadBytes()
		if got != tt.want {
			t.Errorf("MaxUploadBytes(%d) = %d, want %d", tt.mb, got, tt.want)
		}
	}
}
