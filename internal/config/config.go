package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const megabyte = 1024 * 1024

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	RedisURL    string
	NATSURL     string
	NATSSubject string
	EventsTopic string

	AIProvider      string
	OpenAIAPIKey    string
	AIModel         string
	AIBaseURL       string
	AIMaxTokens     int
	AITemperature   float32
	AIMaxAttempts   int
	AIBackoffMin    time.Duration
	AIBackoffMax    time.Duration
	AzureEndpoint   string
	AzureAPIKey     string
	AzureDeployment string
	AzureAPIVersion string

	MaxRubricBytes       int64
	MaxProjectBytes      int64
	MaxRequirementsBytes int64

	ContentMaxFileBytes    int64
	ContentMaxFileChars    int
	ContentMaxTotalChars   int
	ContentMaxImages       int
	ContentMaxArchiveDepth int
	ContentMaxExtractBytes int64

	ReportTTL                time.Duration
	ReportCapacity           int
	ReportIncludeSummaryRows bool

	WorkspaceRoot   string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// GraderConfigured reports whether credentials for the selected AI provider are present.
func (c Config) GraderConfigured() bool {
	if c.AIProvider == "azure" {
		return c.AzureAPIKey != "" && c.AzureEndpoint != "" && c.AzureDeployment != ""
	}
	return c.OpenAIAPIKey != ""
}

// BodyLimit is the largest request body the HTTP server accepts.
func (c Config) BodyLimit() int {
	return int(c.MaxRubricBytes + c.MaxProjectBytes + c.MaxRequirementsBytes + megabyte)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("nats.subject", "grader.reports.ready")
	v.SetDefault("events.channel", "grader:reports")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.max_tokens", 4000)
	v.SetDefault("ai.temperature", 0.4)
	v.SetDefault("ai.max_attempts", 5)
	v.SetDefault("ai.backoff_min", "4s")
	v.SetDefault("ai.backoff_max", "60s")
	v.SetDefault("azure_openai_api_version", "2024-02-15-preview")
	v.SetDefault("upload.rubric_max_mb", 25)
	v.SetDefault("upload.project_max_mb", 1000)
	v.SetDefault("upload.requirements_max_mb", 25)
	v.SetDefault("content.max_file_mb", 10)
	v.SetDefault("content.max_file_chars", 4000)
	v.SetDefault("content.max_total_chars", 200000)
	v.SetDefault("content.max_images", 5)
	v.SetDefault("content.max_archive_depth", 8)
	v.SetDefault("content.max_extract_mb", 2048)
	v.SetDefault("report.ttl", "15m")
	v.SetDefault("report.capacity", 256)
	v.SetDefault("report.include_summary_rows", true)
	v.SetDefault("rate_limit.max", 10)
	v.SetDefault("rate_limit.window", "1m")

	durations := map[string]time.Duration{}
	for _, key := range []string{"ai.backoff_min", "ai.backoff_max", "report.ttl", "rate_limit.window"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		RedisURL:    v.GetString("redis.url"),
		NATSURL:     v.GetString("nats.url"),
		NATSSubject: v.GetString("nats.subject"),
		EventsTopic: v.GetString("events.channel"),

		AIProvider:      strings.ToLower(strings.TrimSpace(v.GetString("ai.provider"))),
		OpenAIAPIKey:    v.GetString("openai_api_key"),
		AIModel:         v.GetString("ai.model"),
		AIBaseURL:       v.GetString("ai.base_url"),
		AIMaxTokens:     v.GetInt("ai.max_tokens"),
		AITemperature:   float32(v.GetFloat64("ai.temperature")),
		AIMaxAttempts:   v.GetInt("ai.max_attempts"),
		AIBackoffMin:    durations["ai.backoff_min"],
		AIBackoffMax:    durations["ai.backoff_max"],
		AzureEndpoint:   v.GetString("azure_openai_endpoint"),
		AzureAPIKey:     v.GetString("azure_openai_api_key"),
		AzureDeployment: v.GetString("azure_openai_deployment"),
		AzureAPIVersion: v.GetString("azure_openai_api_version"),

		MaxRubricBytes:       v.GetInt64("upload.rubric_max_mb") * megabyte,
		MaxProjectBytes:      v.GetInt64("upload.project_max_mb") * megabyte,
		MaxRequirementsBytes: v.GetInt64("upload.requirements_max_mb") * megabyte,

		ContentMaxFileBytes:    v.GetInt64("content.max_file_mb") * megabyte,
		ContentMaxFileChars:    v.GetInt("content.max_file_chars"),
		ContentMaxTotalChars:   v.GetInt("content.max_total_chars"),
		ContentMaxImages:       v.GetInt("content.max_images"),
		ContentMaxArchiveDepth: v.GetInt("content.max_archive_depth"),
		ContentMaxExtractBytes: v.GetInt64("content.max_extract_mb") * megabyte,

		ReportTTL:                durations["report.ttl"],
		ReportCapacity:           v.GetInt("report.capacity"),
		ReportIncludeSummaryRows: v.GetBool("report.include_summary_rows"),

		WorkspaceRoot:   v.GetString("workspace.root"),
		RateLimitMax:    v.GetInt("rate_limit.max"),
		RateLimitWindow: durations["rate_limit.window"],
	}

	if cfg.AIProvider != "openai" && cfg.AIProvider != "azure" {
		return Config{}, fmt.Errorf("unsupported ai provider %q", cfg.AIProvider)
	}

	if cfg.MaxRubricBytes <= 0 || cfg.MaxProjectBytes <= 0 || cfg.MaxRequirementsBytes <= 0 {
		return Config{}, fmt.Errorf("upload size limits must be positive")
	}

	if cfg.AIMaxAttempts <= 0 {
		cfg.AIMaxAttempts = 5
	}

	return cfg, nil
}
