// Package config resolves service settings from the environment.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogPretty bool

	LLM            LLMConfig
	SourceLanguage string
	FlowCacheSize  int
	FlowCacheTTL   time.Duration

	DatabaseURL string
	Supabase    SupabaseConfig

	RedisURL         string
	SessionTTL       time.Duration
	SessionCacheSize int

	Media MediaConfig

	OTLPEndpoint string
	ServiceName  string
}

type LLMConfig struct {
	APIKey        string
	Model         string
	SpeechModel   string
	Voice         string
	RPS           float64
	Burst         int
	ModelTimeout  time.Duration
	SpeechTimeout time.Duration
}

// Fake reports whether no model credentials are configured, in which case the
// deterministic offline client is used.
func (c LLMConfig) Fake() bool { return strings.TrimSpace(c.APIKey) == "" }

type SupabaseConfig struct {
	URL string
	Key string
}

func (c SupabaseConfig) Enabled() bool { return c.URL != "" && c.Key != "" }

type MediaConfig struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	CacheEntries int
}

// S3 reports whether an object store is configured for media.
func (c MediaConfig) S3() bool { return c.Endpoint != "" }

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(), nil
}

// FromEnv resolves the configuration from environment variables only.
func FromEnv() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	env := strings.TrimSpace(v.GetString("APP_ENV"))
	local := strings.EqualFold(env, "local")
	if !v.IsSet("LOG_PRETTY") {
		v.Set("LOG_PRETTY", local)
	}
	if !v.IsSet("MEDIA_S3_USE_SSL") {
		v.Set("MEDIA_S3_USE_SSL", !local)
	}

	return &Config{
		Port:      normalizePort(v.GetString("PORT")),
		Env:       env,
		LogLevel:  v.GetString("LOG_LEVEL"),
		LogPretty: v.GetBool("LOG_PRETTY"),
		LLM: LLMConfig{
			APIKey:        strings.TrimSpace(v.GetString("GEMINI_API_KEY")),
			Model:         v.GetString("GEMINI_MODEL"),
			SpeechModel:   v.GetString("GEMINI_TTS_MODEL"),
			Voice:         v.GetString("GEMINI_TTS_VOICE"),
			RPS:           v.GetFloat64("LLM_RPS"),
			Burst:         v.GetInt("LLM_BURST"),
			ModelTimeout:  v.GetDuration("LLM_MODEL_TIMEOUT"),
			SpeechTimeout: v.GetDuration("LLM_SPEECH_TIMEOUT"),
		},
		SourceLanguage: v.GetString("SOURCE_LANGUAGE"),
		FlowCacheSize:  v.GetInt("FLOW_CACHE_SIZE"),
		FlowCacheTTL:   v.GetDuration("FLOW_CACHE_TTL"),
		DatabaseURL:    strings.TrimSpace(v.GetString("DATABASE_URL")),
		Supabase: SupabaseConfig{
			URL: strings.TrimSpace(v.GetString("SUPABASE_URL")),
			Key: strings.TrimSpace(v.GetString("SUPABASE_KEY")),
		},
		RedisURL:         strings.TrimSpace(v.GetString("REDIS_URL")),
		SessionTTL:       v.GetDuration("SESSION_TTL"),
		SessionCacheSize: v.GetInt("SESSION_CACHE_SIZE"),
		Media: MediaConfig{
			Endpoint:     strings.TrimSpace(v.GetString("MEDIA_S3_ENDPOINT")),
			Region:       v.GetString("MEDIA_S3_REGION"),
			AccessKey:    firstNonEmpty(v.GetString("MEDIA_S3_ACCESS_KEY"), v.GetString("MINIO_ROOT_USER")),
			SecretKey:    firstNonEmpty(v.GetString("MEDIA_S3_SECRET_KEY"), v.GetString("MINIO_ROOT_PASSWORD")),
			Bucket:       v.GetString("MEDIA_S3_BUCKET"),
			UseSSL:       v.GetBool("MEDIA_S3_USE_SSL"),
			CacheEntries: v.GetInt("MEDIA_CACHE_ENTRIES"),
		},
		OTLPEndpoint: strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName:  v.GetString("OTEL_SERVICE_NAME"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", ":8081")
	v.SetDefault("APP_ENV", "local")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts")
	v.SetDefault("GEMINI_TTS_VOICE", "Algenib")
	v.SetDefault("LLM_RPS", 0)
	v.SetDefault("LLM_BURST", 1)
	v.SetDefault("LLM_MODEL_TIMEOUT", 30*time.Second)
	v.SetDefault("LLM_SPEECH_TIMEOUT", 10*time.Second)
	v.SetDefault("SOURCE_LANGUAGE", "en")
	v.SetDefault("FLOW_CACHE_SIZE", 1024)
	v.SetDefault("FLOW_CACHE_TTL", 24*time.Hour)
	v.SetDefault("SESSION_TTL", 24*time.Hour)
	v.SetDefault("SESSION_CACHE_SIZE", 10000)
	v.SetDefault("MEDIA_S3_REGION", "us-east-1")
	v.SetDefault("MEDIA_S3_BUCKET", "kisanbazaar-media")
	v.SetDefault("MEDIA_CACHE_ENTRIES", 256)
	v.SetDefault("OTEL_SERVICE_NAME", "kisanbazaar-api")
}

func normalizePort(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || strings.HasPrefix(p, ":") {
		return p
	}
	if strings.Contains(p, ":") {
		return p
	}
	return ":" + p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
