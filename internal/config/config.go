package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultDomain = "https://joy-buy-test.lovable.app"

var ErrMissingAPIKey = errors.New("KEYWORDS_API_KEY not set; check .env file or pass --api-key")

type Config struct {
	OutputDir string
	Domain    string
	Verbose   bool

	KeywordsAPIKey  string
	KeywordsBaseURL string
	LLMModel        string
	LLMMaxRetries   int
	LLMTimeout      time.Duration

	PaytatoAPIKey        string
	PaytatoBaseURL       string
	PayfillPrivateKey    string
	ApprovalInitialDelay time.Duration
	ApprovalInterval     time.Duration
	ApprovalTimeout      time.Duration
	SubmitPause          time.Duration

	ChromePath string
	CDPURL     string
	ProfileDir string
	Headless   bool

	RedisAddr           string
	PostgresDSN         string
	KafkaBrokers        []string
	KafkaTopic          string
	LeaseTTL            time.Duration
	IdempotencyClaimTTL time.Duration
	IdempotencyEntryTTL time.Duration

	TracingEnabled bool
}

// LoadDotEnv populates the environment from the given files, skipping the
// ones that do not exist. Variables already set win over file values.
func LoadDotEnv(paths ...string) ([]string, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	loaded := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("stat env file %s: %w", path, err)
		}
		if err := godotenv.Load(path); err != nil {
			return loaded, fmt.Errorf("load env file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

func Load() Config {
	outputDir := envOrDefault("SHOPPER_OUTPUT_DIR", "output")
	return Config{
		OutputDir: outputDir,
		Domain:    envOrDefault("SHOPPER_DOMAIN", DefaultDomain),
		Verbose:   boolOrDefault("SHOPPER_VERBOSE", false),

		KeywordsAPIKey:  strings.TrimSpace(os.Getenv("KEYWORDS_API_KEY")),
		KeywordsBaseURL: envOrDefault("KEYWORDS_BASE_URL", "https://api.keywordsai.co/api/chat/completions"),
		LLMModel:        envOrDefault("SHOPPER_LLM_MODEL", "gpt-4o"),
		LLMMaxRetries:   intOrDefault("SHOPPER_LLM_MAX_RETRIES", 2),
		LLMTimeout:      durationOrDefault("SHOPPER_LLM_TIMEOUT", 60*time.Second),

		PaytatoAPIKey:        strings.TrimSpace(os.Getenv("PAYTATO_API_KEY")),
		PaytatoBaseURL:       envOrDefault("PAYTATO_BASE_URL", "https://fortunate-tern-109.convex.site/api/v1"),
		PayfillPrivateKey:    strings.TrimSpace(os.Getenv("PAYFILL_PRIVATE_KEY")),
		ApprovalInitialDelay: durationOrDefault("SHOPPER_APPROVAL_INITIAL_DELAY", 30*time.Second),
		ApprovalInterval:     durationOrDefault("SHOPPER_APPROVAL_INTERVAL", 5*time.Second),
		ApprovalTimeout:      durationOrDefault("SHOPPER_APPROVAL_TIMEOUT", 150*time.Second),
		SubmitPause:          durationOrDefault("SHOPPER_SUBMIT_PAUSE", 15*time.Second),

		ChromePath: strings.TrimSpace(os.Getenv("CHROME_PATH")),
		CDPURL:     strings.TrimSpace(os.Getenv("SHOPPER_CDP_URL")),
		ProfileDir: envOrDefault("SHOPPER_PROFILE_DIR", filepath.Join(outputDir, "browser_profile")),
		Headless:   boolOrDefault("SHOPPER_HEADLESS", false),

		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		PostgresDSN:         strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
		KafkaBrokers:        listOrDefault("KAFKA_BROKERS", nil),
		KafkaTopic:          envOrDefault("KAFKA_TOPIC", "shopper.events"),
		LeaseTTL:            durationOrDefault("SHOPPER_LEASE_TTL", 5*time.Minute),
		IdempotencyClaimTTL: durationOrDefault("SHOPPER_IDEMPOTENCY_CLAIM_TTL", 2*time.Minute),
		IdempotencyEntryTTL: durationOrDefault("SHOPPER_IDEMPOTENCY_TTL", 24*time.Hour),

		TracingEnabled: boolOrDefault("TRACING_ENABLED", false),
	}
}

// Validate checks what must be present before any I/O starts.
func (c Config) Validate() error {
	if strings.TrimSpace(c.KeywordsAPIKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output dir is required")
	}
	if c.ApprovalTimeout <= 0 {
		return errors.New("approval timeout must be positive")
	}
	return nil
}

// PaytatoEnabled reports whether the approval flow runs at all.
func (c Config) PaytatoEnabled() bool {
	return c.PaytatoAPIKey != ""
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func boolOrDefault(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if value == "" {
		return fallback
	}
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func listOrDefault(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
