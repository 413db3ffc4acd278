package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Paths     PathsConfig
	Edit      EditConfig
	Judge     JudgeConfig
	LLM       LLMConfig
	Retry     RetryConfig
	RateLimit RateLimitConfig
	Aggregate AggregateConfig
	Ledger    LedgerConfig
	Redis     RedisConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

type PathsConfig struct {
	Manifest     string
	ImageDir     string
	EditedRoot   string
	QuestionRoot string
	AnswerRoot   string
	PromptPath   string
}

type EditConfig struct {
	Provider       string
	BaseURL        string
	FluxURL        string
	APIKey         string
	Model          string
	Size           string
	OutputFormat   string
	Workers        int
	TimeoutSec     int
	DownloadSec    int
	MaxImageSide   int
	JPEGQuality    int
	ResponseFormat string
	// Quality is sent to the OpenAI edit endpoint; empty omits it.
	Quality        string
}

type JudgeConfig struct {
	Workers    int
	Categories []string
	Models     []string
}

type LLMConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	TimeoutSec   int
	MaxImageSide int
	SystemPrompt string
}

type RetryConfig struct {
	MaxAttempts         int
	RateLimitBackoffSec int
	TransientDelayMs    int
	BreakerThreshold    int
	BreakerTimeoutSec   int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

type AggregateConfig struct {
	Weights map[string]float64
}

type LedgerConfig struct {
	Enabled bool
	Path    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads cie.yaml, CIE_* environment variables and an optional .env file.
// Callers bind command-line flags into v before calling Load.
func Load(v *viper.Viper) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v.SetConfigName("cie")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/cie")

	v.SetEnvPrefix("CIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper lowercases map keys; category names are upper case on disk.
	weights := make(map[string]float64, len(cfg.Aggregate.Weights))
	for category, weight := range cfg.Aggregate.Weights {
		weights[strings.ToUpper(category)] = weight
	}
	cfg.Aggregate.Weights = weights

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.maxAttempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Edit.Workers < 1 || c.Judge.Workers < 1 {
		return fmt.Errorf("worker counts must be at least 1")
	}
	switch c.Edit.Provider {
	case "openai", "flux":
	default:
		return fmt.Errorf("unsupported edit provider %q", c.Edit.Provider)
	}
	return nil
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.manifest", "./bench/instruction.json")
	v.SetDefault("paths.imageDir", "./bench/image")
	v.SetDefault("paths.editedRoot", "./outputs_images")
	v.SetDefault("paths.questionRoot", "./bench/questions_all")
	v.SetDefault("paths.answerRoot", "./answer_gpt")
	v.SetDefault("paths.promptPath", "./prompt_templete/answer.txt")

	v.SetDefault("edit.provider", "openai")
	v.SetDefault("edit.baseURL", "https://api.302.ai/v1")
	v.SetDefault("edit.fluxURL", "https://api.302.ai/302/submit/flux-kontext-pro")
	v.SetDefault("edit.model", "gpt-image-1")
	v.SetDefault("edit.size", "1024x1024")
	v.SetDefault("edit.outputFormat", "png")
	v.SetDefault("edit.responseFormat", "")
	v.SetDefault("edit.quality", "medium")
	v.SetDefault("edit.workers", 10)
	v.SetDefault("edit.timeoutSec", 300)
	v.SetDefault("edit.downloadSec", 120)
	v.SetDefault("edit.maxImageSide", 1024)
	v.SetDefault("edit.jpegQuality", 85)

	v.SetDefault("judge.workers", 4)
	v.SetDefault("judge.categories", []string{"IF", "VC", "VQ"})

	v.SetDefault("llm.baseURL", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.maxTokens", 2000)
	v.SetDefault("llm.timeoutSec", 180)
	v.SetDefault("llm.maxImageSide", 2048)
	v.SetDefault("llm.systemPrompt", "You are an image quality evaluator. Please assess the edited image based on the given questions.")

	v.SetDefault("retry.maxAttempts", 3)
	v.SetDefault("retry.rateLimitBackoffSec", 30)
	v.SetDefault("retry.transientDelayMs", 1000)
	v.SetDefault("retry.breakerThreshold", 10)
	v.SetDefault("retry.breakerTimeoutSec", 60)

	v.SetDefault("rateLimit.requestsPerMinute", 0)
	v.SetDefault("rateLimit.burst", 0)

	v.SetDefault("aggregate.weights", map[string]float64{"IF": 0.4, "VC": 0.4, "VQ": 0.2})

	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.path", "./data/cie-ledger.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlHours", 168)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.outputPath", "stderr")
}
