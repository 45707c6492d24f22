package config

import (
	"log"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	TelegramBotToken string  `env:"TELEGRAM_BOT_TOKEN,required"`
	PublicDomain     string  `env:"PUBLIC_DOMAIN"`
	ListenAddr       string  `env:"LISTEN_ADDR" envDefault:":8080"`
	AllowedUsers     []int64 `env:"ALLOWED_USERS" envSeparator:":"`
	AdminUserID      int64   `env:"ADMIN_USER"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Relay behaviour
	RateLimitBurst          int `env:"RATE_LIMIT_BURST" envDefault:"100"`
	AnimatorDeadlineSeconds int `env:"ANIMATOR_DEADLINE_SECONDS" envDefault:"45"`

	// Storage
	StateDirPath     string `env:"STATE_DIR_PATH" envDefault:"data/state"`
	UsageLogPath     string `env:"USAGE_LOG_PATH" envDefault:"logs/usage.jsonl"`
	AllowlistPath    string `env:"ALLOWLIST_FILE_PATH" envDefault:"data/allowlist.json"`
	SystemPromptPath string `env:"SYSTEM_PROMPT_PATH" envDefault:"prompts/system_prompt.txt"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
