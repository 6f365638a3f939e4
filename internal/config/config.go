package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"BillsAnalyzer/internal/domain"
)

const (
	configPathEnv        = "BILLS_ANALYZER_CONFIG"
	databaseDriverEnv    = "DATABASE_DRIVER"
	databaseDSNEnv       = "DATABASE_DSN"
	congressAPIKeyEnv    = "CONGRESS_API_KEY"
	congressAPIURLEnv    = "CONGRESS_API_URL"
	pollIntervalEnv      = "POLL_INTERVAL"
	openAIAPIKeyEnv      = "OPENAI_API_KEY"
	openAIModelEnv       = "OPENAI_MODEL"
	openAIMaxTokensEnv   = "OPENAI_MAX_TOKENS"
	openAITemperatureEnv = "OPENAI_TEMPERATURE"
	batchSizeEnv         = "BATCH_SIZE"
	maxRetriesEnv        = "MAX_RETRIES"
	retryDelayEnv        = "RETRY_DELAY"
	logLevelEnv          = "LOG_LEVEL"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging      LoggingConfig      `yaml:"logging"`
	Database     DatabaseConfig     `yaml:"database"`
	Congress     CongressConfig     `yaml:"congress"`
	OpenAI       OpenAIConfig       `yaml:"openai"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	HTTP         HTTPConfig         `yaml:"http"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects the SQL driver ("postgres" or "sqlite3") and its DSN.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
}

// CongressConfig describes the Congress.gov source and how the sync engine walks it.
type CongressConfig struct {
	BaseURL         string        `yaml:"baseUrl"`
	APIKey          string        `yaml:"apiKey"`
	Timeout         time.Duration `yaml:"timeout"`
	PageSize        int           `yaml:"pageSize"`
	FetchDetails    bool          `yaml:"fetchDetails"`
	Congresses      []int         `yaml:"congresses"`
	Chambers        []string      `yaml:"chambers"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	InitialLookback time.Duration `yaml:"initialLookback"`
	MaxPageAttempts int           `yaml:"maxPageAttempts"`
	PageRetryDelay  time.Duration `yaml:"pageRetryDelay"`
}

// OpenAIConfig defines how to contact the chat completion API.
type OpenAIConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	APIKey       string        `yaml:"apiKey"`
	Model        string        `yaml:"model"`
	MaxTokens    int           `yaml:"maxTokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
	SystemPrompt string        `yaml:"systemPrompt"`
}

// OrchestratorConfig bounds batch analysis: size, concurrency, retries and claim hygiene.
type OrchestratorConfig struct {
	Interval        time.Duration `yaml:"interval"`
	BatchSize       int           `yaml:"batchSize"`
	Workers         int           `yaml:"workers"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	Backoff         bool          `yaml:"backoff"`
	StaleAfter      time.Duration `yaml:"staleAfter"`
	ErrorCooldown   time.Duration `yaml:"errorCooldown"`
	ReclaimInterval time.Duration `yaml:"reclaimInterval"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads defaults, the YAML file named by path (or BILLS_ANALYZER_CONFIG),
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(logLevelEnv); ok {
		c.Logging.Level = v
	}
	if v, ok := get(databaseDriverEnv); ok {
		c.Database.Driver = v
	}
	if v, ok := get(databaseDSNEnv); ok {
		c.Database.DSN = v
	}
	if v, ok := get(congressAPIKeyEnv); ok {
		c.Congress.APIKey = v
	}
	if v, ok := get(congressAPIURLEnv); ok {
		c.Congress.BaseURL = v
	}
	if v, ok := get(openAIAPIKeyEnv); ok {
		c.OpenAI.APIKey = v
	}
	if v, ok := get(openAIModelEnv); ok {
		c.OpenAI.Model = v
	}

	var errs []error
	if v, ok := get(pollIntervalEnv); ok {
		errs = append(errs, parseDuration(pollIntervalEnv, v, &c.Congress.PollInterval))
	}
	if v, ok := get(retryDelayEnv); ok {
		errs = append(errs, parseDuration(retryDelayEnv, v, &c.Orchestrator.RetryDelay))
	}
	if v, ok := get(openAIMaxTokensEnv); ok {
		errs = append(errs, parseInt(openAIMaxTokensEnv, v, &c.OpenAI.MaxTokens))
	}
	if v, ok := get(batchSizeEnv); ok {
		errs = append(errs, parseInt(batchSizeEnv, v, &c.Orchestrator.BatchSize))
	}
	if v, ok := get(maxRetriesEnv); ok {
		errs = append(errs, parseInt(maxRetriesEnv, v, &c.Orchestrator.MaxAttempts))
	}
	if v, ok := get(openAITemperatureEnv); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%q", domain.ErrInvalidConfig, openAITemperatureEnv, v))
		} else {
			c.OpenAI.Temperature = f
		}
	}
	return errors.Join(errs...)
}

func parseDuration(key, raw string, dst *time.Duration) error {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", domain.ErrInvalidConfig, key, raw)
	}
	*dst = d
	return nil
}

func parseInt(key, raw string, dst *int) error {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", domain.ErrInvalidConfig, key, raw)
	}
	*dst = n
	return nil
}

// Validate reports every out-of-range setting; the error wraps domain.ErrInvalidConfig.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		add("database.driver must be postgres or sqlite3, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		add("database.dsn is required")
	}

	if c.Congress.BaseURL == "" {
		add("congress.baseUrl is required")
	}
	if c.Congress.PageSize <= 0 || c.Congress.PageSize > 250 {
		add("congress.pageSize must be in 1..250, got %d", c.Congress.PageSize)
	}
	if len(c.Congress.Congresses) == 0 {
		add("congress.congresses must list at least one congress")
	}
	for _, n := range c.Congress.Congresses {
		if n <= 0 {
			add("congress.congresses contains invalid congress %d", n)
		}
	}
	if _, err := c.Congress.ParsedChambers(); err != nil {
		add("congress.chambers: %v", err)
	}
	if c.Congress.PollInterval <= 0 {
		add("congress.pollInterval must be positive")
	}
	if c.Congress.MaxPageAttempts < 1 {
		add("congress.maxPageAttempts must be >= 1, got %d", c.Congress.MaxPageAttempts)
	}
	if c.Congress.Timeout <= 0 {
		add("congress.timeout must be positive")
	}

	if c.OpenAI.Endpoint == "" || c.OpenAI.Model == "" {
		add("openai.endpoint and openai.model are required")
	}
	if c.OpenAI.MaxTokens <= 0 {
		add("openai.maxTokens must be positive, got %d", c.OpenAI.MaxTokens)
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		add("openai.temperature must be in 0..2, got %g", c.OpenAI.Temperature)
	}
	if c.OpenAI.Timeout <= 0 {
		add("openai.timeout must be positive")
	}

	o := c.Orchestrator
	if o.BatchSize <= 0 {
		add("orchestrator.batchSize must be > 0, got %d", o.BatchSize)
	}
	if o.Workers < 1 {
		add("orchestrator.workers must be >= 1, got %d", o.Workers)
	}
	if o.MaxAttempts < 1 {
		add("orchestrator.maxAttempts must be >= 1, got %d", o.MaxAttempts)
	}
	if o.RetryDelay < 0 || o.ErrorCooldown < 0 {
		add("orchestrator delays must not be negative")
	}
	if o.Interval <= 0 || o.ReclaimInterval <= 0 {
		add("orchestrator.interval and orchestrator.reclaimInterval must be positive")
	}
	if o.StaleAfter <= 0 {
		add("orchestrator.staleAfter must be positive")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(problems, "; "))
}

// ParsedChambers converts the configured chamber names.
func (c CongressConfig) ParsedChambers() ([]domain.Chamber, error) {
	if len(c.Chambers) == 0 {
		return nil, errors.New("at least one chamber is required")
	}
	out := make([]domain.Chamber, 0, len(c.Chambers))
	for _, raw := range c.Chambers {
		ch, err := domain.ParseChamber(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// Feeds expands the configured congresses and chambers into sync feeds.
func (c CongressConfig) Feeds() ([]domain.Feed, error) {
	chambers, err := c.ParsedChambers()
	if err != nil {
		return nil, err
	}
	return domain.FeedsFor(c.Congresses, chambers), nil
}

// Default returns a configuration suitable for a local SQLite run.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "bills.db",
		},
		Congress: CongressConfig{
			BaseURL:         "https://api.congress.gov/v3",
			Timeout:         30 * time.Second,
			PageSize:        100,
			FetchDetails:    true,
			Congresses:      []int{118},
			Chambers:        []string{"house", "senate"},
			PollInterval:    24 * time.Hour,
			InitialLookback: 7 * 24 * time.Hour,
			MaxPageAttempts: 3,
			PageRetryDelay:  2 * time.Second,
		},
		OpenAI: OpenAIConfig{
			Endpoint:    "https://api.openai.com/v1/chat/completions",
			Model:       "gpt-4-1106-preview",
			MaxTokens:   1000,
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			Interval:        5 * time.Minute,
			BatchSize:       100,
			Workers:         1,
			MaxAttempts:     3,
			RetryDelay:      60 * time.Second,
			StaleAfter:      30 * time.Minute,
			ErrorCooldown:   6 * time.Hour,
			ReclaimInterval: 10 * time.Minute,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}
