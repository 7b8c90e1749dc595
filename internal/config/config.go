package config

import (
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "KB_CONFIG"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	embeddingKeyEnv   = "EMBEDDING_API_KEY"
	openAIKeyEnv      = "OPENAI_API_KEY"
	embeddingURLEnv   = "EMBEDDING_BASE_URL"
	qdrantURLEnv      = "QDRANT_URL"
	qdrantKeyEnv      = "QDRANT_API_KEY"
	kafkaBrokersEnv   = "KAFKA_BROKERS"
	redisAddrEnv      = "REDIS_ADDR"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	logLevelEnv       = "LOG_LEVEL"
	httpAddrEnv       = "HTTP_ADDR"
)

// Config holds high-level settings required across the application.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Embedding     EmbeddingConfig    `yaml:"embedding"`
	VectorStore   VectorStoreConfig  `yaml:"vector_store"`
	Sites         []SiteConfig       `yaml:"sites"`
	Jobs          JobsConfig         `yaml:"jobs"`
	Queue         QueueConfig        `yaml:"queue"`
	Lock          LockConfig         `yaml:"lock"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Schedules     []ScheduleConfig   `yaml:"schedules"`
	Notifications NotificationConfig `yaml:"notifications"`
	Logging       LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the SQL driver and its connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// EmbeddingConfig defines how to contact the embedding provider.
type EmbeddingConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	Dimensions        int           `yaml:"dimensions"`
	MaxInputChars     int           `yaml:"max_input_chars"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
}

// VectorStoreConfig selects the vector backend and collection.
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"`
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	Distance   string `yaml:"distance"`
}

// SiteConfig describes a single help center with its scanner strategy.
type SiteConfig struct {
	Name           string            `yaml:"name"`
	Scanner        string            `yaml:"scanner"`
	SeedURL        string            `yaml:"seed_url"`
	FeedURL        string            `yaml:"feed_url"`
	ArticlePattern string            `yaml:"article_pattern"`
	ListingPattern string            `yaml:"listing_pattern"`
	MaxDepth       int               `yaml:"max_depth"`
	Options        map[string]string `yaml:"options"`
}

// JobsConfig tunes batch sizes and pacing of the engines.
type JobsConfig struct {
	ScrapeBatchSize    int           `yaml:"scrape_batch_size"`
	ScrapeConcurrency  int           `yaml:"scrape_concurrency"`
	MinContentLength   int           `yaml:"min_content_length"`
	VectorizeBatchSize int           `yaml:"vectorize_batch_size"`
	VectorizeParallel  int           `yaml:"vectorize_concurrency"`
	BatchDelay         time.Duration `yaml:"batch_delay"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	SearchThreshold    float64       `yaml:"search_threshold"`
}

// QueueConfig selects where continuations are queued.
type QueueConfig struct {
	Backend string   `yaml:"backend"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
	Buffer  int      `yaml:"buffer"`
}

// LockConfig selects the job lock backend.
type LockConfig struct {
	Backend  string        `yaml:"backend"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// SchedulerConfig defines how often due work is checked.
type SchedulerConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Interval time.Duration  `yaml:"interval"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// ScheduleConfig seeds one vectorization schedule.
type ScheduleConfig struct {
	Name      string        `yaml:"name"`
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Enabled   bool          `yaml:"enabled"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// LoggingConfig selects level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads YAML configuration from path (or KB_CONFIG) and applies environment overrides.
func Load(path string) Config {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Sites) == 0 {
		cfg.Sites = defaultConfig().Sites
	}
	for i := range cfg.Sites {
		cfg.Sites[i] = withSiteDefaults(cfg.Sites[i])
	}

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(openAIKeyEnv); v != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = v
	}

	if v := os.Getenv(embeddingKeyEnv); v != "" {
		c.Embedding.APIKey = v
	}

	if v := os.Getenv(embeddingURLEnv); v != "" {
		c.Embedding.BaseURL = v
	}

	if v := os.Getenv(qdrantURLEnv); v != "" {
		c.VectorStore.URL = v
	}

	if v := os.Getenv(qdrantKeyEnv); v != "" {
		c.VectorStore.APIKey = v
	}

	if v := os.Getenv(kafkaBrokersEnv); v != "" {
		c.Queue.Brokers = splitList(v)
	}

	if v := os.Getenv(redisAddrEnv); v != "" {
		c.Lock.Addr = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(httpAddrEnv); v != "" {
		c.Server.Addr = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func mergeConfig(base, override Config) Config {
	if override.Server.Addr != "" {
		base.Server.Addr = override.Server.Addr
	}
	if len(override.Server.AllowedOrigins) > 0 {
		base.Server.AllowedOrigins = override.Server.AllowedOrigins
	}
	if override.Server.ShutdownTimeout > 0 {
		base.Server.ShutdownTimeout = override.Server.ShutdownTimeout
	}

	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	base.Embedding = mergeEmbedding(base.Embedding, override.Embedding)
	base.VectorStore = mergeVectorStore(base.VectorStore, override.VectorStore)
	base.Jobs = mergeJobs(base.Jobs, override.Jobs)

	if override.Queue.Backend != "" {
		base.Queue.Backend = override.Queue.Backend
	}
	if len(override.Queue.Brokers) > 0 {
		base.Queue.Brokers = override.Queue.Brokers
	}
	if override.Queue.Topic != "" {
		base.Queue.Topic = override.Queue.Topic
	}
	if override.Queue.GroupID != "" {
		base.Queue.GroupID = override.Queue.GroupID
	}
	if override.Queue.Buffer > 0 {
		base.Queue.Buffer = override.Queue.Buffer
	}

	if override.Lock.Backend != "" {
		base.Lock.Backend = override.Lock.Backend
	}
	if override.Lock.Addr != "" {
		base.Lock.Addr = override.Lock.Addr
	}
	if override.Lock.Password != "" {
		base.Lock.Password = override.Lock.Password
	}
	if override.Lock.DB != 0 {
		base.Lock.DB = override.Lock.DB
	}
	if override.Lock.Prefix != "" {
		base.Lock.Prefix = override.Lock.Prefix
	}
	if override.Lock.TTL > 0 {
		base.Lock.TTL = override.Lock.TTL
	}

	if override.Scheduler.Enabled {
		base.Scheduler.Enabled = true
	}
	if override.Scheduler.Interval > 0 {
		base.Scheduler.Interval = override.Scheduler.Interval
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if len(override.Schedules) > 0 {
		base.Schedules = override.Schedules
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if len(override.Sites) > 0 {
		base.Sites = override.Sites
	}

	return base
}

func mergeEmbedding(base, override EmbeddingConfig) EmbeddingConfig {
	if override.BaseURL != "" {
		base.BaseURL = override.BaseURL
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.Dimensions > 0 {
		base.Dimensions = override.Dimensions
	}
	if override.MaxInputChars > 0 {
		base.MaxInputChars = override.MaxInputChars
	}
	if override.RequestsPerSecond > 0 {
		base.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	return base
}

func mergeVectorStore(base, override VectorStoreConfig) VectorStoreConfig {
	if override.Backend != "" {
		base.Backend = override.Backend
	}
	if override.URL != "" {
		base.URL = override.URL
	}
	if override.APIKey != "" {
		base.APIKey = override.APIKey
	}
	if override.Collection != "" {
		base.Collection = override.Collection
	}
	if override.Distance != "" {
		base.Distance = override.Distance
	}
	return base
}

func mergeJobs(base, override JobsConfig) JobsConfig {
	if override.ScrapeBatchSize > 0 {
		base.ScrapeBatchSize = override.ScrapeBatchSize
	}
	if override.ScrapeConcurrency > 0 {
		base.ScrapeConcurrency = override.ScrapeConcurrency
	}
	if override.MinContentLength > 0 {
		base.MinContentLength = override.MinContentLength
	}
	if override.VectorizeBatchSize > 0 {
		base.VectorizeBatchSize = override.VectorizeBatchSize
	}
	if override.VectorizeParallel > 0 {
		base.VectorizeParallel = override.VectorizeParallel
	}
	if override.BatchDelay > 0 {
		base.BatchDelay = override.BatchDelay
	}
	if override.StaleAfter > 0 {
		base.StaleAfter = override.StaleAfter
	}
	if override.SearchThreshold > 0 {
		base.SearchThreshold = override.SearchThreshold
	}
	return base
}

func withSiteDefaults(site SiteConfig) SiteConfig {
	if site.Scanner == "" {
		site.Scanner = "helpcenter"
	}
	if site.ArticlePattern == "" {
		site.ArticlePattern = `/articles/\d+`
	}
	if site.ListingPattern == "" {
		site.ListingPattern = `/(categories|sections)/\d+`
	}
	if site.MaxDepth <= 0 {
		site.MaxDepth = 2
	}
	return site
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "knowledgebase.db"},
		Embedding: EmbeddingConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "text-embedding-3-small",
			Dimensions:        1536,
			MaxInputChars:     8000,
			RequestsPerSecond: 3,
			Timeout:           30 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Backend:    "qdrant",
			URL:        "http://localhost:6333",
			Collection: "help_articles",
			Distance:   "Cosine",
		},
		Jobs: JobsConfig{
			ScrapeBatchSize:    20,
			ScrapeConcurrency:  5,
			MinContentLength:   100,
			VectorizeBatchSize: 50,
			VectorizeParallel:  3,
			BatchDelay:         time.Second,
			StaleAfter:         30 * time.Minute,
			SearchThreshold:    0.7,
		},
		Queue: QueueConfig{Backend: "memory", Topic: "kb-continuations", GroupID: "kbindexer", Buffer: 64},
		Lock:  LockConfig{Backend: "memory", Prefix: "kb:lock", TTL: 10 * time.Minute},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: time.Minute,
			Timezone: defaultTimezone,
			location: tz,
		},
		Schedules: []ScheduleConfig{
			{Name: "default", Interval: 24 * time.Hour, BatchSize: 50, Enabled: true},
		},
		Notifications: NotificationConfig{
			Telegram: TelegramConfig{BotToken: "", ChatID: ""},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Sites: []SiteConfig{
			{
				Name:    "help-center",
				Scanner: "helpcenter",
				SeedURL: "https://help.example.com/hc/en-us",
			},
		},
	}
}
