package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider        string        `yaml:"provider"`
	APIKey          string        `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	BaseURL         string        `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	EmbedModel      string        `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	ChatModel       string        `yaml:"providerChatModel" envconfig:"PROVIDER_CHAT_MODEL"`
	ProjectID       string        `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location        string        `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim             int           `yaml:"providerDim" envconfig:"EMBED_DIM"`
	RPS             float64       `yaml:"providerRPS" envconfig:"PROVIDER_RPS"`
	EmbedTimeout    time.Duration `yaml:"embedTimeout" split_words:"true"`
	GenerateTimeout time.Duration `yaml:"generateTimeout" split_words:"true"`

	Backend    string              `yaml:"backend"`
	Database   string              `yaml:"database" envconfig:"DB_URL"`
	SQLitePath string              `yaml:"sqlitePath" envconfig:"SQLITE_PATH"`
	Qdrant     QdrantSpecification `yaml:"qdrant"`

	UploadDir      string `yaml:"uploadDir" split_words:"true"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes" split_words:"true"`
	DocsRoot       string `yaml:"docsRoot" split_words:"true"`
	Workers        int    `yaml:"workers"`

	ChunkSize    int    `yaml:"chunkSize" split_words:"true"`
	ChunkOverlap int    `yaml:"chunkOverlap" split_words:"true"`
	ChunkUnit    string `yaml:"chunkUnit" split_words:"true"`

	TopK           int `yaml:"topK" envconfig:"TOP_K"`
	SummaryTopK    int `yaml:"summaryTopK" envconfig:"SUMMARY_TOP_K"`
	ComparisonTopK int `yaml:"comparisonTopK" envconfig:"COMPARISON_TOP_K"`
	HistoryWindow  int `yaml:"historyWindow" split_words:"true"`

	LogLevel string `yaml:"logLevel" split_words:"true"`
	Port     int    `yaml:"port" split_words:"true"`

	flags *pflag.FlagSet `ignored:"true"`
}

type QdrantSpecification struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"apiKey" envconfig:"API_KEY"`
	UseTLS     bool   `yaml:"useTLS" envconfig:"USE_TLS"`
	Collection string `yaml:"collection"`
}

const envPrefix = "DOCCHAT"

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// .env never overrides variables that are already set
	_ = godotenv.Load()

	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/docchat.yaml",
				"config/config.yaml",
				"./docchat.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

func (s *Specification) validate() error {
	switch strings.ToLower(strings.TrimSpace(s.Backend)) {
	case "sqlite", "memory", "qdrant":
	case "postgres":
		if strings.TrimSpace(s.Database) == "" {
			return fmt.Errorf("DOCCHAT_DB_URL is required when backend is postgres (env/file/flag)")
		}
	default:
		return fmt.Errorf("unsupported backend: %s", s.Backend)
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("chunkSize must be positive, got %d", s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("chunkOverlap must be in [0, chunkSize), got %d", s.ChunkOverlap)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("topK must be positive, got %d", s.TopK)
	}
	if s.SummaryTopK <= s.TopK || s.ComparisonTopK <= s.TopK {
		return fmt.Errorf("summaryTopK (%d) and comparisonTopK (%d) must exceed topK (%d)",
			s.SummaryTopK, s.ComparisonTopK, s.TopK)
	}
	if s.HistoryWindow <= 0 {
		return fmt.Errorf("historyWindow must be positive, got %d", s.HistoryWindow)
	}
	if s.MaxUploadBytes <= 0 {
		return fmt.Errorf("maxUploadBytes must be positive, got %d", s.MaxUploadBytes)
	}
	return nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Provider (stub, openai, gemini, vertexai)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-base-url", c.BaseURL, "Provider base URL (OpenAI-compatible endpoints)")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("provider-chat-model", c.ChatModel, "Provider chat model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")
	fs.Int("embed-dim", c.Dim, "Embedding dimensionality (0 = provider default)")
	fs.Float64("provider-rps", c.RPS, "Provider requests per second (0 = unlimited)")
	fs.Duration("embed-timeout", c.EmbedTimeout, "Timeout for a single embedding call")
	fs.Duration("generate-timeout", c.GenerateTimeout, "Timeout for a single generation call")

	fs.String("backend", c.Backend, "Vector index backend (sqlite|postgres|qdrant|memory)")
	fs.String("db-url", c.Database, "Postgres URL (DSN)")
	fs.String("sqlite-path", c.SQLitePath, "SQLite database file")
	fs.String("qdrant-host", c.Qdrant.Host, "Qdrant host")
	fs.Int("qdrant-port", c.Qdrant.Port, "Qdrant gRPC port")
	fs.String("qdrant-api-key", c.Qdrant.APIKey, "Qdrant API key")
	fs.Bool("qdrant-use-tls", c.Qdrant.UseTLS, "Use TLS for Qdrant")
	fs.String("qdrant-collection", c.Qdrant.Collection, "Qdrant collection name")

	fs.String("upload-dir", c.UploadDir, "Directory for uploaded PDFs")
	fs.Int64("max-upload-bytes", c.MaxUploadBytes, "Maximum upload size in bytes")
	fs.String("docs-root", c.DocsRoot, "Directory of PDFs for batch indexing")
	fs.Int("workers", c.Workers, "Batch indexing workers (0 = auto)")

	fs.Int("chunk-size", c.ChunkSize, "Chunk size")
	fs.Int("chunk-overlap", c.ChunkOverlap, "Chunk overlap")
	fs.String("chunk-unit", c.ChunkUnit, "Chunk length unit (chars|tokens)")

	fs.Int("top-k", c.TopK, "Chunks retrieved per query")
	fs.Int("summary-top-k", c.SummaryTopK, "Chunks retrieved for summarization queries")
	fs.Int("comparison-top-k", c.ComparisonTopK, "Chunks retrieved for comparison queries")
	fs.Int("history-window", c.HistoryWindow, "Recent turns included in prompts")

	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	// Used later for usage/help
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setInt64 := func(name string, dst *int64) {
		if fs.Changed(name) {
			v, _ := fs.GetInt64(name)
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if fs.Changed(name) {
			v, _ := fs.GetFloat64(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-base-url", &c.BaseURL)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("provider-chat-model", &c.ChatModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)
	setInt("embed-dim", &c.Dim)
	setFloat("provider-rps", &c.RPS)
	setDur("embed-timeout", &c.EmbedTimeout)
	setDur("generate-timeout", &c.GenerateTimeout)

	setStr("backend", &c.Backend)
	setStr("db-url", &c.Database)
	setStr("sqlite-path", &c.SQLitePath)
	setStr("qdrant-host", &c.Qdrant.Host)
	setInt("qdrant-port", &c.Qdrant.Port)
	setStr("qdrant-api-key", &c.Qdrant.APIKey)
	setBool("qdrant-use-tls", &c.Qdrant.UseTLS)
	setStr("qdrant-collection", &c.Qdrant.Collection)

	setStr("upload-dir", &c.UploadDir)
	setInt64("max-upload-bytes", &c.MaxUploadBytes)
	setStr("docs-root", &c.DocsRoot)
	setInt("workers", &c.Workers)

	setInt("chunk-size", &c.ChunkSize)
	setInt("chunk-overlap", &c.ChunkOverlap)
	setStr("chunk-unit", &c.ChunkUnit)

	setInt("top-k", &c.TopK)
	setInt("summary-top-k", &c.SummaryTopK)
	setInt("comparison-top-k", &c.ComparisonTopK)
	setInt("history-window", &c.HistoryWindow)

	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.Provider = "stub"
	c.Location = "us-central1"
	c.Dim = 0
	c.EmbedTimeout = 30 * time.Second
	c.GenerateTimeout = 60 * time.Second

	c.Backend = "sqlite"
	c.SQLitePath = "data/docchat.db"
	c.Qdrant.Host = "localhost"
	c.Qdrant.Port = 6334
	c.Qdrant.Collection = "docchat_chunks"

	c.UploadDir = "uploads"
	c.MaxUploadBytes = 10 << 20
	c.DocsRoot = "."

	c.ChunkSize = 1000
	c.ChunkOverlap = 200
	c.ChunkUnit = "chars"

	c.TopK = 5
	c.SummaryTopK = 10
	c.ComparisonTopK = 8
	c.HistoryWindow = 5

	c.Port = 8000
}
