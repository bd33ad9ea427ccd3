// Package config holds the tfguard runtime configuration.
//
// Settings come from the environment (a .env file in the working directory is
// loaded first and never overrides variables that are already set), then an
// optional YAML file may override the non-secret settings. The resulting
// Config is validated once and passed explicitly into the pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

// Embedding providers.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderGemini = "gemini"
)

// Vector stores.
const (
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
	StoreMilvus   = "milvus"
	StoreWeaviate = "weaviate"
	StorePgVector = "pgvector"
)

// Config is the complete tfguard configuration.
type Config struct {
	EmbeddingProvider string `envconfig:"TFGUARD_EMBEDDING_PROVIDER" default:"openai" yaml:"embedding_provider"`
	EmbeddingDim      int    `envconfig:"TFGUARD_EMBEDDING_DIMENSION" default:"0" yaml:"embedding_dimension"`

	OpenAIKey     string `envconfig:"OPENAI_API_KEY" yaml:"-"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" yaml:"openai_base_url"`
	OpenAIModel   string `envconfig:"OPENAI_EMBEDDING_MODEL" default:"text-embedding-3-small" yaml:"openai_model"`

	AzureKey        string `envconfig:"AZURE_API_KEY" yaml:"-"`
	AzureEndpoint   string `envconfig:"AZURE_API_BASE" yaml:"azure_endpoint"`
	AzureDeployment string `envconfig:"AZURE_EMBEDDING_DEPLOYMENT" default:"text-embedding-ada-002" yaml:"azure_deployment"`
	AzureAPIVersion string `envconfig:"AZURE_API_VERSION" default:"2023-05-15" yaml:"azure_api_version"`

	GeminiKey   string `envconfig:"GEMINI_API_KEY" yaml:"-"`
	GeminiModel string `envconfig:"GEMINI_EMBEDDING_MODEL" default:"gemini-embedding-001" yaml:"gemini_model"`

	VectorStore    string `envconfig:"TFGUARD_VECTOR_STORE" default:"sqlite" yaml:"vector_store"`
	IndexDir       string `envconfig:"TFGUARD_INDEX_DIR" default:"./tfguard_index" yaml:"index_dir"`
	MilvusAddress  string `envconfig:"MILVUS_ADDRESS" default:"localhost:19530" yaml:"milvus_address"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080" yaml:"weaviate_host"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http" yaml:"weaviate_scheme"`
	PgVectorDSN    string `envconfig:"PGVECTOR_DSN" yaml:"-"`

	ChunkSize     int `envconfig:"TFGUARD_CHUNK_SIZE" default:"500" yaml:"chunk_size"`
	ChunkOverlap  int `envconfig:"TFGUARD_CHUNK_OVERLAP" default:"50" yaml:"chunk_overlap"`
	TopK          int `envconfig:"TFGUARD_TOP_K" default:"5" yaml:"top_k"`
	QueryMaxChars int `envconfig:"TFGUARD_QUERY_MAX_CHARS" default:"8000" yaml:"query_max_chars"`

	BatchSize      int           `envconfig:"TFGUARD_BATCH_SIZE" default:"16" yaml:"batch_size"`
	Concurrency    int           `envconfig:"TFGUARD_CONCURRENCY" default:"1" yaml:"concurrency"`
	EmbedRPS       float64       `envconfig:"TFGUARD_EMBED_RPS" default:"5" yaml:"embed_rps"`
	MaxRetries     int           `envconfig:"TFGUARD_MAX_RETRIES" default:"3" yaml:"max_retries"`
	RequestTimeout time.Duration `envconfig:"TFGUARD_REQUEST_TIMEOUT" default:"30s" yaml:"request_timeout"`

	GitHubToken string `envconfig:"GITHUB_TOKEN" yaml:"-"`
}

// ProviderConfig is the provider-independent shape of embedding credentials.
type ProviderConfig struct {
	Provider   string
	APIKey     string
	Endpoint   string
	Model      string
	APIVersion string
	Dimension  int
	Timeout    time.Duration
}

// Load reads .env, the environment and, when path is non-empty, a YAML override file.
func Load(path string) (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: config file %s: %v", ErrInvalid, path, err)
	}
	return nil
}

// Validate checks the settings every command needs: chunking, retrieval and the vector store.
// Embedding credentials are checked separately by ValidateEmbedding so that commands which
// never embed (namespace deletion) run without them.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: TFGUARD_CHUNK_SIZE must be positive", ErrInvalid)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: TFGUARD_CHUNK_OVERLAP must be in [0, %d)", ErrInvalid, c.ChunkSize)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: TFGUARD_TOP_K must be positive", ErrInvalid)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: TFGUARD_BATCH_SIZE must be positive", ErrInvalid)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: TFGUARD_CONCURRENCY must be positive", ErrInvalid)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: TFGUARD_MAX_RETRIES must not be negative", ErrInvalid)
	}

	switch c.VectorStore {
	case StoreSQLite:
		if c.IndexDir == "" {
			return fmt.Errorf("%w: TFGUARD_INDEX_DIR", ErrMissingRequired)
		}
	case StoreMemory:
	case StoreMilvus:
		if c.MilvusAddress == "" {
			return fmt.Errorf("%w: MILVUS_ADDRESS", ErrMissingRequired)
		}
	case StoreWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case StorePgVector:
		if c.PgVectorDSN == "" {
			return fmt.Errorf("%w: PGVECTOR_DSN", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown vector store %q", ErrInvalid, c.VectorStore)
	}

	return nil
}

// ValidateEmbedding checks that the selected embedding provider has its credentials.
func (c *Config) ValidateEmbedding() error {
	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
		}
	case ProviderAzure:
		if c.AzureKey == "" {
			return fmt.Errorf("%w: AZURE_API_KEY", ErrMissingRequired)
		}
		if c.AzureEndpoint == "" {
			return fmt.Errorf("%w: AZURE_API_BASE", ErrMissingRequired)
		}
		if c.AzureAPIVersion == "" {
			return fmt.Errorf("%w: AZURE_API_VERSION", ErrMissingRequired)
		}
	case ProviderGemini:
		if c.GeminiKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
		// The Gemini batch API returns the model's native size only
		if c.EmbeddingDim != 0 {
			return fmt.Errorf("%w: TFGUARD_EMBEDDING_DIMENSION is not supported by the gemini provider", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalid, c.EmbeddingProvider)
	}
	return nil
}

// Embedding resolves the selected provider into its {key, endpoint, model, api version} shape.
func (c *Config) Embedding() ProviderConfig {
	pc := ProviderConfig{
		Provider:  c.EmbeddingProvider,
		Dimension: c.EmbeddingDim,
		Timeout:   c.RequestTimeout,
	}

	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		pc.APIKey = c.OpenAIKey
		pc.Endpoint = c.OpenAIBaseURL
		pc.Model = c.OpenAIModel
	case ProviderAzure:
		pc.APIKey = c.AzureKey
		pc.Endpoint = c.AzureEndpoint
		pc.Model = c.AzureDeployment
		pc.APIVersion = c.AzureAPIVersion
	case ProviderGemini:
		pc.APIKey = c.GeminiKey
		pc.Model = c.GeminiModel
	}

	return pc
}
