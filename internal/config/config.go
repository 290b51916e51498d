// Package config loads service configuration from flags, environment and an
// optional .env file. Flags take precedence over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Image generator backends.
const (
	ImagesSVG         = "svg"
	ImagesGemini      = "gemini"
	ImagesPlaceholder = "none"
)

// Config holds all service settings.
type Config struct {
	// Ledger
	RPCEndpoint     string
	WSEndpoint      string
	ContractAddress string
	SignerKey       string
	SubmitterKey    string
	DomainName      string

	// Storage
	UseMemory     bool
	PostgresDSN   string
	ClickhouseDSN string

	// Publishing
	S3 S3Config

	// Metadata
	IPFSGateway       string
	MetadataCacheSize int

	// Generators
	GeminiAPIKey     string
	GeminiTextModel  string
	GeminiImageModel string
	GeminiRPS        float64
	ImageGenerator   string

	// Events
	KafkaBrokers []string
	KafkaTopic   string

	// Scan lease
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LeaseKey      string
	LeaseTTL      time.Duration

	// Scheduler
	BatchSize    int
	ScanInterval time.Duration
	ItemDelay    time.Duration
	WarmupDelay  time.Duration

	HTTPAddr string
	Verbose  bool
}

// S3Config configures the S3/MinIO publisher.
type S3Config struct {
	Endpoint      string
	Region        string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Prefix        string
	UseSSL        bool
	PublicBaseURL string
}

// Enabled reports whether an S3 endpoint is configured.
func (c S3Config) Enabled() bool {
	return c.Endpoint != ""
}

// Load reads .env (if present), then parses args with env-var defaults.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()
	return Parse(args, os.Getenv)
}

// Parse parses args using getenv for defaults. It does not validate.
func Parse(args []string, getenv func(string) string) (*Config, error) {
	env := envReader{getenv: getenv}
	cfg := &Config{}
	fs := flag.NewFlagSet("evonft", flag.ContinueOnError)

	fs.StringVar(&cfg.RPCEndpoint, "rpc-endpoint", env.str("EVM_RPC_ENDPOINT", ""), "EVM JSON-RPC HTTP endpoint")
	fs.StringVar(&cfg.WSEndpoint, "ws-endpoint", env.str("EVM_WS_ENDPOINT", ""), "EVM WebSocket endpoint for Evolved events (optional)")
	fs.StringVar(&cfg.ContractAddress, "contract", env.str("EVOLUTION_CONTRACT", ""), "Evolution contract address")
	fs.StringVar(&cfg.SignerKey, "signer-key", env.str("SIGNER_PRIVATE_KEY", ""), "Hex secp256k1 key that signs authorizations")
	fs.StringVar(&cfg.SubmitterKey, "submitter-key", env.str("SUBMITTER_PRIVATE_KEY", ""), "Hex key that pays for evolve transactions (defaults to signer key)")
	fs.StringVar(&cfg.DomainName, "domain-name", env.str("EIP712_DOMAIN_NAME", "EvoNFT"), "EIP-712 domain name")

	fs.BoolVar(&cfg.UseMemory, "use-memory", env.boolean("USE_MEMORY", false), "Use in-memory storage and the in-memory ledger")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", env.str("POSTGRES_DSN", ""), "PostgreSQL connection string")
	fs.StringVar(&cfg.ClickhouseDSN, "clickhouse-dsn", env.str("CLICKHOUSE_DSN", ""), "ClickHouse connection string")

	fs.StringVar(&cfg.S3.Endpoint, "s3-endpoint", env.str("S3_ENDPOINT", ""), "S3/MinIO endpoint (empty publishes in memory)")
	fs.StringVar(&cfg.S3.Region, "s3-region", env.str("S3_REGION", "us-east-1"), "S3 region")
	fs.StringVar(&cfg.S3.AccessKey, "s3-access-key", env.str("S3_ACCESS_KEY", ""), "S3 access key")
	fs.StringVar(&cfg.S3.SecretKey, "s3-secret-key", env.str("S3_SECRET_KEY", ""), "S3 secret key")
	fs.StringVar(&cfg.S3.Bucket, "s3-bucket", env.str("S3_BUCKET", "evonft-metadata"), "S3 bucket")
	fs.StringVar(&cfg.S3.Prefix, "s3-prefix", env.str("S3_PREFIX", ""), "Object key prefix")
	fs.BoolVar(&cfg.S3.UseSSL, "s3-use-ssl", env.boolean("S3_USE_SSL", true), "Use TLS for S3")
	fs.StringVar(&cfg.S3.PublicBaseURL, "s3-public-url", env.str("S3_PUBLIC_BASE_URL", ""), "Public gateway URL for published objects")

	fs.StringVar(&cfg.IPFSGateway, "ipfs-gateway", env.str("IPFS_GATEWAY", "https://ipfs.io/ipfs/"), "Gateway for ipfs:// metadata")
	fs.IntVar(&cfg.MetadataCacheSize, "metadata-cache-size", env.integer("METADATA_CACHE_SIZE", 512), "Metadata LRU cache entries")

	fs.StringVar(&cfg.GeminiAPIKey, "gemini-api-key", env.str("GEMINI_API_KEY", ""), "Gemini API key (empty disables AI descriptions)")
	fs.StringVar(&cfg.GeminiTextModel, "gemini-text-model", env.str("GEMINI_TEXT_MODEL", "gemini-2.5-flash"), "Gemini text model")
	fs.StringVar(&cfg.GeminiImageModel, "gemini-image-model", env.str("GEMINI_IMAGE_MODEL", "imagen-4.0-generate-001"), "Gemini image model")
	fs.Float64Var(&cfg.GeminiRPS, "gemini-rps", env.float("GEMINI_RPS", 1), "Gemini requests per second (0 = unlimited)")
	fs.StringVar(&cfg.ImageGenerator, "images", env.str("IMAGE_GENERATOR", ImagesSVG), "Image generator: svg, gemini or none")

	var brokers string
	fs.StringVar(&brokers, "kafka-brokers", env.str("KAFKA_BROKERS", ""), "Comma-separated Kafka brokers (empty disables events)")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", env.str("KAFKA_TOPIC", "evonft.evolutions"), "Kafka topic for outcome events")

	fs.StringVar(&cfg.RedisAddr, "redis-addr", env.str("REDIS_ADDR", ""), "Redis address for the scan lease (empty disables it)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", env.str("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", env.integer("REDIS_DB", 0), "Redis database")
	fs.StringVar(&cfg.LeaseKey, "lease-key", env.str("SCAN_LEASE_KEY", "evonft:scan-lease"), "Redis key of the scan lease")
	fs.DurationVar(&cfg.LeaseTTL, "lease-ttl", env.duration("SCAN_LEASE_TTL", 2*time.Hour), "Scan lease expiry")

	fs.IntVar(&cfg.BatchSize, "batch-size", env.integer("BATCH_SIZE", 10), "Tokens evolved per scan")
	fs.DurationVar(&cfg.ScanInterval, "scan-interval", env.duration("SCAN_INTERVAL", time.Hour), "Scan interval")
	fs.DurationVar(&cfg.ItemDelay, "item-delay", env.duration("ITEM_DELAY", 5*time.Second), "Quiet period after each token in a batch (0 disables pacing)")
	fs.DurationVar(&cfg.WarmupDelay, "warmup-delay", env.duration("WARMUP_DELAY", 10*time.Second), "Delay before the warm-up scan (0 scans at start)")

	fs.StringVar(&cfg.HTTPAddr, "http-addr", env.str("HTTP_ADDR", ":9090"), "Status/metrics HTTP address")
	fs.BoolVar(&cfg.Verbose, "verbose", env.boolean("VERBOSE", false), "Verbose logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if env.err != nil {
		return nil, env.err
	}

	cfg.KafkaBrokers = splitList(brokers)
	if cfg.SubmitterKey == "" {
		cfg.SubmitterKey = cfg.SignerKey
	}
	return cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	var errs []error

	if !c.UseMemory {
		if c.RPCEndpoint == "" {
			errs = append(errs, errors.New("--rpc-endpoint is required"))
		}
		if c.ContractAddress == "" {
			errs = append(errs, errors.New("--contract is required"))
		}
		if c.SignerKey == "" {
			errs = append(errs, errors.New("--signer-key is required"))
		}
		if c.PostgresDSN == "" || c.ClickhouseDSN == "" {
			errs = append(errs, errors.New("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)"))
		}
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("--batch-size must be positive, got %d", c.BatchSize))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("--scan-interval must be positive, got %s", c.ScanInterval))
	}
	if c.ItemDelay < 0 {
		errs = append(errs, fmt.Errorf("--item-delay must not be negative, got %s", c.ItemDelay))
	}
	if c.WarmupDelay < 0 {
		errs = append(errs, fmt.Errorf("--warmup-delay must not be negative, got %s", c.WarmupDelay))
	}
	switch c.ImageGenerator {
	case ImagesSVG, ImagesPlaceholder:
	case ImagesGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("--images=gemini requires --gemini-api-key"))
		}
	default:
		errs = append(errs, fmt.Errorf("--images must be svg, gemini or none, got %q", c.ImageGenerator))
	}
	if c.MetadataCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("--metadata-cache-size must be positive, got %d", c.MetadataCacheSize))
	}
	if c.S3.Enabled() && c.S3.Bucket == "" {
		errs = append(errs, errors.New("--s3-bucket is required with --s3-endpoint"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		errs = append(errs, errors.New("--kafka-topic is required with --kafka-brokers"))
	}

	return errors.Join(errs...)
}

// envReader reads typed defaults and remembers the first malformed value.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.getenv(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envReader) float(key string, def float64) float64 {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envReader) boolean(key string, def bool) bool {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(e.getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, raw, err)
		return def
	}
	return v
}

func (e *envReader) fail(key, raw string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
