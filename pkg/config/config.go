// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Kafka, Corpus, Ranking, Search, etc.).
package config

import (
	"fmt"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source types accepted in corpus.sources.
const (
	SourcePostgres = "postgres"
	SourceSQLite   = "sqlite"
	SourceSnapshot = "snapshot"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Search    SearchConfig    `yaml:"search"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings. RateLimit is requests per
// minute per client IP; zero disables limiting. X-Forwarded-For is only
// believed from peers listed in TrustedProxies (IPs or CIDRs). An empty
// CORSOrigins list disables CORS headers.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimit       int           `yaml:"rateLimit"`
	TrustedProxies  []string      `yaml:"trustedProxies"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single
// host prefix.
func (s ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("server.trustedProxies: %w", err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("server.trustedProxies: %w", err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and caching parameters. An empty Addr
// disables the query cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings. An empty broker list
// disables analytics publishing and the reload listener.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	AnalyticsEvents string `yaml:"analyticsEvents"`
	CorpusReload    string `yaml:"corpusReload"`
}

// SourceConfig describes one corpus loading strategy. Path is the database
// file for sqlite sources and the snapshot file for snapshot sources; it is
// ignored for postgres.
type SourceConfig struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// CorpusConfig controls where the chunked corpus is read from. Sources are
// tried in order and the first one that loads wins. An empty OrderColumn
// reads rows in storage order (rowid for SQLite, ctid for Postgres).
type CorpusConfig struct {
	Table        string         `yaml:"table"`
	TextColumn   string         `yaml:"textColumn"`
	MetaColumn   string         `yaml:"metadataColumn"`
	OrderColumn  string         `yaml:"orderColumn"`
	LoadTimeout  time.Duration  `yaml:"loadTimeout"`
	Sources      []SourceConfig `yaml:"sources"`
	SnapshotPath string         `yaml:"snapshotPath"`
}

// RankingConfig holds the BM25 parameters.
type RankingConfig struct {
	K1      float64 `yaml:"k1"`
	B       float64 `yaml:"b"`
	Epsilon float64 `yaml:"epsilon"`
}

// SearchConfig controls result limits and caching.
type SearchConfig struct {
	DefaultTopN  int  `yaml:"defaultTopN"`
	MaxTopN      int  `yaml:"maxTopN"`
	CacheEnabled bool `yaml:"cacheEnabled"`
}

// AnalyticsConfig controls the analytics aggregation service. A zero
// SnapshotInterval keeps aggregates in memory only.
type AnalyticsConfig struct {
	Port             int           `yaml:"port"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, validated.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late, at first search.
func (c *Config) Validate() error {
	for _, col := range []struct{ name, value string }{
		{"corpus.table", c.Corpus.Table},
		{"corpus.textColumn", c.Corpus.TextColumn},
		{"corpus.metadataColumn", c.Corpus.MetaColumn},
		{"corpus.orderColumn", c.Corpus.OrderColumn},
	} {
		if col.name == "corpus.orderColumn" && col.value == "" {
			continue
		}
		if !identifierPattern.MatchString(col.value) {
			return fmt.Errorf("%s %q is not a valid identifier", col.name, col.value)
		}
	}
	if len(c.Corpus.Sources) == 0 {
		return fmt.Errorf("corpus.sources must list at least one source")
	}
	for i, src := range c.Corpus.Sources {
		switch src.Type {
		case SourcePostgres:
		case SourceSQLite, SourceSnapshot:
			if src.Path == "" {
				return fmt.Errorf("corpus.sources[%d]: %s source requires a path", i, src.Type)
			}
		default:
			return fmt.Errorf("corpus.sources[%d]: unknown source type %q", i, src.Type)
		}
	}
	if c.Ranking.K1 < 0 || c.Ranking.B < 0 || c.Ranking.B > 1 {
		return fmt.Errorf("ranking: k1 must be >= 0 and b within [0, 1], got k1=%v b=%v", c.Ranking.K1, c.Ranking.B)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must be >= 0, got %d", c.Server.RateLimit)
	}
	if _, err := c.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.Search.DefaultTopN < 1 {
		return fmt.Errorf("search.defaultTopN must be positive, got %d", c.Search.DefaultTopN)
	}
	if c.Search.MaxTopN < c.Search.DefaultTopN {
		return fmt.Errorf("search.maxTopN (%d) must be >= defaultTopN (%d)", c.Search.MaxTopN, c.Search.DefaultTopN)
	}
	return nil
}

// defaultConfig targets a single-host deployment: a bm25_index table in a
// local database file, tried at two relative locations, then the snapshot.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "chunksearch",
			User:            "chunksearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "chunksearch-group",
			Topics: KafkaTopics{
				AnalyticsEvents: "search-analytics",
				CorpusReload:    "corpus-reload",
			},
		},
		Corpus: CorpusConfig{
			Table:       "bm25_index",
			TextColumn:  "text",
			MetaColumn:  "metadata",
			LoadTimeout: 2 * time.Minute,
			Sources: []SourceConfig{
				{Type: SourceSQLite, Path: "../data/corpus.db"},
				{Type: SourceSQLite, Path: "data/corpus.db"},
				{Type: SourceSnapshot, Path: "bm25_index.snap"},
			},
			SnapshotPath: "bm25_index.snap",
		},
		Ranking: RankingConfig{
			K1:      1.5,
			B:       0.75,
			Epsilon: 0.25,
		},
		Search: SearchConfig{
			DefaultTopN:  3,
			MaxTopN:      100,
			CacheEnabled: true,
		},
		Analytics: AnalyticsConfig{
			Port:             8001,
			SnapshotInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v, ok := os.LookupEnv("SP_SERVER_TRUSTED_PROXIES"); ok {
		cfg.Server.TrustedProxies = splitList(v)
	}
	if v, ok := os.LookupEnv("SP_SERVER_CORS_ORIGINS"); ok {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v, ok := os.LookupEnv("SP_REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v, ok := os.LookupEnv("SP_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("SP_CORPUS_TABLE"); v != "" {
		cfg.Corpus.Table = v
	}
	if v := os.Getenv("SP_CORPUS_SNAPSHOT_PATH"); v != "" {
		cfg.Corpus.SnapshotPath = v
	}
	if v := os.Getenv("SP_CORPUS_SOURCES"); v != "" {
		if sources, err := ParseSources(v); err == nil {
			cfg.Corpus.Sources = sources
		}
	}
	if v := os.Getenv("SP_RANKING_K1"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Ranking.K1 = f
		}
	}
	if v := os.Getenv("SP_RANKING_B"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Ranking.B = f
		}
	}
	if v := os.Getenv("SP_SEARCH_DEFAULT_TOP_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.DefaultTopN = n
		}
	}
	if v := os.Getenv("SP_ANALYTICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Analytics.Port = port
		}
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// ParseSources parses a comma separated "type:path" list, e.g.
// "sqlite:data/corpus.db,snapshot:bm25_index.snap,postgres".
func ParseSources(v string) ([]SourceConfig, error) {
	var sources []SourceConfig
	for _, item := range splitList(v) {
		typ, path, _ := strings.Cut(item, ":")
		switch typ {
		case SourcePostgres, SourceSQLite, SourceSnapshot:
		default:
			return nil, fmt.Errorf("unknown source type %q", typ)
		}
		sources = append(sources, SourceConfig{Type: typ, Path: path})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources in %q", v)
	}
	return sources, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
