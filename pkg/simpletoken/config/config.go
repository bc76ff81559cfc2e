package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-token/pkg/simpletoken"
	"github.com/tendant/simple-token/pkg/simpletoken/repo/memory"
	repopg "github.com/tendant/simple-token/pkg/simpletoken/repo/postgres"
	reposqlite "github.com/tendant/simple-token/pkg/simpletoken/repo/sqlite"
	"github.com/tendant/simple-token/pkg/simpletoken/signer"
	s3probe "github.com/tendant/simple-token/pkg/simpletoken/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:          "8080",
		Environment:   "development",
		DatabaseType:  "memory",
		AutoMigrate:   true,
		HashAlgorithm: signer.DefaultHashAlgorithm,
		DefaultTTL:    simpletoken.DefaultTTL,
		MaxTTL:        simpletoken.DefaultMaxTTL,
		SweepInterval: time.Minute,
		S3Region:      "us-east-1",
		ElevatedRoles: []string{"manager"},
		RolesClaim:    "roles",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// ServerConfig represents configuration for the token service and its binaries.
// The env tags are read by WithEnv.
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing

	// Database configuration. DatabaseType is derived from DatabaseURL by WithEnv.
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabaseType string // "memory", "postgres", "sqlite"
	DBSchema     string `env:"DB_SCHEMA"`
	AutoMigrate  bool   `env:"AUTO_MIGRATE" env-default:"true"`

	// Storage provider credentials and bucket
	AccessKeyID    string `env:"QINIU_ACCESS_KEY"`
	SecretKey      string `env:"QINIU_SECRET_KEY"`
	Bucket         string `env:"QINIU_BUCKET"`
	UploadDomain   string `env:"QINIU_UPLOAD_DOMAIN"`
	DownloadDomain string `env:"QINIU_DOWNLOAD_DOMAIN"`
	HashAlgorithm  string `env:"SIGNING_HASH" env-default:"sha1"`

	// Optional S3-compatible endpoint used to probe bucket reachability
	S3Endpoint     string `env:"S3_ENDPOINT"`
	S3Region       string `env:"S3_REGION" env-default:"us-east-1"`
	S3UsePathStyle bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`

	// Token lifetimes and sweeping
	DefaultTTL    time.Duration `env:"DEFAULT_TTL" env-default:"1h"`
	MaxTTL        time.Duration `env:"MAX_TTL" env-default:"168h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" env-default:"1m"`

	// Caller authentication
	JWTSecret     string   `env:"JWT_SECRET"`
	JWKSURL       string   `env:"JWKS_URL"`
	ElevatedRoles []string `env:"ELEVATED_ROLES" env-default:"manager" env-separator:","`
	RolesClaim    string   `env:"ROLES_CLAIM" env-default:"roles"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"text"` // text, json
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.DatabaseType {
	case "memory":
	case "postgres", "sqlite":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when using %s", c.DatabaseType)
		}
	default:
		return errors.New("database_type must be 'memory', 'postgres' or 'sqlite'")
	}

	if c.SecretKey == "" {
		return errors.New("signing secret key is required")
	}
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.DefaultTTL < time.Second {
		return errors.New("default ttl must be at least one second")
	}
	if c.MaxTTL < c.DefaultTTL {
		return fmt.Errorf("max ttl %s is shorter than default ttl %s", c.MaxTTL, c.DefaultTTL)
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.JWTSecret != "" && c.JWKSURL != "" {
		return errors.New("configure either jwt_secret or jwks_url, not both")
	}
	if c.Environment == "production" && c.JWTSecret == "" && c.JWKSURL == "" {
		return errors.New("jwt_secret or jwks_url is required in production")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be 'text' or 'json', got %q", c.LogFormat)
	}

	return nil
}

// Components holds everything BuildService wires together.
type Components struct {
	Service  simpletoken.Service
	Store    simpletoken.Store
	Signer   *signer.Signer
	Verifier *signer.Verifier

	closers []func()
}

// Close releases database resources.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// BuildSigner creates the signer for the configured credentials.
func (c *ServerConfig) BuildSigner() (*signer.Signer, error) {
	return signer.New(signer.Config{
		SecretKey:     c.SecretKey,
		AccessKeyID:   c.AccessKeyID,
		HashAlgorithm: c.HashAlgorithm,
	})
}

// BuildService creates the service and its collaborators from the configuration.
// Extra options are applied after the configured ones.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger, extra ...simpletoken.Option) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	comps := &Components{}

	sg, err := c.BuildSigner()
	if err != nil {
		return nil, fmt.Errorf("failed to build signer: %w", err)
	}
	comps.Signer = sg
	comps.Verifier = signer.NewVerifier(sg)

	store, closer, err := c.BuildStore(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build store: %w", err)
	}
	comps.Store = store
	if closer != nil {
		comps.closers = append(comps.closers, closer)
	}

	options := []simpletoken.Option{
		simpletoken.WithStore(store),
		simpletoken.WithSigner(sg),
		simpletoken.WithLogger(logger),
		simpletoken.WithEventSink(simpletoken.NewLogEventSink(logger)),
		simpletoken.WithBucket(c.Bucket, c.UploadDomain, c.DownloadDomain),
		simpletoken.WithTTL(c.DefaultTTL, c.MaxTTL),
	}
	if c.S3Endpoint != "" {
		prober, err := s3probe.New(s3probe.Config{
			Region:          c.S3Region,
			Bucket:          c.Bucket,
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretKey,
			Endpoint:        c.S3Endpoint,
			UsePathStyle:    c.S3UsePathStyle,
		})
		if err != nil {
			comps.Close()
			return nil, fmt.Errorf("failed to build bucket prober: %w", err)
		}
		options = append(options, simpletoken.WithBucketProber(prober))
	}
	options = append(options, extra...)

	svc, err := simpletoken.New(options...)
	if err != nil {
		comps.Close()
		return nil, err
	}
	comps.Service = svc
	return comps, nil
}

// BuildStore opens the configured store. The returned func, when non-nil,
// releases its connections.
func (c *ServerConfig) BuildStore(ctx context.Context, logger *slog.Logger) (simpletoken.Store, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil, nil
	case "postgres":
		if c.AutoMigrate {
			if err := repopg.Migrate(c.DatabaseURL, logger); err != nil {
				return nil, nil, err
			}
		}
		pool, err := c.NewPostgresPool(ctx)
		if err != nil {
			return nil, nil, err
		}
		return repopg.NewWithPool(pool), pool.Close, nil
	case "sqlite":
		repo, err := reposqlite.Open(sqlitePath(c.DatabaseURL))
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// NewPostgresPool creates a pgx pool for DatabaseURL, setting search_path when
// DBSchema is configured, and verifies connectivity.
func (c *ServerConfig) NewPostgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.DBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewLogger builds the slog logger selected by LogFormat and LogLevel.
func (c *ServerConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func sqlitePath(databaseURL string) string {
	for _, prefix := range []string{"sqlite://", "sqlite:", "file:"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}
