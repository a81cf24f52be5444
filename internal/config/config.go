package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the engine settings. Values come from an optional TOML file
// named by PERMITLINK_CONFIG, overridden by environment variables.
type Config struct {
	NATSURL         string `toml:"nats_url"`         // PERMITLINK_NATS_URL (default "nats://127.0.0.1:4222")
	SubjectPrefix   string `toml:"subject_prefix"`   // PERMITLINK_SUBJECT_PREFIX (optional)
	JetStreamStream string `toml:"jetstream_stream"` // PERMITLINK_JETSTREAM_STREAM (enables JetStream when set)
	Durable         string `toml:"durable"`          // PERMITLINK_DURABLE (default "permitlink")
	HTTPAddr        string `toml:"http_addr"`        // PERMITLINK_HTTP_ADDR (default ":8080"; "off" disables)
	AuthToken       string `toml:"auth_token"`       // PERMITLINK_AUTH_TOKEN (optional, empty = auth disabled)

	// Attribution sinks
	DatabaseURL         string `toml:"database_url"`         // PERMITLINK_DATABASE_URL (enables Postgres when set)
	PublishAttributions bool   `toml:"publish_attributions"` // PERMITLINK_PUBLISH_ATTRIBUTIONS (default false)

	// Correlation
	PendingLinks      int      `toml:"pending_links"`      // PERMITLINK_PENDING_LINKS (default 0 = drop missed links)
	AttributeStatuses []string `toml:"attribute_statuses"` // PERMITLINK_ATTRIBUTE_STATUSES (comma list; empty = all)
	AckFailures       bool     `toml:"ack_failures"`       // PERMITLINK_ACK_FAILURES (default true)

	// StreamStaleAfter is how long a stream may stay quiet before it is
	// reported stale. Zero disables the watchdog.
	StreamStaleAfter time.Duration `toml:"stream_stale_after"` // PERMITLINK_STREAM_STALE_AFTER (default "5m")

	LogLevel string `toml:"log_level"` // PERMITLINK_LOG_LEVEL (default "info")

	// Snapshot export
	SnapshotInterval   time.Duration `toml:"snapshot_interval"`    // PERMITLINK_SNAPSHOT_INTERVAL (default 0 = disabled)
	SnapshotS3Bucket   string        `toml:"snapshot_s3_bucket"`   // PERMITLINK_SNAPSHOT_S3_BUCKET (enables S3 when set)
	SnapshotS3Endpoint string        `toml:"snapshot_s3_endpoint"` // PERMITLINK_SNAPSHOT_S3_ENDPOINT (custom endpoint for MinIO)
	SnapshotS3Region   string        `toml:"snapshot_s3_region"`   // PERMITLINK_SNAPSHOT_S3_REGION (default "us-east-1")
	SnapshotS3Key      string        `toml:"snapshot_s3_key"`      // PERMITLINK_SNAPSHOT_S3_KEY (default "permitlink/snapshot.jsonl")
	SnapshotFile       string        `toml:"snapshot_file"`        // PERMITLINK_SNAPSHOT_FILE (enables local file when set)
}

// HTTPDisabled is the HTTPAddr value that turns the status API off.
const HTTPDisabled = "off"

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		NATSURL:          "nats://127.0.0.1:4222",
		Durable:          "permitlink",
		HTTPAddr:         ":8080",
		AckFailures:      true,
		StreamStaleAfter: 5 * time.Minute,
		LogLevel:         "info",
		SnapshotS3Region: "us-east-1",
		SnapshotS3Key:    "permitlink/snapshot.jsonl",
	}
}

// Load builds the configuration from the optional PERMITLINK_CONFIG file and
// the environment, and validates it.
func Load() (*Config, error) {
	c := Default()
	if path := os.Getenv("PERMITLINK_CONFIG"); path != "" {
		if err := c.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("PERMITLINK_CONFIG %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("PERMITLINK_CONFIG %s: unknown keys %v", path, undecoded)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.NATSURL = envOrDefault("PERMITLINK_NATS_URL", c.NATSURL)
	c.SubjectPrefix = envOrDefault("PERMITLINK_SUBJECT_PREFIX", c.SubjectPrefix)
	c.JetStreamStream = envOrDefault("PERMITLINK_JETSTREAM_STREAM", c.JetStreamStream)
	c.Durable = envOrDefault("PERMITLINK_DURABLE", c.Durable)
	c.HTTPAddr = envOrDefault("PERMITLINK_HTTP_ADDR", c.HTTPAddr)
	c.AuthToken = envOrDefault("PERMITLINK_AUTH_TOKEN", c.AuthToken)
	c.DatabaseURL = envOrDefault("PERMITLINK_DATABASE_URL", c.DatabaseURL)
	c.LogLevel = envOrDefault("PERMITLINK_LOG_LEVEL", c.LogLevel)
	c.SnapshotS3Bucket = envOrDefault("PERMITLINK_SNAPSHOT_S3_BUCKET", c.SnapshotS3Bucket)
	c.SnapshotS3Endpoint = envOrDefault("PERMITLINK_SNAPSHOT_S3_ENDPOINT", c.SnapshotS3Endpoint)
	c.SnapshotS3Region = envOrDefault("PERMITLINK_SNAPSHOT_S3_REGION", c.SnapshotS3Region)
	c.SnapshotS3Key = envOrDefault("PERMITLINK_SNAPSHOT_S3_KEY", c.SnapshotS3Key)
	c.SnapshotFile = envOrDefault("PERMITLINK_SNAPSHOT_FILE", c.SnapshotFile)

	if v := os.Getenv("PERMITLINK_ATTRIBUTE_STATUSES"); v != "" {
		c.AttributeStatuses = splitList(v)
	}

	if v := os.Getenv("PERMITLINK_PUBLISH_ATTRIBUTIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PERMITLINK_PUBLISH_ATTRIBUTIONS: %w", err)
		}
		c.PublishAttributions = b
	}
	if v := os.Getenv("PERMITLINK_ACK_FAILURES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PERMITLINK_ACK_FAILURES: %w", err)
		}
		c.AckFailures = b
	}
	if v := os.Getenv("PERMITLINK_PENDING_LINKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PERMITLINK_PENDING_LINKS: %w", err)
		}
		c.PendingLinks = n
	}
	if v := os.Getenv("PERMITLINK_STREAM_STALE_AFTER"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PERMITLINK_STREAM_STALE_AFTER: %w", err)
		}
		c.StreamStaleAfter = d
	}
	if v := os.Getenv("PERMITLINK_SNAPSHOT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PERMITLINK_SNAPSHOT_INTERVAL: %w", err)
		}
		c.SnapshotInterval = d
	}
	return nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("PERMITLINK_NATS_URL is required")
	}
	if c.JetStreamStream != "" && c.Durable == "" {
		return fmt.Errorf("PERMITLINK_DURABLE is required with PERMITLINK_JETSTREAM_STREAM")
	}
	if c.PendingLinks < 0 {
		return fmt.Errorf("PERMITLINK_PENDING_LINKS must not be negative, got %d", c.PendingLinks)
	}
	if c.StreamStaleAfter < 0 {
		return fmt.Errorf("PERMITLINK_STREAM_STALE_AFTER must not be negative, got %s", c.StreamStaleAfter)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("PERMITLINK_SNAPSHOT_INTERVAL must not be negative, got %s", c.SnapshotInterval)
	}
	if c.SnapshotInterval > 0 && c.SnapshotS3Bucket == "" && c.SnapshotFile == "" {
		return fmt.Errorf("PERMITLINK_SNAPSHOT_INTERVAL is set but no snapshot destination is configured")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("PERMITLINK_LOG_LEVEL: %w", err)
	}
	return nil
}

// HTTPEnabled reports whether the status API should be served.
func (c *Config) HTTPEnabled() bool {
	return c.HTTPAddr != "" && c.HTTPAddr != HTTPDisabled
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
