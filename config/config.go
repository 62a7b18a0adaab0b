// Package config loads fishdbc settings from YAML files and environment
// variables.
//
// Example file:
//
//	dimension: 384
//	metric: cosine
//	clustering:
//	  min_cluster_size: 5
//	  k_rescale: 32
//	  rebuild_threshold: 0.3
//	oracle:
//	  timeout: 2s
//	  unavailable_after: 5
//	storage:
//	  dir: ./data
//	  snapshot_every: 100
//	emit:
//	  sqlite: ./assignments.db
//
// Environment Variables:
//
//	FISHDBC_DIR        - Storage directory (point log and local snapshots)
//	FISHDBC_TOKENS_DIR - Badger directory of precise token representations
//	FISHDBC_LOG_LEVEL  - debug, info, warn or error
//	FISHDBC_MQTT_URL   - Broker URL for assignment publishing
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/fishdbc"
	"github.com/hupe1980/fishdbc/blobstore"
	"github.com/hupe1980/fishdbc/blobstore/minio"
	"github.com/hupe1980/fishdbc/blobstore/s3"
	"github.com/hupe1980/fishdbc/codec"
	"github.com/hupe1980/fishdbc/distance"
	"github.com/hupe1980/fishdbc/emit"
	"github.com/hupe1980/fishdbc/emit/mqtt"
	"github.com/hupe1980/fishdbc/emit/sqlite"
	"github.com/hupe1980/fishdbc/oracle"
	"github.com/hupe1980/fishdbc/snapshot"
	"github.com/hupe1980/fishdbc/tokens"
)

// Config is the complete file configuration.
type Config struct {
	Dimension int    `yaml:"dimension"`
	Metric    string `yaml:"metric"`
	// Transform maps precise similarities to distances: reciprocal or neglog.
	Transform string `yaml:"transform"`

	Index      IndexConfig      `yaml:"index"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Storage    StorageConfig    `yaml:"storage"`
	Tokens     TokensConfig     `yaml:"tokens"`
	Emit       EmitConfig       `yaml:"emit"`
	Log        LogConfig        `yaml:"log"`
}

// IndexConfig configures the neighbor index.
type IndexConfig struct {
	M    int    `yaml:"m"`
	EF   int    `yaml:"ef"`
	Seed *int64 `yaml:"seed"`
}

// ClusteringConfig configures reachability and condensation.
type ClusteringConfig struct {
	KRescale           int     `yaml:"k_rescale"`
	MinSamples         int     `yaml:"min_samples"`
	MinClusterSize     int     `yaml:"min_cluster_size"`
	AllowSingleCluster bool    `yaml:"allow_single_cluster"`
	RebuildThreshold   float64 `yaml:"rebuild_threshold"`
	MaxBatch           int     `yaml:"max_batch"`
	Workers            int     `yaml:"workers"`
	// MaintenanceInterval schedules precise recompute passes (0 = off).
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// OracleConfig configures the two-tier distance oracle.
type OracleConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxConcurrent    int64         `yaml:"max_concurrent"`
	RateLimit        float64       `yaml:"rate_limit"`
	UnavailableAfter int           `yaml:"unavailable_after"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	// CacheBytes bounds the resolved token cache of the MaxSim scorer.
	CacheBytes int64 `yaml:"cache_bytes"`
}

// StorageConfig configures the point log and snapshots.
type StorageConfig struct {
	// Dir holds the point log and, without a remote store, local snapshots.
	Dir            string `yaml:"dir"`
	SnapshotEvery  int    `yaml:"snapshot_every"`
	SnapshotRetain int    `yaml:"snapshot_retain"`
	Compression    string `yaml:"compression"`
	Restore        bool   `yaml:"restore"`
	// CacheBytes keeps recently read remote snapshot blobs in memory (0 = off).
	CacheBytes int64        `yaml:"cache_bytes"`
	S3         *S3Config    `yaml:"s3"`
	MinIO      *MinIOConfig `yaml:"minio"`
}

// S3Config selects an S3 snapshot store.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// MinIOConfig selects a MinIO snapshot store.
type MinIOConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Secure       bool   `yaml:"secure"`
	CreateBucket bool   `yaml:"create_bucket"`
}

// TokensConfig locates the precise token representations.
type TokensConfig struct {
	// Dir is a Badger directory. Empty means an in-memory store.
	Dir string `yaml:"dir"`
}

// EmitConfig selects assignment sinks. Several sinks may be combined.
type EmitConfig struct {
	// SQLite is the path of an SQLite database receiving upserts.
	SQLite string      `yaml:"sqlite"`
	MQTT   *MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures MQTT publishing.
type MQTTConfig struct {
	URL         string `yaml:"url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
	Codec       string `yaml:"codec"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Metric:    distance.MetricCosine.String(),
		Transform: distance.Reciprocal.String(),
		Clustering: ClusteringConfig{
			KRescale:           32,
			MinClusterSize:     5,
			AllowSingleCluster: true,
			RebuildThreshold:   0.3,
		},
		Oracle: OracleConfig{
			Timeout:          2 * time.Second,
			MaxConcurrent:    8,
			UnavailableAfter: 5,
			ProbeInterval:    10 * time.Second,
			CacheBytes:       64 << 20,
		},
		Storage: StorageConfig{
			SnapshotRetain: 3,
			Compression:    snapshot.CompressionZstd.String(),
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from FISHDBC_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("FISHDBC_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("FISHDBC_TOKENS_DIR"); v != "" {
		c.Tokens.Dir = v
	}
	if v := os.Getenv("FISHDBC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FISHDBC_MQTT_URL"); v != "" {
		if c.Emit.MQTT == nil {
			c.Emit.MQTT = &MQTTConfig{}
		}
		c.Emit.MQTT.URL = v
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("dimension must be positive, got %d", c.Dimension))
	}
	if _, err := distance.ParseMetric(c.Metric); err != nil {
		errs = append(errs, err)
	}
	if _, err := distance.ParseTransform(c.Transform); err != nil {
		errs = append(errs, err)
	}
	if _, err := snapshot.ParseCompression(c.Storage.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, err := slogLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if t := c.Clustering.RebuildThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("rebuild_threshold must be in [0,1], got %g", t))
	}
	if c.Clustering.MinClusterSize < 2 {
		errs = append(errs, fmt.Errorf("min_cluster_size must be at least 2, got %d", c.Clustering.MinClusterSize))
	}
	if c.Storage.S3 != nil && c.Storage.MinIO != nil {
		errs = append(errs, errors.New("storage: s3 and minio are mutually exclusive"))
	}
	if m := c.Emit.MQTT; m != nil && m.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", m.QoS))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Logger returns the configured logger.
func (c *Config) Logger() (*fishdbc.Logger, error) {
	level, err := slogLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(c.Log.Format, "json") {
		return fishdbc.NewJSONLogger(level), nil
	}
	return fishdbc.NewTextLogger(level), nil
}

func slogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return l, nil
}

// Options maps the configuration onto DB options. Stores and emitters are
// opened separately.
func (c *Config) Options() ([]fishdbc.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	metric, _ := distance.ParseMetric(c.Metric)
	transform, _ := distance.ParseTransform(c.Transform)
	compression, _ := snapshot.ParseCompression(c.Storage.Compression)
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}

	cl := c.Clustering
	opts := []fishdbc.Option{
		fishdbc.WithMetric(metric),
		fishdbc.WithTransform(transform),
		fishdbc.WithIndex(c.Index.M, c.Index.EF),
		fishdbc.WithKRescale(cl.KRescale),
		fishdbc.WithMinSamples(cl.MinSamples),
		fishdbc.WithMinClusterSize(cl.MinClusterSize),
		fishdbc.WithAllowSingleCluster(cl.AllowSingleCluster),
		fishdbc.WithRebuildThreshold(cl.RebuildThreshold),
		fishdbc.WithBatching(cl.MaxBatch, cl.Workers),
		fishdbc.WithMaintenanceInterval(cl.MaintenanceInterval),
		fishdbc.WithRescoreTimeout(c.Oracle.Timeout),
		fishdbc.WithRescoreLimits(c.Oracle.MaxConcurrent, c.Oracle.RateLimit),
		fishdbc.WithUnavailableAfter(c.Oracle.UnavailableAfter, c.Oracle.ProbeInterval),
		fishdbc.WithSnapshots(c.Storage.SnapshotEvery, c.Storage.SnapshotRetain),
		fishdbc.WithCompression(compression),
		fishdbc.WithLogger(logger),
	}
	if c.Index.Seed != nil {
		opts = append(opts, fishdbc.WithSeed(*c.Index.Seed))
	}
	if c.Storage.Dir != "" {
		opts = append(opts, fishdbc.WithDir(c.Storage.Dir))
	}
	if c.Storage.Restore {
		opts = append(opts, fishdbc.WithRestore())
	}
	return opts, nil
}

// OpenStore connects the remote snapshot store, or returns nil when
// snapshots stay in the storage directory.
func (c *Config) OpenStore(ctx context.Context) (blobstore.BlobStore, error) {
	var (
		store blobstore.BlobStore
		err   error
	)
	switch {
	case c.Storage.S3 != nil:
		s := c.Storage.S3
		store, err = connect(s3.Connect(ctx, s3.Options{
			Bucket:       s.Bucket,
			Prefix:       s.Prefix,
			Region:       s.Region,
			Endpoint:     s.Endpoint,
			UsePathStyle: s.UsePathStyle,
		}))
	case c.Storage.MinIO != nil:
		m := c.Storage.MinIO
		store, err = connect(minio.Connect(ctx, minio.Options{
			Endpoint:     m.Endpoint,
			AccessKey:    m.AccessKey,
			SecretKey:    m.SecretKey,
			Bucket:       m.Bucket,
			Prefix:       m.Prefix,
			Secure:       m.Secure,
			CreateBucket: m.CreateBucket,
		}))
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Storage.CacheBytes > 0 {
		store = blobstore.NewCachingStore(store, c.Storage.CacheBytes, nil)
	}
	return store, nil
}

func connect[S blobstore.BlobStore](s S, err error) (blobstore.BlobStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenTokens opens the token store resolved by the precise scorer.
func (c *Config) OpenTokens(logger *slog.Logger) (tokens.Store, error) {
	if c.Tokens.Dir == "" {
		return tokens.NewMemoryStore(), nil
	}
	s, err := tokens.OpenBadger(tokens.BadgerOptions{Dir: c.Tokens.Dir, Logger: logger})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Scorer returns a MaxSim scorer over store with the configured cache.
func (c *Config) Scorer(store tokens.Store) *oracle.MaxSim {
	return oracle.NewMaxSim(store, func(o *oracle.MaxSimOptions) {
		o.CacheBytes = c.Oracle.CacheBytes
	})
}

// OpenEmitter opens the configured assignment sinks. Without sinks it
// returns nil and the DB discards assignments.
func (c *Config) OpenEmitter(ctx context.Context) (emit.Emitter, error) {
	var sinks emit.Multi
	if c.Emit.SQLite != "" {
		s, err := sqlite.Open(ctx, c.Emit.SQLite)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if m := c.Emit.MQTT; m != nil && m.URL != "" {
		opts := mqtt.Options{
			URL:         m.URL,
			ClientID:    m.ClientID,
			Username:    m.Username,
			Password:    m.Password,
			TopicPrefix: m.TopicPrefix,
			QoS:         mqtt.QoS(m.QoS),
			Retain:      m.Retain,
		}
		if m.Codec != "" {
			cd, ok := codec.ByName(m.Codec)
			if !ok {
				_ = sinks.Close()
				return nil, fmt.Errorf("config: unknown codec %q", m.Codec)
			}
			opts.Codec = cd
		}
		p, err := mqtt.Dial(ctx, opts)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, p)
	}
	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}
