package config

import (
	"log"
	"time"

	"github.com/rpattn/tracelift/internal/db"
	"github.com/spf13/viper"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// AWSConfig holds object-storage and queue settings. Endpoint is optional
// and only set for local stacks.
type AWSConfig struct {
	Region          string
	Endpoint        string
	Bucket          string
	BucketPrefix    string
	QueueURL        string
	ConsumerEnabled bool
}

// PipelineConfig bounds pipeline concurrency and the per-file run budget.
type PipelineConfig struct {
	RowParallelism int
	ProcessTimeout time.Duration
}

// ReconcilerConfig controls the daily missing-tracing job.
type ReconcilerConfig struct {
	DailyEnabled bool
	RunTimeout   time.Duration
}

// AppConfig is the full service configuration.
type AppConfig struct {
	Database   db.Config
	Server     ServerConfig
	AWS        AWSConfig
	Pipeline   PipelineConfig
	Reconciler ReconcilerConfig
}

// DefaultAppConfig returns the local-development defaults.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		AWS: AWSConfig{
			Region:       "eu-south-1",
			Bucket:       "tracing-uploads",
			BucketPrefix: "tracings",
		},
		Pipeline: PipelineConfig{
			RowParallelism: 8,
			ProcessTimeout: 2 * time.Minute,
		},
		Reconciler: ReconcilerConfig{
			DailyEnabled: true,
			RunTimeout:   5 * time.Minute,
		},
	}
}

// Load reads config.yaml from the given path with environment overrides.
func Load(configPath string) (AppConfig, error) {
	cfg := DefaultAppConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()          // allow environment overrides
	v.SetEnvPrefix("TRACING") // map env vars like TRACING_DATABASE_HOST

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("aws.region")
	v.BindEnv("aws.endpoint")
	v.BindEnv("aws.bucket")
	v.BindEnv("aws.queue_url")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		log.Printf("No config.yaml found, using defaults and env vars")
	} else {
		log.Printf("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if v.IsSet("aws.region") {
		cfg.AWS.Region = v.GetString("aws.region")
	}
	if v.IsSet("aws.endpoint") {
		cfg.AWS.Endpoint = v.GetString("aws.endpoint")
	}
	if v.IsSet("aws.bucket") {
		cfg.AWS.Bucket = v.GetString("aws.bucket")
	}
	if v.IsSet("aws.bucket_prefix") {
		cfg.AWS.BucketPrefix = v.GetString("aws.bucket_prefix")
	}
	if v.IsSet("aws.queue_url") {
		cfg.AWS.QueueURL = v.GetString("aws.queue_url")
	}
	if v.IsSet("aws.consumer_enabled") {
		cfg.AWS.ConsumerEnabled = v.GetBool("aws.consumer_enabled")
	}

	if v.IsSet("pipeline.row_parallelism") {
		cfg.Pipeline.RowParallelism = v.GetInt("pipeline.row_parallelism")
	}
	if v.IsSet("pipeline.process_timeout") {
		cfg.Pipeline.ProcessTimeout = v.GetDuration("pipeline.process_timeout")
	}
	if v.IsSet("reconciler.daily_enabled") {
		cfg.Reconciler.DailyEnabled = v.GetBool("reconciler.daily_enabled")
	}
	if v.IsSet("reconciler.run_timeout") {
		cfg.Reconciler.RunTimeout = v.GetDuration("reconciler.run_timeout")
	}

	return cfg, nil
}
