package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Flags binds every Config key to a command-line flag. Only flags that were
// actually given override the defaults and the JSON file.
type Flags struct {
	fs    *pflag.FlagSet
	v     Config
	apply map[string]func(dst *Config)
}

// BindFlags registers the config flags on fs. The -c/--config flag names the
// JSON file read by Load.
//
// Durations use Go syntax ("90s", "5m").
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs, apply: map[string]func(dst *Config){}}
	f.v.LoadDefaults()

	fs.StringP("config", "c", "", "path to a JSON config file")

	bind(f, fs.StringVar, "db-driver", "local store driver: postgres or sqlite", func(c *Config) *string { return &c.DatabaseDriver })
	bind(f, fs.StringVar, "db-dsn", "local store DSN", func(c *Config) *string { return &c.DatabaseDSN })

	bind(f, fs.StringVar, "remote-url", "CRM REST base URL", func(c *Config) *string { return &c.RemoteBaseURL })
	bind(f, fs.StringVar, "remote-tenant", "CRM tenant", func(c *Config) *string { return &c.RemoteTenant })
	bind(f, fs.StringVar, "remote-user", "CRM user id sent with every request", func(c *Config) *string { return &c.RemoteUserID })
	bind(f, fs.StringVar, "remote-token", "static CRM access token", func(c *Config) *string { return &c.RemoteToken })
	bind(f, fs.StringVar, "remote-secret-id", "AWS Secrets Manager secret holding the CRM token", func(c *Config) *string { return &c.RemoteSecretID })
	bind(f, fs.StringVar, "remote-region", "AWS region of the token secret", func(c *Config) *string { return &c.RemoteRegion })
	bind(f, fs.DurationVar, "remote-interval", "minimum spacing between CRM requests", func(c *Config) *time.Duration { return &c.RemoteRequestInterval })
	bind(f, fs.Uint64Var, "remote-retries", "retries of transient CRM failures", func(c *Config) *uint64 { return &c.RemoteMaxRetries })
	bind(f, fs.DurationVar, "remote-timeout", "CRM request timeout", func(c *Config) *time.Duration { return &c.RemoteTimeout })
	bind(f, fs.DurationVar, "token-ttl", "upper bound on how long a fetched token is trusted", func(c *Config) *time.Duration { return &c.TokenTTL })
	bind(f, fs.StringVar, "credential-key", "passphrase encrypting the cached token at rest", func(c *Config) *string { return &c.CredentialKey })

	bind(f, fs.IntVar, "page-size", "records per fetched page", func(c *Config) *int { return &c.PageSize })
	bind(f, fs.DurationVar, "time-budget", "wall-clock budget of one sync run", func(c *Config) *time.Duration { return &c.TimeBudget })
	bind(f, fs.IntVar, "max-batches", "batch cap per sync run, 0 for none", func(c *Config) *int { return &c.MaxBatches })

	bind(f, fs.StringSliceVar, "object-types", "object types kept in sync", func(c *Config) *[]string { return &c.ObjectTypes })
	bind(f, fs.DurationVar, "sync-interval", "interval between incremental syncs", func(c *Config) *time.Duration { return &c.SyncInterval })
	bind(f, fs.DurationVar, "reconcile-interval", "interval between reconciliation passes", func(c *Config) *time.Duration { return &c.ReconcileInterval })
	bind(f, fs.DurationVar, "lock-ttl", "edit lock lifetime", func(c *Config) *time.Duration { return &c.LockTTL })
	bind(f, fs.DurationVar, "lock-sweep-interval", "interval between expired lock sweeps", func(c *Config) *time.Duration { return &c.LockSweepInterval })
	bind(f, fs.DurationVar, "stale-log-age", "age after which IN_PROGRESS runs are marked failed", func(c *Config) *time.Duration { return &c.StaleLogAge })
	bind(f, fs.DurationVar, "schema-cache-ttl", "lifetime of cached remote schemas", func(c *Config) *time.Duration { return &c.SchemaCacheTTL })

	bind(f, fs.StringVar, "health-addr", "gRPC health endpoint address", func(c *Config) *string { return &c.HealthAddr })
	bind(f, fs.StringVar, "log-level", "debug, info, warn or error", func(c *Config) *string { return &c.LogLevel })
	bind(f, fs.StringVar, "log-file", "rotating log file, in addition to stdout", func(c *Config) *string { return &c.LogFile })

	bind(f, fs.StringVar, "report-bucket", "S3 bucket for finished run logs, empty to disable", func(c *Config) *string { return &c.ReportBucket })
	bind(f, fs.StringVar, "report-prefix", "S3 key prefix for run logs", func(c *Config) *string { return &c.ReportPrefix })
	bind(f, fs.StringVar, "report-region", "S3 region", func(c *Config) *string { return &c.ReportRegion })
	bind(f, fs.StringVar, "report-endpoint", "S3 endpoint for MinIO and similar stores", func(c *Config) *string { return &c.ReportEndpoint })
	bind(f, fs.StringVar, "report-access-key", "S3 access key", func(c *Config) *string { return &c.ReportAccessKey })
	bind(f, fs.StringVar, "report-secret-key", "S3 secret key", func(c *Config) *string { return &c.ReportSecretKey })

	return f
}

func bind[T any](f *Flags, register func(p *T, name string, value T, usage string), name, usage string, field func(*Config) *T) {
	p := field(&f.v)
	register(p, name, *p, usage)
	f.apply[name] = func(dst *Config) { *field(dst) = *p }
}

// Apply copies the flags that were set on the command line into c.
func (f *Flags) Apply(c *Config) {
	f.fs.VisitAll(func(fl *pflag.Flag) {
		if !fl.Changed {
			return
		}
		if set, ok := f.apply[fl.Name]; ok {
			set(c)
		}
	})
}

// Load builds a Config by applying defaults, then the JSON file named by
// --config and finally the flags given on the command line.
func Load(f *Flags) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	path, err := f.fs.GetString("config")
	if err != nil {
		return nil, err
	}
	if err := cfg.LoadFile(path); err != nil {
		return nil, err
	}

	f.Apply(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
