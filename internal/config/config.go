// Package config handles configuration for crmsync, including defaults,
// a JSON overlay and command-line flags.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds runtime settings for the sync daemon and the one-shot commands.
//
// Fields:
//   - DatabaseDriver / DatabaseDSN: local store ("postgres" or "sqlite") and its DSN.
//   - Remote*: CRM REST endpoint, tenant and pacing. RemoteToken is a static
//     access token; RemoteSecretID names an AWS Secrets Manager secret instead.
//   - CredentialKey: passphrase encrypting the token cached in the local store.
//   - PageSize / TimeBudget / MaxBatches: batch engine limits per run.
//   - ObjectTypes: CRM object types the scheduler keeps in sync.
//   - Report*: optional S3-compatible bucket receiving finished run logs.
type Config struct {
	DatabaseDriver string
	DatabaseDSN    string

	RemoteBaseURL         string
	RemoteTenant          string
	RemoteUserID          string
	RemoteToken           string
	RemoteSecretID        string
	RemoteRegion          string
	RemoteRequestInterval time.Duration
	RemoteMaxRetries      uint64
	RemoteTimeout         time.Duration
	TokenTTL              time.Duration
	CredentialKey         string

	PageSize   int
	TimeBudget time.Duration
	MaxBatches int

	ObjectTypes       []string
	SyncInterval      time.Duration
	ReconcileInterval time.Duration
	LockTTL           time.Duration
	LockSweepInterval time.Duration
	StaleLogAge       time.Duration
	SchemaCacheTTL    time.Duration

	HealthAddr string
	LogLevel   string
	LogFile    string

	ReportBucket    string
	ReportPrefix    string
	ReportRegion    string
	ReportEndpoint  string
	ReportAccessKey string
	ReportSecretKey string
}

// LoadDefaults populates Config with development defaults: a local SQLite
// file and a CRM on localhost.
func (c *Config) LoadDefaults() {
	c.DatabaseDriver = "sqlite"
	c.DatabaseDSN = "crmsync.db"

	c.RemoteBaseURL = "http://127.0.0.1:8080/api"
	c.RemoteTenant = "default"
	c.RemoteRegion = "us-east-1"
	c.RemoteRequestInterval = 100 * time.Millisecond
	c.RemoteMaxRetries = 3
	c.RemoteTimeout = 30 * time.Second
	c.TokenTTL = time.Hour

	c.PageSize = 200
	c.TimeBudget = 50 * time.Second
	c.MaxBatches = 0

	c.ObjectTypes = []string{"AccountObj", "ContactObj", "NewOpportunityObj", "Site"}
	c.SyncInterval = 5 * time.Minute
	c.ReconcileInterval = time.Minute
	c.LockTTL = 30 * time.Minute
	c.LockSweepInterval = 5 * time.Minute
	c.StaleLogAge = 15 * time.Minute
	c.SchemaCacheTTL = 24 * time.Hour

	c.HealthAddr = ":50051"
	c.LogLevel = "info"

	c.ReportPrefix = "sync-logs"
	c.ReportRegion = "us-east-1"
}

// Validate reports settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.DatabaseDriver))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if c.RemoteBaseURL == "" {
		errs = append(errs, errors.New("remote base url is required"))
	}
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", c.PageSize))
	}
	if c.TimeBudget <= 0 {
		errs = append(errs, fmt.Errorf("time budget must be positive, got %s", c.TimeBudget))
	}
	if c.MaxBatches < 0 {
		errs = append(errs, fmt.Errorf("max batches must not be negative, got %d", c.MaxBatches))
	}
	return errors.Join(errs...)
}
