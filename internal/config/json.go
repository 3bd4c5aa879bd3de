package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/crmsync/internal/timex"
)

// JsonConfig is the DTO for configuration files. Durations use timex.Duration
// so both "30s" and integer nanoseconds are accepted. Keys missing from the
// file leave the current value in place.
type JsonConfig struct {
	DatabaseDriver string `json:"database_driver"`
	DatabaseDSN    string `json:"database_dsn"`

	RemoteBaseURL         string         `json:"remote_base_url"`
	RemoteTenant          string         `json:"remote_tenant"`
	RemoteUserID          string         `json:"remote_user_id"`
	RemoteToken           string         `json:"remote_token"`
	RemoteSecretID        string         `json:"remote_secret_id"`
	RemoteRegion          string         `json:"remote_region"`
	RemoteRequestInterval timex.Duration `json:"remote_request_interval"`
	RemoteMaxRetries      uint64         `json:"remote_max_retries"`
	RemoteTimeout         timex.Duration `json:"remote_timeout"`
	TokenTTL              timex.Duration `json:"token_ttl"`
	CredentialKey         string         `json:"credential_key"`

	PageSize   int            `json:"page_size"`
	TimeBudget timex.Duration `json:"time_budget"`
	MaxBatches int            `json:"max_batches"`

	ObjectTypes       []string       `json:"object_types"`
	SyncInterval      timex.Duration `json:"sync_interval"`
	ReconcileInterval timex.Duration `json:"reconcile_interval"`
	LockTTL           timex.Duration `json:"lock_ttl"`
	LockSweepInterval timex.Duration `json:"lock_sweep_interval"`
	StaleLogAge       timex.Duration `json:"stale_log_age"`
	SchemaCacheTTL    timex.Duration `json:"schema_cache_ttl"`

	HealthAddr string `json:"health_addr"`
	LogLevel   string `json:"log_level"`
	LogFile    string `json:"log_file"`

	ReportBucket    string `json:"report_bucket"`
	ReportPrefix    string `json:"report_prefix"`
	ReportRegion    string `json:"report_region"`
	ReportEndpoint  string `json:"report_endpoint"`
	ReportAccessKey string `json:"report_access_key"`
	ReportSecretKey string `json:"report_secret_key"`
}

// LoadFile overlays the JSON file at path onto c. An empty path is a no-op.
func (c *Config) LoadFile(path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	j := &JsonConfig{}
	if err := json.Unmarshal(file, j); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	j.apply(c)
	return nil
}

func (j *JsonConfig) apply(c *Config) {
	setString(&c.DatabaseDriver, j.DatabaseDriver)
	setString(&c.DatabaseDSN, j.DatabaseDSN)

	setString(&c.RemoteBaseURL, j.RemoteBaseURL)
	setString(&c.RemoteTenant, j.RemoteTenant)
	setString(&c.RemoteUserID, j.RemoteUserID)
	setString(&c.RemoteToken, j.RemoteToken)
	setString(&c.RemoteSecretID, j.RemoteSecretID)
	setString(&c.RemoteRegion, j.RemoteRegion)
	setDuration(&c.RemoteRequestInterval, j.RemoteRequestInterval)
	if j.RemoteMaxRetries != 0 {
		c.RemoteMaxRetries = j.RemoteMaxRetries
	}
	setDuration(&c.RemoteTimeout, j.RemoteTimeout)
	setDuration(&c.TokenTTL, j.TokenTTL)
	setString(&c.CredentialKey, j.CredentialKey)

	setInt(&c.PageSize, j.PageSize)
	setDuration(&c.TimeBudget, j.TimeBudget)
	setInt(&c.MaxBatches, j.MaxBatches)

	if len(j.ObjectTypes) > 0 {
		c.ObjectTypes = j.ObjectTypes
	}
	setDuration(&c.SyncInterval, j.SyncInterval)
	setDuration(&c.ReconcileInterval, j.ReconcileInterval)
	setDuration(&c.LockTTL, j.LockTTL)
	setDuration(&c.LockSweepInterval, j.LockSweepInterval)
	setDuration(&c.StaleLogAge, j.StaleLogAge)
	setDuration(&c.SchemaCacheTTL, j.SchemaCacheTTL)

	setString(&c.HealthAddr, j.HealthAddr)
	setString(&c.LogLevel, j.LogLevel)
	setString(&c.LogFile, j.LogFile)

	setString(&c.ReportBucket, j.ReportBucket)
	setString(&c.ReportPrefix, j.ReportPrefix)
	setString(&c.ReportRegion, j.ReportRegion)
	setString(&c.ReportEndpoint, j.ReportEndpoint)
	setString(&c.ReportAccessKey, j.ReportAccessKey)
	setString(&c.ReportSecretKey, j.ReportSecretKey)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
