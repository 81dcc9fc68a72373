// Package config loads the flat params.json configuration file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// DefaultPath is where the sync looks for its configuration unless told
// otherwise.
const DefaultPath = "params.json"

// Config is the parsed and validated run configuration.
type Config struct {
	DBHost string
	DBPort int
	DBUser string
	DBPass string

	// Tenants are the source schemas to sync (db_list).
	Tenants []string
	// Tables are the table names synced for every tenant (table_list).
	Tables []string

	BQProject  string
	BQDataset  string
	BQLocation string

	PoolSize        int
	LookbackMinutes int
	BatchSize       int
	MaxRetries      int
	RetryDelay      time.Duration
	StatusDir       string
}

// Load reads and validates params.json. A missing or malformed file is
// fatal to the run; there is no environment fallback for these settings.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("db_port", 3306)
	v.SetDefault("bq_location", "US")
	v.SetDefault("pool_size", 5)
	v.SetDefault("lookback_minutes", 10)
	v.SetDefault("batch_size", 1000)
	v.SetDefault("max_retries", 3)
	v.SetDefault("retry_delay", 5)
	v.SetDefault("status_dir", "sync_status")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{
		DBHost:          v.GetString("db_host"),
		DBPort:          v.GetInt("db_port"),
		DBUser:          v.GetString("db_user"),
		DBPass:          v.GetString("db_pass"),
		Tenants:         splitList(v.GetString("db_list")),
		Tables:          splitList(v.GetString("table_list")),
		BQProject:       v.GetString("bq_project"),
		BQDataset:       v.GetString("bq_dataset"),
		BQLocation:      v.GetString("bq_location"),
		PoolSize:        v.GetInt("pool_size"),
		LookbackMinutes: v.GetInt("lookback_minutes"),
		BatchSize:       v.GetInt("batch_size"),
		MaxRetries:      v.GetInt("max_retries"),
		RetryDelay:      time.Duration(v.GetInt("retry_delay")) * time.Second,
		StatusDir:       v.GetString("status_dir"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	for key, val := range map[string]string{
		"db_host":    c.DBHost,
		"db_user":    c.DBUser,
		"bq_project": c.BQProject,
		"bq_dataset": c.BQDataset,
	} {
		if val == "" {
			missing = append(missing, key)
		}
	}
	if len(c.Tenants) == 0 {
		missing = append(missing, "db_list")
	}
	if len(c.Tables) == 0 {
		missing = append(missing, "table_list")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Lookback returns the incremental-window overlap as a duration.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackMinutes) * time.Minute
}

// DSN builds the source connection string. No default database is set: the
// pool is shared across tenants and every query qualifies its schema.
func (c *Config) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.DBUser
	mc.Passwd = c.DBPass
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.DBHost, c.DBPort)
	mc.Timeout = 30 * time.Second
	mc.ReadTimeout = 30 * time.Second
	mc.WriteTimeout = 30 * time.Second
	mc.ParseTime = true
	mc.Loc = time.Local
	return mc.FormatDSN()
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
