package atmledger

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Storage struct {
		Driver  string        `yaml:"driver"`
		Path    string        `yaml:"path"`
		ConnStr string        `yaml:"conn_str"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"storage"`
	Ledger struct {
		MaxDebt float64 `yaml:"max_debt"`
	} `yaml:"ledger"`
	Limits struct {
		Deposit        int64         `yaml:"deposit"`
		Withdraw       int64         `yaml:"withdraw"`
		Balance        int64         `yaml:"balance"`
		Statement      int64         `yaml:"statement"`
		AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	} `yaml:"limits"`
	Breaker struct {
		MaxRequests      uint32        `yaml:"max_requests"`
		Interval         time.Duration `yaml:"interval"`
		Timeout          time.Duration `yaml:"timeout"`
		FailureThreshold uint32        `yaml:"failure_threshold"`
	} `yaml:"breaker"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":3000"
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Storage.Driver = DriverSQLite
	cfg.Storage.Path = "atm.db"
	cfg.Storage.Timeout = 5 * time.Second
	cfg.Ledger.MaxDebt = 1000
	cfg.Limits.Deposit = 64
	cfg.Limits.Withdraw = 64
	cfg.Limits.Balance = 128
	cfg.Limits.Statement = 8
	cfg.Limits.AcquireTimeout = 2 * time.Second
	cfg.Breaker.MaxRequests = 1
	cfg.Breaker.Interval = time.Minute
	cfg.Breaker.Timeout = 30 * time.Second
	cfg.Breaker.FailureThreshold = 5
	cfg.Log.Level = "info"
	return cfg
}

// LoadConfig reads the YAML file at path over the defaults and then applies
// environment overrides. A missing file is only tolerated when allowMissing
// is set.
func LoadConfig(path string, allowMissing bool) (*Config, error) {
	cfg := DefaultConfig()
	cfgfl, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && allowMissing:
	case err != nil:
		return nil, err
	default:
		defer cfgfl.Close()
		if err = yaml.NewDecoder(cfgfl).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decoding config %s: %w", path, err)
		}
	}

	if err = cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DB_PATH"); ok {
		c.Storage.Path = v
	}
	if v, ok := lookup("DATABASE_URL"); ok {
		c.Storage.ConnStr = v
	}
	if v, ok := lookup("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := lookup("LISTEN_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := lookup("MAX_DEBT"); ok {
		md, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing MAX_DEBT: %w", err)
		}
		c.Ledger.MaxDebt = md
	}
	return nil
}

func (c *Config) Validate() error {
	fields := map[string]string{}
	switch md := c.Ledger.MaxDebt; {
	case math.IsNaN(md), math.IsInf(md, 0):
		fields["ledger.max_debt"] = "must be a finite number"
	case md < 0:
		fields["ledger.max_debt"] = "must not be negative"
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			fields["storage.path"] = "required for sqlite driver"
		}
	case DriverPostgres:
		if c.Storage.ConnStr == "" {
			fields["storage.conn_str"] = "required for postgres driver"
		}
	case DriverMemory:
	default:
		fields["storage.driver"] = fmt.Sprintf("unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Timeout <= 0 {
		fields["storage.timeout"] = "must be positive"
	}
	for name, limit := range map[string]int64{
		"limits.deposit":   c.Limits.Deposit,
		"limits.withdraw":  c.Limits.Withdraw,
		"limits.balance":   c.Limits.Balance,
		"limits.statement": c.Limits.Statement,
	} {
		if limit <= 0 {
			fields[name] = "must be positive"
		}
	}
	if c.Limits.AcquireTimeout <= 0 {
		fields["limits.acquire_timeout"] = "must be positive"
	}
	if c.Breaker.FailureThreshold == 0 {
		fields["breaker.failure_threshold"] = "must be at least 1"
	}
	if len(fields) > 0 {
		return fmt.Errorf("invalid configuration: %v", fields)
	}
	return nil
}

func (c *Config) MaxDebt() decimal.Decimal {
	return decimal.NewFromFloat(c.Ledger.MaxDebt)
}
