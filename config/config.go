// Package config loads the account inventory and runtime settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/musterops/muster/types"
)

// DefaultRoleName is assumed in target accounts when the config names none.
const DefaultRoleName = "OrganizationAccountAccessRole"

// DefaultExternalID is presented during role assumption unless overridden.
const DefaultExternalID = "inventory-collector"

// Account identifies one target account for collection.
type Account struct {
	Name      string `json:"-"`
	AccountID string `json:"account_id"`
	RoleName  string `json:"role_name,omitempty"`
}

type accountsFile struct {
	Accounts map[string]Account `json:"accounts"`
}

// LoadAccounts reads the JSON accounts file:
//
//	{"accounts": {"platform": {"account_id": "123456789012", "role_name": "audit"}}}
//
// Accounts are returned sorted by name for deterministic iteration.
func LoadAccounts(path string) ([]Account, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, &types.ConfigurationError{Path: path, Err: err}
	}

	var file accountsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &types.ConfigurationError{Path: path, Err: fmt.Errorf("parse accounts: %w", err)}
	}
	if len(file.Accounts) == 0 {
		return nil, &types.ConfigurationError{Path: path, Err: fmt.Errorf("no accounts configured")}
	}

	accounts := make([]Account, 0, len(file.Accounts))
	for name, acct := range file.Accounts {
		acct.Name = name
		if acct.AccountID == "" {
			return nil, &types.ConfigurationError{Path: path, Err: fmt.Errorf("account %q: account_id is required", name)}
		}
		if acct.RoleName == "" {
			acct.RoleName = DefaultRoleName
		}
		accounts = append(accounts, acct)
	}

	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts, nil
}

// Settings holds runtime configuration for collection and reporting.
type Settings struct {
	Table             string     `yaml:"table"`
	DefaultRegion     string     `yaml:"default_region"`
	ExternalID        string     `yaml:"external_id"`
	AccountWorkers    int        `yaml:"account_workers"`
	RegionWorkers     int        `yaml:"region_workers"`
	CollectTimeoutStr string     `yaml:"collect_timeout"`
	CostThreshold     float64    `yaml:"cost_threshold"`
	SNSTopic          string     `yaml:"sns_topic"`
	ReportBucket      string     `yaml:"report_bucket"`
	JournalPath       string     `yaml:"journal_path"`
	OTEL              OTELConfig `yaml:"otel"`

	CollectTimeout time.Duration `yaml:"-"`
}

// OTELConfig holds OpenTelemetry exporter settings for daemon mode.
type OTELConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// DefaultSettings returns settings with documented defaults applied.
func DefaultSettings() Settings {
	return Settings{
		Table:             "aws-inventory",
		DefaultRegion:     "us-east-1",
		ExternalID:        DefaultExternalID,
		AccountWorkers:    5,
		RegionWorkers:     10,
		CollectTimeoutStr: "2m",
		CollectTimeout:    2 * time.Minute,
		CostThreshold:     10000,
		OTEL:              OTELConfig{ServiceName: "muster"},
	}
}

// LoadSettings reads the optional YAML settings file, applies defaults for
// absent fields, then environment overrides.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return s, &types.ConfigurationError{Path: path, Err: err}
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, &types.ConfigurationError{Path: path, Err: fmt.Errorf("parse settings: %w", err)}
		}
		applyDefaults(&s)
	}

	applyEnv(&s)

	if err := parseTimeout(&s); err != nil {
		return s, &types.ConfigurationError{Path: path, Err: err}
	}
	if err := s.Validate(); err != nil {
		return s, &types.ConfigurationError{Path: path, Err: err}
	}
	return s, nil
}

func parseTimeout(s *Settings) error {
	d, err := time.ParseDuration(s.CollectTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse collect_timeout %q: %w", s.CollectTimeoutStr, err)
	}
	s.CollectTimeout = d
	return nil
}

func applyDefaults(s *Settings) {
	d := DefaultSettings()
	if s.Table == "" {
		s.Table = d.Table
	}
	if s.DefaultRegion == "" {
		s.DefaultRegion = d.DefaultRegion
	}
	if s.ExternalID == "" {
		s.ExternalID = d.ExternalID
	}
	if s.AccountWorkers == 0 {
		s.AccountWorkers = d.AccountWorkers
	}
	if s.RegionWorkers == 0 {
		s.RegionWorkers = d.RegionWorkers
	}
	if s.CollectTimeoutStr == "" {
		s.CollectTimeoutStr = d.CollectTimeoutStr
	}
	if s.CostThreshold == 0 {
		s.CostThreshold = d.CostThreshold
	}
	if s.OTEL.ServiceName == "" {
		s.OTEL.ServiceName = d.OTEL.ServiceName
	}
}

func applyEnv(s *Settings) {
	if v := os.Getenv("MUSTER_TABLE"); v != "" {
		s.Table = v
	}
	if v := os.Getenv("MUSTER_EXTERNAL_ID"); v != "" {
		s.ExternalID = v
	}
	if v := os.Getenv("MUSTER_SNS_TOPIC"); v != "" {
		s.SNSTopic = v
	}
	if v := os.Getenv("MUSTER_REPORT_BUCKET"); v != "" {
		s.ReportBucket = v
	}
	if v := os.Getenv("MUSTER_COST_THRESHOLD"); v != "" {
		if threshold, err := strconv.ParseFloat(v, 64); err == nil {
			s.CostThreshold = threshold
		}
	}
}

// Validate ensures settings are usable.
func (s *Settings) Validate() error {
	if s.Table == "" {
		return fmt.Errorf("table is required")
	}
	if s.AccountWorkers < 1 {
		return fmt.Errorf("account_workers must be positive")
	}
	if s.RegionWorkers < 1 {
		return fmt.Errorf("region_workers must be positive")
	}
	if s.CollectTimeout < 0 {
		return fmt.Errorf("collect_timeout must not be negative")
	}
	return nil
}
