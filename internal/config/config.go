package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models bookmatch.yml.
type Config struct {
	Cohort struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"cohort"`
	Time struct {
		UTCOffsetHours *int `yaml:"utc_offset_hours"`
		CutoffHour     *int `yaml:"cutoff_hour"`
	} `yaml:"time"`
	Matching struct {
		MinFanOut      int `yaml:"min_fanout"`
		MinClusterSize int `yaml:"min_cluster_size"`
		MaxClusterSize int `yaml:"max_cluster_size"`
		MinPerGender   int `yaml:"min_per_gender"`
	} `yaml:"matching"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with bm cohort config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Cohort.ID == "" {
		return fmt.Errorf("config.cohort.id is required")
	}
	if c.Time.UTCOffsetHours != nil {
		if off := *c.Time.UTCOffsetHours; off < -12 || off > 14 {
			return fmt.Errorf("config.time.utc_offset_hours %d out of range", off)
		}
	}
	if c.Time.CutoffHour != nil {
		if h := *c.Time.CutoffHour; h < 0 || h > 23 {
			return fmt.Errorf("config.time.cutoff_hour %d out of range", h)
		}
	}
	if c.Matching.MinFanOut < 0 {
		return fmt.Errorf("config.matching.min_fanout must not be negative")
	}
	if c.Matching.MinClusterSize < 0 || c.Matching.MaxClusterSize < 0 {
		return fmt.Errorf("config.matching cluster size bounds must not be negative")
	}
	if c.Matching.MinClusterSize > 0 && c.Matching.MaxClusterSize > 0 &&
		c.Matching.MinClusterSize > c.Matching.MaxClusterSize {
		return fmt.Errorf("config.matching.min_cluster_size exceeds max_cluster_size")
	}
	if c.Matching.MinPerGender < 0 {
		return fmt.Errorf("config.matching.min_per_gender must not be negative")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has no url", i)
		}
	}
	return nil
}

// UTCOffsetHours returns the configured offset or the KST default.
func (c *Config) UTCOffsetHours() int {
	if c.Time.UTCOffsetHours != nil {
		return *c.Time.UTCOffsetHours
	}
	return 9
}

// CutoffHour returns the configured cutoff or the 2am default.
func (c *Config) CutoffHour() int {
	if c.Time.CutoffHour != nil {
		return *c.Time.CutoffHour
	}
	return 2
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bookmatch.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(cohortID string) string {
	return fmt.Sprintf(defaultTemplate, cohortID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a cohort.
func Default(cohortID string) *Config {
	var cfg Config
	cfg.Cohort.ID = cohortID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, cohortID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `cohort:
  id: %s
  name: "Reading Program"

time:
  utc_offset_hours: 9
  cutoff_hour: 2

matching:
  min_fanout: 2
  min_cluster_size: 4
  max_cluster_size: 8
  min_per_gender: 2

rbac:
  roles:
    owner:
      description: "Full control"
      permissions:
        - cohort.manage
        - participant.manage
        - submission.review
        - matching.import
        - matching.validate
        - profile.note
    operator:
      description: "Day-to-day review and matching operations"
      permissions:
        - submission.review
        - matching.import
        - matching.validate
        - profile.note
    member:
      description: "Participant self-service"
      permissions:
        - submission.write
`
