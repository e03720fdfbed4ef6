package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"remedyboard/internal/domain"
)

const (
	TransitionsPermissive = "permissive"
	TransitionsStrict     = "strict"
)

// Config models remedyboard.yml.
type Config struct {
	Org struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"org" json:"org"`
	Workflow struct {
		Transitions     string              `yaml:"transitions" json:"transitions"`
		StrictTable     map[string][]string `yaml:"strict_table" json:"strict_table,omitempty"`
		DefaultPriority string              `yaml:"default_priority" json:"default_priority"`
		AdvanceOnAssign *bool               `yaml:"advance_on_assign" json:"advance_on_assign,omitempty"`
	} `yaml:"workflow" json:"workflow"`
	Listing struct {
		DefaultLimit int `yaml:"default_limit" json:"default_limit"`
		MaxLimit     int `yaml:"max_limit" json:"max_limit"`
	} `yaml:"listing" json:"listing"`
	Directory struct {
		Users []DirectoryUser `yaml:"users" json:"users,omitempty"`
	} `yaml:"directory" json:"directory"`
}

type DirectoryUser struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email" json:"email,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with rb config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.ID == "" {
		return fmt.Errorf("config.org.id is required")
	}
	switch c.Workflow.Transitions {
	case TransitionsPermissive, TransitionsStrict:
	default:
		return fmt.Errorf("config.workflow.transitions must be 'permissive' or 'strict'")
	}
	if c.Workflow.Transitions == TransitionsStrict && len(c.Workflow.StrictTable) == 0 {
		return fmt.Errorf("config.workflow.strict_table is required when transitions are strict")
	}
	for from, targets := range c.Workflow.StrictTable {
		if !domain.Status(from).Valid() {
			return fmt.Errorf("strict_table has unknown status %s", from)
		}
		for _, to := range targets {
			if !domain.Status(to).Valid() {
				return fmt.Errorf("strict_table %s lists unknown status %s", from, to)
			}
		}
	}
	if !domain.Priority(c.Workflow.DefaultPriority).Valid() {
		return fmt.Errorf("config.workflow.default_priority must be low, medium, high or critical")
	}
	if c.Listing.DefaultLimit <= 0 || c.Listing.MaxLimit <= 0 {
		return fmt.Errorf("config.listing limits must be positive")
	}
	if c.Listing.DefaultLimit > c.Listing.MaxLimit {
		return fmt.Errorf("config.listing.default_limit exceeds max_limit")
	}
	seen := map[string]bool{}
	for _, u := range c.Directory.Users {
		if u.ID == "" {
			return fmt.Errorf("config.directory.users contains empty user id")
		}
		if seen[u.ID] {
			return fmt.Errorf("config.directory.users has duplicate id %s", u.ID)
		}
		seen[u.ID] = true
	}
	return nil
}

// Strict reports whether the transition table is enforced.
func (c *Config) Strict() bool {
	return c != nil && c.Workflow.Transitions == TransitionsStrict
}

// Allowed reports whether from -> to is permitted under the configured table.
// Permissive mode allows every pair.
func (c *Config) Allowed(from, to domain.Status) bool {
	if !c.Strict() {
		return true
	}
	for _, next := range c.Workflow.StrictTable[string(from)] {
		if domain.Status(next) == to {
			return true
		}
	}
	return false
}

func (c *Config) AdvanceOnAssign() bool {
	if c == nil || c.Workflow.AdvanceOnAssign == nil {
		return true
	}
	return *c.Workflow.AdvanceOnAssign
}

func (c *Config) DefaultPriority() domain.Priority {
	if c == nil || c.Workflow.DefaultPriority == "" {
		return domain.PriorityMedium
	}
	return domain.Priority(c.Workflow.DefaultPriority)
}

// Limit clamps a requested page size into the configured bounds.
func (c *Config) Limit(requested int) int {
	def, max := 100, 100
	if c != nil {
		def, max = c.Listing.DefaultLimit, c.Listing.MaxLimit
	}
	if requested <= 0 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "remedyboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an org.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(orgID))).Decode(&cfg)
	cfg.Org.ID = orgID
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

const defaultTemplate = `org:
  id: %s
  name: Default Org

workflow:
  # permissive: any status may follow any other (board drag and drop)
  # strict: only the jumps in strict_table are accepted
  transitions: permissive
  default_priority: medium
  advance_on_assign: true
  strict_table:
    open: [assigned, in_progress]
    assigned: [in_progress, open]
    in_progress: [under_review, resolved, assigned]
    under_review: [resolved, in_progress]
    resolved: [verified, under_review]
    verified: [closed]
    closed: []

listing:
  default_limit: 100
  max_limit: 100

directory:
  users: []
`
