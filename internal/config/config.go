package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"etica/internal/detect"
	"etica/internal/domain"
)

const (
	DefaultAddr     = "127.0.0.1:8080"
	DefaultBasePath = "/v0"
)

// Config models etica.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		// RateLimit is applied per client address; zero rps disables it.
		RateLimit struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Journal struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"journal"`
	Detection struct {
		DisabledRules []string        `yaml:"disabled_rules"`
		Keywords      detect.Keywords `yaml:"keywords"`
		CustomRules   []CustomRule    `yaml:"custom_rules"`
	} `yaml:"detection"`
}

// CustomRule declares a detection rule written in CEL.
type CustomRule struct {
	ID         string                 `yaml:"id"`
	Name       string                 `yaml:"name,omitempty"`
	Pattern    string                 `yaml:"pattern,omitempty"`
	Domains    []domain.EthicalDomain `yaml:"domains"`
	Severity   int                    `yaml:"severity"`
	Confidence domain.Confidence      `yaml:"confidence,omitempty"`
	When       string                 `yaml:"when"`
	EdgeFilter string                 `yaml:"edge_filter,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with etica config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// JournalEnabled defaults to true when the key is absent.
func (c *Config) JournalEnabled() bool {
	return c.Journal.Enabled == nil || *c.Journal.Enabled
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = DefaultBasePath
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = max(1, int(c.Server.RateLimit.RPS))
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		return fmt.Errorf("config.server.rate_limit must not be negative")
	}
	known := map[string]bool{}
	for _, r := range detect.Catalog() {
		known[r.ID] = true
	}
	for i, r := range c.Detection.CustomRules {
		if r.ID == "" {
			return fmt.Errorf("config.detection.custom_rules[%d].id is required", i)
		}
		if known[r.ID] {
			return fmt.Errorf("custom rule %s reuses an existing rule id", r.ID)
		}
		known[r.ID] = true
		if len(r.Domains) != 2 {
			return fmt.Errorf("custom rule %s must name exactly two domains", r.ID)
		}
		if r.Domains[0] == r.Domains[1] {
			return fmt.Errorf("custom rule %s opposes %s to itself", r.ID, r.Domains[0])
		}
		if r.Severity < 1 || r.Severity > 5 {
			return fmt.Errorf("custom rule %s severity must be between 1 and 5", r.ID)
		}
		if r.Confidence != "" && !r.Confidence.Valid() {
			return fmt.Errorf("custom rule %s has unknown confidence %s", r.ID, r.Confidence)
		}
	}
	if _, err := detect.CompileCELRules(c.CustomRuleSpecs()); err != nil {
		return err
	}
	for _, id := range c.Detection.DisabledRules {
		if !known[id] {
			return fmt.Errorf("config.detection.disabled_rules references unknown rule %s", id)
		}
	}
	kw := c.Detection.Keywords
	for kind, list := range map[string][]string{"vulnerable": kw.Vulnerable, "subordinate": kw.Subordinate, "minors": kw.Minors} {
		for _, w := range list {
			if strings.TrimSpace(w) == "" {
				return fmt.Errorf("config.detection.keywords.%s contains an empty keyword", kind)
			}
		}
	}
	return nil
}

// CustomRuleSpecs converts the declared custom rules for the detector.
func (c *Config) CustomRuleSpecs() []detect.CELRuleSpec {
	specs := make([]detect.CELRuleSpec, 0, len(c.Detection.CustomRules))
	for _, r := range c.Detection.CustomRules {
		var domains [2]domain.EthicalDomain
		copy(domains[:], r.Domains)
		specs = append(specs, detect.CELRuleSpec{
			ID:         r.ID,
			Name:       r.Name,
			PatternID:  r.Pattern,
			Domains:    domains,
			Severity:   r.Severity,
			Confidence: r.Confidence,
			When:       r.When,
			EdgeFilter: r.EdgeFilter,
		})
	}
	return specs
}

// DetectorOptions returns the detector settings described by the config.
func (c *Config) DetectorOptions() ([]detect.Option, error) {
	custom, err := detect.CompileCELRules(c.CustomRuleSpecs())
	if err != nil {
		return nil, err
	}
	return []detect.Option{
		detect.WithKeywords(c.Detection.Keywords),
		detect.WithRules(custom...),
		detect.WithDisabledRules(c.Detection.DisabledRules...),
	}, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "etica.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	cfg.applyDefaults()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  # Requests per second allowed per client address; 0 disables limiting.
  rate_limit:
    rps: 0
    burst: 0

journal:
  enabled: true

detection:
  # Rule ids to skip, e.g. R15_ENERGY_INTENSIVE_LEARNING.
  disabled_rules: []

  # A non-empty list replaces the built-in keywords of that kind.
  # Matching ignores case and accents.
  keywords:
    vulnerable: []
    subordinate: []
    minors: []

  # CEL predicates over profile, nodes and edges. edge_filter is evaluated
  # once per edge (bound to edge) to collect the related flows.
  custom_rules: []
  #  - id: C01_HEALTH_DATA_EXPORT
  #    name: Health data leaving the organisation
  #    domains: [SOVEREIGNTY, PRIVACY]
  #    severity: 4
  #    confidence: HIGH
  #    when: profile.sector == "HEALTH" && edges.exists(e, e.nature == "TRANSFER")
  #    edge_filter: edge.nature == "TRANSFER"
`
