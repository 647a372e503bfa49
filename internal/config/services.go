package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceSettings is the static directory entry for one domain service:
// where to fall back when no healthy instance is registered, how to derive
// event partition keys, and optional breaker overrides.
type ServiceSettings struct {
	// Domain is the path prefix the gateway routes to this service.
	Domain string `yaml:"domain"`

	// FallbackURL is the static/mock endpoint used when the registry has
	// no healthy instance. Empty means no fallback.
	FallbackURL string `yaml:"fallback_url"`

	// ResultEvent names the event type published after a successful
	// routed call; the topic becomes {domain}.{result_event}.v1.
	// Defaults to "requestcompleted".
	ResultEvent string `yaml:"result_event"`

	// PartitionKeyPath is a gjson path into the downstream response body
	// used as the event partition key. Empty falls back to the
	// correlation ID.
	PartitionKeyPath string `yaml:"partition_key_path"`

	// Breaker overrides the default breaker tuning for this service.
	Breaker *ServiceBreakerSettings `yaml:"breaker"`

	Description string `yaml:"description"`
}

// ServiceBreakerSettings are per-service breaker overrides.
type ServiceBreakerSettings struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// UnmarshalYAML accepts open_timeout as a duration string ("15s").
func (s *ServiceBreakerSettings) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		FailureThreshold int    `yaml:"failure_threshold"`
		OpenTimeout      string `yaml:"open_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	s.FailureThreshold = raw.FailureThreshold
	if raw.OpenTimeout != "" {
		d, err := time.ParseDuration(raw.OpenTimeout)
		if err != nil {
			return fmt.Errorf("breaker open_timeout %q: %w", raw.OpenTimeout, err)
		}
		s.OpenTimeout = d
	}
	return nil
}

// ServicesConfig maps service names to their static settings.
type ServicesConfig struct {
	Services map[string]*ServiceSettings `yaml:"services"`
}

// ByDomain returns the service name and settings owning a domain, or
// ok=false when no service claims it.
func (c *ServicesConfig) ByDomain(domain string) (string, *ServiceSettings, bool) {
	for name, settings := range c.Services {
		if settings.Domain == domain {
			return name, settings, true
		}
	}
	return "", nil, false
}

// LoadServicesConfig loads the directory from config/services.yaml.
func LoadServicesConfig() (*ServicesConfig, error) {
	return LoadServicesConfigFromPath(filepath.Join("config", "services.yaml"))
}

// LoadServicesConfigFromPath loads the directory from a specific path.
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}

	for name, settings := range cfg.Services {
		if settings.Domain == "" {
			return nil, fmt.Errorf("service %s: domain is required", name)
		}
		if settings.ResultEvent == "" {
			settings.ResultEvent = "requestcompleted"
		}
	}
	return &cfg, nil
}

// LoadServicesConfigOrDefault loads the directory or returns the default
// when the file is missing.
func LoadServicesConfigOrDefault() *ServicesConfig {
	cfg, err := LoadServicesConfig()
	if err != nil {
		return DefaultServicesConfig()
	}
	return cfg
}

// DefaultServicesConfig returns the built-in domain service directory.
func DefaultServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		Services: map[string]*ServiceSettings{
			"trading-service": {
				Domain:           "trading",
				ResultEvent:      "tradeexecuted",
				PartitionKeyPath: "trade.id",
				Description:      "Trade execution and order management",
			},
			"financial-service": {
				Domain:      "financial",
				ResultEvent: "paymentsettled",
				Description: "Balances and payment settlement",
			},
			"gamefi-service": {
				Domain:      "gamefi",
				ResultEvent: "xpawarded",
				Description: "XP, quests and season progression",
			},
			"nft-service": {
				Domain:      "nft",
				ResultEvent: "assetminted",
				Description: "NFT minting and ownership",
			},
			"social-service": {
				Domain:      "social",
				ResultEvent: "activityrecorded",
				Description: "Profiles and activity feeds",
			},
		},
	}
}
