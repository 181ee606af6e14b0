package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/reconcile"
)

// ErrInvalidConfig marks configuration errors detected at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

// Operating modes.
const (
	ModeStatic      = "static"
	ModeDeclarative = "declarative"
)

// Declarative sources.
const (
	SourceKubernetes = "kubernetes"
	SourceFile       = "file"
)

// Config is the full process configuration.
type Config struct {
	Mode                   string            `yaml:"mode"`
	Provider               ProviderConfig    `yaml:"provider"`
	Static                 StaticConfig      `yaml:"static"`
	Declarative            DeclarativeConfig `yaml:"declarative"`
	MetricsBindAddress     string            `yaml:"metrics_bind_address"`
	HealthProbeBindAddress string            `yaml:"health_probe_bind_address"`
}

// ProviderConfig holds the DNS provider credentials and zone.
type ProviderConfig struct {
	APIToken       string `yaml:"api_token"`
	ZoneID         string `yaml:"zone_id"`
	ZoneName       string `yaml:"zone_name"` // resolved to ZoneID at startup
	BaseURL        string `yaml:"base_url"`
	VerifyToken    bool   `yaml:"verify_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"` // 0 = transport default
}

// StaticConfig describes the fixed list of hostnames kept at the public address.
type StaticConfig struct {
	Hostnames       []string `yaml:"hostnames"`
	RecordType      string   `yaml:"record_type"`
	Proxied         bool     `yaml:"proxied"`
	IntervalSeconds int      `yaml:"interval_seconds"`
	LookupURL       string   `yaml:"lookup_url"`
}

// DeclarativeConfig describes event-driven reconciliation.
type DeclarativeConfig struct {
	Source                  string `yaml:"source"`
	RecordsFile             string `yaml:"records_file"`
	SuccessRequeueSeconds   int    `yaml:"success_requeue_seconds"`
	FailureRequeueSeconds   int    `yaml:"failure_requeue_seconds"`
	MaxConcurrentReconciles int    `yaml:"max_concurrent_reconciles"`
	HTTPRoutes              bool   `yaml:"httproutes"`
	DomainMapPath           string `yaml:"domain_map_path"`
	DefaultProxied          bool   `yaml:"default_proxied"`
	LookupURL               string `yaml:"lookup_url"`
}

// Default returns the configuration used when no file or flag overrides a value.
func Default() Config {
	return Config{
		Mode: ModeStatic,
		Static: StaticConfig{
			RecordType:      "A",
			Proxied:         true,
			IntervalSeconds: 2,
		},
		Declarative: DeclarativeConfig{
			Source:                  SourceKubernetes,
			SuccessRequeueSeconds:   int(reconcile.DefaultSuccessDelay / time.Second),
			FailureRequeueSeconds:   int(reconcile.DefaultFailureDelay / time.Second),
			MaxConcurrentReconciles: 4,
			DomainMapPath:           "configs/domain-map.yaml",
			DefaultProxied:          true,
		},
		MetricsBindAddress:     ":9090",
		HealthProbeBindAddress: ":8081",
	}
}

// Load reads the configuration from path on top of Default. An empty path
// returns Default. ${ENV_VAR} references in the file are expanded.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv fills credentials that are still empty from the environment.
func (c *Config) ApplyEnv() {
	if c.Provider.APIToken == "" {
		c.Provider.APIToken = os.Getenv("CLOUDFLARE_ACCESS_TOKEN")
	}
	if c.Provider.ZoneID == "" && c.Provider.ZoneName == "" {
		c.Provider.ZoneID = os.Getenv("CLOUDFLARE_ZONE_ID")
		c.Provider.ZoneName = os.Getenv("CLOUDFLARE_ZONE_NAME")
	}
}

// Validate reports every problem found, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Provider.APIToken == "" {
		add("provider: missing api token")
	}
	switch {
	case c.Provider.ZoneID == "" && c.Provider.ZoneName == "":
		add("provider: one of zone_id or zone_name is required")
	case c.Provider.ZoneID != "" && c.Provider.ZoneName != "":
		add("provider: zone_id and zone_name are mutually exclusive")
	}
	if c.Provider.TimeoutSeconds < 0 {
		add("provider: timeout_seconds must not be negative")
	}

	switch c.Mode {
	case ModeStatic:
		errs = append(errs, c.Static.validate()...)
	case ModeDeclarative:
		errs = append(errs, c.Declarative.validate()...)
	default:
		add("mode: unsupported mode %q (want %q or %q)", c.Mode, ModeStatic, ModeDeclarative)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

func (s *StaticConfig) validate() []error {
	var errs []error
	if len(s.Hostnames) == 0 {
		errs = append(errs, fmt.Errorf("static: at least one hostname is required"))
	}
	for _, h := range s.Hostnames {
		if !dns.ValidHostname(h) {
			errs = append(errs, fmt.Errorf("static: invalid hostname %q", h))
		}
	}
	if t := dns.CanonicalType(s.RecordType); t != "A" && t != "AAAA" {
		errs = append(errs, fmt.Errorf("static: unsupported record type %q (want A or AAAA)", s.RecordType))
	}
	if s.IntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("static: interval must be positive"))
	}
	if err := ValidateRecords(s.Records()); err != nil {
		errs = append(errs, fmt.Errorf("static: %w", err))
	}
	return errs
}

func (d *DeclarativeConfig) validate() []error {
	var errs []error
	switch d.Source {
	case SourceKubernetes:
	case SourceFile:
		if d.RecordsFile == "" {
			errs = append(errs, fmt.Errorf("declarative: records_file is required for the file source"))
		}
		if d.HTTPRoutes {
			errs = append(errs, fmt.Errorf("declarative: httproutes requires the kubernetes source"))
		}
	default:
		errs = append(errs, fmt.Errorf("declarative: unsupported source %q (want %q or %q)", d.Source, SourceKubernetes, SourceFile))
	}
	if d.SuccessRequeueSeconds <= 0 || d.FailureRequeueSeconds <= 0 {
		errs = append(errs, fmt.Errorf("declarative: requeue delays must be positive"))
	}
	if d.MaxConcurrentReconciles < 1 {
		errs = append(errs, fmt.Errorf("declarative: max_concurrent_reconciles must be at least 1"))
	}
	if d.HTTPRoutes && d.DomainMapPath == "" {
		errs = append(errs, fmt.Errorf("declarative: domain_map_path is required when httproutes is enabled"))
	}
	return errs
}

// Records returns the desired records for static mode. Content is left empty
// and filled from the public address on every cycle.
func (s *StaticConfig) Records() []dns.Record {
	records := make([]dns.Record, 0, len(s.Hostnames))
	for _, h := range s.Hostnames {
		records = append(records, dns.Record{
			Name:    dns.CanonicalName(h),
			Type:    dns.CanonicalType(s.RecordType),
			Proxied: s.Proxied,
		})
	}
	return records
}

// Interval returns the poll interval.
func (s *StaticConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// RequeuePolicy returns the declarative requeue delays.
func (d *DeclarativeConfig) RequeuePolicy() reconcile.RequeuePolicy {
	return reconcile.RequeuePolicy{
		SuccessDelay: time.Duration(d.SuccessRequeueSeconds) * time.Second,
		FailureDelay: time.Duration(d.FailureRequeueSeconds) * time.Second,
	}
}

// Timeout returns the provider request timeout, 0 meaning none.
func (p *ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ValidateRecords rejects records with an invalid name, type or content and
// records that share a (name, type) pair.
func ValidateRecords(records []dns.Record) error {
	var errs []error
	for _, r := range records {
		if !dns.ValidHostname(r.Name) {
			errs = append(errs, fmt.Errorf("invalid hostname %q", r.Name))
		}
		t := dns.CanonicalType(r.Type)
		if t != "A" && t != "AAAA" {
			errs = append(errs, fmt.Errorf("%s: unsupported record type %q", r.Name, r.Type))
		}
		if r.Content != "" {
			addr, err := netip.ParseAddr(r.Content)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: content %q is not an IP address", r.Name, r.Content))
			case t == "A" && !addr.Is4(), t == "AAAA" && !addr.Is6():
				errs = append(errs, fmt.Errorf("%s: content %q does not match type %s", r.Name, r.Content, t))
			}
		}
	}
	for _, k := range dns.Duplicates(records) {
		errs = append(errs, fmt.Errorf("duplicate record %s", k))
	}
	return errors.Join(errs...)
}
