package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/config"
)

func parse(t *testing.T, args ...string) (*pflag.FlagSet, *options) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	var o options
	bindFlags(fs, &o)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return fs, &o
}

func TestOptions_ApplyOnlyChangedFlags(t *testing.T) {
	t.Setenv("DOMAIN_MAP_PATH", "")
	fs, o := parse(t, "-d", "a.example.com,b.example.com", "-t", "tok", "-z", "zone-1", "-i", "5", "--proxied=false")

	cfg := config.Default()
	cfg.Static.RecordType = "AAAA" // from a config file
	o.apply(fs, &cfg)

	want := config.Default()
	want.Static.Hostnames = []string{"a.example.com", "b.example.com"}
	want.Static.IntervalSeconds = 5
	want.Static.Proxied = false
	want.Static.RecordType = "AAAA"
	want.Provider.APIToken = "tok"
	want.Provider.ZoneID = "zone-1"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("apply mismatch (-want +got):\n%s", diff)
	}
}

func TestOptions_ZoneFlagsAreExclusive(t *testing.T) {
	fs, o := parse(t, "--zone-name", "example.com")

	cfg := config.Default()
	cfg.Provider.ZoneID = "from-file"
	o.apply(fs, &cfg)

	if cfg.Provider.ZoneID != "" || cfg.Provider.ZoneName != "example.com" {
		t.Errorf("expected zone name to replace zone id, got %+v", cfg.Provider)
	}
}

func TestOptions_DomainMapEnv(t *testing.T) {
	t.Setenv("DOMAIN_MAP_PATH", "/etc/dns/domain-map.yaml")
	fs, o := parse(t)

	cfg := config.Default()
	o.apply(fs, &cfg)
	if cfg.Declarative.DomainMapPath != "/etc/dns/domain-map.yaml" {
		t.Errorf("expected env domain map path, got %q", cfg.Declarative.DomainMapPath)
	}
}

func TestOptions_Declarative(t *testing.T) {
	fs, o := parse(t, "--mode", "declarative", "--source", "file", "--records-file", "records.yaml", "--max-concurrent-reconciles", "8")

	cfg := config.Default()
	o.apply(fs, &cfg)
	if cfg.Mode != config.ModeDeclarative || cfg.Declarative.Source != config.SourceFile {
		t.Errorf("unexpected mode/source %q/%q", cfg.Mode, cfg.Declarative.Source)
	}
	if cfg.Declarative.RecordsFile != "records.yaml" || cfg.Declarative.MaxConcurrentReconciles != 8 {
		t.Errorf("unexpected declarative config %+v", cfg.Declarative)
	}
}
