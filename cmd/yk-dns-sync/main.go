package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns/cloudflare"
)

var Version = "dev"

type options struct {
	configPath string
	once       bool

	mode           string
	hostnames      []string
	token          string
	zoneID         string
	zoneName       string
	interval       int
	proxied        bool
	recordType     string
	source         string
	recordsFile    string
	httpRoutes     bool
	domainMap      string
	metricsAddr    string
	probeAddr      string
	maxConcurrent  int
	verifyToken    bool
	providerURL    string
	lookupURL      string
	requestTimeout int
}

func bindFlags(fs *pflag.FlagSet, o *options) {
	d := config.Default()
	fs.StringVar(&o.configPath, "config", os.Getenv("DNS_SYNC_CONFIG"), "Path to the YAML configuration file (env DNS_SYNC_CONFIG).")
	fs.BoolVar(&o.once, "once", false, "Run a single static cycle and exit.")

	fs.StringVar(&o.mode, "mode", d.Mode, "Operating mode: static or declarative.")
	fs.StringSliceVarP(&o.hostnames, "dns", "d", nil, "Hostnames to keep at the public address (static mode).")
	fs.StringVarP(&o.token, "token", "t", "", "Cloudflare API token (env CLOUDFLARE_ACCESS_TOKEN).")
	fs.StringVarP(&o.zoneID, "zone", "z", "", "Cloudflare zone id (env CLOUDFLARE_ZONE_ID).")
	fs.StringVar(&o.zoneName, "zone-name", "", "Cloudflare zone name, resolved to an id at startup (env CLOUDFLARE_ZONE_NAME).")
	fs.IntVarP(&o.interval, "interval", "i", d.Static.IntervalSeconds, "Seconds between public address checks (static mode).")
	fs.BoolVar(&o.proxied, "proxied", d.Static.Proxied, "Proxy static records through Cloudflare.")
	fs.StringVar(&o.recordType, "record-type", d.Static.RecordType, "Record type for static hostnames: A or AAAA.")
	fs.StringVar(&o.source, "source", d.Declarative.Source, "Declarative source: kubernetes or file.")
	fs.StringVar(&o.recordsFile, "records-file", "", "Records file for the file source.")
	fs.BoolVar(&o.httpRoutes, "httproutes", false, "Publish hostnames of annotated HTTPRoutes (kubernetes source).")
	fs.StringVar(&o.domainMap, "domain-map", d.Declarative.DomainMapPath, "Domain map used for HTTPRoute hostnames (env DOMAIN_MAP_PATH).")
	fs.StringVar(&o.metricsAddr, "metrics-bind-address", d.MetricsBindAddress, "Address the metrics endpoint binds to. \"0\" disables it.")
	fs.StringVar(&o.probeAddr, "health-probe-bind-address", d.HealthProbeBindAddress, "Address the health probes bind to.")
	fs.IntVar(&o.maxConcurrent, "max-concurrent-reconciles", d.Declarative.MaxConcurrentReconciles, "Records reconciled concurrently in kubernetes mode.")
	fs.BoolVar(&o.verifyToken, "verify-token", false, "Verify the API token before starting.")
	fs.StringVar(&o.providerURL, "provider-url", "", "Override the Cloudflare API base URL.")
	fs.StringVar(&o.lookupURL, "lookup-url", "", "Override the public address lookup endpoint.")
	fs.IntVar(&o.requestTimeout, "request-timeout", 0, "Provider request timeout in seconds, 0 for none.")
}

// apply overlays flags the user set explicitly on top of cfg.
func (o *options) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("mode", func() { cfg.Mode = o.mode })
	set("dns", func() { cfg.Static.Hostnames = o.hostnames })
	set("token", func() { cfg.Provider.APIToken = o.token })
	set("zone", func() { cfg.Provider.ZoneID, cfg.Provider.ZoneName = o.zoneID, "" })
	set("zone-name", func() { cfg.Provider.ZoneName, cfg.Provider.ZoneID = o.zoneName, "" })
	set("interval", func() { cfg.Static.IntervalSeconds = o.interval })
	set("proxied", func() { cfg.Static.Proxied = o.proxied })
	set("record-type", func() { cfg.Static.RecordType = o.recordType })
	set("source", func() { cfg.Declarative.Source = o.source })
	set("records-file", func() { cfg.Declarative.RecordsFile = o.recordsFile })
	set("httproutes", func() { cfg.Declarative.HTTPRoutes = o.httpRoutes })
	set("domain-map", func() { cfg.Declarative.DomainMapPath = o.domainMap })
	set("metrics-bind-address", func() { cfg.MetricsBindAddress = o.metricsAddr })
	set("health-probe-bind-address", func() { cfg.HealthProbeBindAddress = o.probeAddr })
	set("max-concurrent-reconciles", func() { cfg.Declarative.MaxConcurrentReconciles = o.maxConcurrent })
	set("verify-token", func() { cfg.Provider.VerifyToken = o.verifyToken })
	set("provider-url", func() { cfg.Provider.BaseURL = o.providerURL })
	set("request-timeout", func() { cfg.Provider.TimeoutSeconds = o.requestTimeout })
	set("lookup-url", func() {
		cfg.Static.LookupURL = o.lookupURL
		cfg.Declarative.LookupURL = o.lookupURL
	})

	if !fs.Changed("domain-map") {
		if p := os.Getenv("DOMAIN_MAP_PATH"); p != "" {
			cfg.Declarative.DomainMapPath = p
		}
	}
}

func main() {
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)

	var o options
	bindFlags(pflag.CommandLine, &o)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := run(&o); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(o *options) error {
	log := ctrl.Log.WithName("setup")
	log.Info("starting yk-dns-sync", "version", Version)

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}
	o.apply(pflag.CommandLine, &cfg)
	cfg.ApplyEnv()

	if cfg.Provider.APIToken == "" {
		token, err := promptToken()
		if err != nil {
			return err
		}
		cfg.Provider.APIToken = token
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := ctrl.SetupSignalHandler()

	cfCfg, err := providerConfig(ctx, &cfg)
	if err != nil {
		return err
	}
	log.Info("loaded config", "mode", cfg.Mode, "zone", cfCfg.ZoneID)

	switch {
	case cfg.Mode == config.ModeStatic:
		return runStatic(ctx, &cfg, cfCfg, o.once)
	case cfg.Declarative.Source == config.SourceFile:
		return runFile(ctx, &cfg, cfCfg)
	default:
		return runKubernetes(ctx, &cfg, cfCfg)
	}
}

// providerConfig resolves the zone and optionally checks the token.
func providerConfig(ctx context.Context, cfg *config.Config) (cloudflare.Config, error) {
	log := ctrl.Log.WithName("setup")
	cfCfg := cloudflare.Config{
		BaseURL: cfg.Provider.BaseURL,
		Token:   cfg.Provider.APIToken,
		ZoneID:  cfg.Provider.ZoneID,
		Timeout: cfg.Provider.Timeout(),
	}

	if cfg.Provider.VerifyToken {
		if err := cloudflare.VerifyToken(ctx, cfCfg); err != nil {
			return cfCfg, fmt.Errorf("verifying API token: %w", err)
		}
		log.Info("API token verified")
	}

	if cfCfg.ZoneID == "" {
		id, err := cloudflare.ResolveZoneID(ctx, cfCfg, cfg.Provider.ZoneName)
		if err != nil {
			return cfCfg, fmt.Errorf("resolving zone %q: %w", cfg.Provider.ZoneName, err)
		}
		log.Info("resolved zone", "name", cfg.Provider.ZoneName, "id", id)
		cfCfg.ZoneID = id
	}
	return cfCfg, nil
}

// promptToken reads the API token from an interactive terminal without echo.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: missing api token and stdin is not a terminal", config.ErrInvalidConfig)
	}

	fmt.Fprint(os.Stderr, "Cloudflare API token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		// Some terminals refuse raw mode; fall back to a plain read.
		line, rerr := bufio.NewReader(os.Stdin).ReadString('\n')
		if rerr != nil {
			return "", fmt.Errorf("reading api token: %w", err)
		}
		b = []byte(line)
	}
	return strings.TrimSpace(string(b)), nil
}
