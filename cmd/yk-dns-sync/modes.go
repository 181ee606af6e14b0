package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	dnsv1 "github.com/yuriy-kovalchuk/yk-dns-sync/api/v1"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/controller"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns/cloudflare"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/publicip"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/reconcile"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/scheduler"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/server"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/source/file"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(gatewayv1.Install(scheme))
	utilruntime.Must(dnsv1.AddToScheme(scheme))
}

func newEngine(cfCfg cloudflare.Config, lookupURL string) (*reconcile.Reconciler, *publicip.Observer, error) {
	provider, err := cloudflare.New(ctrl.Log.WithName("cloudflare"), cfCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create DNS provider: %w", err)
	}
	observer := publicip.New(lookupURL, &http.Client{Timeout: 10 * time.Second})

	engine := reconcile.New(provider, ctrl.Log.WithName("reconcile"))
	engine.Address = observer
	return engine, observer, nil
}

func runStatic(ctx context.Context, cfg *config.Config, cfCfg cloudflare.Config, once bool) error {
	engine, observer, err := newEngine(cfCfg, cfg.Static.LookupURL)
	if err != nil {
		return err
	}

	srv := server.New(cfg.MetricsBindAddress, ctrl.Log.WithName("server"))
	poller := &scheduler.Poller{
		Observer:   observer,
		Reconciler: engine,
		Records:    cfg.Static.Records(),
		Interval:   cfg.Static.Interval(),
		Log:        ctrl.Log.WithName("poller"),
		OnCycle:    func([]reconcile.Result) { srv.MarkReady() },
	}

	if once {
		contacted, results := poller.Cycle(ctx)
		if !contacted {
			return fmt.Errorf("public address lookup failed")
		}
		if reconcile.AnyFailed(results) {
			return fmt.Errorf("%d of %d records failed", countFailed(results), len(results))
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return poller.Run(ctx) })
	return g.Wait()
}

func runFile(ctx context.Context, cfg *config.Config, cfCfg cloudflare.Config) error {
	engine, _, err := newEngine(cfCfg, cfg.Declarative.LookupURL)
	if err != nil {
		return err
	}

	src, err := file.New(cfg.Declarative.RecordsFile, ctrl.Log.WithName("records-file"))
	if err != nil {
		return fmt.Errorf("unable to load records file: %w", err)
	}
	defer src.Close()

	srv := server.New(cfg.MetricsBindAddress, ctrl.Log.WithName("server"))
	trigger := &scheduler.Trigger{
		Source:    src,
		Reconcile: engine.Reconcile,
		Policy:    cfg.Declarative.RequeuePolicy(),
		Log:       ctrl.Log.WithName("trigger"),
	}
	srv.MarkReady()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return trigger.Run(ctx) })
	return g.Wait()
}

func runKubernetes(ctx context.Context, cfg *config.Config, cfCfg cloudflare.Config) error {
	log := ctrl.Log.WithName("setup")

	engine, _, err := newEngine(cfCfg, cfg.Declarative.LookupURL)
	if err != nil {
		return err
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: cfg.MetricsBindAddress},
		HealthProbeBindAddress: cfg.HealthProbeBindAddress,
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to set up ready check: %w", err)
	}

	policy := cfg.Declarative.RequeuePolicy()
	claims := &controller.Claims{Reader: mgr.GetClient()}
	if cfg.Declarative.HTTPRoutes {
		domainMap, err := config.LoadDomainMap(cfg.Declarative.DomainMapPath)
		if err != nil {
			return fmt.Errorf("unable to load domain map: %w", err)
		}
		log.Info("loaded domain map", "path", cfg.Declarative.DomainMapPath)
		claims.DomainMap = domainMap

		routes := &controller.HTTPRouteReconciler{
			Client:                  mgr.GetClient(),
			Log:                     ctrl.Log.WithName("httproute-controller"),
			DomainMap:               domainMap,
			Engine:                  engine,
			Policy:                  policy,
			DefaultProxied:          cfg.Declarative.DefaultProxied,
			Claims:                  claims,
			MaxConcurrentReconciles: cfg.Declarative.MaxConcurrentReconciles,
		}
		if err := routes.SetupWithManager(mgr); err != nil {
			return fmt.Errorf("unable to set up HTTPRoute controller: %w", err)
		}
	}

	records := &controller.DNSRecordReconciler{
		Client:                  mgr.GetClient(),
		Log:                     ctrl.Log.WithName("dnsrecord-controller"),
		Engine:                  engine,
		Policy:                  policy,
		Claims:                  claims,
		MaxConcurrentReconciles: cfg.Declarative.MaxConcurrentReconciles,
	}
	if err := records.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("unable to set up DNSRecord controller: %w", err)
	}

	log.Info("starting manager")
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("manager exited with error: %w", err)
	}
	return nil
}

func countFailed(results []reconcile.Result) int {
	n := 0
	for _, r := range results {
		if r.Outcome == reconcile.Failed {
			n++
		}
	}
	return n
}
