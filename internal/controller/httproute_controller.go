package controller

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/reconcile"
)

const (
	managedAnnotation = "dns.yk/managed"
	proxiedAnnotation = "dns.yk/proxied"
)

// HTTPRouteReconciler publishes the hostnames of annotated HTTPRoutes.
type HTTPRouteReconciler struct {
	client.Client
	Log            logr.Logger
	DomainMap      *config.DomainMap
	Engine         *reconcile.Reconciler
	Policy         reconcile.RequeuePolicy
	DefaultProxied bool
	// Claims resolves identities shared with other objects. When nil a
	// Claims over this reconciler's client and DomainMap is used.
	Claims *Claims

	MaxConcurrentReconciles int
}

func (r *HTTPRouteReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	var route gatewayv1.HTTPRoute
	if err := r.Get(ctx, req.NamespacedName, &route); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	if !route.DeletionTimestamp.IsZero() || route.Annotations[managedAnnotation] != "true" {
		return ctrl.Result{}, nil
	}

	records := r.desiredRecords(&route)
	if len(records) == 0 {
		r.Log.V(1).Info("no mapped hostnames on HTTPRoute", "name", req.NamespacedName)
		return ctrl.Result{}, nil
	}

	keys := make([]dns.Key, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.Key())
	}
	owners, err := r.claims().OlderOwners(ctx, claimantOf(kindHTTPRoute, &route), keys)
	if err != nil {
		return ctrl.Result{}, err
	}

	results := make([]reconcile.Result, 0, len(records))
	for _, rec := range records {
		if owner, ok := owners[rec.Key()]; ok {
			r.Log.Info("hostname already claimed by another object", "name", req.NamespacedName, "record", rec.Key().String(), "owner", owner.String())
			results = append(results, reconcile.Result{
				Outcome: reconcile.Failed,
				Record:  rec,
				Err:     fmt.Errorf("ConfigurationError: record %s is already managed by %s", rec.Key(), owner),
			})
			continue
		}
		results = append(results, r.Engine.Reconcile(ctx, rec))
	}
	outcome := reconcile.Summarize(results)
	r.Log.Info("reconciled HTTPRoute hostnames", "name", req.NamespacedName, "hostnames", len(records), "outcome", outcome.String())

	return ctrl.Result{RequeueAfter: r.Policy.After(outcome)}, nil
}

func (r *HTTPRouteReconciler) claims() *Claims {
	if r.Claims != nil {
		return r.Claims
	}
	return &Claims{Reader: r.Client, DomainMap: r.DomainMap}
}

func (r *HTTPRouteReconciler) desiredRecords(route *gatewayv1.HTTPRoute) []dns.Record {
	return routeRecords(route, r.DomainMap, r.DefaultProxied, r.Log)
}

// routeRecords maps each route hostname through the DomainMap. Hostnames
// without a mapping are skipped. An "auto" mapping leaves Content empty so the
// engine fills in the public address.
func routeRecords(route *gatewayv1.HTTPRoute, domainMap *config.DomainMap, defaultProxied bool, log logr.Logger) []dns.Record {
	proxied := defaultProxied
	if v, ok := route.Annotations[proxiedAnnotation]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Info("ignoring invalid proxied annotation", "route", route.Namespace+"/"+route.Name, "value", v)
		} else {
			proxied = b
		}
	}

	records := make([]dns.Record, 0, len(route.Spec.Hostnames))
	for _, h := range route.Spec.Hostnames {
		hostname := string(h)
		content, ok := domainMap.Lookup(hostname)
		if !ok {
			log.V(1).Info("no domain mapping found for hostname", "hostname", hostname)
			continue
		}

		rec := dns.Record{Name: hostname, Type: "A", Proxied: proxied}
		if content != config.Auto {
			addr, err := netip.ParseAddr(content)
			if err != nil {
				log.Info("domain mapping is not an IP address, skipping", "hostname", hostname, "content", content)
				continue
			}
			if addr.Is6() && !addr.Is4In6() {
				rec.Type = "AAAA"
			}
			rec.Content = addr.String()
		}
		records = append(records, rec)
	}
	return records
}

func (r *HTTPRouteReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&gatewayv1.HTTPRoute{}, builder.WithPredicates(predicate.Or[client.Object](
			predicate.GenerationChangedPredicate{},
			predicate.AnnotationChangedPredicate{},
		))).
		WithOptions(controller.Options{MaxConcurrentReconciles: r.MaxConcurrentReconciles}).
		Complete(r)
}
