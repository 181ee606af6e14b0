package controller

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	dnsv1 "github.com/yuriy-kovalchuk/yk-dns-sync/api/v1"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
)

const (
	kindDNSRecord = "DNSRecord"
	kindHTTPRoute = "HTTPRoute"
)

// claimant is one object declaring a record identity.
type claimant struct {
	kind      string
	namespace string
	name      string
	created   metav1.Time
}

func claimantOf(kind string, obj client.Object) claimant {
	return claimant{
		kind:      kind,
		namespace: obj.GetNamespace(),
		name:      obj.GetName(),
		created:   obj.GetCreationTimestamp(),
	}
}

func (c claimant) String() string {
	return c.kind + " " + c.namespace + "/" + c.name
}

func (c claimant) same(o claimant) bool {
	return c.kind == o.kind && c.namespace == o.namespace && c.name == o.name
}

// olderThan orders claimants by creation time, then kind, then
// namespace/name.
func (c claimant) olderThan(o claimant) bool {
	if !c.created.Equal(&o.created) {
		return c.created.Before(&o.created)
	}
	if c.kind != o.kind {
		return c.kind < o.kind
	}
	return c.namespace+"/"+c.name < o.namespace+"/"+o.name
}

// Claims decides which object owns a (name, type) when DNSRecords and
// HTTPRoutes declare the same record. The oldest declaring object wins.
// HTTPRoutes are only considered when DomainMap is set.
type Claims struct {
	Reader    client.Reader
	DomainMap *config.DomainMap
}

// OlderOwners returns, for each of keys declared by self, the older object
// that owns it. Keys self owns are absent from the result.
func (c *Claims) OlderOwners(ctx context.Context, self claimant, keys []dns.Key) (map[dns.Key]claimant, error) {
	wanted := make(map[dns.Key]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}
	owners := map[dns.Key]claimant{}
	consider := func(other claimant, key dns.Key) {
		if !wanted[key] || other.same(self) || !other.olderThan(self) {
			return
		}
		if cur, ok := owners[key]; !ok || other.olderThan(cur) {
			owners[key] = other
		}
	}

	var records dnsv1.DNSRecordList
	if err := c.Reader.List(ctx, &records); err != nil {
		return nil, fmt.Errorf("listing DNSRecords: %w", err)
	}
	for i := range records.Items {
		obj := &records.Items[i]
		if !obj.DeletionTimestamp.IsZero() {
			continue
		}
		consider(claimantOf(kindDNSRecord, obj), obj.Record().Key())
	}

	if c.DomainMap == nil {
		return owners, nil
	}

	var routes gatewayv1.HTTPRouteList
	if err := c.Reader.List(ctx, &routes); err != nil {
		return nil, fmt.Errorf("listing HTTPRoutes: %w", err)
	}
	for i := range routes.Items {
		route := &routes.Items[i]
		if !route.DeletionTimestamp.IsZero() || route.Annotations[managedAnnotation] != "true" {
			continue
		}
		other := claimantOf(kindHTTPRoute, route)
		for _, rec := range routeRecords(route, c.DomainMap, false, logr.Discard()) {
			consider(other, rec.Key())
		}
	}
	return owners, nil
}
