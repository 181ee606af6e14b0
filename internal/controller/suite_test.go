package controller

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	gatewayv1 "sigs.k8s.io/gateway-api/apis/v1"

	dnsv1 "github.com/yuriy-kovalchuk/yk-dns-sync/api/v1"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/reconcile"
)

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := gatewayv1.Install(scheme); err != nil {
		t.Fatalf("failed to install gateway-api scheme: %v", err)
	}
	if err := dnsv1.AddToScheme(scheme); err != nil {
		t.Fatalf("failed to install DNSRecord scheme: %v", err)
	}
	return scheme
}

// staticObserver reports a fixed public address.
type staticObserver struct {
	addr  string
	calls int
}

func (s *staticObserver) Observe(context.Context) (string, error) {
	s.calls++
	return s.addr, nil
}

func newEngine(p dns.Provider, obs reconcile.AddressObserver) *reconcile.Reconciler {
	e := reconcile.New(p, zap.New(zap.UseDevMode(true)))
	e.Address = obs
	return e
}

func newTestDomainMap(t *testing.T) *config.DomainMap {
	t.Helper()
	content := "my-domain1.com: 10.0.8.100\nmy-domain2.it: auto\nv6.example.org: 2001:db8::10\n"
	path := filepath.Join(t.TempDir(), "domain-map.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	dm, err := config.LoadDomainMap(path)
	if err != nil {
		t.Fatal(err)
	}
	return dm
}

func request(namespace, name string) ctrl.Request {
	return ctrl.Request{NamespacedName: types.NamespacedName{Namespace: namespace, Name: name}}
}
