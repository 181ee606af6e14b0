package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDomainMap(t *testing.T) {
	content := "my-domain1.com: 10.0.8.100\nMy-Domain2.it.: auto\n"
	path := filepath.Join(t.TempDir(), "domain-map.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	dm, err := LoadDomainMap(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(dm.Domains()) != 2 {
		t.Fatalf("expected 2 domains, got %d", len(dm.Domains()))
	}
	if v, ok := dm.Lookup("svc.my-domain2.it"); !ok || v != Auto {
		t.Errorf("expected normalized key to resolve to %q, got %q ok=%v", Auto, v, ok)
	}
}

func TestLoadDomainMap_MissingFile(t *testing.T) {
	if _, err := LoadDomainMap("/nonexistent/domain-map.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLookup(t *testing.T) {
	dm := NewDomainMap(map[string]string{
		"my-domain1.com": "10.0.8.100",
		"my-domain2.it":  "auto",
	})

	tests := []struct {
		hostname string
		want     string
		wantOK   bool
	}{
		{"app.my-domain1.com", "10.0.8.100", true},
		{"deep.nested.my-domain1.com", "10.0.8.100", true},
		{"my-domain1.com", "10.0.8.100", true},
		{"service.my-domain2.it", Auto, true},
		{"app.my-domain1.com.", "10.0.8.100", true}, // trailing dot (FQDN)
		{"APP.My-Domain1.com", "10.0.8.100", true},
		{"unknown.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			got, ok := dm.Lookup(tt.hostname)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tt.hostname, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestLookupWildcard(t *testing.T) {
	dm := NewDomainMap(map[string]string{
		"*.mydomain.com":       "10.0.0.1",
		"app2.mydomain.com":    "10.0.0.2",
		"*.other.mydomain.com": "10.0.0.4",
	})

	tests := []struct {
		hostname string
		want     string
		wantOK   bool
	}{
		{"app1.mydomain.com", "10.0.0.1", true},
		{"app2.mydomain.com", "10.0.0.2", true}, // exact wins
		{"deep.nested.mydomain.com", "10.0.0.1", true},
		{"foo.other.mydomain.com", "10.0.0.4", true},
		{"mydomain.com", "", false}, // wildcard does not cover the bare domain
		{"other.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			got, ok := dm.Lookup(tt.hostname)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tt.hostname, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
