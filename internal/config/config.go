package config

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Auto as a DomainMap value means "use the observed public address".
const Auto = "auto"

// DomainMap maps base domains to record content for HTTPRoute hostnames.
type DomainMap struct {
	entries map[string]string
}

// LoadDomainMap reads a YAML file mapping domains to record content.
func LoadDomainMap(path string) (*DomainMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading domain map file: %w", err)
	}

	entries := make(map[string]string)
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing domain map file: %w", err)
	}

	return NewDomainMap(entries), nil
}

// NewDomainMap builds a DomainMap from domain → content entries.
func NewDomainMap(entries map[string]string) *DomainMap {
	normalized := make(map[string]string, len(entries))
	for d, v := range entries {
		normalized[strings.ToLower(strings.TrimSuffix(d, "."))] = strings.TrimSpace(v)
	}
	return &DomainMap{entries: normalized}
}

// Lookup finds the content for a hostname by matching against domain entries.
// It walks up the domain labels checking for exact matches and wildcard entries.
// Exact matches take priority over wildcards. For example, given:
//
//	"*.mydomain.com":    "auto"
//	"app2.mydomain.com": "10.0.0.2"
//
// "app1.mydomain.com" returns "auto" (wildcard match)
// "app2.mydomain.com" returns "10.0.0.2" (exact match wins)
func (dm *DomainMap) Lookup(hostname string) (string, bool) {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	for h := hostname; h != ""; {
		if v, ok := dm.entries[h]; ok {
			return v, true
		}
		idx := strings.Index(h, ".")
		if idx < 0 {
			break
		}
		if v, ok := dm.entries["*."+h[idx+1:]]; ok {
			return v, true
		}
		h = h[idx+1:]
	}
	return "", false
}

// Domains returns all configured base domains.
func (dm *DomainMap) Domains() []string {
	domains := make([]string, 0, len(dm.entries))
	for d := range dm.entries {
		domains = append(domains, d)
	}
	return domains
}
