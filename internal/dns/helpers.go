package dns

import (
	"strings"

	mdns "github.com/miekg/dns"
)

// CanonicalName lowercases a hostname and strips the trailing dot.
// e.g. "App.Example.com." → "app.example.com"
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(name), "."))
}

// CanonicalType uppercases a record type. An empty type means "A".
func CanonicalType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if t == "" {
		return "A"
	}
	return t
}

// ValidHostname reports whether name is a syntactically valid domain name
// with at least two labels.
func ValidHostname(name string) bool {
	name = CanonicalName(name)
	if name == "" {
		return false
	}
	labels, ok := mdns.IsDomainName(name)
	return ok && labels >= 2
}

// Match returns the first record in existing with the same (name, type) as
// desired. The order of existing carries no meaning.
func Match(desired Record, existing []Record) (Record, bool) {
	key := desired.Key()
	for _, r := range existing {
		if r.Key() == key {
			return r, true
		}
	}
	return Record{}, false
}

// NeedsUpdate reports whether the provider-side record differs from desired in
// one of the fields the engine owns. ID, Name and Type are read-only.
func NeedsUpdate(desired, current Record) bool {
	return desired.Content != current.Content || desired.Proxied != current.Proxied
}

// Duplicates returns the keys that appear more than once in records, in order
// of their second occurrence.
func Duplicates(records []Record) []Key {
	seen := make(map[Key]bool, len(records))
	var dups []Key
	for _, r := range records {
		k := r.Key()
		if seen[k] {
			dups = append(dups, k)
			continue
		}
		seen[k] = true
	}
	return dups
}
