package dns

import (
	"context"
	"fmt"
)

// Record is a DNS record as the provider stores it. ID is provider state:
// it is only ever copied from a record returned by List.
type Record struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`    // "A", "AAAA"
	Name    string `json:"name"`    // FQDN, e.g. "app.example.com"
	Content string `json:"content"` // IP address
	Proxied bool   `json:"proxied"`
}

// Key returns the identity of the logical record.
func (r Record) Key() Key {
	return Key{Name: CanonicalName(r.Name), Type: CanonicalType(r.Type)}
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s %s (proxied=%t)", r.Name, r.Type, r.Content, r.Proxied)
}

// Key uniquely identifies a managed record by name and type.
type Key struct {
	Name string
	Type string
}

func (k Key) String() string {
	return k.Name + "/" + k.Type
}

// Provider is the interface the reconciler needs from a DNS provider.
// Implementations must be safe for concurrent use.
type Provider interface {
	List(ctx context.Context) ([]Record, error)
	Create(ctx context.Context, record Record) (Record, error)
	Update(ctx context.Context, record Record) (Record, error)
}
