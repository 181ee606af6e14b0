// Package fake provides an in-memory dns.Provider for tests.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
)

// Provider is an in-memory DNS provider that counts calls. The Err fields
// make the matching operation fail.
type Provider struct {
	mu      sync.Mutex
	records []dns.Record
	nextID  int

	ListErr   error
	CreateErr error
	UpdateErr error

	// ListHook, when set, runs at the start of every List call outside the
	// lock. Tests use it to block or observe concurrency.
	ListHook func()

	Lists   int
	Creates []dns.Record
	Updates []dns.Record
}

// New returns a Provider pre-loaded with records.
func New(records ...dns.Record) *Provider {
	p := &Provider{}
	p.records = append(p.records, records...)
	return p
}

func (p *Provider) List(_ context.Context) ([]dns.Record, error) {
	if p.ListHook != nil {
		p.ListHook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Lists++
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	out := make([]dns.Record, len(p.records))
	copy(out, p.records)
	return out, nil
}

func (p *Provider) Create(_ context.Context, record dns.Record) (dns.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Creates = append(p.Creates, record)
	if p.CreateErr != nil {
		return dns.Record{}, p.CreateErr
	}
	p.nextID++
	record.ID = fmt.Sprintf("rec-%d", p.nextID)
	p.records = append(p.records, record)
	return record, nil
}

func (p *Provider) Update(_ context.Context, record dns.Record) (dns.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Updates = append(p.Updates, record)
	if p.UpdateErr != nil {
		return dns.Record{}, p.UpdateErr
	}
	for i := range p.records {
		if p.records[i].ID == record.ID {
			p.records[i] = record
			return record, nil
		}
	}
	return dns.Record{}, &dns.ProviderError{Op: "update", Kind: dns.ErrRejected, StatusCode: 404, Messages: []string{"record not found"}}
}

// Records returns a copy of the stored records.
func (p *Provider) Records() []dns.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]dns.Record, len(p.records))
	copy(out, p.records)
	return out
}

// Calls returns the number of List, Create and Update calls so far.
func (p *Provider) Calls() (lists, creates, updates int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Lists, len(p.Creates), len(p.Updates)
}

// Writes returns the number of Create and Update calls so far.
func (p *Provider) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Creates) + len(p.Updates)
}
