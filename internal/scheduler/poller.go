// Package scheduler decides when records are reconciled: on a fixed poll
// interval driven by public address changes, or on events from a desired
// state source.
package scheduler

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/reconcile"
)

// BatchReconciler reconciles a list of records, isolating failures per record.
type BatchReconciler interface {
	ReconcileAll(ctx context.Context, desired []dns.Record) []reconcile.Result
}

// Poller keeps a static list of hostnames pointed at the current public
// address. It is not safe for concurrent use; Run owns it.
type Poller struct {
	Observer   reconcile.AddressObserver
	Reconciler BatchReconciler
	// Records are the desired records; Content is filled from the observer.
	Records  []dns.Record
	Interval time.Duration
	// RetryDelay is how long records that failed wait before they are tried
	// again at an unchanged address. Zero means reconcile.DefaultFailureDelay.
	RetryDelay time.Duration
	Log        logr.Logger
	// OnCycle, if set, is called after every pass that reached the provider.
	OnCycle func(results []reconcile.Result)

	// lastIP is the last observed address that was reconciled. The empty
	// string never equals an observed address.
	lastIP  string
	failed  []dns.Record
	retryAt time.Time
	now     func() time.Time
}

// Run polls until ctx is cancelled. Success and failure share the same delay.
func (p *Poller) Run(ctx context.Context) error {
	p.Log.Info("starting poll loop", "interval", p.Interval.String(), "records", len(p.Records))
	for {
		_, _ = p.Cycle(ctx)

		select {
		case <-ctx.Done():
			p.Log.Info("poll loop stopped")
			return nil
		case <-time.After(p.Interval):
		}
	}
}

// Cycle runs one iteration. A new address reconciles every record. At an
// unchanged address only records that failed earlier are retried, once their
// retry delay has passed; otherwise the provider is not contacted. It reports
// whether the provider was contacted.
func (p *Poller) Cycle(ctx context.Context) (bool, []reconcile.Result) {
	ip, err := p.Observer.Observe(ctx)
	if err != nil {
		p.Log.Error(err, "unable to observe public address")
		return false, nil
	}

	var pending []dns.Record
	switch {
	case ip != p.lastIP:
		p.Log.Info("public address changed", "previous", p.lastIP, "ip", ip)
		p.lastIP = ip
		pending = p.Records
	case len(p.failed) > 0 && !p.clock().Before(p.retryAt):
		p.Log.Info("retrying failed records", "ip", ip, "records", len(p.failed))
		pending = p.failed
	default:
		p.Log.V(1).Info("public address unchanged, skipping update", "ip", ip)
		return false, nil
	}

	desired := make([]dns.Record, len(pending))
	for i, r := range pending {
		r.Content = ip
		desired[i] = r
	}

	results := p.Reconciler.ReconcileAll(ctx, desired)
	var failed []dns.Record
	for i, res := range results {
		if res.Outcome == reconcile.Failed {
			failed = append(failed, pending[i])
		}
		p.Log.Info("reconciled", "name", res.Record.Name, "ip", ip, "outcome", res.Outcome.String())
	}
	p.failed = failed
	if len(failed) > 0 {
		delay := p.RetryDelay
		if delay <= 0 {
			delay = reconcile.DefaultFailureDelay
		}
		p.retryAt = p.clock().Add(delay)
		p.Log.Info("records failed, will retry", "failed", len(failed), "after", delay.String())
	}

	if p.OnCycle != nil {
		p.OnCycle(results)
	}
	return true, results
}

// LastIP returns the last observed address that was reconciled.
func (p *Poller) LastIP() string {
	return p.lastIP
}

// Pending returns the number of records waiting for a retry.
func (p *Poller) Pending() int {
	return len(p.failed)
}

func (p *Poller) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}
