// Package reconcile converges a single desired DNS record with the provider's
// current state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/keymutex"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
)

var (
	outcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "yk_dns_sync_reconcile_total",
		Help: "Total number of record reconciliations by outcome.",
	}, []string{"outcome"})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "yk_dns_sync_reconcile_duration_seconds",
		Help:    "Duration of single record reconciliations in seconds.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	metrics.Registry.MustRegister(outcomesTotal, reconcileDuration)
}

// Outcome is the result of reconciling one record.
type Outcome int

const (
	Created Outcome = iota
	Updated
	Unchanged
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "Created"
	case Updated:
		return "Updated"
	case Unchanged:
		return "Unchanged"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result carries the outcome of one pass. Record is the provider-side record
// after the pass (with its ID when known). Err is set only when Outcome is
// Failed.
type Result struct {
	Outcome Outcome
	Record  dns.Record
	Err     error
}

// ErrInvalidRecord is returned for desired records that cannot be sent to the
// provider.
var ErrInvalidRecord = errors.New("invalid desired record")

// AddressObserver reports the current public address.
type AddressObserver interface {
	Observe(ctx context.Context) (string, error)
}

// keyLockBuckets is the number of hashed mutexes guarding record keys.
const keyLockBuckets = 64

// Reconciler drives one desired record to the provider. Passes for the same
// (name, type) are serialized so that concurrent callers never both create
// the record. It is safe for concurrent use if its Provider is.
type Reconciler struct {
	Provider dns.Provider
	// Address fills in Content for desired records that leave it empty.
	// Optional.
	Address AddressObserver
	Log     logr.Logger

	locksOnce sync.Once
	locks     keymutex.KeyMutex
}

// New returns a Reconciler using provider.
func New(provider dns.Provider, log logr.Logger) *Reconciler {
	return &Reconciler{Provider: provider, Log: log}
}

// Reconcile lists the zone, matches desired by (name, type) and creates or
// updates the remote record when it is missing or differs. It never panics
// on provider failures; they are reported as a Failed result.
func (r *Reconciler) Reconcile(ctx context.Context, desired dns.Record) (res Result) {
	start := time.Now()
	desired = normalize(desired)
	log := r.Log.WithValues("name", desired.Name, "type", desired.Type)

	defer func() {
		reconcileDuration.Observe(time.Since(start).Seconds())
		outcomesTotal.WithLabelValues(res.Outcome.String()).Inc()
		switch res.Outcome {
		case Failed:
			log.Error(res.Err, "reconcile failed")
		case Unchanged:
			log.V(1).Info("record unchanged", "id", res.Record.ID, "content", res.Record.Content)
		default:
			log.Info("record reconciled", "outcome", res.Outcome.String(), "id", res.Record.ID, "content", res.Record.Content, "proxied", res.Record.Proxied)
		}
	}()

	if desired.Content == "" && r.Address != nil {
		addr, err := r.Address.Observe(ctx)
		if err != nil {
			return Result{Outcome: Failed, Record: desired, Err: fmt.Errorf("observing public address: %w", err)}
		}
		desired.Content = addr
	}
	if desired.Name == "" || desired.Content == "" {
		return Result{Outcome: Failed, Record: desired, Err: fmt.Errorf("%w: name and content are required", ErrInvalidRecord)}
	}

	unlock := r.lockKey(desired.Key())
	defer unlock()

	existing, err := r.Provider.List(ctx)
	if err != nil {
		return Result{Outcome: Failed, Record: desired, Err: fmt.Errorf("listing records: %w", err)}
	}

	current, found := dns.Match(desired, existing)
	if !found {
		created, err := r.Provider.Create(ctx, desired)
		if err != nil {
			return Result{Outcome: Failed, Record: desired, Err: fmt.Errorf("creating record %s: %w", desired.Key(), err)}
		}
		return Result{Outcome: Created, Record: created}
	}

	if !dns.NeedsUpdate(desired, current) {
		return Result{Outcome: Unchanged, Record: current}
	}

	log.V(1).Info("record drifted", "id", current.ID, "currentContent", current.Content, "currentProxied", current.Proxied)
	update := desired
	update.ID = current.ID
	updated, err := r.Provider.Update(ctx, update)
	if err != nil {
		return Result{Outcome: Failed, Record: update, Err: fmt.Errorf("updating record %s: %w", desired.Key(), err)}
	}
	return Result{Outcome: Updated, Record: updated}
}

// lockKey holds the mutex for key until the returned func is called.
func (r *Reconciler) lockKey(key dns.Key) func() {
	r.locksOnce.Do(func() {
		r.locks = keymutex.NewHashed(keyLockBuckets)
	})
	id := key.String()
	r.locks.LockKey(id)
	return func() {
		_ = r.locks.UnlockKey(id)
	}
}

// ReconcileAll reconciles each record in order. A failure for one record does
// not stop the others.
func (r *Reconciler) ReconcileAll(ctx context.Context, desired []dns.Record) []Result {
	results := make([]Result, 0, len(desired))
	for _, d := range desired {
		results = append(results, r.Reconcile(ctx, d))
	}
	return results
}

// AnyFailed reports whether at least one result is Failed.
func AnyFailed(results []Result) bool {
	for _, res := range results {
		if res.Outcome == Failed {
			return true
		}
	}
	return false
}

// normalize drops any locally supplied ID and canonicalizes name and type.
func normalize(r dns.Record) dns.Record {
	r.ID = ""
	r.Name = dns.CanonicalName(r.Name)
	r.Type = dns.CanonicalType(r.Type)
	return r
}
