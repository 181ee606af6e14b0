package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/reconcile"
)

// EventKind is the kind of change a desired state source reports.
type EventKind int

const (
	Added EventKind = iota
	Modified
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a change to one desired record.
type Event struct {
	Kind   EventKind
	Record dns.Record
}

// ErrSourceClosed is returned by NextEvent once a source has shut down.
var ErrSourceClosed = errors.New("event source closed")

// EventSource delivers desired state changes and re-delivers a record after a
// requested delay.
type EventSource interface {
	// NextEvent blocks until an event is available, ctx is done or the
	// source is closed.
	NextEvent(ctx context.Context) (Event, error)
	// Requeue asks the source to deliver the record with the given key again
	// after the delay. Unknown or deleted keys are ignored.
	Requeue(key dns.Key, after time.Duration)
}

// ReconcileFunc runs one reconciliation pass for a record.
type ReconcileFunc func(ctx context.Context, record dns.Record) reconcile.Result

// Trigger feeds events from a source into per-record reconciliations. At most
// one pass per key runs at a time; events arriving meanwhile collapse into a
// single follow-up pass with the latest record.
type Trigger struct {
	Source    EventSource
	Reconcile ReconcileFunc
	Policy    reconcile.RequeuePolicy
	Log       logr.Logger

	mu      sync.Mutex
	workers map[dns.Key]*worker
	wg      sync.WaitGroup
}

type worker struct {
	pending *dns.Record
	deleted bool
}

// Run consumes events until ctx is done or the source closes. In-flight passes
// are allowed to finish before Run returns.
func (t *Trigger) Run(ctx context.Context) error {
	t.Log.Info("starting event trigger")
	defer t.wg.Wait()

	for {
		ev, err := t.Source.NextEvent(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				t.Log.Info("event trigger stopped")
				return nil
			}
			return fmt.Errorf("reading next event: %w", err)
		}
		t.dispatch(ctx, ev)
	}
}

// InFlight returns the number of keys with a running pass.
func (t *Trigger) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers)
}

func (t *Trigger) dispatch(ctx context.Context, ev Event) {
	key := ev.Record.Key()
	log := t.Log.WithValues("record", key.String(), "event", ev.Kind.String())

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.workers == nil {
		t.workers = make(map[dns.Key]*worker)
	}

	w, busy := t.workers[key]
	if ev.Kind == Deleted {
		log.Info("record removed from desired state")
		if busy {
			w.pending = nil
			w.deleted = true
		}
		return
	}
	if busy {
		log.V(1).Info("reconcile already running, coalescing")
		rec := ev.Record
		w.pending = &rec
		w.deleted = false
		return
	}

	t.workers[key] = &worker{}
	t.wg.Add(1)
	go t.work(ctx, key, ev.Record)
}

// work runs passes for key until no follow-up is pending, then re-arms the
// source. Passes use a context that is not cancelled with ctx.
func (t *Trigger) work(ctx context.Context, key dns.Key, rec dns.Record) {
	defer t.wg.Done()
	passCtx := context.WithoutCancel(ctx)

	for {
		res := t.Reconcile(passCtx, rec)

		t.mu.Lock()
		w := t.workers[key]
		if w.pending != nil && ctx.Err() == nil {
			rec = *w.pending
			w.pending = nil
			t.mu.Unlock()
			continue
		}
		deleted := w.deleted
		delete(t.workers, key)
		t.mu.Unlock()

		if deleted || ctx.Err() != nil {
			return
		}
		after := t.Policy.After(res.Outcome)
		t.Log.V(1).Info("requeue scheduled", "record", key.String(), "outcome", res.Outcome.String(), "after", after.String())
		t.Source.Requeue(key, after)
		return
	}
}
