package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns/fake"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/reconcile"
)

// sequenceObserver returns the configured answers in order, repeating the last.
type sequenceObserver struct {
	mu      sync.Mutex
	answers []string
	errs    []error
	calls   int
}

func (s *sequenceObserver) Observe(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	return s.answers[i], nil
}

func newTestPoller(prov *fake.Provider, obs reconcile.AddressObserver) *Poller {
	return &Poller{
		Observer:   obs,
		Reconciler: reconcile.New(prov, logr.Discard()),
		Records: []dns.Record{
			{Name: "a.example.com", Type: "A", Proxied: true},
			{Name: "b.example.com", Type: "A", Proxied: true},
		},
		Interval: time.Millisecond,
		Log:      logr.Discard(),
	}
}

func TestPoller_UnchangedAddressSkipsProvider(t *testing.T) {
	prov := fake.New()
	p := newTestPoller(prov, &sequenceObserver{answers: []string{"1.2.3.4"}})

	ran, results := p.Cycle(context.Background())
	if !ran {
		t.Fatal("expected first cycle to reach the provider")
	}
	for _, res := range results {
		if res.Outcome != reconcile.Created {
			t.Errorf("expected Created, got %v for %s", res.Outcome, res.Record.Name)
		}
	}
	lists, creates, updates := prov.Calls()

	ran, _ = p.Cycle(context.Background())
	if ran {
		t.Fatal("expected second cycle to be skipped")
	}
	l2, c2, u2 := prov.Calls()
	if l2 != lists || c2 != creates || u2 != updates {
		t.Errorf("expected zero provider calls on unchanged address, got lists %d->%d creates %d->%d updates %d->%d",
			lists, l2, creates, c2, updates, u2)
	}
	if p.LastIP() != "1.2.3.4" {
		t.Errorf("expected last IP 1.2.3.4, got %q", p.LastIP())
	}
}

func TestPoller_ChangedAddressUpdates(t *testing.T) {
	prov := fake.New()
	p := newTestPoller(prov, &sequenceObserver{answers: []string{"1.2.3.4", "5.6.7.8"}})

	p.Cycle(context.Background())
	ran, results := p.Cycle(context.Background())
	if !ran {
		t.Fatal("expected cycle after address change to reach the provider")
	}
	for _, res := range results {
		if res.Outcome != reconcile.Updated {
			t.Errorf("expected Updated, got %v", res.Outcome)
		}
	}
	for _, rec := range prov.Records() {
		if rec.Content != "5.6.7.8" {
			t.Errorf("expected %s to point at 5.6.7.8, got %s", rec.Name, rec.Content)
		}
	}
}

func TestPoller_ObserverFailure(t *testing.T) {
	prov := fake.New()
	obs := &sequenceObserver{
		answers: []string{"", "1.2.3.4"},
		errs:    []error{&dns.ProviderError{Op: "lookup", Kind: dns.ErrNetwork}},
	}
	p := newTestPoller(prov, obs)

	if ran, _ := p.Cycle(context.Background()); ran {
		t.Fatal("expected no provider contact when the observer fails")
	}
	if lists, _, _ := prov.Calls(); lists != 0 {
		t.Errorf("expected 0 list calls, got %d", lists)
	}
	if ran, _ := p.Cycle(context.Background()); !ran {
		t.Fatal("expected the next cycle to retry")
	}
}

func TestPoller_FailureRetriesOnlyFailedRecords(t *testing.T) {
	// b already points at the address; a cannot be created.
	prov := fake.New(dns.Record{ID: "r-b", Name: "b.example.com", Type: "A", Content: "1.2.3.4", Proxied: true})
	prov.CreateErr = errors.New("boom")
	p := newTestPoller(prov, &sequenceObserver{answers: []string{"1.2.3.4"}})
	p.RetryDelay = time.Minute
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	ran, results := p.Cycle(context.Background())
	if !ran || !reconcile.AnyFailed(results) {
		t.Fatalf("expected a failed pass, got ran=%v results=%+v", ran, results)
	}
	if p.LastIP() != "1.2.3.4" {
		t.Errorf("expected last IP to track the observed address, got %q", p.LastIP())
	}
	if p.Pending() != 1 {
		t.Errorf("expected 1 record pending retry, got %d", p.Pending())
	}

	// Before the retry delay the provider is left alone.
	lists, _, _ := prov.Calls()
	now = now.Add(30 * time.Second)
	if ran, _ := p.Cycle(context.Background()); ran {
		t.Fatal("expected no provider contact before the retry delay")
	}
	if l, _, _ := prov.Calls(); l != lists {
		t.Errorf("expected zero provider calls, got %d lists", l-lists)
	}

	// After the delay only the failed record is retried.
	prov.CreateErr = nil
	now = now.Add(time.Minute)
	ran, results = p.Cycle(context.Background())
	if !ran {
		t.Fatal("expected a retry after the delay")
	}
	if len(results) != 1 || results[0].Record.Name != "a.example.com" || results[0].Outcome != reconcile.Created {
		t.Fatalf("expected only a.example.com to be retried and created, got %+v", results)
	}
	if p.Pending() != 0 {
		t.Errorf("expected nothing pending, got %d", p.Pending())
	}

	if ran, _ := p.Cycle(context.Background()); ran {
		t.Error("expected no provider contact once every record converged")
	}
}

func TestPoller_AddressChangeReconcilesEverything(t *testing.T) {
	prov := fake.New()
	prov.CreateErr = errors.New("boom")
	p := newTestPoller(prov, &sequenceObserver{answers: []string{"1.2.3.4", "5.6.7.8"}})
	p.RetryDelay = time.Hour

	p.Cycle(context.Background())
	prov.CreateErr = nil
	ran, results := p.Cycle(context.Background())
	if !ran || len(results) != 2 {
		t.Fatalf("expected both records reconciled at the new address, got ran=%v results=%+v", ran, results)
	}
	if reconcile.AnyFailed(results) {
		t.Errorf("expected success, got %+v", results)
	}
}

func TestPoller_OnCycle(t *testing.T) {
	prov := fake.New()
	p := newTestPoller(prov, &sequenceObserver{answers: []string{"1.2.3.4"}})
	calls := 0
	p.OnCycle = func(results []reconcile.Result) {
		calls++
		if len(results) != 2 {
			t.Errorf("expected 2 results, got %d", len(results))
		}
	}
	p.Cycle(context.Background())
	p.Cycle(context.Background())
	if calls != 1 {
		t.Errorf("expected OnCycle once, got %d", calls)
	}
}

func TestPoller_RunStopsOnCancel(t *testing.T) {
	prov := fake.New()
	p := newTestPoller(prov, &sequenceObserver{answers: []string{"1.2.3.4"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, creates, _ := prov.Calls(); creates != 2 {
		t.Errorf("expected 2 creates across all cycles, got %d", creates)
	}
}
