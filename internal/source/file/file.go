// Package file provides a declarative record source backed by a YAML file
// that is watched for changes.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"go.yaml.in/yaml/v3"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/config"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/scheduler"
)

type fileRecord struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Content string `yaml:"content"`
	Proxied bool   `yaml:"proxied"`
}

// LoadRecords reads and validates a records file.
func LoadRecords(path string) ([]dns.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading records file: %w", err)
	}

	var entries []fileRecord
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing records file: %w", err)
	}

	records := make([]dns.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, dns.Record{
			Name:    dns.CanonicalName(e.Name),
			Type:    dns.CanonicalType(e.Type),
			Content: strings.TrimSpace(e.Content),
			Proxied: e.Proxied,
		})
	}
	if err := config.ValidateRecords(records); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", config.ErrInvalidConfig, path, err)
	}
	return records, nil
}

// Source implements scheduler.EventSource over a records file.
type Source struct {
	path    string
	log     logr.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	records map[dns.Key]dns.Record
	timers  map[dns.Key]*time.Timer
	queue   []scheduler.Event
	closed  bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New loads path, queues an Added event per record and starts watching the
// file's directory. An invalid file at startup is an error.
func New(path string, log logr.Logger) (*Source, error) {
	path = filepath.Clean(path)
	records, err := LoadRecords(path)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	// Watching the directory survives editors and ConfigMap mounts that
	// replace the file instead of writing to it.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	s := &Source{
		path:    path,
		log:     log.WithValues("file", path),
		watcher: watcher,
		records: make(map[dns.Key]dns.Record),
		timers:  make(map[dns.Key]*time.Timer),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.apply(records)

	s.wg.Add(1)
	go s.watch()
	return s, nil
}

// NextEvent returns the next queued event. It returns scheduler.ErrSourceClosed
// once Close has been called.
func (s *Source) NextEvent(ctx context.Context) (scheduler.Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return scheduler.Event{}, scheduler.ErrSourceClosed
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return scheduler.Event{}, ctx.Err()
		case <-s.done:
		case <-s.notify:
		}
	}
}

// Requeue re-delivers the current record for key after the delay. A later
// Requeue for the same key replaces the earlier one.
func (s *Source) Requeue(key dns.Key, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.records[key]; !ok {
		return
	}
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(after, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.timers, key)
		if r, ok := s.records[key]; ok && !s.closed {
			s.push(scheduler.Event{Kind: scheduler.Modified, Record: r})
		}
	})
}

// Close stops the watcher and every pending requeue.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for k, t := range s.timers {
			t.Stop()
			delete(s.timers, k)
		}
		s.mu.Unlock()

		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
	})
	return err
}

// debounce collapses the burst of events a single save produces.
const debounce = 100 * time.Millisecond

func (s *Source) watch() {
	defer s.wg.Done()

	settle := time.NewTimer(debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if s.relevant(ev) {
				settle.Reset(debounce)
			}
		case <-settle.C:
			s.reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error(err, "File watcher error")
		}
	}
}

func (s *Source) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	// Kubernetes ConfigMap volumes swap a "..data" symlink.
	return filepath.Clean(ev.Name) == s.path || strings.HasPrefix(name, "..")
}

func (s *Source) reload() {
	records, err := LoadRecords(s.path)
	if err != nil {
		s.log.Error(err, "Ignoring records file change, keeping previous records")
		return
	}
	s.apply(records)
}

// apply diffs records against the current set and queues the resulting events.
func (s *Source) apply(records []dns.Record) {
	next := make(map[dns.Key]dns.Record, len(records))
	for _, r := range records {
		next[r.Key()] = r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	var added, modified, deleted int
	for _, r := range records {
		k := r.Key()
		prev, ok := s.records[k]
		switch {
		case !ok:
			s.push(scheduler.Event{Kind: scheduler.Added, Record: r})
			added++
		case prev != r:
			s.push(scheduler.Event{Kind: scheduler.Modified, Record: r})
			modified++
		}
	}

	var gone []dns.Key
	for k := range s.records {
		if _, ok := next[k]; !ok {
			gone = append(gone, k)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].String() < gone[j].String() })
	for _, k := range gone {
		if t, ok := s.timers[k]; ok {
			t.Stop()
			delete(s.timers, k)
		}
		s.push(scheduler.Event{Kind: scheduler.Deleted, Record: s.records[k]})
		deleted++
	}

	s.records = next
	if added+modified+deleted > 0 {
		s.log.Info("Records file loaded", "added", added, "modified", modified, "deleted", deleted, "total", len(next))
	}
}

// push must be called with s.mu held.
func (s *Source) push(ev scheduler.Event) {
	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Records returns the currently loaded records sorted by key.
func (s *Source) Records() []dns.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dns.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}
