package main

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slack-go/slack"
)

// Entry is the durable unit of a scan: one subdomain and its liveness state.
type Entry struct {
	Name       string   `json:"name"`
	IPs        []string `json:"ips"`
	CNAME      string   `json:"cname"`
	HTTPStatus *int     `json:"http_status"`
	TLS        bool     `json:"tls"`
	Server     string   `json:"server"`
	LastProbe  string   `json:"last_probe,omitempty"`
}

// Event is one element of the search stream: either a stage marker or an
// incremental entry. Unset fields are omitted from the JSON encoding.
type Event struct {
	Stage       string `json:"stage,omitempty"`
	Type        string `json:"type,omitempty"`
	Domain      string `json:"domain,omitempty"`
	Count       *int   `json:"count,omitempty"`
	Resolver    string `json:"resolver,omitempty"`
	TotalUnique *int   `json:"total_unique,omitempty"`
	CachedAt    string `json:"cached_at,omitempty"`
	DurationMS  *int64 `json:"duration_ms,omitempty"`
	Error       string `json:"error,omitempty"`
	*Entry
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func nowISO() string {
	return time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Pipeline sequences collection, resolution and probing for one domain and
// streams results merged against the previously persisted snapshot. The stage
// functions are fields so tests can substitute them.
type Pipeline struct {
	cfg   Config
	store *Store

	collect    func(ctx context.Context, domain string) []string
	newBackend func() resolverBackend
	probe      func(ctx context.Context, record resolvedRecord) Entry
	notify     func(domain string, total int, duration time.Duration)
}

func newPipeline(cfg Config, store *Store) *Pipeline {
	collector := newCandidateCollector(cfg)
	prober := newProber(cfg, newNativeBackend(cfg))
	p := &Pipeline{
		cfg:     cfg,
		store:   store,
		collect: collector.collect,
		newBackend: func() resolverBackend {
			return selectResolverBackend(cfg)
		},
		probe: func(ctx context.Context, record resolvedRecord) Entry {
			return prober.probe(ctx, record.name, record.ips, record.cname, true)
		},
	}
	if cfg.SlackWebhook != "" {
		p.notify = slackNotifier(cfg.SlackWebhook)
	}
	return p
}

// Search runs one discovery pass and returns its event stream. The channel is
// bounded; a slow consumer applies backpressure to the producer, and the
// channel is closed after the terminal done or error event.
func (p *Pipeline) Search(ctx context.Context, domain string, refresh bool) <-chan Event {
	events := make(chan Event, 64)
	go p.run(ctx, domain, refresh, events)
	return events
}

func (p *Pipeline) run(ctx context.Context, domain string, refresh bool, events chan<- Event) {
	defer close(events)
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("search failed for %s: %v", domain, r)
			events <- Event{Stage: "error", Domain: domain, Error: fmt.Sprint(r)}
		}
	}()

	cached := map[string]Entry{}
	cachedList, cachedMeta, err := p.store.LoadSnapshot(domain)
	if err != nil {
		logger.Printf("snapshot load failed for %s: %v", domain, err)
	}
	if len(cachedList) > 0 {
		for _, entry := range cachedList {
			cached[entry.Name] = entry
		}
		events <- Event{Stage: "cache_hit", Domain: domain, Count: intPtr(len(cached))}
		for i := range cachedList {
			events <- Event{Type: "entry", Entry: &cachedList[i]}
		}
		if !refresh {
			done := Event{Stage: "done", Domain: domain, TotalUnique: intPtr(len(cached))}
			if cachedMeta != nil {
				done.TotalUnique = intPtr(cachedMeta.TotalUnique)
				done.CachedAt = cachedMeta.CachedAt
				done.DurationMS = int64Ptr(cachedMeta.DurationMS)
			}
			events <- done
			return
		}
	}

	events <- Event{Stage: "started", Domain: domain}
	runID, err := p.store.StartRun(domain)
	if err != nil {
		logger.Printf("failed to record scan run for %s: %v", domain, err)
	}
	started := time.Now()

	candidates := p.collect(ctx, domain)
	events <- Event{Stage: "crt_sh_found", Domain: domain, Count: intPtr(len(candidates))}

	backend := p.newBackend()
	events <- Event{Stage: "resolving", Domain: domain, Resolver: backend.Name(), Count: intPtr(len(candidates))}

	// A refresh re-verifies previously known names even when fresh sources
	// fail to reproduce them.
	seen := make(map[string]bool, len(candidates))
	for _, name := range candidates {
		seen[name] = true
	}
	for name := range cached {
		if !seen[name] {
			candidates = append(candidates, name)
		}
	}

	entries := make(map[string]Entry, len(cached))
	for name, entry := range cached {
		entries[name] = entry
	}
	persisted := false
	defer func() {
		// Best effort: a pass that dies mid-probe still persists whatever it
		// accumulated and closes out the run.
		if !persisted {
			if _, _, err := p.persist(domain, runID, entries, started); err != nil {
				logger.Printf("failed to persist incomplete scan for %s: %v", domain, err)
			}
		}
	}()

	for entry := range p.resolveAndProbe(ctx, backend, candidates) {
		entry := entry
		entries[entry.Name] = entry
		events <- Event{Type: "entry", Entry: &entry}
	}

	all, durationMS, err := p.persist(domain, runID, entries, started)
	if err != nil {
		logger.Printf("failed to persist scan for %s: %v", domain, err)
	}
	events <- Event{
		Stage:       "done",
		Domain:      domain,
		TotalUnique: intPtr(len(all)),
		CachedAt:    nowISO(),
		DurationMS:  int64Ptr(durationMS),
	}
	persisted = true

	if p.notify != nil {
		p.notify(domain, len(all), time.Since(started))
	}
}

// resolveAndProbe feeds resolved records to bounded probe workers and yields
// finalized entries in completion order.
func (p *Pipeline) resolveAndProbe(ctx context.Context, backend resolverBackend, candidates []string) <-chan Entry {
	results := make(chan Entry)
	go func() {
		defer close(results)
		concurrency := p.cfg.ProbeConcurrency
		if concurrency < 1 {
			concurrency = 1
		}
		var wg sync.WaitGroup
		sem := make(chan struct{}, concurrency)
		for record := range backend.Resolve(ctx, candidates) {
			if len(record.ips) == 0 && record.cname == "" {
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(record resolvedRecord) {
				defer wg.Done()
				defer func() { <-sem }()
				results <- p.safeProbe(ctx, record)
			}(record)
		}
		wg.Wait()
	}()
	return results
}

// safeProbe never lets a single host's probe take down the pass; on panic the
// caller receives a partial entry with the resolution data it already had.
func (p *Pipeline) safeProbe(ctx context.Context, record resolvedRecord) (entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			logger.Printf("probe failed for %s: %v", record.name, r)
			ips := record.ips
			if ips == nil {
				ips = []string{}
			}
			entry = Entry{Name: record.name, IPs: ips, CNAME: record.cname, LastProbe: nowISO()}
		}
	}()
	return p.probe(ctx, record)
}

// persist merges, sorts and stores the pass results, closing out the run.
func (p *Pipeline) persist(domain string, runID int64, entries map[string]Entry, started time.Time) ([]Entry, int64, error) {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	all := make([]Entry, 0, len(names))
	for _, name := range names {
		all = append(all, entries[name])
	}
	durationMS := time.Since(started).Milliseconds()
	if err := p.store.UpsertEntries(domain, all, runID); err != nil {
		return all, durationMS, err
	}
	if err := p.store.CompleteRun(runID, len(all), durationMS); err != nil {
		return all, durationMS, err
	}
	return all, durationMS, nil
}

// slackNotifier posts a short completion summary to a Slack webhook.
func slackNotifier(webhook string) func(domain string, total int, duration time.Duration) {
	return func(domain string, total int, duration time.Duration) {
		message := slack.WebhookMessage{
			Text: fmt.Sprintf("Scan of *%s* finished: %d subdomains in %s", domain, total, duration.Round(time.Second)),
		}
		if err := slack.PostWebhook(webhook, &message); err != nil {
			logger.Printf("slack notification failed: %v", err)
		}
	}
}
