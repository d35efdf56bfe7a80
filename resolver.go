package main

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// resolvedRecord is one candidate's DNS answer. At least one of ips/cname is
// non-empty; records with neither are dropped before probing.
type resolvedRecord struct {
	name  string
	ips   []string
	cname string
}

// resolverBackend turns candidate hostnames into address/CNAME records,
// yielding them in completion order.
type resolverBackend interface {
	Name() string
	Resolve(ctx context.Context, candidates []string) <-chan resolvedRecord
}

// selectResolverBackend picks massdns when a binary is available, otherwise
// the concurrent per-host backend. The choice is made once per pipeline pass.
func selectResolverBackend(cfg Config) resolverBackend {
	native := newNativeBackend(cfg)
	if bin := cfg.massdnsPath(); bin != "" {
		return &massdnsBackend{
			bin:           bin,
			resolversFile: cfg.MassdnsResolversFile,
			batchSize:     cfg.MassdnsBatchSize,
			fallback:      native,
		}
	}
	return native
}

// nativeBackend resolves candidates one host at a time with bounded
// concurrency, querying A, AAAA and CNAME against the configured resolvers.
type nativeBackend struct {
	client      *dns.Client
	servers     []string
	concurrency int
}

func newNativeBackend(cfg Config) *nativeBackend {
	servers := normalizeDNSServers(cfg.DNSServers)
	if len(servers) == 0 {
		servers = systemDNSServers()
	}
	if len(servers) == 0 {
		servers = []string{"8.8.8.8:53"}
	}
	concurrency := cfg.ResolverConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &nativeBackend{
		client:      &dns.Client{Timeout: 5 * time.Second},
		servers:     servers,
		concurrency: concurrency,
	}
}

func (b *nativeBackend) Name() string {
	return "native"
}

func (b *nativeBackend) Resolve(ctx context.Context, candidates []string) <-chan resolvedRecord {
	out := make(chan resolvedRecord)
	go func() {
		defer close(out)
		var wg sync.WaitGroup
		sem := make(chan struct{}, b.concurrency)
		for _, candidate := range candidates {
			name := normalizeHostname(candidate)
			if name == "" {
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(name string) {
				defer wg.Done()
				defer func() { <-sem }()
				if record, ok := b.lookup(ctx, name); ok {
					out <- record
				}
			}(name)
		}
		wg.Wait()
	}()
	return out
}

// lookup queries A, AAAA and CNAME for one host. Per-record-type failures do
// not fail the candidate; a host with no addresses and no CNAME reports ok ==
// false and is dropped.
func (b *nativeBackend) lookup(ctx context.Context, name string) (resolvedRecord, bool) {
	var ips []string
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		ips = append(ips, b.query(ctx, name, qtype)...)
	}
	var cname string
	if targets := b.query(ctx, name, dns.TypeCNAME); len(targets) > 0 {
		cname = strings.ToLower(targets[0])
	}
	if len(ips) == 0 && cname == "" {
		return resolvedRecord{}, false
	}
	return resolvedRecord{name: name, ips: uniqueStrings(ips), cname: cname}, true
}

func (b *nativeBackend) query(ctx context.Context, name string, qtype uint16) []string {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	response, _, err := b.client.ExchangeContext(ctx, msg, b.servers[0])
	if err != nil || response == nil {
		return nil
	}
	var values []string
	for _, answer := range response.Answer {
		switch record := answer.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				values = append(values, record.A.String())
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				values = append(values, record.AAAA.String())
			}
		case *dns.CNAME:
			if qtype == dns.TypeCNAME {
				values = append(values, strings.TrimSuffix(record.Target, "."))
			}
		}
	}
	return values
}

// massdnsBackend shells out to a massdns binary in fixed-size batches, one
// fully-qualified hostname per stdin line, reading its simple-text output.
type massdnsBackend struct {
	bin           string
	resolversFile string
	batchSize     int
	fallback      *nativeBackend
}

func (m *massdnsBackend) Name() string {
	return "massdns"
}

func (m *massdnsBackend) Resolve(ctx context.Context, candidates []string) <-chan resolvedRecord {
	out := make(chan resolvedRecord)
	go func() {
		defer close(out)
		batches := chunkStrings(candidates, m.batchSize)
		for i, batch := range batches {
			records, err := m.runBatch(ctx, batch)
			if err != nil {
				var execErr *exec.Error
				if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
					// Binary vanished between the capability probe and
					// invocation; per-host resolution covers the rest.
					logger.Printf("massdns binary missing, falling back to per-host resolution")
					remaining := candidates[i*m.effectiveBatchSize():]
					for record := range m.fallback.Resolve(ctx, remaining) {
						out <- record
					}
					return
				}
				logger.Printf("massdns batch failed: %v", err)
				continue
			}
			for _, record := range records {
				out <- record
			}
		}
	}()
	return out
}

func (m *massdnsBackend) effectiveBatchSize() int {
	if m.batchSize <= 0 {
		return 1
	}
	return m.batchSize
}

func (m *massdnsBackend) runBatch(ctx context.Context, batch []string) ([]resolvedRecord, error) {
	cmd := exec.CommandContext(ctx, m.bin, "-r", m.resolversFile, "-o", "S", "-w", "-")
	var input strings.Builder
	for _, name := range batch {
		input.WriteString(name)
		input.WriteString(".\n")
	}
	cmd.Stdin = strings.NewReader(input.String())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, errors.New("massdns exited with " + exitErr.String() + ": " + strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	parsed := parseBatchOutput(stdout.String())
	records := make([]resolvedRecord, 0, len(parsed))
	for _, record := range parsed {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].name < records[j].name })
	return records, nil
}

// parseBatchOutput reads massdns simple-text lines of the form
// "<name>. <TYPE> <value>.". A/AAAA lines contribute addresses, CNAME lines
// set (and overwrite) the canonical name.
func parseBatchOutput(output string) map[string]resolvedRecord {
	type accumulator struct {
		ips   map[string]bool
		cname string
	}
	acc := map[string]*accumulator{}
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Fields(strings.TrimSpace(line))
		if len(parts) < 3 {
			continue
		}
		name := strings.ToLower(strings.TrimSuffix(parts[0], "."))
		recordType := strings.ToUpper(parts[1])
		value := strings.TrimSuffix(parts[2], ".")
		entry, ok := acc[name]
		if !ok {
			entry = &accumulator{ips: map[string]bool{}}
			acc[name] = entry
		}
		switch recordType {
		case "A", "AAAA":
			entry.ips[value] = true
		case "CNAME":
			entry.cname = strings.ToLower(value)
		}
	}
	records := make(map[string]resolvedRecord, len(acc))
	for name, entry := range acc {
		ips := make([]string, 0, len(entry.ips))
		for ip := range entry.ips {
			ips = append(ips, ip)
		}
		sort.Strings(ips)
		records[name] = resolvedRecord{name: name, ips: ips, cname: entry.cname}
	}
	return records
}

func normalizeDNSServers(servers []string) []string {
	var resolved []string
	seen := map[string]bool{}
	for _, server := range servers {
		value := strings.TrimSpace(server)
		if value == "" {
			continue
		}
		if !strings.Contains(value, ":") {
			value = net.JoinHostPort(value, "53")
		}
		if seen[value] {
			continue
		}
		seen[value] = true
		resolved = append(resolved, value)
	}
	return resolved
}

func systemDNSServers() []string {
	var servers []string
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, server := range conf.Servers {
			servers = append(servers, net.JoinHostPort(server, conf.Port))
		}
	}
	return servers
}
