package main

import (
	"context"
	"reflect"
	"testing"
)

func TestParseBatchOutput(t *testing.T) {
	output := "x.example.com. A 1.2.3.4\n" +
		"x.example.com. AAAA ::1\n" +
		"y.example.com. CNAME z.example.net.\n" +
		"garbage\n" +
		"\n"
	records := parseBatchOutput(output)

	x, ok := records["x.example.com"]
	if !ok {
		t.Fatal("missing record for x.example.com")
	}
	if !reflect.DeepEqual(x.ips, []string{"1.2.3.4", "::1"}) {
		t.Errorf("x ips = %v", x.ips)
	}
	if x.cname != "" {
		t.Errorf("x cname = %q, want empty", x.cname)
	}

	y, ok := records["y.example.com"]
	if !ok {
		t.Fatal("missing record for y.example.com")
	}
	if y.cname != "z.example.net" {
		t.Errorf("y cname = %q", y.cname)
	}
	if len(y.ips) != 0 {
		t.Errorf("y ips = %v, want none", y.ips)
	}

	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
}

func TestParseBatchOutputCaseAndTrailingDots(t *testing.T) {
	records := parseBatchOutput("API.Example.COM. A 10.0.0.1\n")
	record, ok := records["api.example.com"]
	if !ok {
		t.Fatal("record names must be lowercased without trailing dot")
	}
	if !reflect.DeepEqual(record.ips, []string{"10.0.0.1"}) {
		t.Errorf("ips = %v", record.ips)
	}
}

func TestParseBatchOutputDedupesAddresses(t *testing.T) {
	records := parseBatchOutput("a.example.com. A 1.1.1.1\na.example.com. A 1.1.1.1\n")
	if got := records["a.example.com"].ips; !reflect.DeepEqual(got, []string{"1.1.1.1"}) {
		t.Errorf("ips = %v, want deduplicated", got)
	}
}

func TestNormalizeDNSServers(t *testing.T) {
	got := normalizeDNSServers([]string{"8.8.8.8", "1.1.1.1:5353", " ", "8.8.8.8"})
	want := []string{"8.8.8.8:53", "1.1.1.1:5353"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("normalizeDNSServers = %v, want %v", got, want)
	}
}

func TestMassdnsMissingBinaryFallsBack(t *testing.T) {
	cfg := defaultConfig()
	cfg.ResolverConcurrency = 2
	backend := &massdnsBackend{
		bin:       "/nonexistent/massdns",
		batchSize: 400,
		fallback:  newNativeBackend(cfg),
	}
	// The candidate fails hostname validation, so the fallback yields nothing
	// without touching the network; the point is that a missing binary drains
	// the stream cleanly instead of wedging it.
	count := 0
	for range backend.Resolve(context.Background(), []string{"bad name"}) {
		count++
	}
	if count != 0 {
		t.Errorf("expected no records, got %d", count)
	}
}

func TestSelectResolverBackendWithoutMassdns(t *testing.T) {
	cfg := defaultConfig()
	cfg.MassdnsBin = "/nonexistent/massdns"
	backend := selectResolverBackend(cfg)
	if name := backend.Name(); name != "native" && name != "massdns" {
		t.Fatalf("unexpected backend %q", name)
	}
	// With no binary on this machine the capability probe must choose native.
	if cfg.massdnsPath() == "" && backend.Name() != "native" {
		t.Errorf("expected native backend when no massdns binary exists")
	}
}
