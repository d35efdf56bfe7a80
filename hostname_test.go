package main

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeHostname(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"*.Sub.Example.com", "sub.example.com"},
		{"  Example.COM.  ", "example.com"},
		{"example.com", "example.com"},
		{"localhost", "localhost"},
		{"bad domain", ""},
		{"", ""},
		{"*.", ""},
		{"...", ""},
		{"-bad.example.com", ""},
		{"bad-.example.com", ""},
		{"bücher.example.com", "xn--bcher-kva.example.com"},
		{strings.Repeat("a", 64) + ".example.com", ""},
	}
	for _, tt := range tests {
		if got := normalizeHostname(tt.in); got != tt.want {
			t.Errorf("normalizeHostname(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeHostnameIdempotent(t *testing.T) {
	for _, in := range []string{"*.Sub.Example.com", "api.example.com", "bücher.example.com"} {
		once := normalizeHostname(in)
		if once == "" {
			t.Fatalf("normalizeHostname(%q) unexpectedly invalid", in)
		}
		if twice := normalizeHostname(once); twice != once {
			t.Errorf("normalizeHostname not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestSanitizeDomain(t *testing.T) {
	if got := sanitizeDomain("Example.COM"); got != "example.com" {
		t.Errorf("sanitizeDomain(Example.COM) = %q", got)
	}
	if got := sanitizeDomain("localhost"); got != "" {
		t.Errorf("single-label names must be rejected, got %q", got)
	}
	if got := sanitizeDomain("bad domain"); got != "" {
		t.Errorf("invalid names must be rejected, got %q", got)
	}
}

func TestIsSubdomain(t *testing.T) {
	if !isSubdomain("api.example.com", "example.com") {
		t.Error("api.example.com should be under example.com")
	}
	if !isSubdomain("example.com", "example.com") {
		t.Error("the root itself counts as in scope")
	}
	if isSubdomain("notexample.com", "example.com") {
		t.Error("suffix match must respect label boundaries")
	}
	if isSubdomain("example.com.evil.org", "example.com") {
		t.Error("embedded domain must not match")
	}
}

func TestSplitCertNames(t *testing.T) {
	got := splitCertNames("a.example.com\n*.B.example.com\n\n")
	want := []string{"a.example.com", "B.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitCertNames = %v, want %v", got, want)
	}
}

func TestUniqueStrings(t *testing.T) {
	got := uniqueStrings([]string{"a", "b", "a", "c"})
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("uniqueStrings = %v, want %v", got, want)
	}
}

func TestChunkStrings(t *testing.T) {
	chunks := chunkStrings([]string{"a", "b", "c", "d", "e"}, 2)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if !reflect.DeepEqual(chunks[2], []string{"e"}) {
		t.Errorf("last chunk = %v", chunks[2])
	}
	if chunkStrings(nil, 2) != nil {
		t.Error("empty input yields no chunks")
	}
}
