package main

import (
	"strings"

	"golang.org/x/net/idna"
)

// normalizeHostname canonicalizes a raw name into a comparable ASCII hostname.
// It strips a single leading wildcard label, trims surrounding dots and
// whitespace, applies IDNA (UTS#46) encoding and validates each label against
// RFC hostname syntax. The empty string is returned for anything invalid.
func normalizeHostname(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}
	trimmed = strings.TrimPrefix(trimmed, "*.")
	trimmed = strings.Trim(trimmed, ".")
	if trimmed == "" {
		return ""
	}
	if strings.ContainsAny(trimmed, " \t\r\n") || strings.ContainsRune(trimmed, 0) {
		return ""
	}
	ascii, err := idna.Lookup.ToASCII(trimmed)
	if err != nil {
		return ""
	}
	ascii = strings.TrimSuffix(ascii, ".")
	if !validHostname(ascii) {
		return ""
	}
	return ascii
}

// validHostname enforces RFC 1123 limits: 1-63 chars per label, alphanumerics
// and inner hyphens only, 253 chars total.
func validHostname(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' {
				continue
			}
			return false
		}
	}
	return true
}

// sanitizeDomain is normalizeHostname plus the requirement that the result
// contains at least one dot, rejecting single-label names like "localhost".
func sanitizeDomain(raw string) string {
	normalized := normalizeHostname(raw)
	if normalized == "" || !strings.Contains(normalized, ".") {
		return ""
	}
	return normalized
}

// isSubdomain reports whether candidate equals root or is a strict subdomain
// of it, ignoring case and trailing dots.
func isSubdomain(candidate, root string) bool {
	candidate = strings.ToLower(strings.TrimSuffix(candidate, "."))
	root = strings.ToLower(strings.TrimSuffix(root, "."))
	return candidate == root || strings.HasSuffix(candidate, "."+root)
}

// splitCertNames expands a crt.sh name_value field, which may contain several
// newline-separated names, each possibly wildcard-prefixed.
func splitCertNames(value string) []string {
	var out []string
	for _, token := range strings.Split(value, "\n") {
		cleaned := strings.TrimSpace(token)
		if cleaned == "" {
			continue
		}
		cleaned = strings.TrimPrefix(cleaned, "*.")
		out = append(out, cleaned)
	}
	return out
}

// uniqueStrings dedupes while preserving first-seen order.
func uniqueStrings(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// chunkStrings partitions items into slices of at most size elements.
func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var chunks [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
