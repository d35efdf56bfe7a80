package main

import (
	"strings"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
)

// whoisResult is the trimmed registration summary exposed over the API.
type whoisResult struct {
	Domain    string   `json:"domain"`
	Registrar string   `json:"registrar,omitempty"`
	Created   string   `json:"created,omitempty"`
	Expires   string   `json:"expires,omitempty"`
	Status    []string `json:"status,omitempty"`
	Raw       string   `json:"raw,omitempty"`
}

// lookupWhois queries the registry and parses the response into a compact
// summary. A lookup that answers but cannot be parsed still returns the raw
// text.
func lookupWhois(domain string) (*whoisResult, error) {
	raw, err := whois.Whois(domain)
	if err != nil {
		return nil, err
	}
	result := &whoisResult{Domain: domain, Raw: raw}
	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		debugPrint(2, "whois parse failed for %s: %v", domain, err)
		return result, nil
	}
	if parsed.Domain != nil {
		result.Created = normalizeWhoisDate(parsed.Domain.CreatedDate)
		result.Expires = normalizeWhoisDate(parsed.Domain.ExpirationDate)
		result.Status = parsed.Domain.Status
	}
	if parsed.Registrar != nil {
		result.Registrar = parsed.Registrar.Name
	}
	return result, nil
}

// normalizeWhoisDate reduces the registry's timestamp to a bare date where the
// format is recognized, passing unknown formats through unchanged.
func normalizeWhoisDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC().Format("2006-01-02")
		}
	}
	return value
}
