package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultCrtshBase = "https://crt.sh/"

type crtshRow struct {
	NameValue string `json:"name_value"`
}

// candidateCollector merges certificate-transparency lookups with wordlist
// expansion into a deduplicated candidate list for one domain.
type candidateCollector struct {
	cfg       Config
	client    *http.Client
	crtshBase string
}

func newCandidateCollector(cfg Config) *candidateCollector {
	return &candidateCollector{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.crtshTimeout()},
		crtshBase: defaultCrtshBase,
	}
}

// collect returns the filtered, first-seen-ordered candidates for domain.
// Certificate-transparency failures degrade to an empty contribution; they
// never abort the pass.
func (c *candidateCollector) collect(ctx context.Context, domain string) []string {
	var candidates []string
	names, err := c.fetchCrtsh(ctx, domain)
	if err != nil {
		logger.Printf("crt.sh lookup failed for %s: %v", domain, err)
	} else {
		candidates = append(candidates, names...)
	}
	candidates = append(candidates, domain)
	for _, word := range bruteforceWords(c.cfg) {
		candidates = append(candidates, word+"."+domain)
	}

	filtered := candidates[:0]
	for _, name := range candidates {
		if isSubdomain(name, domain) {
			filtered = append(filtered, name)
		}
	}
	return uniqueStrings(filtered)
}

// fetchCrtsh queries the certificate-transparency log for every name ever
// observed under %.<domain>.
func (c *candidateCollector) fetchCrtsh(ctx context.Context, domain string) ([]string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s?q=%%25.%s&output=json", c.crtshBase, domain))
	if err != nil {
		return nil, err
	}
	var rows []crtshRow
	if err := json.Unmarshal(body, &rows); err != nil {
		// crt.sh intermittently answers JSON requests with an HTML error
		// page; one pass over the HTML listing before giving up.
		debugPrint(2, "crt.sh JSON malformed for %s, trying HTML listing", domain)
		return c.fetchCrtshHTML(ctx, domain)
	}

	var names []string
	for _, row := range rows {
		if row.NameValue == "" {
			continue
		}
		for _, raw := range splitCertNames(row.NameValue) {
			normalized := normalizeHostname(raw)
			if normalized == "" {
				continue
			}
			if isSubdomain(normalized, domain) {
				names = append(names, normalized)
			}
		}
	}
	return uniqueStrings(names), nil
}

// fetchCrtshHTML scrapes the HTML result table for identity cells.
func (c *candidateCollector) fetchCrtshHTML(ctx context.Context, domain string) ([]string, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s?q=%%25.%s", c.crtshBase, domain))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	var names []string
	doc.Find("td").Each(func(_ int, cell *goquery.Selection) {
		for _, token := range strings.Fields(cell.Text()) {
			normalized := normalizeHostname(strings.TrimPrefix(token, "*."))
			if normalized == "" || normalized == domain {
				continue
			}
			if isSubdomain(normalized, domain) {
				names = append(names, normalized)
			}
		}
	})
	return uniqueStrings(names), nil
}

func (c *candidateCollector) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.CrtshUserAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("crt.sh status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
