package main

import (
	"bufio"
	"os"
	"strings"
)

// defaultBruteforceWords are always tried against the root domain, even when
// no extra wordlist is configured.
var defaultBruteforceWords = []string{"www", "api", "dev", "mail", "staging", "test"}

// loadWordlist reads candidate labels from a file, trimmed and lowercased,
// skipping blanks and comments. A positive limit caps the number of words
// read, in file order.
func loadWordlist(path string, limit int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var words []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
		if limit > 0 && len(words) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return words, nil
}

// bruteforceWords merges the built-in word list with any configured extra
// wordlists. Unreadable files are skipped; bruteforce must never abort a scan.
func bruteforceWords(cfg Config) []string {
	var words []string
	for _, word := range cfg.BruteforceWords {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" {
			words = append(words, word)
		}
	}
	if cfg.BruteforceExtraWordlist != "" {
		extra, err := loadWordlist(cfg.BruteforceExtraWordlist, 0)
		if err != nil {
			logger.Printf("skipping extra wordlist %s: %v", cfg.BruteforceExtraWordlist, err)
		} else {
			words = append(words, extra...)
		}
	}
	if cfg.SeclistsWordlist != "" {
		extra, err := loadWordlist(cfg.SeclistsWordlist, cfg.SeclistsMinWords)
		if err != nil {
			logger.Printf("skipping seclists wordlist %s: %v", cfg.SeclistsWordlist, err)
		} else {
			words = append(words, extra...)
		}
	}
	return uniqueStrings(words)
}
