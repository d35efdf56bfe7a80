package main

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS scan_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at TIMESTAMP,
	total INTEGER DEFAULT 0,
	duration_ms INTEGER
);

CREATE TABLE IF NOT EXISTS subdomains (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	name TEXT NOT NULL,
	ips TEXT,
	cname TEXT,
	http_status INTEGER,
	tls BOOLEAN,
	server TEXT,
	last_probe TEXT,
	first_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (domain, name)
);

CREATE TABLE IF NOT EXISTS scan_run_entries (
	run_id INTEGER REFERENCES scan_runs(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	PRIMARY KEY (run_id, name)
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_domain_completed
	ON scan_runs (domain, completed_at DESC);

CREATE INDEX IF NOT EXISTS idx_subdomains_domain
	ON subdomains (domain);
`

// snapshotMeta describes the most recently completed run behind a snapshot.
type snapshotMeta struct {
	CachedAt    string `json:"cached_at"`
	TotalUnique int    `json:"total_unique"`
	DurationMS  int64  `json:"duration_ms"`
}

// runSummary is one row of scan history.
type runSummary struct {
	ID         int64  `json:"id"`
	Domain     string `json:"domain"`
	Timestamp  string `json:"timestamp"`
	Total      int    `json:"total"`
	DurationMS *int64 `json:"duration_ms"`
}

// Store persists scan runs and subdomain snapshots in SQLite. A nil *Store is
// valid and turns every operation into a no-op so the pipeline runs fully
// without persistence.
type Store struct {
	db *sql.DB
}

// openStore opens (or creates) the database at path; an empty path disables
// persistence.
func openStore(path string) (*Store, error) {
	if path == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun records the beginning of a discovery pass and returns its id.
func (s *Store) StartRun(domain string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	result, err := s.db.Exec("INSERT INTO scan_runs (domain) VALUES (?)", domain)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// CompleteRun marks a run finished with its totals.
func (s *Store) CompleteRun(runID int64, total int, durationMS int64) error {
	if s == nil || s.db == nil || runID == 0 {
		return nil
	}
	_, err := s.db.Exec(
		"UPDATE scan_runs SET completed_at = ?, total = ?, duration_ms = ? WHERE id = ?",
		time.Now().UTC(), total, durationMS, runID,
	)
	return err
}

// LoadSnapshot returns the persisted entries for a domain sorted by name,
// plus metadata from the latest completed run when one exists.
func (s *Store) LoadSnapshot(domain string) ([]Entry, *snapshotMeta, error) {
	if s == nil || s.db == nil {
		return nil, nil, nil
	}
	rows, err := s.db.Query(
		"SELECT name, ips, cname, http_status, tls, server, last_probe FROM subdomains WHERE domain = ? ORDER BY name",
		domain,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			ipsJSON    sql.NullString
			cname      sql.NullString
			httpStatus sql.NullInt64
			server     sql.NullString
			lastProbe  sql.NullString
		)
		if err := rows.Scan(&entry.Name, &ipsJSON, &cname, &httpStatus, &entry.TLS, &server, &lastProbe); err != nil {
			return nil, nil, err
		}
		entry.IPs = []string{}
		if ipsJSON.Valid && ipsJSON.String != "" {
			if err := json.Unmarshal([]byte(ipsJSON.String), &entry.IPs); err != nil {
				entry.IPs = []string{}
			}
		}
		entry.CNAME = cname.String
		entry.Server = server.String
		entry.LastProbe = lastProbe.String
		if httpStatus.Valid {
			status := int(httpStatus.Int64)
			entry.HTTPStatus = &status
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var (
		completedAt time.Time
		total       int
		durationMS  sql.NullInt64
	)
	err = s.db.QueryRow(
		"SELECT completed_at, total, duration_ms FROM scan_runs WHERE domain = ? AND completed_at IS NOT NULL ORDER BY completed_at DESC LIMIT 1",
		domain,
	).Scan(&completedAt, &total, &durationMS)
	if err == sql.ErrNoRows {
		return entries, nil, nil
	}
	if err != nil {
		return entries, nil, err
	}
	return entries, &snapshotMeta{
		CachedAt:    completedAt.UTC().Format(time.RFC3339),
		TotalUnique: total,
		DurationMS:  durationMS.Int64,
	}, nil
}

// UpsertEntries inserts or updates entries keyed by (domain, name) and records
// run membership. Idempotent per run.
func (s *Store) UpsertEntries(domain string, entries []Entry, runID int64) error {
	if s == nil || s.db == nil || len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert, err := tx.Prepare(`
		INSERT INTO subdomains (domain, name, ips, cname, http_status, tls, server, last_probe)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain, name) DO UPDATE SET
			ips = excluded.ips,
			cname = excluded.cname,
			http_status = excluded.http_status,
			tls = excluded.tls,
			server = excluded.server,
			last_probe = excluded.last_probe,
			last_seen = CURRENT_TIMESTAMP`)
	if err != nil {
		return err
	}
	defer upsert.Close()

	membership, err := tx.Prepare("INSERT OR IGNORE INTO scan_run_entries (run_id, name) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer membership.Close()

	for _, entry := range entries {
		ipsJSON, err := json.Marshal(entry.IPs)
		if err != nil {
			return err
		}
		var httpStatus interface{}
		if entry.HTTPStatus != nil {
			httpStatus = *entry.HTTPStatus
		}
		if _, err := upsert.Exec(domain, entry.Name, string(ipsJSON), entry.CNAME, httpStatus, entry.TLS, entry.Server, entry.LastProbe); err != nil {
			return err
		}
		if runID != 0 {
			if _, err := membership.Exec(runID, entry.Name); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// RecentRuns lists the latest completed runs across all domains.
func (s *Store) RecentRuns(limit int) ([]runSummary, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		"SELECT id, domain, completed_at, total, duration_ms FROM scan_runs WHERE completed_at IS NOT NULL ORDER BY completed_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []runSummary
	for rows.Next() {
		var (
			run       runSummary
			completed time.Time
			duration  sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Domain, &completed, &run.Total, &duration); err != nil {
			return nil, err
		}
		run.Timestamp = completed.UTC().Format(time.RFC3339)
		if duration.Valid {
			run.DurationMS = &duration.Int64
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunsForDomain lists run history for one domain, most recent first,
// incomplete runs last.
func (s *Store) RunsForDomain(domain string, limit int) ([]runSummary, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, started_at, completed_at, total, duration_ms
		 FROM scan_runs WHERE domain = ?
		 ORDER BY completed_at IS NULL, completed_at DESC, started_at DESC
		 LIMIT ?`,
		domain, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []runSummary
	for rows.Next() {
		var (
			run       runSummary
			started   time.Time
			completed sql.NullTime
			duration  sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &started, &completed, &run.Total, &duration); err != nil {
			return nil, err
		}
		run.Domain = domain
		timestamp := started
		if completed.Valid {
			timestamp = completed.Time
		}
		run.Timestamp = timestamp.UTC().Format(time.RFC3339)
		if duration.Valid {
			run.DurationMS = &duration.Int64
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
