package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// Version information
const (
	version = "1.0.0"
	banner  = `
           __   _____           __
  ___ __ _/ /  / _(_)__  ___/ /
 (_-</ // / _ \/ _/ / _ \/ _  /
/___/\_,_/_.__/_//_/_//_/\_,_/  v%s

`
)

var (
	configFlag     = flag.String("config", "", "Path to YAML configuration file")
	listenFlag     = flag.String("listen", "", "API listen address (default :8080)")
	domainFlag     = flag.String("domain", "", "Scan a single domain and print the results")
	refreshFlag    = flag.Bool("refresh", false, "Re-run the pipeline even when a cached snapshot exists")
	dbFlag         = flag.String("db", "", "Path to SQLite database (empty disables persistence)")
	verboseFlag    = flag.Int("v", 1, "Verbosity level (0-3)")
	massdnsFlag    = flag.String("massdns", "", "Path to massdns binary")
	wordlistFlag   = flag.String("wordlist", "", "Extra bruteforce wordlist file")
	logFileFlag    = flag.String("log-file", "", "Write logs to this file in addition to stderr")
	slackFlag      = flag.String("slack", "", "Slack webhook URL for scan completion notifications")
	screenshotFlag = flag.String("screenshot-dir", "", "Capture screenshots of live hosts into this directory")
)

var logger *log.Logger

// debugPrint prints debug information if verbose level is high enough
func debugPrint(level int, format string, args ...interface{}) {
	if *verboseFlag >= level {
		logger.Printf(format, args...)
	}
}

// initLogger initializes the logging system
func initLogger() {
	logLevel := "INFO"
	switch *verboseFlag {
	case 0:
		logLevel = "ERROR"
	case 2:
		logLevel = "DEBUG"
	case 3:
		logLevel = "TRACE"
	}

	writer := io.Writer(os.Stderr)
	if *logFileFlag != "" {
		logFile, err := os.OpenFile(*logFileFlag, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Printf("Error opening log file: %v\n", err)
		} else {
			writer = io.MultiWriter(os.Stderr, logFile)
		}
	}
	logger = log.New(writer, fmt.Sprintf("[subfind %s] ", logLevel), log.LstdFlags)
}

// mergeFlags applies command-line overrides on top of the loaded configuration.
func mergeFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.Listen = *listenFlag
		case "db":
			cfg.DatabasePath = *dbFlag
		case "massdns":
			cfg.MassdnsBin = *massdnsFlag
		case "wordlist":
			cfg.BruteforceExtraWordlist = *wordlistFlag
		case "slack":
			cfg.SlackWebhook = *slackFlag
		case "screenshot-dir":
			cfg.ScreenshotDir = *screenshotFlag
		case "v":
			cfg.Verbose = *verboseFlag
		}
	})
}

func main() {
	flag.Parse()
	initLogger()
	fmt.Printf(banner, version)

	cfg := defaultConfig()
	if *configFlag != "" {
		loaded, err := loadConfig(*configFlag)
		if err != nil {
			logger.Fatalf("failed to load configuration: %v", err)
		}
		cfg = loaded
	}
	mergeFlags(&cfg)

	// Config-file logging settings apply only when the flags left them alone.
	if cfg.Verbose != *verboseFlag && cfg.Verbose != defaultConfig().Verbose {
		*verboseFlag = cfg.Verbose
	}
	if *logFileFlag == "" && cfg.LogFile != "" {
		*logFileFlag = cfg.LogFile
		initLogger()
	}

	store, err := openStore(cfg.DatabasePath)
	if err != nil {
		logger.Printf("failed to open database %s, continuing without persistence: %v", cfg.DatabasePath, err)
		store = nil
	}
	defer store.Close()

	pipeline := newPipeline(cfg, store)

	if *domainFlag != "" {
		runScan(pipeline, *domainFlag, *refreshFlag)
		return
	}

	srv := newServer(cfg, pipeline, store)
	logger.Printf("subfind v%s listening on %s", version, cfg.Listen)
	if err := http.ListenAndServe(cfg.Listen, srv.router()); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}

// runScan drives a single pipeline pass from the command line, rendering
// progress and a per-host summary.
func runScan(pipeline *Pipeline, rawDomain string, refresh bool) {
	domain := sanitizeDomain(rawDomain)
	if domain == "" {
		color.Red("invalid domain: %s", rawDomain)
		os.Exit(1)
	}

	var (
		bar     *progressbar.ProgressBar
		entries []Entry
		started = time.Now()
	)
	for event := range pipeline.Search(context.Background(), domain, refresh) {
		switch {
		case event.Stage == "cache_hit":
			color.Cyan("Using cached snapshot (%d entries), pass -refresh to rescan", *event.Count)
		case event.Stage == "crt_sh_found":
			debugPrint(1, "collected %d candidates for %s", *event.Count, domain)
		case event.Stage == "resolving":
			bar = progressbar.NewOptions(*event.Count,
				progressbar.OptionSetDescription(fmt.Sprintf("Resolving via %s", event.Resolver)),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWriter(os.Stderr),
			)
		case event.Type == "entry":
			entries = append(entries, *event.Entry)
			if bar != nil {
				bar.Add(1)
			}
		case event.Stage == "error":
			if bar != nil {
				bar.Finish()
			}
			color.Red("scan failed: %s", event.Error)
			os.Exit(1)
		case event.Stage == "done":
			if bar != nil {
				bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			for _, entry := range entries {
				line := entry.Name
				if entry.HTTPStatus != nil {
					line = fmt.Sprintf("%s [%d]", line, *entry.HTTPStatus)
				}
				if entry.CNAME != "" {
					line = fmt.Sprintf("%s -> %s", line, entry.CNAME)
				}
				if entry.HTTPStatus != nil && *entry.HTTPStatus < 400 {
					color.Green(line)
				} else {
					color.Yellow(line)
				}
			}
			color.Cyan("\n%d unique subdomains for %s in %s", *event.TotalUnique, domain, time.Since(started).Round(time.Second))
		}
	}
}
