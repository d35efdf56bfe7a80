package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// prober determines HTTP reachability, server banner and TLS support for a
// single resolved host.
type prober struct {
	cfg      Config
	client   *http.Client
	resolver *nativeBackend
}

func newProber(cfg Config, resolver *nativeBackend) *prober {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
	return &prober{
		cfg:      cfg,
		resolver: resolver,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.httpTimeout(),
		},
	}
}

// probe builds the liveness entry for name. When resolved is false the
// addresses and CNAME are looked up first, swallowing resolution errors as
// empty results.
func (p *prober) probe(ctx context.Context, name string, ips []string, cname string, resolved bool) Entry {
	if !resolved {
		if record, ok := p.resolver.lookup(ctx, name); ok {
			ips = record.ips
			cname = record.cname
		}
	}
	if ips == nil {
		ips = []string{}
	}

	status, server := p.attemptScheme(ctx, "https://"+name)
	tlsSupported := status != 0
	if status == 0 {
		status, server = p.attemptScheme(ctx, "http://"+name)
	}
	if !tlsSupported {
		tlsSupported = p.checkTLS(name)
	}

	entry := Entry{
		Name:      name,
		IPs:       ips,
		CNAME:     cname,
		TLS:       tlsSupported,
		Server:    server,
		LastProbe: nowISO(),
	}
	if status != 0 {
		entry.HTTPStatus = &status
	}
	if p.cfg.ScreenshotDir != "" && status != 0 {
		if path, err := p.captureScreenshot(name, tlsSupported); err != nil {
			debugPrint(2, "screenshot failed for %s: %v", name, err)
		} else {
			debugPrint(1, "screenshot saved: %s", path)
		}
	}
	return entry
}

// attemptScheme tries HEAD first and falls back to GET when the server
// rejects HEAD with 403 or 405. Connection errors and timeouts end the
// sequence for the scheme; the caller treats a zero status as no response.
func (p *prober) attemptScheme(ctx context.Context, url string) (int, string) {
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return 0, ""
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return 0, ""
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if method == http.MethodHead && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusMethodNotAllowed) {
			continue
		}
		return resp.StatusCode, resp.Header.Get("Server")
	}
	return 0, ""
}

// checkTLS attempts a raw handshake to port 443 with default trust roots.
func (p *prober) checkTLS(host string) bool {
	dialer := &net.Dialer{Timeout: p.cfg.httpTimeout()}
	conn, err := tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(host, "443"), &tls.Config{ServerName: host})
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// captureScreenshot renders the host in headless Chrome and writes a PNG
// under the configured screenshot directory.
func (p *prober) captureScreenshot(host string, useTLS bool) (string, error) {
	if err := os.MkdirAll(p.cfg.ScreenshotDir, 0o755); err != nil {
		return "", err
	}
	ctx, cancel := chromedp.NewContext(context.Background())
	defer cancel()
	ctx, cancel = context.WithTimeout(ctx, p.cfg.httpTimeout())
	defer cancel()

	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	filename := filepath.Join(p.cfg.ScreenshotDir,
		fmt.Sprintf("%s_%d.png", strings.ReplaceAll(host, ".", "_"), time.Now().Unix()))

	var buf []byte
	if err := chromedp.Run(ctx,
		chromedp.Navigate(fmt.Sprintf("%s://%s", scheme, host)),
		chromedp.Sleep(2*time.Second),
		chromedp.CaptureScreenshot(&buf),
	); err != nil {
		return "", err
	}
	if err := os.WriteFile(filename, buf, 0o644); err != nil {
		return "", err
	}
	return filename, nil
}
