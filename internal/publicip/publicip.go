// Package publicip looks up the caller's public IP address from an
// address-echo web service.
package publicip

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
)

// DefaultURL answers with the caller's address as plain text.
const DefaultURL = "https://checkip.amazonaws.com"

// Observer fetches the current public address. It keeps no state between
// calls.
type Observer struct {
	url    string
	client *http.Client
}

// New returns an Observer querying url. An empty url selects DefaultURL and a
// nil client selects http.DefaultClient.
func New(url string, client *http.Client) *Observer {
	if url == "" {
		url = DefaultURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Observer{url: url, client: client}
}

// Observe returns the address reported by the lookup service. Failures are
// *dns.ProviderError values of kind dns.ErrNetwork or dns.ErrProtocol.
func (o *Observer) Observe(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return "", &dns.ProviderError{Op: "lookup", Kind: dns.ErrNetwork, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", &dns.ProviderError{Op: "lookup", Kind: dns.ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &dns.ProviderError{Op: "lookup", Kind: dns.ErrNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s returned %s", o.url, resp.Status)}
	}

	line, err := bufio.NewReader(io.LimitReader(resp.Body, 256)).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", &dns.ProviderError{Op: "lookup", Kind: dns.ErrNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(line))
	if err != nil {
		return "", &dns.ProviderError{Op: "lookup", Kind: dns.ErrProtocol, StatusCode: resp.StatusCode, Err: fmt.Errorf("parse address from response body: %w", err)}
	}
	return addr.String(), nil
}
