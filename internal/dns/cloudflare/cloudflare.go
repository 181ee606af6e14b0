package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/yuriy-kovalchuk/yk-dns-sync/internal/dns"
)

// DefaultBaseURL is the Cloudflare v4 API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

const maxResponseBytes = 4 << 20

var requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "yk_dns_sync_provider_requests_total",
	Help: "Total number of DNS provider API requests by operation and result.",
}, []string{"op", "result"})

func init() {
	metrics.Registry.MustRegister(requestsTotal)
}

// Config holds the connection settings for the Cloudflare API.
type Config struct {
	BaseURL    string // default DefaultBaseURL
	Token      string
	ZoneID     string
	Timeout    time.Duration // 0 = transport default
	HTTPClient *http.Client  // optional, overrides Timeout
}

// Provider implements dns.Provider for Cloudflare DNS.
type Provider struct {
	baseURL string
	token   string
	zoneID  string
	client  *http.Client
	log     logr.Logger
}

// New creates a Cloudflare DNS provider. Token and ZoneID are required.
func New(log logr.Logger, cfg Config) (*Provider, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'token'")
	}
	if cfg.ZoneID == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'zone_id'")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("cloudflare: invalid base_url %q: %w", baseURL, err)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
			Timeout:   cfg.Timeout,
		}
	}

	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.Token,
		zoneID:  cfg.ZoneID,
		client:  client,
		log:     log,
	}, nil
}

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Result   json.RawMessage `json:"result"`
	Success  bool            `json:"success"`
	Errors   []apiMessage    `json:"errors"`
	Messages []apiMessage    `json:"messages"`

	ResultInfo *resultInfo `json:"result_info,omitempty"`
}

// resultInfo carries the paging position of list responses.
type resultInfo struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

// apiMessage accepts both plain strings and {"code":..,"message":..} objects.
type apiMessage string

func (m *apiMessage) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = apiMessage(s)
		return nil
	}
	var obj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Code != 0 {
		*m = apiMessage(fmt.Sprintf("%d: %s", obj.Code, obj.Message))
		return nil
	}
	*m = apiMessage(obj.Message)
	return nil
}

func messages(msgs []apiMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m))
	}
	return out
}

// do executes one API call against the zone's dns_records collection and
// decodes the envelope's result into out. path may carry a query string.
func (p *Provider) do(ctx context.Context, op, method, path string, body, out interface{}) (info *resultInfo, err error) {
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		requestsTotal.WithLabelValues(op, result).Inc()
	}()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &dns.ProviderError{Op: op, Kind: dns.ErrProtocol, Err: fmt.Errorf("marshal request body: %w", err)}
		}
		bodyReader = bytes.NewReader(data)
	}

	endpoint := p.baseURL + "/zones/" + url.PathEscape(p.zoneID) + "/dns_records" + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, &dns.ProviderError{Op: op, Kind: dns.ErrNetwork, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &dns.ProviderError{Op: op, Kind: dns.ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &dns.ProviderError{Op: op, Kind: dns.ErrNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	var env envelope
	parseErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if parseErr != nil {
			return nil, &dns.ProviderError{Op: op, Kind: dns.ErrNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s %s returned %s", method, path, resp.Status)}
		}
		return nil, &dns.ProviderError{Op: op, Kind: dns.ErrRejected, StatusCode: resp.StatusCode, Messages: messages(env.Errors)}
	}
	if parseErr != nil {
		return nil, &dns.ProviderError{Op: op, Kind: dns.ErrProtocol, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", parseErr)}
	}
	if !env.Success {
		return nil, &dns.ProviderError{Op: op, Kind: dns.ErrRejected, StatusCode: resp.StatusCode, Messages: append(messages(env.Errors), messages(env.Messages)...)}
	}
	if out != nil {
		if len(env.Result) == 0 || string(env.Result) == "null" {
			return nil, &dns.ProviderError{Op: op, Kind: dns.ErrProtocol, StatusCode: resp.StatusCode, Err: fmt.Errorf("response has no result")}
		}
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, &dns.ProviderError{Op: op, Kind: dns.ErrProtocol, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return env.ResultInfo, nil
}

// listPageSize is the page size requested from the list endpoint. Cloudflare
// defaults to 100 records per page.
const listPageSize = 1000

// List returns every record in the zone, following result_info paging.
func (p *Provider) List(ctx context.Context) ([]dns.Record, error) {
	var records []dns.Record
	for page := 1; ; page++ {
		var batch []dns.Record
		query := fmt.Sprintf("?page=%d&per_page=%d", page, listPageSize)
		info, err := p.do(ctx, "list", http.MethodGet, query, nil, &batch)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
		if info == nil || info.TotalPages <= page || len(batch) == 0 {
			break
		}
	}
	p.log.V(1).Info("listed records", "zone", p.zoneID, "count", len(records))
	return records, nil
}

// Create adds a new record. Any ID on record is ignored.
func (p *Provider) Create(ctx context.Context, record dns.Record) (dns.Record, error) {
	p.log.Info("creating record", "name", record.Name, "type", record.Type, "content", record.Content, "proxied", record.Proxied)

	record.ID = ""
	var created dns.Record
	if _, err := p.do(ctx, "create", http.MethodPost, "", record, &created); err != nil {
		return dns.Record{}, err
	}
	if created.Name == "" {
		created = record
	}

	p.log.Info("record created", "id", created.ID)
	return created, nil
}

// Update replaces the record identified by record.ID.
func (p *Provider) Update(ctx context.Context, record dns.Record) (dns.Record, error) {
	if record.ID == "" {
		return dns.Record{}, fmt.Errorf("cloudflare: update of %s requires a record id", record.Key())
	}
	p.log.Info("updating record", "id", record.ID, "name", record.Name, "type", record.Type, "content", record.Content, "proxied", record.Proxied)

	var updated dns.Record
	if _, err := p.do(ctx, "update", http.MethodPut, "/"+url.PathEscape(record.ID), record, &updated); err != nil {
		return dns.Record{}, err
	}
	if updated.Name == "" {
		updated = record
	}

	p.log.Info("record updated", "id", record.ID)
	return updated, nil
}
