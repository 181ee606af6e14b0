package cloudflare

import (
	"context"
	"fmt"
	"strings"

	cf "github.com/cloudflare/cloudflare-go"
)

func newAPI(cfg Config) (*cf.API, error) {
	var opts []cf.Option
	if cfg.BaseURL != "" {
		opts = append(opts, cf.BaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, cf.HTTPClient(cfg.HTTPClient))
	}
	api, err := cf.NewWithAPIToken(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: create api client: %w", err)
	}
	return api, nil
}

// ResolveZoneID looks up the id of the zone with the given name.
func ResolveZoneID(ctx context.Context, cfg Config, zoneName string) (string, error) {
	zoneName = strings.ToLower(strings.TrimSuffix(zoneName, "."))
	api, err := newAPI(cfg)
	if err != nil {
		return "", err
	}

	res, err := api.ListZonesContext(ctx, cf.WithZoneFilters(zoneName, "", ""))
	if err != nil {
		return "", fmt.Errorf("cloudflare: list zones: %w", err)
	}

	var id string
	for _, z := range res.Result {
		if !strings.EqualFold(z.Name, zoneName) {
			continue
		}
		if id != "" {
			return "", fmt.Errorf("cloudflare: zone name %q is ambiguous", zoneName)
		}
		id = z.ID
	}
	if id == "" {
		return "", fmt.Errorf("cloudflare: zone %q not found", zoneName)
	}
	return id, nil
}

// VerifyToken checks that the API token is valid and active.
func VerifyToken(ctx context.Context, cfg Config) error {
	api, err := newAPI(cfg)
	if err != nil {
		return err
	}
	res, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("cloudflare: verify token: %w", err)
	}
	if res.Status != "active" {
		return fmt.Errorf("cloudflare: expected token status \"active\", got %q", res.Status)
	}
	return nil
}
