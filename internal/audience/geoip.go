package audience

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// DefaultGeoTimeout bounds the external lookup so assignment never waits long.
const DefaultGeoTimeout = 800 * time.Millisecond

// Country headers set by edge proxies, checked in order.
var countryHeaders = []string{"CF-IPCountry", "X-Country"}

// GeoOptions configure the country resolver.
type GeoOptions struct {
	Enabled bool
	BaseURL string
	Timeout time.Duration
}

// GeoResolver resolves a request's country from proxy headers, falling back
// to an ipapi.co compatible lookup.
type GeoResolver struct {
	enabled bool
	client  *resty.Client
	logger  zerolog.Logger
}

// NewGeoResolver constructs a resolver. A disabled resolver only reads headers.
func NewGeoResolver(opts GeoOptions, logger zerolog.Logger) *GeoResolver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultGeoTimeout
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://ipapi.co"
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))

	return &GeoResolver{
		enabled: opts.Enabled,
		client:  client,
		logger:  logger.With().Str("component", "geoip").Logger(),
	}
}

type geoResponse struct {
	Country string `json:"country"`
}

// Country returns the visitor country or "" when it cannot be determined.
func (g *GeoResolver) Country(ctx context.Context, r *http.Request, ip string) string {
	for _, h := range countryHeaders {
		if c := strings.TrimSpace(r.Header.Get(h)); c != "" {
			return c
		}
	}
	if g == nil || !g.enabled || ip == "" {
		return ""
	}
	return g.lookup(ctx, ip)
}

func (g *GeoResolver) lookup(ctx context.Context, ip string) string {
	var out geoResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetPathParam("ip", ip).
		SetResult(&out).
		Get("/{ip}/json/")
	if err != nil {
		g.logger.Debug().Err(err).Str("ip", ip).Msg("geoip lookup failed")
		return ""
	}
	if resp.IsError() {
		g.logger.Debug().Int("status", resp.StatusCode()).Str("ip", ip).Msg("geoip lookup rejected")
		return ""
	}
	return out.Country
}
