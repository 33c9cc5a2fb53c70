package audience

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-testing/internal/experiment"
)

func TestClassifyDevice(t *testing.T) {
	cases := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", DeviceMobile},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", DeviceMobile},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) Mobile/15E148", DeviceMobile},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", DeviceTablet},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36", DeviceDesktop},
		{"", DeviceDesktop},
	}
	for _, tc := range cases {
		if got := ClassifyDevice(tc.ua); got != tc.want {
			t.Fatalf("ClassifyDevice(%q) = %s, want %s", tc.ua, got, tc.want)
		}
	}
	if !MatchesDevice("all", "anything") || !MatchesDevice("", "anything") {
		t.Fatal("all/empty device target must match")
	}
}

func TestMatchesSource(t *testing.T) {
	cases := []struct {
		source string
		ctx    RequestContext
		want   bool
	}{
		{SourceOrganic, RequestContext{Referrer: "https://www.Google.com/search?q=x"}, true},
		{SourceOrganic, RequestContext{Referrer: "https://duckduckgo.com"}, false},
		{SourcePaidSearch, RequestContext{Query: "product_id=1&utm_medium=CPC"}, true},
		{SourcePaidSearch, RequestContext{Referrer: "https://shop.example/?gclid=abc"}, true},
		{SourceSocial, RequestContext{Referrer: "https://l.instagram.com/"}, true},
		{SourceEmail, RequestContext{Query: "utm_medium=email"}, true},
		{SourceReferral, RequestContext{Referrer: "https://blog.example.com/review"}, true},
		{SourceReferral, RequestContext{Referrer: "https://google.com"}, false},
		{SourceReferral, RequestContext{}, false},
		{"podcast", RequestContext{}, true},
	}
	for _, tc := range cases {
		if got := MatchesSource(tc.source, tc.ctx); got != tc.want {
			t.Fatalf("MatchesSource(%s, %+v) = %v, want %v", tc.source, tc.ctx, got, tc.want)
		}
	}

	if !MatchesSources(nil, RequestContext{}) {
		t.Fatal("empty source set must match")
	}
	if !MatchesSources([]string{SourceEmail, SourceOrganic}, RequestContext{Referrer: "https://bing.com"}) {
		t.Fatal("any listed source should match")
	}
}

func TestMatchesCountry(t *testing.T) {
	if !MatchesCountry(nil, "DE") {
		t.Fatal("empty targets must match")
	}
	if !MatchesCountry([]string{"United States"}, "us") {
		t.Fatal("first-letter prefix should match")
	}
	if MatchesCountry([]string{"Germany"}, "US") {
		t.Fatal("different first letter should not match")
	}
	if !MatchesCountry([]string{"Germany"}, "") {
		t.Fatal("unknown country is permissive")
	}
}

func TestIsEligibleRequiresAllFilters(t *testing.T) {
	test := experiment.Test{
		ID: "t1",
		Targeting: experiment.Targeting{
			DeviceType:     DeviceMobile,
			TrafficSources: []string{SourceSocial},
			Countries:      []string{"US"},
		},
	}
	ctx := RequestContext{
		UserAgent: "Mozilla/5.0 (iPhone)",
		Referrer:  "https://facebook.com/",
		Country:   "US",
	}
	if !IsEligible(&test, ctx) {
		t.Fatal("request should be eligible")
	}

	desktop := ctx
	desktop.UserAgent = "Mozilla/5.0 (Windows NT 10.0)"
	if IsEligible(&test, desktop) {
		t.Fatal("desktop request should be filtered")
	}

	other := experiment.Test{ID: "t2"}
	got, ok := FirstEligible([]experiment.Test{test, other}, desktop)
	if !ok || got.ID != "t2" {
		t.Fatalf("FirstEligible = %v %v", got.ID, ok)
	}
	if _, ok := FirstEligible([]experiment.Test{test}, desktop); ok {
		t.Fatal("no eligible test must report false")
	}
}

func TestGeoResolverPrefersHeaders(t *testing.T) {
	resolver := NewGeoResolver(GeoOptions{Enabled: true, BaseURL: "http://127.0.0.1:1"}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Country", "FR")
	if got := resolver.Country(context.Background(), req, "203.0.113.1"); got != "FR" {
		t.Fatalf("country = %q", got)
	}
}

func TestGeoResolverLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/203.0.113.1/json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"country": "CA"})
	}))
	defer srv.Close()

	resolver := NewGeoResolver(GeoOptions{Enabled: true, BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := resolver.Country(context.Background(), req, "203.0.113.1"); got != "CA" {
		t.Fatalf("country = %q", got)
	}
}

func TestGeoResolverDegradesToUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"country":"CA"}`))
	}))
	defer srv.Close()

	resolver := NewGeoResolver(GeoOptions{Enabled: true, BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := resolver.Country(context.Background(), req, "203.0.113.1"); got != "" {
		t.Fatalf("timed out lookup should yield unknown, got %q", got)
	}

	disabled := NewGeoResolver(GeoOptions{}, zerolog.Nop())
	if got := disabled.Country(context.Background(), req, "203.0.113.1"); got != "" {
		t.Fatalf("disabled resolver should not look up, got %q", got)
	}
}
