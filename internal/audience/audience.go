package audience

import (
	"regexp"
	"strings"

	"price-testing/internal/experiment"
)

// Device classes derived from the user agent.
const (
	DeviceAll     = "all"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Traffic source tags accepted in targeting.
const (
	SourceOrganic    = "organic"
	SourcePaidSearch = "paid_search"
	SourceSocial     = "social"
	SourceEmail      = "email"
	SourceReferral   = "referral"
)

var (
	mobileRe   = regexp.MustCompile(`mobile|iphone|android`)
	tabletRe   = regexp.MustCompile(`ipad|tablet`)
	socialRe   = regexp.MustCompile(`(facebook|instagram|twitter|t.co|linkedin|pinterest|tiktok)`)
	knownRefRe = regexp.MustCompile(`(google|bing|facebook|instagram|twitter|linkedin)`)
)

// RequestContext is the request metadata targeting is evaluated against.
type RequestContext struct {
	UserAgent string
	Referrer  string
	// Query is the raw query string of the storefront request.
	Query string
	// Country is the resolved country, empty when unknown.
	Country string
}

// ClassifyDevice maps a user agent to mobile, tablet or desktop. Mobile wins
// when both patterns match.
func ClassifyDevice(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case mobileRe.MatchString(ua):
		return DeviceMobile
	case tabletRe.MatchString(ua):
		return DeviceTablet
	default:
		return DeviceDesktop
	}
}

// MatchesDevice reports whether the user agent satisfies a device target.
func MatchesDevice(target, userAgent string) bool {
	switch target {
	case "", DeviceAll:
		return true
	case DeviceMobile, DeviceTablet, DeviceDesktop:
		return ClassifyDevice(userAgent) == target
	default:
		return true
	}
}

// MatchesSource reports whether the request came from the given source tag.
// Unknown tags match.
func MatchesSource(source string, ctx RequestContext) bool {
	ref := strings.ToLower(ctx.Referrer)
	query := strings.ToLower(ctx.Query)
	switch source {
	case SourceOrganic:
		return strings.Contains(ref, "google") || strings.Contains(ref, "bing") || strings.Contains(ref, "yahoo")
	case SourcePaidSearch:
		return strings.Contains(query, "utm_medium=cpc") || strings.Contains(ref, "gclid=")
	case SourceSocial:
		return socialRe.MatchString(ref)
	case SourceEmail:
		return strings.Contains(query, "utm_medium=email")
	case SourceReferral:
		return ref != "" && !knownRefRe.MatchString(ref)
	default:
		return true
	}
}

// MatchesSources is true when sources is empty or any listed source matches.
func MatchesSources(sources []string, ctx RequestContext) bool {
	if len(sources) == 0 {
		return true
	}
	for _, s := range sources {
		if MatchesSource(s, ctx) {
			return true
		}
	}
	return false
}

// MatchesCountry compares the first letter of each target against the start
// of the resolved country. An unknown country matches any target list.
func MatchesCountry(targets []string, country string) bool {
	if len(targets) == 0 || country == "" {
		return true
	}
	resolved := strings.ToLower(country)
	for _, c := range targets {
		if c == "" {
			continue
		}
		if strings.HasPrefix(resolved, strings.ToLower(c[:1])) {
			return true
		}
	}
	return false
}

// IsEligible reports whether a request passes all targeting filters of test.
func IsEligible(test *experiment.Test, ctx RequestContext) bool {
	t := test.Targeting
	return MatchesDevice(t.DeviceType, ctx.UserAgent) &&
		MatchesSources(t.TrafficSources, ctx) &&
		MatchesCountry(t.Countries, ctx.Country)
}

// FirstEligible returns the first test the request is eligible for.
func FirstEligible(tests []experiment.Test, ctx RequestContext) (experiment.Test, bool) {
	for i := range tests {
		if IsEligible(&tests[i], ctx) {
			return tests[i], true
		}
	}
	return experiment.Test{}, false
}
