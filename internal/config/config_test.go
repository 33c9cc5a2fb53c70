package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: shop\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Name != "shop" {
		t.Fatalf("app.name = %q", cfg.App.Name)
	}
	if cfg.Scheduler.Interval != 15*time.Minute || cfg.GeoIP.Timeout != 800*time.Millisecond {
		t.Fatalf("durations = %v %v", cfg.Scheduler.Interval, cfg.GeoIP.Timeout)
	}
	if cfg.Analytics.DedupKey != "path" || cfg.Analytics.DefaultRange != "7d" {
		t.Fatalf("analytics = %+v", cfg.Analytics)
	}
	if len(cfg.Alerting.Channels) != 1 || cfg.Alerting.Channels[0] != "telegram" {
		t.Fatalf("channels = %v", cfg.Alerting.Channels)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PRICETEST_ANALYTICS_DEDUP_KEY", "visitor")
	t.Setenv("PRICETEST_SERVER_ADDR", ":9090")
	t.Setenv("PRICETEST_SCHEDULER_INTERVAL", "1m")

	cfg, err := Load(writeConfig(t, "server:\n  addr: \":8081\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Analytics.DedupKey != "visitor" || cfg.Server.Addr != ":9090" || cfg.Scheduler.Interval != time.Minute {
		t.Fatalf("env overrides not applied: %+v %+v %+v", cfg.Analytics, cfg.Server, cfg.Scheduler)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"dedup key", "analytics:\n  dedup_key: session\n", "analytics.dedup_key"},
		{"range", "analytics:\n  default_range: 14d\n", "analytics.default_range"},
		{"geoip timeout", "geoip:\n  timeout: 2s\n", "geoip.timeout"},
		{"telegram token", "alerting:\n  telegram:\n    enabled: true\n    chat_id: \"1\"\n", "bot_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}
