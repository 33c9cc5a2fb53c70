package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"price-testing/internal/experiment"
)

func TestUnconfiguredStore(t *testing.T) {
	var s *Store
	ctx := context.Background()

	if _, err := s.GetTest(ctx, "t-1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("GetTest err = %v", err)
	}
	if _, err := s.UpdateTest(ctx, experiment.Test{ID: "t-1"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("UpdateTest err = %v", err)
	}
	if _, err := s.ListEvents(ctx, "t-1", time.Time{}, time.Now()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("ListEvents err = %v", err)
	}
	if _, _, err := s.TryAdvisoryLock(ctx, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("TryAdvisoryLock err = %v", err)
	}
	if err := s.InsertLogs(ctx, nil); err != nil {
		t.Fatalf("empty log batch must be a no-op: %v", err)
	}
	s.Close()
}

func TestTestDocumentKeepsVersionOutOfBody(t *testing.T) {
	started := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	in := experiment.Test{
		ID:     "t-1",
		Status: experiment.StatusRunning,
		Variations: []experiment.Variation{
			{Label: "A", Price: decimal.RequireFromString("19.99"), IsControl: true},
			{Label: "B", Price: decimal.RequireFromString("24.99")},
		},
		TrafficSplit: []float64{50, 50},
		StartedAt:    &started,
		Version:      7,
	}

	doc, err := encodeTest(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(doc), `"version":0`) {
		t.Fatalf("document carries version: %s", doc)
	}

	out, err := decodeTest(doc, 8)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Version != 8 || !out.StartedAt.Equal(started) || !out.Variations[1].Price.Equal(in.Variations[1].Price) {
		t.Fatalf("decoded = %+v", out)
	}
	if in.Version != 7 {
		t.Fatal("encode must not modify its argument")
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("MigrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "migrations/0001_init.sql" {
		t.Fatalf("names = %v", names)
	}
}
