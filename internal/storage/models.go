package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"price-testing/internal/experiment"
)

// TestSummary is the listing view of a stored test.
type TestSummary struct {
	ID         string
	Name       string
	ProductID  string
	Status     experiment.Status
	Variations int
	StartedAt  *time.Time
	Version    int64
	UpdatedAt  time.Time
}

// encodeTest serialises the mutable configuration of a test. The version is
// tracked by its own column.
func encodeTest(t experiment.Test) ([]byte, error) {
	t.Version = 0
	doc, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode test %s: %w", t.ID, err)
	}
	return doc, nil
}

func decodeTest(doc []byte, version int64) (experiment.Test, error) {
	var t experiment.Test
	if err := json.Unmarshal(doc, &t); err != nil {
		return experiment.Test{}, fmt.Errorf("decode test document: %w", err)
	}
	t.Version = version
	return t, nil
}

func summarize(t experiment.Test, updatedAt time.Time) TestSummary {
	return TestSummary{
		ID:         t.ID,
		Name:       t.Name,
		ProductID:  t.ProductID,
		Status:     t.Status,
		Variations: len(t.Variations),
		StartedAt:  t.StartedAt,
		Version:    t.Version,
		UpdatedAt:  updatedAt,
	}
}
