package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"price-testing/internal/assignment"
	"price-testing/internal/experiment"
	"price-testing/internal/service"
)

const day = 24 * time.Hour

// DefaultSeedConversionRate applies to every variation when no rates are given.
const DefaultSeedConversionRate = 0.05

// Seed generates synthetic storefront traffic for a test over a date range,
// one day per job. Dry runs only count what would be written.
func (a *App) Seed(ctx context.Context, opts SeedOptions) error {
	start := opts.From.UTC().Truncate(day)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("seed range is empty, check --from/--to")
	}
	if opts.VisitorsPerDay <= 0 {
		return errors.New("visitors per day must be positive")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	store, closeStore, err := a.requireStore(ctx, "seed events")
	if err != nil {
		return err
	}
	defer closeStore()

	test, err := store.GetTest(ctx, opts.TestID)
	if err != nil {
		return err
	}
	if len(opts.ConversionRate) == 0 {
		opts.ConversionRate = make([]float64, len(test.Variations))
		for i := range opts.ConversionRate {
			opts.ConversionRate[i] = DefaultSeedConversionRate
		}
	}
	if len(opts.ConversionRate) != len(test.Variations) {
		return fmt.Errorf("got %d conversion rates for %d variations", len(opts.ConversionRate), len(test.Variations))
	}
	if opts.DryRun {
		a.Logger.Warn().Msg("seed dry-run: nothing will be written")
	}

	var generated, stored, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	index := 0
	for d := start; d.Before(end); d = d.Add(day) {
		idx := index
		index++
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(idx)))
			events := generateDay(&test, d, end, opts, rng)
			generated.Add(int64(len(events)))
			if opts.DryRun {
				return nil
			}
			for _, e := range events {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if _, err := store.InsertEvent(gctx, e); err != nil {
					failed.Add(1)
					a.Logger.Error().Err(err).Time("day", d).Msg("failed to insert seeded event")
					continue
				}
				stored.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.Logger.Info().
		Str("test_id", test.ID).
		Int("days", index).
		Int64("generated", generated.Load()).
		Int64("stored", stored.Load()).
		Int64("failed", failed.Load()).
		Msg("seed finished")
	if failed.Load() > 0 {
		return errors.New("some seeded events failed to insert, check the logs")
	}
	return nil
}

// generateDay simulates VisitorsPerDay visitors landing on the test's product
// during the UTC day starting at dayStart. Timestamps never reach end.
func generateDay(test *experiment.Test, dayStart, end time.Time, opts SeedOptions, rng *rand.Rand) []experiment.Event {
	window := day
	if remaining := end.Sub(dayStart); remaining < window {
		window = remaining
	}
	path := "/products/" + test.ProductID

	var events []experiment.Event
	for i := 0; i < opts.VisitorsPerDay; i++ {
		visitorID := fmt.Sprintf("visitor_%s_%d", dayStart.Format("20060102"), i)
		res := assignment.Resolve(visitorID, test)
		_, idx, ok := test.Variation(res.Variation)
		if !ok {
			continue
		}
		v := test.Variations[idx]

		ts := dayStart.Add(time.Duration(rng.Int64N(int64(window))))
		session := uuid.NewString()
		base := experiment.Event{
			TestID:    test.ID,
			Variation: v.Label,
			VisitorID: visitorID,
			SessionID: session,
			ProductID: test.ProductID,
			Path:      path,
		}

		view := base
		view.Type = experiment.EventPageView
		view.TS = ts
		events = append(events, view)

		if rng.Float64() < opts.AddToCartRate && ts.Add(time.Minute).Before(end) {
			cart := base
			cart.Type = experiment.EventAddToCart
			cart.TS = ts.Add(time.Minute)
			events = append(events, cart)
		}

		rate := 0.0
		if idx < len(opts.ConversionRate) {
			rate = opts.ConversionRate[idx]
		}
		if rng.Float64() < rate && ts.Add(2*time.Minute).Before(end) {
			revenue := service.PriceFor(v, test.ProductID).Shift(2).Round(0).IntPart()
			qty := 1
			purchase := base
			purchase.Type = experiment.EventPurchase
			purchase.TS = ts.Add(2 * time.Minute)
			purchase.RevenueCents = &revenue
			purchase.Qty = &qty
			events = append(events, purchase)
		}
	}
	return events
}
