package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints the most recently updated tests.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show tests")
	if err != nil {
		return err
	}
	defer closeStore()

	tests, err := store.ListTests(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		fmt.Fprintln(os.Stdout, "no tests found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tProduct\tStatus\tVariations\tStarted (UTC)\tUpdated (UTC)\tVersion")

	for _, t := range tests {
		started := "-"
		if t.StartedAt != nil {
			started = t.StartedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%s\t%s\t%d\n",
			t.ID,
			sanitizeInline(t.Name),
			t.ProductID,
			t.Status,
			t.Variations,
			started,
			t.UpdatedAt.UTC().Format(time.RFC3339),
			t.Version,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}
