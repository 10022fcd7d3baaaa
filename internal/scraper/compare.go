package scraper

import (
	"context"
	"fmt"
	"time"
)

// Comparison holds one HTML run and one JSON run over similar record counts.
type Comparison struct {
	HTML Result
	JSON Result
}

// Speedup is how many times faster the JSON run was in records per
// second. It is 0 when the HTML run produced nothing.
func (c Comparison) Speedup() float64 {
	html := c.HTML.RecordsPerSecond()
	if html == 0 {
		return 0
	}
	return c.JSON.RecordsPerSecond() / html
}

// Compare runs the HTML job, pauses, then runs the JSON job and prints a
// throughput summary. Both runs write to the scraper's sink.
func (s *Scraper) Compare(ctx context.Context, html, json Job, pause time.Duration) (Comparison, error) {
	var cmp Comparison
	fmt.Fprintln(s.out, "Comparing HTML vs JSON methods...")

	var err error
	if cmp.HTML, err = s.Run(ctx, html); err != nil {
		return cmp, fmt.Errorf("html run: %w", err)
	}
	if err := s.sleep(ctx, pause); err != nil {
		return cmp, err
	}
	if cmp.JSON, err = s.Run(ctx, json); err != nil {
		return cmp, fmt.Errorf("json run: %w", err)
	}

	s.logger.Info("scrape comparison",
		"html_records", cmp.HTML.Records,
		"html_rps", cmp.HTML.RecordsPerSecond(),
		"json_records", cmp.JSON.Records,
		"json_rps", cmp.JSON.RecordsPerSecond(),
		"speedup", cmp.Speedup(),
	)

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, "Performance Comparison:")
	for _, line := range []struct {
		label string
		r     Result
	}{{"HTML", cmp.HTML}, {"JSON", cmp.JSON}} {
		fmt.Fprintf(s.out, "%s Method: %d records in %.2fs (%.2f records/sec)\n",
			line.label, line.r.Records, line.r.Duration.Seconds(), line.r.RecordsPerSecond())
	}
	if sp := cmp.Speedup(); sp > 0 {
		fmt.Fprintf(s.out, "JSON is %.1fx faster\n", sp)
	} else {
		fmt.Fprintln(s.out, "JSON method succeeded")
	}
	return cmp, nil
}
