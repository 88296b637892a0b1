// Package scrape walks the tender listing, enriches it from the detail pages
// and runs the whole login, scrape, detect, persist cycle.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/portal"
	"ireps-scraper/internal/tender"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	report_scraper_listing = "scraper.listing"
	report_scraper_details = "scraper.details"
)

type Options struct {
	// MinDelay and MaxDelay bound the random pause between two page loads.
	MinDelay time.Duration
	MaxDelay time.Duration
	// MaxRetries is the number of attempts per detail page.
	MaxRetries int
	// Backoff is the wait after the first failed attempt, it doubles after
	// every further failure.
	Backoff                time.Duration
	MaxConsecutiveFailures int
	// WorkArea keeps only the listing rows of this work area, empty keeps all.
	WorkArea string
	// MaxTenders caps the number of tenders scraped, 0 is unlimited.
	MaxTenders int
}

func (o *Options) fill() {
	if o.MinDelay == 0 && o.MaxDelay == 0 {
		o.MinDelay = 2 * time.Second
		o.MaxDelay = 4 * time.Second
	}
	if o.MaxDelay < o.MinDelay {
		o.MaxDelay = o.MinDelay
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = 3
	}
}

type Stats struct {
	Pages    int
	Listed   int
	Skipped  int
	Enriched int
	Failed   int
	// Aborted is set when phase 2 stopped after too many consecutive failures.
	Aborted bool
}

type Result struct {
	Records []tender.Record
	Stats   Stats
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scraper reads every active tender in two phases: the listing pages first,
// then one detail page per tender.
type Scraper struct {
	driver portal.Driver
	opts   Options
	tel    telemetry.API
	sleep  sleepFunc
	rand   *rand.Rand
}

func NewScraper(driver portal.Driver, opts Options, tel telemetry.API) *Scraper {
	assert.NotNil(driver)
	assert.NotNil(tel)
	opts.fill()
	return &Scraper{
		driver: driver,
		opts:   opts,
		tel:    telemetry.NewScopedAPI("scrape", tel),
		sleep:  sleep,
		rand:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// pace waits a random delay between two page loads.
func (s *Scraper) pace(ctx context.Context) error {
	delay := s.opts.MinDelay
	if spread := s.opts.MaxDelay - s.opts.MinDelay; spread > 0 {
		delay += time.Duration(s.rand.Int64N(int64(spread)))
	}
	return s.sleep(ctx, delay)
}

// Scrape returns the tenders of the listing, enriched where their detail page
// could be read. When the portal drops the session during phase 2 the records
// read so far are returned along with an error wrapping portal.ErrNotLoggedIn.
func (s *Scraper) Scrape(ctx context.Context) (Result, error) {
	var result Result
	records, err := s.listing(ctx, &result.Stats)
	if err != nil {
		return result, err
	}
	if len(records) == 0 {
		s.tel.ReportWarning(report_scraper_listing, "no tenders found in the listing")
		return result, nil
	}
	s.tel.ReportDebug("listing complete", len(records))

	err = s.details(ctx, records, &result.Stats)
	result.Records = records
	return result, err
}

func (s *Scraper) listing(ctx context.Context, stats *Stats) ([]tender.Record, error) {
	err := s.driver.Navigate(ctx, portal.PAGE_ACTIVE_TENDER)
	if err != nil {
		return nil, err
	}

	var records []tender.Record
	for {
		stats.Pages++
		page, err := s.driver.ReadListingTable(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", stats.Pages, err)
		}
		for _, record := range page {
			if s.opts.WorkArea != "" && !strings.EqualFold(strings.TrimSpace(record.WorkArea), s.opts.WorkArea) {
				stats.Skipped++
				continue
			}
			records = append(records, record)
		}
		s.tel.ReportDebug("listing page read", stats.Pages, len(page))

		if s.opts.MaxTenders > 0 && len(records) >= s.opts.MaxTenders {
			records = records[:s.opts.MaxTenders]
			s.tel.ReportDebug("tender limit reached", s.opts.MaxTenders)
			break
		}

		hasNext, err := s.driver.NextListingPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", stats.Pages+1, err)
		}
		if !hasNext {
			break
		}
		err = s.pace(ctx)
		if err != nil {
			return nil, err
		}
	}
	stats.Listed = len(records)
	return records, nil
}

// details enriches records in place. A detail page that cannot be read keeps
// the listing data of its record.
func (s *Scraper) details(ctx context.Context, records []tender.Record, stats *Stats) error {
	consecutiveFailures := 0
	for i := range records {
		if consecutiveFailures >= s.opts.MaxConsecutiveFailures {
			stats.Aborted = true
			s.tel.ReportBroken(report_scraper_details, fmt.Errorf("%d consecutive failures, skipping remaining detail pages", consecutiveFailures))
			return nil
		}

		record := &records[i]
		if record.DetailUrl == "" {
			s.tel.ReportWarning(report_scraper_details, "no detail link", record.TenderNo)
			stats.Failed++
			consecutiveFailures++
			continue
		}

		detail, err := s.detail(ctx, record.TenderNo, record.DetailUrl)
		if errors.Is(err, portal.ErrNotLoggedIn) || ctx.Err() != nil {
			if err == nil {
				err = ctx.Err()
			}
			return err
		}
		if err != nil {
			s.tel.ReportWarning(report_scraper_details, err, record.TenderNo)
			stats.Failed++
			consecutiveFailures++
		} else {
			detail.ApplyTo(record)
			stats.Enriched++
			consecutiveFailures = 0
		}

		if i < len(records)-1 {
			err = s.pace(ctx)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Scraper) detail(ctx context.Context, tenderNo, detailUrl string) (portal.Detail, error) {
	var lastErr error
	wait := s.opts.Backoff
	for attempt := range s.opts.MaxRetries {
		detail, err := s.driver.ReadDetailPage(ctx, detailUrl)
		if err == nil {
			return detail, nil
		}
		if errors.Is(err, portal.ErrNotLoggedIn) {
			return portal.Detail{}, err
		}
		lastErr = err
		s.tel.ReportDebug("detail page failed", tenderNo, attempt+1, err.Error())
		if attempt == s.opts.MaxRetries-1 {
			break
		}
		err = s.sleep(ctx, wait)
		if err != nil {
			return portal.Detail{}, err
		}
		wait *= 2
	}
	return portal.Detail{}, fmt.Errorf("detail page of %s: %w", tenderNo, lastErr)
}
