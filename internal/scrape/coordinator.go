package scrape

import (
	"context"
	"errors"
	"fmt"
	"ireps-scraper/internal/changes"
	"ireps-scraper/internal/components/assert"
	"ireps-scraper/internal/components/chrono"
	"ireps-scraper/internal/components/telemetry"
	"ireps-scraper/internal/history"
	"ireps-scraper/internal/login"
	"ireps-scraper/internal/memory"
	"ireps-scraper/internal/notify"
	"ireps-scraper/internal/portal"
	"ireps-scraper/internal/tender"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("ireps-scraper/internal/scrape")
var meter = otel.Meter("ireps-scraper/internal/scrape")

const (
	report_coordinator_run     = "coordinator.run"
	report_coordinator_memory  = "coordinator.memory"
	report_coordinator_history = "coordinator.history"
	report_coordinator_notify  = "coordinator.notify"
)

// ErrSave wraps a failed snapshot save, it always ends the run.
var ErrSave = errors.New("tender memory could not be saved")

// error kinds of failures that do not come from the login flow
const (
	kind_scrape            = "scrape"
	kind_session_expired   = "session_expired"
	kind_merge             = "merge_inconsistency"
	kind_persistence       = "persistence"
	kind_memory_corruption = "memory_corruption"
)

func errorKind(err error) string {
	if kind := login.Kind(err); kind != "" {
		return kind
	}
	switch {
	case errors.Is(err, portal.ErrNotLoggedIn):
		return kind_session_expired
	case errors.Is(err, changes.ErrMergeInconsistency):
		return kind_merge
	case errors.Is(err, ErrSave):
		return kind_persistence
	case errors.Is(err, memory.ErrCorruption):
		return kind_memory_corruption
	}
	return kind_scrape
}

type Authenticator interface {
	Ensure(ctx context.Context) (login.Result, error)
}

type TenderScraper interface {
	Scrape(ctx context.Context) (Result, error)
}

type SessionInvalidator interface {
	Invalidate() error
}

type Memory interface {
	Load() (memory.LoadResult, error)
	SaveAtomic(snapshot tender.Snapshot) error
}

type History interface {
	Record(ctx context.Context, run history.Run) error
}

type CoordinatorDependencies struct {
	Login    Authenticator
	Scraper  TenderScraper
	Sessions SessionInvalidator
	Memory   Memory
	Detector changes.Detector
	// History and Notifier are optional.
	History  History
	Notifier notify.Notifier
	Clock    chrono.API
	Tel      telemetry.API
}

// Outcome is everything a finished run produced.
type Outcome struct {
	Run    history.Run
	Stats  Stats
	Report changes.Report
}

// Coordinator sequences one run: ensure session, scrape, classify and merge,
// persist, record history, notify.
type Coordinator struct {
	deps CoordinatorDependencies
	tel  telemetry.API

	classified metric.Int64Counter
	runs       metric.Int64Counter
}

func NewCoordinator(deps CoordinatorDependencies) (*Coordinator, error) {
	assert.NotNil(deps.Login)
	assert.NotNil(deps.Scraper)
	assert.NotNil(deps.Sessions)
	assert.NotNil(deps.Memory)
	assert.NotNil(deps.Clock)
	assert.NotNil(deps.Tel)

	classified, err := meter.Int64Counter(
		"ireps_tenders_classified_total",
		metric.WithDescription("Scraped tenders by change classification."),
	)
	if err != nil {
		return nil, err
	}
	runs, err := meter.Int64Counter(
		"ireps_runs_total",
		metric.WithDescription("Finished scraper runs by status."),
	)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		deps:       deps,
		tel:        telemetry.NewScopedAPI("scrape", deps.Tel),
		classified: classified,
		runs:       runs,
	}, nil
}

// Run executes one full cycle. Login failures, save failures and a merge
// inconsistency end the run with an error that is also recorded and notified.
// A session dropped by the portal mid-scrape invalidates the stored session,
// persists the tenders read so far and returns the error after the run was
// recorded as partial.
func (c *Coordinator) Run(ctx context.Context) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	outcome := Outcome{
		Run: history.Run{
			Id:        history.NewRunId(),
			StartedAt: c.deps.Clock.Now(),
		},
	}
	span.SetAttributes(attribute.String("run_id", outcome.Run.Id))

	runErr := c.run(ctx, &outcome)
	outcome.Run.FinishedAt = c.deps.Clock.Now()

	switch {
	case runErr == nil:
		if outcome.Run.Status == "" {
			outcome.Run.Status = history.STATUS_SUCCESS
		}
	case outcome.Run.Status == history.STATUS_PARTIAL && errors.Is(runErr, portal.ErrNotLoggedIn):
		outcome.Run.ErrorKind = errorKind(runErr)
	default:
		outcome.Run.Status = history.STATUS_FAILURE
		outcome.Run.ErrorKind = errorKind(runErr)
		outcome.Run.Message = fmt.Sprintf("scrape run failed: %v", runErr)
	}
	if runErr != nil {
		c.tel.ReportBroken(report_coordinator_run, runErr, outcome.Run.ErrorKind)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	c.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(outcome.Run.Status))))

	c.record(ctx, outcome.Run)
	c.notify(ctx, outcome.Run)
	return outcome, runErr
}

func (c *Coordinator) run(ctx context.Context, outcome *Outcome) error {
	started := outcome.Run.StartedAt

	authenticated, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}
	outcome.Run.ReusedSession = authenticated.Reused
	outcome.Run.UsedCachedOtp = authenticated.UsedCachedOtp

	scraped, scrapeErr := c.scrape(ctx)
	outcome.Stats = scraped.Stats
	if scrapeErr != nil {
		if !errors.Is(scrapeErr, portal.ErrNotLoggedIn) {
			return scrapeErr
		}
		// the next run has to log in again
		invalidateErr := c.deps.Sessions.Invalidate()
		if invalidateErr != nil {
			c.tel.ReportWarning(report_coordinator_run, invalidateErr)
		}
		if len(scraped.Records) == 0 {
			return scrapeErr
		}
		outcome.Run.Status = history.STATUS_PARTIAL
	}

	if len(scraped.Records) == 0 {
		c.tel.ReportWarning(report_coordinator_run, "no tenders scraped, memory left untouched")
		outcome.Run.Message = "no tenders scraped, memory left untouched"
		return nil
	}

	previous, loadNote := c.load()
	report, err := c.detect(ctx, previous, scraped.Records)
	if err != nil {
		return err
	}
	outcome.Report = report
	outcome.Run.Summary = report.Summary
	outcome.Run.Changes = history.ChangesOf(report.Results)

	err = c.save(ctx, report.Next)
	if err != nil {
		return err
	}

	elapsed := c.deps.Clock.Now().Sub(started).Round(time.Second)
	message := summaryMessage(elapsed, report.Summary)
	if outcome.Run.Status == history.STATUS_PARTIAL {
		message = fmt.Sprintf(
			"partial run: portal session expired after %d of %d detail pages, %s",
			scraped.Stats.Enriched+scraped.Stats.Failed, scraped.Stats.Listed, message,
		)
	}
	if loadNote != "" {
		message += ", " + loadNote
	}
	outcome.Run.Message = message
	c.tel.ReportDebug("run complete", message)

	if scrapeErr != nil {
		return scrapeErr
	}
	return nil
}

func summaryMessage(elapsed time.Duration, summary changes.Summary) string {
	return fmt.Sprintf(
		"scrape completed in %s: %d tenders (%d new, %d updated, %d status changed, %d unchanged)",
		elapsed,
		summary.TotalScraped,
		summary.New,
		summary.Updated,
		summary.StatusChanged,
		summary.Unchanged,
	)
}

func (c *Coordinator) ensureSession(ctx context.Context) (login.Result, error) {
	ctx, span := tracer.Start(ctx, "EnsureSession")
	defer span.End()

	result, err := c.deps.Login.Ensure(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return login.Result{}, err
	}
	span.SetAttributes(
		attribute.Bool("reused_session", result.Reused),
		attribute.Bool("used_cached_otp", result.UsedCachedOtp),
	)
	return result, nil
}

func (c *Coordinator) scrape(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "Scrape")
	defer span.End()

	result, err := c.deps.Scraper.Scrape(ctx)
	span.SetAttributes(
		attribute.Int("listed", result.Stats.Listed),
		attribute.Int("enriched", result.Stats.Enriched),
		attribute.Int("failed", result.Stats.Failed),
		attribute.Bool("aborted", result.Stats.Aborted),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// load never fails the run, a corrupt memory is replaced by an empty snapshot
// and the returned note ends up in the notification.
func (c *Coordinator) load() (tender.Snapshot, string) {
	loaded, err := c.deps.Memory.Load()
	if err != nil {
		c.tel.ReportBroken(report_coordinator_memory, err)
		return tender.Snapshot{}, fmt.Sprintf("memory was unreadable and restarted empty (%v)", err)
	}
	if loaded.Recovered {
		return loaded.Snapshot, "memory recovered from backup"
	}
	return loaded.Snapshot, ""
}

func (c *Coordinator) detect(ctx context.Context, previous tender.Snapshot, scraped []tender.Record) (changes.Report, error) {
	ctx, span := tracer.Start(ctx, "Detect")
	defer span.End()

	report, err := c.deps.Detector.Detect(previous, scraped, c.deps.Clock.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return changes.Report{}, err
	}
	for _, result := range report.Results {
		c.classified.Add(ctx, 1, metric.WithAttributes(
			attribute.String("classification", string(result.Classification)),
		))
	}
	return report, nil
}

func (c *Coordinator) save(ctx context.Context, snapshot tender.Snapshot) error {
	_, span := tracer.Start(ctx, "Save")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(snapshot)))

	err := c.deps.Memory.SaveAtomic(snapshot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: %w", ErrSave, err)
	}
	return nil
}

func (c *Coordinator) record(ctx context.Context, run history.Run) {
	if c.deps.History == nil {
		return
	}
	err := c.deps.History.Record(ctx, run)
	if err != nil {
		c.tel.ReportWarning(report_coordinator_history, err, run.Id)
	}
}

func (c *Coordinator) notify(ctx context.Context, run history.Run) {
	if c.deps.Notifier == nil {
		return
	}
	status := notify.STATUS_SUCCESS
	if run.Status != history.STATUS_SUCCESS {
		status = notify.STATUS_FAILURE
	}
	err := c.deps.Notifier.Notify(ctx, notify.Event{
		Status:    status,
		Message:   run.Message,
		Timestamp: run.FinishedAt,
	})
	if err != nil {
		c.tel.ReportWarning(report_coordinator_notify, err)
	}
}
